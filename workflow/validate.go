package workflow

import "github.com/go-playground/validator/v10"

// validatorUtil 包级参数校验器,所有服务入口的请求结构体都走这里
var validatorUtil = validator.New()
