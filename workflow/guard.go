package workflow

import (
	"sync"

	"github.com/pkg/errors"
)

// Guard 迁移守卫,对迁移上下文求值的纯谓词
// 守卫不允许有副作用,Can和Apply都会调用,必须可以安全地重复求值
type Guard interface {
	Evaluate(transitionContext *JSONContext) bool
}

// GuardFunc 函数适配器,大多数守卫直接用闭包注册
type GuardFunc func(transitionContext *JSONContext) bool

func (f GuardFunc) Evaluate(transitionContext *JSONContext) bool {
	return f(transitionContext)
}

var registeredGuards = sync.Map{}

// RegisterGuard 注册守卫,定义里面的迁移通过名字引用
// 重复注册返回错误,守卫注册是进程启动期的一次性动作
func RegisterGuard(name string, guard Guard) error {
	if name == "" {
		return errors.Wrap(ErrParamInvalid, "guard name is empty")
	}
	if guard == nil {
		return errors.Wrap(ErrParamInvalid, "guard is nil")
	}
	if _, ok := registeredGuards.Load(name); ok {
		return errors.Wrapf(ErrGuardAlreadyExists, "guard name: %s", name)
	}
	registeredGuards.Store(name, guard)
	return nil
}

// UnregisterGuard 注销守卫,测试场景使用
func UnregisterGuard(name string) {
	registeredGuards.Delete(name)
}

func getRegisteredGuard(name string) (Guard, error) {
	guardInterface, ok := registeredGuards.Load(name)
	if !ok {
		return nil, errors.Wrapf(ErrGuardNotRegistered, "guard name: %s", name)
	}
	guard, ok := guardInterface.(Guard)
	if !ok {
		return nil, errors.Wrapf(ErrGuardNotRegistered, "guard name: %s, type error,please check code", name)
	}
	return guard, nil
}

// ContextFlagGuard 内置守卫: 上下文里面某个布尔key必须为true
// 常见用法: 迁移定义guard写成注册过的标记守卫名,上下文传{"can_publish": true}
func ContextFlagGuard(key string) Guard {
	return GuardFunc(func(transitionContext *JSONContext) bool {
		if transitionContext == nil {
			return false
		}
		flag, ok := transitionContext.GetBool(key)
		return ok && flag
	})
}
