// Package tests 是 approval-workflow 的内部测试模块。
//
// ⚠️ 重要提示：此包位于 internal/ 目录下，受 Go 编译器保护，
// 外部项目无法导入（会得到编译错误）。
//
// 📋 测试内容
//
// 此模块包含以下测试：
//   - 迁移引擎的集成测试（守卫/钩子/审批放行/历史账本）
//   - 定义存储的版本化和激活交换测试
//   - 审批组管理测试
//   - 用户任务生命周期和收件箱测试
//
// 🚀 运行测试
//
// 在项目根目录：
//
//	cd internal/tests
//	go test ./...
//
// 查看覆盖率：
//
//	go test -coverprofile=coverage.out -coverpkg=github.com/blingmoon/approval-workflow/workflow ./...
//	go tool cover -html=coverage.out
package tests
