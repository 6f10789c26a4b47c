// Package workflow 提供审批工作流引擎功能。
//
// 这是一个轻量级的 Go 状态机 + 审批引擎，面向"实体挂一个可审批的状态机"这类业务场景。
//
// 主要特性：
//   - 定义即数据：工作流定义用 JSON 描述，版本化存储，同一 code 同时只有一个激活版本
//   - 守卫迁移：迁移可以挂守卫（对上下文求值的纯谓词）和前置/后置钩子
//   - 审批策略：内置 sequential / parallel / quorum / any / weighted 五种多人审批策略
//   - 用户任务：任务收件箱、优先级/截止时间排序、任务统计
//   - 数据持久化：支持 GORM，可使用 MySQL、PostgreSQL、SQLite 等数据库
//   - 并发安全：乐观写 + 本地锁/分布式锁（Redis），并发迁移不会双写
//   - 历史账本：每次成功迁移追加一条不可变历史记录
//
// 基础使用示例:
//
//	package main
//
//	import (
//	    "context"
//
//	    "github.com/blingmoon/approval-workflow/workflow"
//	    "gorm.io/driver/sqlite"
//	    "gorm.io/gorm"
//	)
//
//	func main() {
//	    // 1. 初始化数据库
//	    db, _ := gorm.Open(sqlite.Open("workflow.db"), &gorm.Config{})
//	    workflow.AutoMigrateTables(db)
//
//	    // 2. 创建服务
//	    repo := workflow.NewWorkflowRepo(db)
//	    definitions := workflow.NewDefinitionService(repo, workflow.NewLocalDefinitionCache())
//	    groups := workflow.NewGroupService(repo)
//	    engine := workflow.NewEngine(repo, definitions, groups, workflow.NewLocalWorkflowLock())
//
//	    // 3. 导入并激活定义
//	    definitionJSON := `{
//	        "code": "document_approval",
//	        "name": "文档审批流程",
//	        "is_active": true,
//	        "definition": {
//	            "states": [
//	                {"name": "draft", "label": "草稿", "type": "initial"},
//	                {"name": "published", "label": "已发布", "type": "final"}
//	            ],
//	            "transitions": [
//	                {"name": "publish", "from": "draft", "to": "published", "guard": "can_publish"}
//	            ]
//	        }
//	    }`
//	    definitions.ImportDefinitionJSON(context.Background(), []byte(definitionJSON))
//
//	    // 4. 注册守卫
//	    workflow.RegisterGuard("can_publish", workflow.ContextFlagGuard("can_publish"))
//
//	    // 5. 绑定实体并迁移
//	    engine.BindEntity(context.Background(), "document_approval", "document", "DOC-001")
//	    engine.Apply(context.Background(), "document", "DOC-001", "publish",
//	        workflow.NewJSONContextFromMap(map[string]any{"can_publish": true}))
//	}
//
// 迁移上下文机制：
//
// JSONContext 是守卫和钩子的输入。每次 Apply 接收一个上下文：
//
//   - 守卫对上下文求值，不允许有副作用
//   - before 钩子可以修改上下文，修改会进入 history 的 metadata 快照
//   - operator 字段会被提取到 history 的操作人列，system 字段在快照时被剔除
//
// 审批放行机制：
//
// 迁移定义里面 approver_group 非空时，Apply 之前必须完成该组的审批：
//   - 审批记录从迁移对应的用户任务推导，status=completed 算同意
//   - 组上挂的策略决定怎样算"完成"：顺序全员/并行全员/法定人数/任意一人/权重阈值
//   - 审批不完成 Apply 返回 Success=false 和 ErrApprovalIncomplete，状态不变
package workflow
