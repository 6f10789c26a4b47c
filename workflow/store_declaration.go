package workflow

import (
	"context"
)

// WorkflowRepo 持久化契约
// 引擎对存储只有一个硬性要求: 读当前状态+校验+写新状态和history必须在一个原子事务里面
// Update类操作返回受影响行数,引擎用它做并发写冲突检测
type WorkflowRepo interface {
	// 工作流定义
	CreateDefinition(ctx context.Context, definition *WorkflowDefinitionPo) (*WorkflowDefinitionPo, error)
	QueryDefinition(ctx context.Context, param *QueryDefinitionParams) ([]*WorkflowDefinitionPo, error)
	CountDefinition(ctx context.Context, param *QueryDefinitionParams) (int64, error)
	UpdateDefinition(ctx context.Context, param *UpdateDefinitionParams) (int64, error)
	DeleteDefinition(ctx context.Context, definitionID int64) error

	// 工作流状态(实体挂载)
	CreateWorkflowState(ctx context.Context, state *WorkflowStatePo) (*WorkflowStatePo, error)
	QueryWorkflowState(ctx context.Context, param *QueryWorkflowStateParams) ([]*WorkflowStatePo, error)
	UpdateWorkflowState(ctx context.Context, param *UpdateWorkflowStateParams) (int64, error)

	// 历史账本,只有Create和Query,不存在Update/Delete
	CreateHistory(ctx context.Context, entry *WorkflowHistoryPo) (*WorkflowHistoryPo, error)
	QueryHistory(ctx context.Context, param *QueryHistoryParams) ([]*WorkflowHistoryPo, error)
	CountHistory(ctx context.Context, param *QueryHistoryParams) (int64, error)

	// 审批组和成员
	CreateApproverGroup(ctx context.Context, group *ApproverGroupPo) (*ApproverGroupPo, error)
	QueryApproverGroup(ctx context.Context, param *QueryApproverGroupParams) ([]*ApproverGroupPo, error)
	UpdateApproverGroup(ctx context.Context, param *UpdateApproverGroupParams) (int64, error)
	DeleteApproverGroup(ctx context.Context, groupID int64) error
	CreateApproverGroupMember(ctx context.Context, member *ApproverGroupMemberPo) (*ApproverGroupMemberPo, error)
	QueryApproverGroupMember(ctx context.Context, param *QueryApproverGroupMemberParams) ([]*ApproverGroupMemberPo, error)
	UpdateApproverGroupMember(ctx context.Context, param *UpdateApproverGroupMemberParams) (int64, error)
	DeleteApproverGroupMember(ctx context.Context, memberID int64) error
	DeleteApproverGroupMembersByGroup(ctx context.Context, groupID int64) error

	// 用户任务
	CreateUserTask(ctx context.Context, task *UserTaskPo) (*UserTaskPo, error)
	QueryUserTask(ctx context.Context, param *QueryUserTaskParams) ([]*UserTaskPo, error)
	CountUserTask(ctx context.Context, param *QueryUserTaskParams) (int64, error)
	UpdateUserTask(ctx context.Context, param *UpdateUserTaskParams) (int64, error)

	Transaction(ctx context.Context, fn func(ctx context.Context) error) error
}
