package commonregister

import (
	"context"
	"fmt"
	"time"

	"github.com/blingmoon/approval-workflow/workflow"
	"github.com/pkg/errors"
)

// DocumentApprovalCode 文档审批流程的定义code
const DocumentApprovalCode = "document_approval"

// DocumentApprovalDefinitionJSON 文档审批流程定义
// 流程结构: 草稿 -> 待审批 -> 已批准/已驳回,驳回之后可以重新提交
const DocumentApprovalDefinitionJSON = `{
	"code": "document_approval",
	"name": "文档审批流程",
	"version": 1,
	"is_active": true,
	"definition": {
		"states": [
			{"name": "draft", "label": "草稿", "type": "initial"},
			{"name": "pending_approval", "label": "待审批", "type": "regular"},
			{"name": "approved", "label": "已批准", "type": "final"},
			{"name": "rejected", "label": "已驳回", "type": "regular"}
		],
		"transitions": [
			{
				"name": "submit",
				"from": "draft",
				"to": "pending_approval",
				"label": "提交审批",
				"guard": "can_submit",
				"before_hooks": ["stamp_submit_time"],
				"after_hooks": ["notify_submitted"]
			},
			{
				"name": "approve",
				"from": "pending_approval",
				"to": "approved",
				"label": "批准",
				"approver_group": "document_reviewers",
				"after_hooks": ["notify_approved"]
			},
			{
				"name": "reject",
				"from": "pending_approval",
				"to": "rejected",
				"label": "驳回"
			},
			{
				"name": "resubmit",
				"from": "rejected",
				"to": "pending_approval",
				"label": "重新提交",
				"guard": "can_submit",
				"before_hooks": ["stamp_submit_time"]
			}
		]
	}
}`

// RegisterDocumentApproval 注册文档审批流程: 导入定义并注册守卫和钩子
// 守卫和钩子注册是进程启动期的一次性动作,重复调用会返回already exists错误
func RegisterDocumentApproval(ctx context.Context, definitions workflow.DefinitionService) error {
	// 1. 注册守卫: 上下文里面can_submit为true才允许提交
	if err := workflow.RegisterGuard("can_submit", workflow.ContextFlagGuard("can_submit")); err != nil {
		return errors.Wrap(err, "register can_submit guard failed")
	}

	// 2. 注册前置钩子: 提交时间写进迁移上下文,会进history的metadata快照
	err := workflow.RegisterBeforeHook("stamp_submit_time", workflow.BeforeHookFunc(
		func(ctx context.Context, event *workflow.TransitionEvent) error {
			return event.Context.Set([]string{"submit_time"}, time.Now().Format(time.RFC3339))
		},
	))
	if err != nil {
		return errors.Wrap(err, "register stamp_submit_time hook failed")
	}

	// 3. 注册后置钩子: 提交/批准之后的通知,失败只记日志不影响迁移
	err = workflow.RegisterAfterHook("notify_submitted", workflow.AfterHookFunc(
		func(ctx context.Context, event *workflow.TransitionEvent) error {
			fmt.Printf("  [通知] 文档 %s 已提交审批\n", event.EntityID)
			return nil
		},
	))
	if err != nil {
		return errors.Wrap(err, "register notify_submitted hook failed")
	}
	err = workflow.RegisterAfterHook("notify_approved", workflow.AfterHookFunc(
		func(ctx context.Context, event *workflow.TransitionEvent) error {
			fmt.Printf("  [通知] 文档 %s 审批通过 ✓\n", event.EntityID)
			return nil
		},
	))
	if err != nil {
		return errors.Wrap(err, "register notify_approved hook failed")
	}

	// 4. 导入并激活定义
	if _, err := definitions.ImportDefinitionJSON(ctx, []byte(DocumentApprovalDefinitionJSON)); err != nil {
		return errors.Wrap(err, "import document approval definition failed")
	}
	return nil
}

// RegisterDocumentReviewers 创建审批组: 两个审核人quorum=1,任意一人通过即可
func RegisterDocumentReviewers(ctx context.Context, groups workflow.GroupService, reviewers []string) (*workflow.ApproverGroup, error) {
	group, err := groups.CreateGroup(ctx, &workflow.CreateGroupSpec{
		Name:        "document_reviewers",
		Strategy:    workflow.StrategyQuorum,
		QuorumCount: 1,
	})
	if err != nil {
		return nil, errors.Wrap(err, "create document_reviewers group failed")
	}
	for _, reviewer := range reviewers {
		if _, err := groups.AddMember(ctx, group.ID, reviewer, nil); err != nil {
			return nil, errors.Wrapf(err, "add reviewer %s failed", reviewer)
		}
	}
	return group, nil
}
