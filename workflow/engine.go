package workflow

import (
	"context"
	"log/slog"
	"time"

	"github.com/pkg/errors"
)

// WorkflowState 实体挂载entity,一个(entity_type, entity_id)一行
// ID就是工作流实例ID,history和用户任务都挂在这个ID下面
type WorkflowState struct {
	ID           int64
	EntityType   string
	EntityID     string
	DefinitionID int64
	CurrentState string
	CreatedAt    int64
	UpdatedAt    int64
}

// HasWorkflowState 业务实体可以实现这个接口,直接把自己交给引擎
type HasWorkflowState interface {
	GetEntityType() string
	GetEntityID() string
}

// ApplyFor / CanFor 实体接口的便捷入口,引擎对实体只依赖类型和ID两个标识
func ApplyFor(ctx context.Context, engine Engine, entity HasWorkflowState, transitionName string, transitionContext *JSONContext) (*TransitionResult, error) {
	if entity == nil {
		return nil, errors.Wrap(ErrParamInvalid, "entity is nil")
	}
	return engine.Apply(ctx, entity.GetEntityType(), entity.GetEntityID(), transitionName, transitionContext)
}

func CanFor(ctx context.Context, engine Engine, entity HasWorkflowState, transitionName string, transitionContext *JSONContext) (bool, error) {
	if entity == nil {
		return false, errors.Wrap(ErrParamInvalid, "entity is nil")
	}
	return engine.Can(ctx, entity.GetEntityType(), entity.GetEntityID(), transitionName, transitionContext)
}

// TransitionResult Apply的返回值
// 按设计拒绝(守卫失败/审批未完成/前置钩子失败/迁移不存在)不算故障: Success=false,
// Err是具体的拒绝原因,外层error是nil,调用方用errors.Is(result.Err, ...)分支处理
type TransitionResult struct {
	Success    bool
	FromState  string
	ToState    string
	Transition string
	// 拒绝原因,Success=true时为nil
	Err error
	// after钩子的失败,迁移本身已经提交,只通知不回滚
	HookErrors []error
}

// Engine 迁移引擎,所有状态变更的唯一入口
type Engine interface {
	// BindEntity 把实体绑定到definitionCode的当前激活版本,初始状态是定义的initial状态
	// 绑定时定义版本被固定,后续激活新版本不影响已绑定实体
	BindEntity(ctx context.Context, definitionCode string, entityType string, entityID string) (*WorkflowState, error)
	GetWorkflowState(ctx context.Context, entityType string, entityID string) (*WorkflowState, error)

	// Apply 执行迁移,成功的话: 状态写入+history追加在同一个事务里面提交
	Apply(ctx context.Context, entityType string, entityID string, transitionName string, transitionContext *JSONContext) (*TransitionResult, error)
	// Can 只读预检,Apply能成功当且仅当Can返回true(并发竞争除外),绝不产生副作用
	Can(ctx context.Context, entityType string, entityID string, transitionName string, transitionContext *JSONContext) (bool, error)
	// AvailableTransitions 当前状态下守卫和审批都放行的迁移,定义声明顺序返回
	AvailableTransitions(ctx context.Context, entityType string, entityID string, transitionContext *JSONContext) ([]*TransitionDefinition, error)

	// ApprovalProgress 某个迁移的审批进度,迁移没有挂审批组返回ErrGroupNotFound
	ApprovalProgress(ctx context.Context, entityType string, entityID string, transitionName string) (*ApprovalProgress, error)
}

type EngineImpl struct {
	repo        WorkflowRepo
	definitions DefinitionService
	groups      GroupService
	lock        WorkflowLock
	// Apply持锁的最长时间,超时自动释放
	maxLockTime time.Duration
}

func NewEngine(repo WorkflowRepo, definitions DefinitionService, groups GroupService, lock WorkflowLock) Engine {
	if lock == nil {
		lock = NewLocalWorkflowLock()
	}
	return &EngineImpl{
		repo:        repo,
		definitions: definitions,
		groups:      groups,
		lock:        lock,
		maxLockTime: 30 * time.Second,
	}
}

func workflowStateFromPo(po *WorkflowStatePo) *WorkflowState {
	return &WorkflowState{
		ID:           po.ID,
		EntityType:   po.EntityType,
		EntityID:     po.EntityID,
		DefinitionID: po.DefinitionID,
		CurrentState: po.CurrentState,
		CreatedAt:    po.CreatedAt,
		UpdatedAt:    po.UpdatedAt,
	}
}

func (e *EngineImpl) BindEntity(ctx context.Context, definitionCode string, entityType string, entityID string) (*WorkflowState, error) {
	if definitionCode == "" || entityType == "" || entityID == "" {
		return nil, errors.Wrapf(ErrParamInvalid, "definitionCode: %q, entityType: %q, entityID: %q", definitionCode, entityType, entityID)
	}
	definition, err := e.definitions.GetActiveDefinition(ctx, definitionCode)
	if err != nil {
		return nil, err
	}
	po, err := e.repo.CreateWorkflowState(ctx, &WorkflowStatePo{
		EntityType:   entityType,
		EntityID:     entityID,
		DefinitionID: definition.ID,
		CurrentState: definition.InitialState,
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "CreateWorkflowState failed, entityType: %s, entityID: %s", entityType, entityID)
	}
	return workflowStateFromPo(po), nil
}

func (e *EngineImpl) getStatePo(ctx context.Context, entityType string, entityID string) (*WorkflowStatePo, error) {
	pos, err := e.repo.QueryWorkflowState(ctx, &QueryWorkflowStateParams{
		EntityType: &entityType,
		EntityID:   &entityID,
		Page:       &Pager{Page: 1, Size: 1},
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "QueryWorkflowState failed, entityType: %s, entityID: %s", entityType, entityID)
	}
	if len(pos) == 0 {
		return nil, errors.Wrapf(ErrWorkflowStateNotFound, "entityType: %s, entityID: %s", entityType, entityID)
	}
	return pos[0], nil
}

func (e *EngineImpl) GetWorkflowState(ctx context.Context, entityType string, entityID string) (*WorkflowState, error) {
	po, err := e.getStatePo(ctx, entityType, entityID)
	if err != nil {
		return nil, err
	}
	return workflowStateFromPo(po), nil
}

// approvalRecordsFor 从迁移对应的用户任务推导审批记录
func (e *EngineImpl) approvalRecordsFor(ctx context.Context, workflowInstanceID int64, transitionName string) ([]*ApprovalRecord, error) {
	taskPos, err := e.repo.QueryUserTask(ctx, &QueryUserTaskParams{
		WorkflowInstanceID: &workflowInstanceID,
		TransitionName:     &transitionName,
		Page:               &Pager{IsNoLimit: Bool(true)},
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "QueryUserTask failed, workflowInstanceID: %d", workflowInstanceID)
	}
	records := make([]*ApprovalRecord, 0, len(taskPos))
	for _, taskPo := range taskPos {
		records = append(records, &ApprovalRecord{
			UserID:      taskPo.Assignee,
			Status:      taskPo.Status,
			CompletedAt: taskPo.CompletedAt,
			TaskID:      taskPo.ID,
		})
	}
	return records, nil
}

// checkApproval 审批组放行检查,迁移没挂审批组直接放行
func (e *EngineImpl) checkApproval(ctx context.Context, statePo *WorkflowStatePo, transition *TransitionDefinition) error {
	if transition.ApproverGroup == "" {
		return nil
	}
	group, err := e.groups.GetGroupByName(ctx, transition.ApproverGroup)
	if err != nil {
		return err
	}
	strategy, err := NewApprovalStrategy(group.Strategy)
	if err != nil {
		return err
	}
	members, err := e.groups.GetMembers(ctx, group.ID)
	if err != nil {
		return err
	}
	records, err := e.approvalRecordsFor(ctx, statePo.ID, transition.Name)
	if err != nil {
		return err
	}
	if !strategy.Evaluate(members, records, group.Config) {
		return errors.Wrapf(ErrApprovalIncomplete, "transition: %s, group: %s", transition.Name, group.Name)
	}
	return nil
}

// checkTransition 守卫+审批的只读检查,Can和Apply共用,不产生任何副作用
func (e *EngineImpl) checkTransition(ctx context.Context, statePo *WorkflowStatePo, definition *WorkflowDefinition, transitionName string, transitionContext *JSONContext) (*TransitionDefinition, error) {
	transition := definition.FindTransition(transitionName, statePo.CurrentState)
	if transition == nil {
		return nil, errors.Wrapf(ErrNoSuchTransition, "transition: %s, currentState: %s", transitionName, statePo.CurrentState)
	}
	if transition.Guard != "" {
		guard, err := getRegisteredGuard(transition.Guard)
		if err != nil {
			return nil, err
		}
		if !guard.Evaluate(transitionContext) {
			return nil, errors.Wrapf(ErrGuardRejected, "guard: %s, transition: %s", transition.Guard, transitionName)
		}
	}
	if err := e.checkApproval(ctx, statePo, transition); err != nil {
		return nil, err
	}
	return transition, nil
}

func (e *EngineImpl) Can(ctx context.Context, entityType string, entityID string, transitionName string, transitionContext *JSONContext) (bool, error) {
	statePo, err := e.getStatePo(ctx, entityType, entityID)
	if err != nil {
		return false, err
	}
	definition, err := e.definitions.GetDefinition(ctx, statePo.DefinitionID)
	if err != nil {
		return false, err
	}
	_, err = e.checkTransition(ctx, statePo, definition, transitionName, transitionContext)
	if err != nil {
		if IsRejectedByDesign(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (e *EngineImpl) AvailableTransitions(ctx context.Context, entityType string, entityID string, transitionContext *JSONContext) ([]*TransitionDefinition, error) {
	statePo, err := e.getStatePo(ctx, entityType, entityID)
	if err != nil {
		return nil, err
	}
	definition, err := e.definitions.GetDefinition(ctx, statePo.DefinitionID)
	if err != nil {
		return nil, err
	}
	available := make([]*TransitionDefinition, 0)
	for _, transition := range definition.TransitionsFrom(statePo.CurrentState) {
		_, err := e.checkTransition(ctx, statePo, definition, transition.Name, transitionContext)
		if err != nil {
			if IsRejectedByDesign(err) {
				continue
			}
			return nil, err
		}
		available = append(available, transition)
	}
	return available, nil
}

// historyMetadata 迁移上下文快照,system保留字段剔除
func historyMetadata(transitionContext *JSONContext) []byte {
	if transitionContext == nil {
		return NewJSONContext(nil).ToBytesWithoutError()
	}
	snapshot := transitionContext.Clone()
	snapshot.Delete(TransitionContextKeySystem)
	return snapshot.ToBytesWithoutError()
}

func operatorOf(transitionContext *JSONContext) string {
	if transitionContext == nil {
		return ""
	}
	operator, _ := transitionContext.GetString(TransitionContextKeyOperator)
	return operator
}

func rejectedResult(statePo *WorkflowStatePo, transitionName string, rejectErr error) *TransitionResult {
	return &TransitionResult{
		Success:    false,
		FromState:  statePo.CurrentState,
		ToState:    statePo.CurrentState,
		Transition: transitionName,
		Err:        rejectErr,
	}
}

func (e *EngineImpl) Apply(ctx context.Context, entityType string, entityID string, transitionName string, transitionContext *JSONContext) (*TransitionResult, error) {
	statePo, err := e.getStatePo(ctx, entityType, entityID)
	if err != nil {
		return nil, err
	}
	definition, err := e.definitions.GetDefinition(ctx, statePo.DefinitionID)
	if err != nil {
		return nil, err
	}
	if transitionContext == nil {
		transitionContext = NewJSONContext(nil)
	}

	var result *TransitionResult
	var transition *TransitionDefinition
	err = e.lock.NonBlockingSynchronized(ctx, ApplyLockKey(statePo.ID), e.maxLockTime, func(ctx context.Context) error {
		transition, err = e.checkTransition(ctx, statePo, definition, transitionName, transitionContext)
		if err != nil {
			if IsRejectedByDesign(err) {
				result = rejectedResult(statePo, transitionName, err)
				return nil
			}
			return err
		}
		event := &TransitionEvent{
			WorkflowInstanceID: statePo.ID,
			DefinitionCode:     definition.Code,
			EntityType:         entityType,
			EntityID:           entityID,
			Transition:         transition.Name,
			FromState:          transition.From,
			ToState:            transition.To,
			Context:            transitionContext,
		}
		txErr := e.repo.Transaction(ctx, func(ctx context.Context) error {
			for _, hookName := range transition.BeforeHooks {
				hook, err := getRegisteredBeforeHook(hookName)
				if err != nil {
					return err
				}
				if err := hook.Before(ctx, event); err != nil {
					// 前置钩子失败中止整个迁移,效果等同守卫失败
					return errors.Wrapf(ErrBeforeHookFailed, "hook: %s, err: %v", hookName, err)
				}
			}
			// 乐观写: 当前状态还停在from上才写得进去,0行受影响说明被并发迁移抢先了
			rowsAffected, err := e.repo.UpdateWorkflowState(ctx, &UpdateWorkflowStateParams{
				Where: &UpdateWorkflowStateWhere{
					IDIn:           []int64{statePo.ID},
					CurrentStateIn: []string{transition.From},
				},
				Fields:   &UpdateWorkflowStateField{CurrentState: &transition.To},
				LimitMax: 1,
			})
			if err != nil {
				return errors.WithMessagef(err, "UpdateWorkflowState failed, workflowInstanceID: %d", statePo.ID)
			}
			if rowsAffected == 0 {
				return errors.Wrapf(ErrStateConflict, "workflowInstanceID: %d, expected state: %s", statePo.ID, transition.From)
			}
			if _, err := e.repo.CreateHistory(ctx, &WorkflowHistoryPo{
				WorkflowInstanceID: statePo.ID,
				TransitionName:     transition.Name,
				FromState:          transition.From,
				ToState:            transition.To,
				Operator:           operatorOf(transitionContext),
				Metadata:           historyMetadata(transitionContext),
			}); err != nil {
				return errors.WithMessagef(err, "CreateHistory failed, workflowInstanceID: %d", statePo.ID)
			}
			return nil
		})
		if txErr != nil {
			if IsRejectedByDesign(txErr) {
				// 事务已回滚,没有任何状态变化
				result = rejectedResult(statePo, transitionName, txErr)
				return nil
			}
			return txErr
		}
		result = &TransitionResult{
			Success:    true,
			FromState:  transition.From,
			ToState:    transition.To,
			Transition: transition.Name,
		}
		// after钩子在事务提交之后执行,失败只记日志不回滚
		for _, hookName := range transition.AfterHooks {
			hook, err := getRegisteredAfterHook(hookName)
			if err != nil {
				slog.ErrorContext(ctx, "after hook not registered", "hook", hookName, "transition", transition.Name)
				result.HookErrors = append(result.HookErrors, err)
				continue
			}
			if err := hook.After(ctx, event); err != nil {
				slog.WarnContext(ctx, "after hook failed", "hook", hookName, "transition", transition.Name, "err", err)
				result.HookErrors = append(result.HookErrors, errors.Wrapf(err, "after hook failed, hook: %s", hookName))
			}
		}
		return nil
	})
	if err != nil {
		if IsSeriousError(err) {
			slog.ErrorContext(ctx, "apply transition failed",
				"entityType", entityType, "entityID", entityID, "transition", transitionName, "err", err)
		} else {
			slog.WarnContext(ctx, "apply transition failed",
				"entityType", entityType, "entityID", entityID, "transition", transitionName, "err", err)
		}
		return nil, err
	}
	return result, nil
}

func (e *EngineImpl) ApprovalProgress(ctx context.Context, entityType string, entityID string, transitionName string) (*ApprovalProgress, error) {
	statePo, err := e.getStatePo(ctx, entityType, entityID)
	if err != nil {
		return nil, err
	}
	definition, err := e.definitions.GetDefinition(ctx, statePo.DefinitionID)
	if err != nil {
		return nil, err
	}
	transition := definition.FindTransition(transitionName, statePo.CurrentState)
	if transition == nil {
		return nil, errors.Wrapf(ErrNoSuchTransition, "transition: %s, currentState: %s", transitionName, statePo.CurrentState)
	}
	if transition.ApproverGroup == "" {
		return nil, errors.Wrapf(ErrGroupNotFound, "transition %s has no approver group", transitionName)
	}
	group, err := e.groups.GetGroupByName(ctx, transition.ApproverGroup)
	if err != nil {
		return nil, err
	}
	strategy, err := NewApprovalStrategy(group.Strategy)
	if err != nil {
		return nil, err
	}
	members, err := e.groups.GetMembers(ctx, group.ID)
	if err != nil {
		return nil, err
	}
	records, err := e.approvalRecordsFor(ctx, statePo.ID, transitionName)
	if err != nil {
		return nil, err
	}
	return strategy.Progress(members, records, group.Config), nil
}
