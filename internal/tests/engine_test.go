package tests

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/blingmoon/approval-workflow/workflow"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type testServices struct {
	repo        workflow.WorkflowRepo
	lock        workflow.WorkflowLock
	definitions workflow.DefinitionService
	groups      workflow.GroupService
	tasks       workflow.TaskService
	history     workflow.HistoryService
	engine      workflow.Engine
}

// setupTestServices 创建测试服务
func setupTestServices(t *testing.T) *testServices {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	err = workflow.AutoMigrateTables(db)
	require.NoError(t, err)

	repo := workflow.NewWorkflowRepo(db)
	lock := workflow.NewLocalWorkflowLock()
	definitions := workflow.NewDefinitionService(repo, workflow.NewNoopDefinitionCache())
	groups := workflow.NewGroupService(repo)
	return &testServices{
		repo:        repo,
		lock:        lock,
		definitions: definitions,
		groups:      groups,
		tasks:       workflow.NewTaskService(repo),
		history:     workflow.NewHistoryService(repo),
		engine:      workflow.NewEngine(repo, definitions, groups, lock),
	}
}

// documentDefinitionJSON 守卫名可以注入,避免全局注册表里的名字冲突
func documentDefinitionJSON(code string, guard string) string {
	return fmt.Sprintf(`{
		"code": %q,
		"name": "文档审批流程",
		"is_active": true,
		"definition": {
			"states": [
				{"name": "draft", "label": "草稿", "type": "initial"},
				{"name": "pending_approval", "label": "待审批", "type": "regular"},
				{"name": "approved", "label": "已批准", "type": "final"}
			],
			"transitions": [
				{"name": "submit", "from": "draft", "to": "pending_approval", "guard": %q},
				{"name": "approve", "from": "pending_approval", "to": "approved"}
			]
		}
	}`, code, guard)
}

// TestEngineBasicFlow 测试基础迁移流程
func TestEngineBasicFlow(t *testing.T) {
	services := setupTestServices(t)
	ctx := context.Background()

	guardName := "engine_basic_can_publish"
	require.NoError(t, workflow.RegisterGuard(guardName, workflow.ContextFlagGuard("can_publish")))
	defer workflow.UnregisterGuard(guardName)

	_, err := services.definitions.ImportDefinitionJSON(ctx, []byte(documentDefinitionJSON("engine_basic", guardName)))
	require.NoError(t, err)

	t.Run("绑定实体得到初始状态", func(t *testing.T) {
		state, err := services.engine.BindEntity(ctx, "engine_basic", "document", "DOC-001")
		require.NoError(t, err)
		assert.Equal(t, "draft", state.CurrentState)
		assert.Greater(t, state.ID, int64(0))

		queried, err := services.engine.GetWorkflowState(ctx, "document", "DOC-001")
		require.NoError(t, err)
		assert.Equal(t, state.ID, queried.ID)
	})

	t.Run("守卫不通过的迁移被拒绝且状态不变", func(t *testing.T) {
		// can_publish=false,守卫拒绝
		result, err := services.engine.Apply(ctx, "document", "DOC-001", "submit",
			workflow.NewJSONContextFromMap(map[string]any{"can_publish": false}))
		require.NoError(t, err)
		assert.False(t, result.Success)
		assert.True(t, errors.Is(errors.Cause(result.Err), workflow.ErrGuardRejected))

		state, err := services.engine.GetWorkflowState(ctx, "document", "DOC-001")
		require.NoError(t, err)
		assert.Equal(t, "draft", state.CurrentState)

		// 拒绝的迁移不产生历史记录
		count, err := services.history.CountHistory(ctx, state.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(0), count)
	})

	t.Run("Can和Apply结论一致", func(t *testing.T) {
		rejectContext := workflow.NewJSONContextFromMap(map[string]any{"can_publish": false})
		allowContext := workflow.NewJSONContextFromMap(map[string]any{"can_publish": true})

		can, err := services.engine.Can(ctx, "document", "DOC-001", "submit", rejectContext)
		require.NoError(t, err)
		assert.False(t, can)

		can, err = services.engine.Can(ctx, "document", "DOC-001", "submit", allowContext)
		require.NoError(t, err)
		assert.True(t, can)

		// Can是只读的,没有任何副作用
		state, err := services.engine.GetWorkflowState(ctx, "document", "DOC-001")
		require.NoError(t, err)
		assert.Equal(t, "draft", state.CurrentState)
	})

	t.Run("完整走通提交和批准", func(t *testing.T) {
		result, err := services.engine.Apply(ctx, "document", "DOC-001", "submit",
			workflow.NewJSONContextFromMap(map[string]any{"can_publish": true, "operator": "writer"}))
		require.NoError(t, err)
		assert.True(t, result.Success)
		assert.Equal(t, "draft", result.FromState)
		assert.Equal(t, "pending_approval", result.ToState)

		result, err = services.engine.Apply(ctx, "document", "DOC-001", "approve",
			workflow.NewJSONContextFromMap(map[string]any{"operator": "manager"}))
		require.NoError(t, err)
		assert.True(t, result.Success)
		assert.Equal(t, "approved", result.ToState)

		// 两次成功迁移恰好两条历史,按发生顺序排列
		state, err := services.engine.GetWorkflowState(ctx, "document", "DOC-001")
		require.NoError(t, err)
		entries, err := services.history.GetHistory(ctx, state.ID, nil)
		require.NoError(t, err)
		require.Len(t, entries, 2)
		assert.Equal(t, "submit", entries[0].TransitionName)
		assert.Equal(t, "writer", entries[0].Operator)
		assert.Equal(t, "approve", entries[1].TransitionName)
		assert.Equal(t, "manager", entries[1].Operator)

		// metadata快照保留了守卫输入
		canPublish, ok := entries[0].Metadata.GetBool("can_publish")
		assert.True(t, ok)
		assert.True(t, canPublish)
	})

	t.Run("终态之后没有可用迁移", func(t *testing.T) {
		available, err := services.engine.AvailableTransitions(ctx, "document", "DOC-001", nil)
		require.NoError(t, err)
		assert.Empty(t, available)

		result, err := services.engine.Apply(ctx, "document", "DOC-001", "submit", nil)
		require.NoError(t, err)
		assert.False(t, result.Success)
		assert.True(t, errors.Is(errors.Cause(result.Err), workflow.ErrNoSuchTransition))
	})

	t.Run("未绑定实体返回not found", func(t *testing.T) {
		_, err := services.engine.GetWorkflowState(ctx, "document", "NOT-BOUND")
		assert.True(t, errors.Is(errors.Cause(err), workflow.ErrWorkflowStateNotFound))
	})
}

type testDocument struct {
	id string
}

func (d *testDocument) GetEntityType() string { return "document" }
func (d *testDocument) GetEntityID() string   { return d.id }

// TestEngineEntityInterface 测试实体接口入口
func TestEngineEntityInterface(t *testing.T) {
	services := setupTestServices(t)
	ctx := context.Background()

	guardName := "entity_interface_can_publish"
	require.NoError(t, workflow.RegisterGuard(guardName, workflow.ContextFlagGuard("can_publish")))
	defer workflow.UnregisterGuard(guardName)

	_, err := services.definitions.ImportDefinitionJSON(ctx, []byte(documentDefinitionJSON("entity_interface", guardName)))
	require.NoError(t, err)

	document := &testDocument{id: "DOC-IFACE-001"}
	_, err = services.engine.BindEntity(ctx, "entity_interface", document.GetEntityType(), document.GetEntityID())
	require.NoError(t, err)

	allowContext := workflow.NewJSONContextFromMap(map[string]any{"can_publish": true})
	can, err := workflow.CanFor(ctx, services.engine, document, "submit", allowContext)
	require.NoError(t, err)
	assert.True(t, can)

	result, err := workflow.ApplyFor(ctx, services.engine, document, "submit", allowContext)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "pending_approval", result.ToState)
}

// TestEngineHooks 测试前置和后置钩子
func TestEngineHooks(t *testing.T) {
	services := setupTestServices(t)
	ctx := context.Background()

	definitionJSON := `{
		"code": "engine_hooks",
		"name": "钩子测试流程",
		"is_active": true,
		"definition": {
			"states": [
				{"name": "draft", "type": "initial"},
				{"name": "done", "type": "final"}
			],
			"transitions": [
				{
					"name": "finish",
					"from": "draft",
					"to": "done",
					"before_hooks": ["engine_hooks_before"],
					"after_hooks": ["engine_hooks_after"]
				}
			]
		}
	}`
	_, err := services.definitions.ImportDefinitionJSON(ctx, []byte(definitionJSON))
	require.NoError(t, err)

	var beforeFail atomic.Bool
	var afterFail atomic.Bool
	var afterCalls atomic.Int64

	require.NoError(t, workflow.RegisterBeforeHook("engine_hooks_before", workflow.BeforeHookFunc(
		func(ctx context.Context, event *workflow.TransitionEvent) error {
			if beforeFail.Load() {
				return errors.New("before hook boom")
			}
			return event.Context.Set([]string{"stamped"}, true)
		},
	)))
	defer workflow.UnregisterBeforeHook("engine_hooks_before")

	require.NoError(t, workflow.RegisterAfterHook("engine_hooks_after", workflow.AfterHookFunc(
		func(ctx context.Context, event *workflow.TransitionEvent) error {
			afterCalls.Add(1)
			if afterFail.Load() {
				return errors.New("after hook boom")
			}
			return nil
		},
	)))
	defer workflow.UnregisterAfterHook("engine_hooks_after")

	t.Run("前置钩子失败中止整个迁移", func(t *testing.T) {
		_, err := services.engine.BindEntity(ctx, "engine_hooks", "order", "ORDER-001")
		require.NoError(t, err)

		beforeFail.Store(true)
		result, err := services.engine.Apply(ctx, "order", "ORDER-001", "finish", nil)
		require.NoError(t, err)
		assert.False(t, result.Success)
		assert.True(t, errors.Is(errors.Cause(result.Err), workflow.ErrBeforeHookFailed))

		// 状态没变,历史没有追加,after钩子没被触发
		state, err := services.engine.GetWorkflowState(ctx, "order", "ORDER-001")
		require.NoError(t, err)
		assert.Equal(t, "draft", state.CurrentState)
		count, err := services.history.CountHistory(ctx, state.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(0), count)
		assert.Equal(t, int64(0), afterCalls.Load())
	})

	t.Run("后置钩子失败不回滚迁移", func(t *testing.T) {
		beforeFail.Store(false)
		afterFail.Store(true)
		result, err := services.engine.Apply(ctx, "order", "ORDER-001", "finish", nil)
		require.NoError(t, err)
		assert.True(t, result.Success)
		require.Len(t, result.HookErrors, 1)

		// 迁移已提交,before钩子写入的字段进了metadata快照
		state, err := services.engine.GetWorkflowState(ctx, "order", "ORDER-001")
		require.NoError(t, err)
		assert.Equal(t, "done", state.CurrentState)
		entries, err := services.history.GetHistory(ctx, state.ID, nil)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		stamped, ok := entries[0].Metadata.GetBool("stamped")
		assert.True(t, ok)
		assert.True(t, stamped)
	})
}

// TestEngineApproval 测试审批组放行
func TestEngineApproval(t *testing.T) {
	services := setupTestServices(t)
	ctx := context.Background()

	definitionJSON := `{
		"code": "engine_approval",
		"name": "审批放行流程",
		"is_active": true,
		"definition": {
			"states": [
				{"name": "pending_approval", "type": "initial"},
				{"name": "approved", "type": "final"}
			],
			"transitions": [
				{"name": "approve", "from": "pending_approval", "to": "approved", "approver_group": "engine_approval_reviewers"}
			]
		}
	}`
	_, err := services.definitions.ImportDefinitionJSON(ctx, []byte(definitionJSON))
	require.NoError(t, err)

	group, err := services.groups.CreateGroup(ctx, &workflow.CreateGroupSpec{
		Name:        "engine_approval_reviewers",
		Strategy:    workflow.StrategyQuorum,
		QuorumCount: 2,
	})
	require.NoError(t, err)
	for _, reviewer := range []string{"alice", "bob", "carol"} {
		_, err := services.groups.AddMember(ctx, group.ID, reviewer, nil)
		require.NoError(t, err)
	}

	state, err := services.engine.BindEntity(ctx, "engine_approval", "contract", "CONTRACT-001")
	require.NoError(t, err)

	newTask := func(assignee string) int64 {
		task, err := services.tasks.CreateTask(ctx, &workflow.CreateTaskSpec{
			WorkflowInstanceID: state.ID,
			TransitionName:     "approve",
			Assignee:           assignee,
		})
		require.NoError(t, err)
		return task.ID
	}

	t.Run("审批未完成迁移被拦截", func(t *testing.T) {
		result, err := services.engine.Apply(ctx, "contract", "CONTRACT-001", "approve", nil)
		require.NoError(t, err)
		assert.False(t, result.Success)
		assert.True(t, errors.Is(errors.Cause(result.Err), workflow.ErrApprovalIncomplete))

		// 一票还不到法定人数
		require.NoError(t, services.tasks.CompleteTask(ctx, newTask("alice"), "alice", nil))
		result, err = services.engine.Apply(ctx, "contract", "CONTRACT-001", "approve", nil)
		require.NoError(t, err)
		assert.False(t, result.Success)

		progress, err := services.engine.ApprovalProgress(ctx, "contract", "CONTRACT-001", "approve")
		require.NoError(t, err)
		assert.Equal(t, int64(3), progress.Total)
		assert.Equal(t, int64(1), progress.Completed)
		assert.False(t, progress.IsComplete)
	})

	t.Run("到达法定人数之后放行", func(t *testing.T) {
		require.NoError(t, services.tasks.CompleteTask(ctx, newTask("bob"), "bob", nil))

		progress, err := services.engine.ApprovalProgress(ctx, "contract", "CONTRACT-001", "approve")
		require.NoError(t, err)
		assert.True(t, progress.IsComplete)

		result, err := services.engine.Apply(ctx, "contract", "CONTRACT-001", "approve",
			workflow.NewJSONContextFromMap(map[string]any{"operator": "bob"}))
		require.NoError(t, err)
		assert.True(t, result.Success)
		assert.Equal(t, "approved", result.ToState)
	})
}

// TestEngineConcurrency 测试同一个实例上并发Apply最多一个成功
func TestEngineConcurrency(t *testing.T) {
	services := setupTestServices(t)
	ctx := context.Background()

	definitionJSON := `{
		"code": "engine_concurrency",
		"name": "并发测试流程",
		"is_active": true,
		"definition": {
			"states": [
				{"name": "draft", "type": "initial"},
				{"name": "pending_approval", "type": "regular"},
				{"name": "approved", "type": "final"}
			],
			"transitions": [
				{"name": "submit", "from": "draft", "to": "pending_approval", "before_hooks": ["engine_concurrency_steal"]},
				{"name": "approve", "from": "pending_approval", "to": "approved"}
			]
		}
	}`
	_, err := services.definitions.ImportDefinitionJSON(ctx, []byte(definitionJSON))
	require.NoError(t, err)

	// steal打开的时候模拟另一个调用方在读和写之间抢先完成了同一个迁移
	var steal atomic.Bool
	require.NoError(t, workflow.RegisterBeforeHook("engine_concurrency_steal", workflow.BeforeHookFunc(
		func(ctx context.Context, event *workflow.TransitionEvent) error {
			if !steal.Load() {
				return nil
			}
			_, err := services.repo.UpdateWorkflowState(ctx, &workflow.UpdateWorkflowStateParams{
				Where: &workflow.UpdateWorkflowStateWhere{
					IDIn:           []int64{event.WorkflowInstanceID},
					CurrentStateIn: []string{event.FromState},
				},
				Fields:   &workflow.UpdateWorkflowStateField{CurrentState: workflow.String(event.ToState)},
				LimitMax: 1,
			})
			return err
		},
	)))
	defer workflow.UnregisterBeforeHook("engine_concurrency_steal")

	t.Run("乐观写冲突返回ErrStateConflict且不留痕", func(t *testing.T) {
		state, err := services.engine.BindEntity(ctx, "engine_concurrency", "document", "DOC-RACE-001")
		require.NoError(t, err)

		steal.Store(true)
		_, err = services.engine.Apply(ctx, "document", "DOC-RACE-001", "submit", nil)
		assert.True(t, errors.Is(errors.Cause(err), workflow.ErrStateConflict))

		// 整个事务回滚,状态没变,历史没有追加
		queried, err := services.engine.GetWorkflowState(ctx, "document", "DOC-RACE-001")
		require.NoError(t, err)
		assert.Equal(t, "draft", queried.CurrentState)
		count, err := services.history.CountHistory(ctx, state.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(0), count)

		// 冲突是可重试错误,重试之后成功
		steal.Store(false)
		result, err := services.engine.Apply(ctx, "document", "DOC-RACE-001", "submit", nil)
		require.NoError(t, err)
		assert.True(t, result.Success)
	})

	t.Run("实例锁被占用时Apply立即失败", func(t *testing.T) {
		state, err := services.engine.BindEntity(ctx, "engine_concurrency", "document", "DOC-RACE-002")
		require.NoError(t, err)

		entered := make(chan struct{})
		release := make(chan struct{})
		done := make(chan error, 1)
		go func() {
			done <- services.lock.NonBlockingSynchronized(ctx, workflow.ApplyLockKey(state.ID), time.Minute,
				func(ctx context.Context) error {
					close(entered)
					<-release
					return nil
				})
		}()
		<-entered

		// 另一个持有者占着这个实例的锁,Apply非阻塞失败
		_, err = services.engine.Apply(ctx, "document", "DOC-RACE-002", "submit", nil)
		assert.True(t, errors.Is(errors.Cause(err), workflow.ErrLockFailed))

		// 两次调用恰好一次成功: 锁释放之后重试成功,历史只有一条
		close(release)
		require.NoError(t, <-done)
		result, err := services.engine.Apply(ctx, "document", "DOC-RACE-002", "submit", nil)
		require.NoError(t, err)
		assert.True(t, result.Success)
		count, err := services.history.CountHistory(ctx, state.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(1), count)
	})
}

// TestEngineSequentialApprovalOrder 测试sequential策略对完成顺序的判定
func TestEngineSequentialApprovalOrder(t *testing.T) {
	services := setupTestServices(t)
	ctx := context.Background()

	definitionJSON := `{
		"code": "engine_sequential",
		"name": "顺序审批流程",
		"is_active": true,
		"definition": {
			"states": [
				{"name": "pending_approval", "type": "initial"},
				{"name": "approved", "type": "final"}
			],
			"transitions": [
				{"name": "approve", "from": "pending_approval", "to": "approved", "approver_group": "engine_sequential_chain"}
			]
		}
	}`
	_, err := services.definitions.ImportDefinitionJSON(ctx, []byte(definitionJSON))
	require.NoError(t, err)

	group, err := services.groups.CreateGroup(ctx, &workflow.CreateGroupSpec{
		Name:     "engine_sequential_chain",
		Strategy: workflow.StrategySequential,
	})
	require.NoError(t, err)
	_, err = services.groups.AddMember(ctx, group.ID, "alice", &workflow.MemberOption{Sequence: workflow.Int64(1)})
	require.NoError(t, err)
	_, err = services.groups.AddMember(ctx, group.ID, "bob", &workflow.MemberOption{Sequence: workflow.Int64(2)})
	require.NoError(t, err)

	newTasks := func(entityID string) (int64, int64) {
		state, err := services.engine.BindEntity(ctx, "engine_sequential", "contract", entityID)
		require.NoError(t, err)
		aliceTask, err := services.tasks.CreateTask(ctx, &workflow.CreateTaskSpec{
			WorkflowInstanceID: state.ID,
			TransitionName:     "approve",
			Assignee:           "alice",
		})
		require.NoError(t, err)
		bobTask, err := services.tasks.CreateTask(ctx, &workflow.CreateTaskSpec{
			WorkflowInstanceID: state.ID,
			TransitionName:     "approve",
			Assignee:           "bob",
		})
		require.NoError(t, err)
		return aliceTask.ID, bobTask.ID
	}

	t.Run("按sequence顺序完成放行", func(t *testing.T) {
		aliceTaskID, bobTaskID := newTasks("SEQ-001")
		require.NoError(t, services.tasks.CompleteTask(ctx, aliceTaskID, "alice", nil))
		time.Sleep(20 * time.Millisecond)
		require.NoError(t, services.tasks.CompleteTask(ctx, bobTaskID, "bob", nil))

		result, err := services.engine.Apply(ctx, "contract", "SEQ-001", "approve", nil)
		require.NoError(t, err)
		assert.True(t, result.Success)
	})

	t.Run("乱序完成被拦截,毫秒级的先后也算乱序", func(t *testing.T) {
		aliceTaskID, bobTaskID := newTasks("SEQ-002")
		// bob只比alice早几十毫秒,完成时间是秒级精度的话两个会打平
		require.NoError(t, services.tasks.CompleteTask(ctx, bobTaskID, "bob", nil))
		time.Sleep(20 * time.Millisecond)
		require.NoError(t, services.tasks.CompleteTask(ctx, aliceTaskID, "alice", nil))

		result, err := services.engine.Apply(ctx, "contract", "SEQ-002", "approve", nil)
		require.NoError(t, err)
		assert.False(t, result.Success)
		assert.True(t, errors.Is(errors.Cause(result.Err), workflow.ErrApprovalIncomplete))
	})
}

// TestDefinitionServiceVersioning 测试定义版本化和激活交换
func TestDefinitionServiceVersioning(t *testing.T) {
	services := setupTestServices(t)
	ctx := context.Background()

	spec := func(name string) *workflow.DefinitionSpec {
		return &workflow.DefinitionSpec{
			Code: "versioned_flow",
			Name: name,
			Body: &workflow.DefinitionBody{
				States: []*workflow.StateDefinition{
					{Name: "draft", Type: workflow.StateTypeInitial},
					{Name: "done", Type: workflow.StateTypeFinal},
				},
				Transitions: []*workflow.TransitionDefinition{
					{Name: "finish", From: "draft", To: "done"},
				},
			},
		}
	}

	t.Run("创建和激活", func(t *testing.T) {
		v1, err := services.definitions.CreateDefinition(ctx, spec("版本1"))
		require.NoError(t, err)
		assert.Equal(t, int64(1), v1.Version)
		assert.False(t, v1.IsActive)

		// 没激活之前查不到激活版本
		_, err = services.definitions.GetActiveDefinition(ctx, "versioned_flow")
		assert.True(t, errors.Is(errors.Cause(err), workflow.ErrDefinitionNotFound))

		require.NoError(t, services.definitions.ActivateDefinition(ctx, v1.ID))
		active, err := services.definitions.GetActiveDefinition(ctx, "versioned_flow")
		require.NoError(t, err)
		assert.Equal(t, v1.ID, active.ID)
	})

	t.Run("激活新版本自动下线旧版本", func(t *testing.T) {
		v2, err := services.definitions.CreateDefinitionVersion(ctx, "versioned_flow", spec("版本2"))
		require.NoError(t, err)
		assert.Equal(t, int64(2), v2.Version)

		require.NoError(t, services.definitions.ActivateDefinition(ctx, v2.ID))
		active, err := services.definitions.GetActiveDefinition(ctx, "versioned_flow")
		require.NoError(t, err)
		assert.Equal(t, v2.ID, active.ID)

		// 任何时刻一个code最多一个激活版本
		all, err := services.definitions.ListDefinitions(ctx, &workflow.QueryDefinitionParams{
			Code:     workflow.String("versioned_flow"),
			IsActive: workflow.Bool(true),
			Page:     &workflow.Pager{IsNoLimit: workflow.Bool(true)},
		})
		require.NoError(t, err)
		assert.Len(t, all, 1)
	})

	t.Run("激活中的定义不可修改不可删除", func(t *testing.T) {
		active, err := services.definitions.GetActiveDefinition(ctx, "versioned_flow")
		require.NoError(t, err)

		_, err = services.definitions.UpdateDefinition(ctx, active.ID, spec("改名"))
		assert.True(t, errors.Is(errors.Cause(err), workflow.ErrDefinitionActive))

		err = services.definitions.DeleteDefinition(ctx, active.ID)
		assert.True(t, errors.Is(errors.Cause(err), workflow.ErrDefinitionActive))
	})

	t.Run("已绑定实体固定在绑定时的版本", func(t *testing.T) {
		active, err := services.definitions.GetActiveDefinition(ctx, "versioned_flow")
		require.NoError(t, err)

		state, err := services.engine.BindEntity(ctx, "versioned_flow", "ticket", "TICKET-001")
		require.NoError(t, err)
		assert.Equal(t, active.ID, state.DefinitionID)

		// 激活v3不影响已绑定实体
		v3, err := services.definitions.CreateDefinitionVersion(ctx, "versioned_flow", spec("版本3"))
		require.NoError(t, err)
		require.NoError(t, services.definitions.ActivateDefinition(ctx, v3.ID))

		queried, err := services.engine.GetWorkflowState(ctx, "ticket", "TICKET-001")
		require.NoError(t, err)
		assert.Equal(t, active.ID, queried.DefinitionID)
	})

	t.Run("克隆和导出导入", func(t *testing.T) {
		cloned, err := services.definitions.CloneDefinition(ctx, "versioned_flow", "cloned_flow")
		require.NoError(t, err)
		assert.Equal(t, "cloned_flow", cloned.Code)
		assert.Equal(t, int64(1), cloned.Version)
		assert.False(t, cloned.IsActive)

		exported, err := services.definitions.ExportDefinitionJSON(ctx, cloned.ID)
		require.NoError(t, err)
		parsed, err := workflow.ParseDefinitionJSON(exported)
		require.NoError(t, err)
		assert.Equal(t, "cloned_flow", parsed.Code)
	})
}
