package workflow

import "github.com/pkg/errors"

// 辅助函数：替代 String / Bool / Int64
func String(s string) *string { return &s }
func Bool(b bool) *bool       { return &b }
func Int64(i int64) *int64    { return &i }

var (
	// 按设计拒绝类错误(rejected-by-design): 属于正常业务返回值,调用方用errors.Is分支处理,不算故障
	ErrNoSuchTransition   = errors.New("no such transition from current state") // 当前状态下没有这个迁移
	ErrGuardRejected      = errors.New("transition guard rejected")             // 守卫条件不通过,状态不发生任何变化
	ErrBeforeHookFailed   = errors.New("before hook failed")                    // 前置钩子失败,整个迁移回滚,等同守卫失败
	ErrApprovalIncomplete = errors.New("approval not complete")                 // 审批未完成,迁移被审批组拦截
	ErrTaskTerminal       = errors.New("user task is terminal")                 // 任务已经是终态(completed/canceled),不允许再变更
	ErrDuplicateMember    = errors.New("duplicate group member")                // 审批组内重复成员
	ErrMemberNotFound     = errors.New("group member not found")                // 审批组成员不存在

	// 校验类错误(validation): 输入数据不合法,在任何状态写入之前返回
	ErrParamInvalid          = errors.New("param invalid")                  // 请求参数不合法
	ErrDefinitionInvalid     = errors.New("workflow definition invalid")    // 工作流定义结构不合法
	ErrUnknownStrategy       = errors.New("unknown approval strategy")      // 未知的审批策略标签,不做静默降级
	ErrStrategyConfigInvalid = errors.New("strategy config invalid")        // 策略配置缺失或不合法(如quorum缺少quorum_count)
	ErrInvalidTaskStatus     = errors.New("invalid user task status")       // 任务状态枚举值不合法
	ErrInvalidTaskPriority   = errors.New("invalid user task priority")     // 任务优先级枚举值不合法
	ErrGuardNotRegistered    = errors.New("guard not registered")           // 定义引用的守卫没有注册,属于配置错误
	ErrHookNotRegistered     = errors.New("hook not registered")            // 定义引用的钩子没有注册,属于配置错误
	ErrGuardAlreadyExists    = errors.New("guard already registered")       // 守卫重复注册
	ErrHookAlreadyExists     = errors.New("hook already registered")        // 钩子重复注册

	// 冲突类错误(conflict): 状态前置条件不满足
	ErrDefinitionNotFound      = errors.New("workflow definition not found")       // 工作流定义不存在
	ErrDefinitionActive        = errors.New("workflow definition is active")       // 激活中的定义不可修改/删除,需要先创建新版本
	ErrDefinitionVersionExists = errors.New("workflow definition version exists")  // code+version 已存在
	ErrGroupNotFound           = errors.New("approver group not found")            // 审批组不存在
	ErrTaskNotFound            = errors.New("user task not found")                 // 任务不存在
	ErrWorkflowStateNotFound   = errors.New("workflow state not found")            // 实体还没有绑定工作流状态
	ErrStateConflict           = errors.New("workflow state write conflict")       // 并发写冲突,当前状态已被其他调用方迁移走,可重试
)

// TaskStatus 用户任务状态
type TaskStatus = string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusInProgress TaskStatus = "in_progress"
	// 完成, 任务终止状态, 审批记录里面只有completed算同意
	TaskStatusCompleted TaskStatus = "completed"
	// 取消, 任务终止状态, 和工作流迁移被放弃有关系
	TaskStatusCancelled TaskStatus = "canceled"
)

// IsTerminalTaskStatus 终态任务不允许任何后续变更
func IsTerminalTaskStatus(status TaskStatus) bool {
	return status == TaskStatusCompleted || status == TaskStatusCancelled
}

func IsValidTaskStatus(status TaskStatus) bool {
	switch status {
	case TaskStatusPending, TaskStatusInProgress, TaskStatusCompleted, TaskStatusCancelled:
		return true
	}
	return false
}

func GetTaskStatusText(status TaskStatus) string {
	switch status {
	case TaskStatusPending:
		return "待处理"
	case TaskStatusInProgress:
		return "处理中"
	case TaskStatusCompleted:
		return "完成"
	case TaskStatusCancelled:
		return "取消"
	}
	return "未知"
}

// TaskPriority 任务优先级,用数字存储方便收件箱按优先级排序
type TaskPriority = int64

const (
	TaskPriorityLow    TaskPriority = 1
	TaskPriorityMedium TaskPriority = 2
	TaskPriorityHigh   TaskPriority = 3
	TaskPriorityUrgent TaskPriority = 4
)

func IsValidTaskPriority(priority TaskPriority) bool {
	return priority >= TaskPriorityLow && priority <= TaskPriorityUrgent
}

// ParseTaskPriority 从枚举名解析优先级,空串返回默认值medium
func ParseTaskPriority(name string) (TaskPriority, error) {
	switch name {
	case "":
		return TaskPriorityMedium, nil
	case "low":
		return TaskPriorityLow, nil
	case "medium":
		return TaskPriorityMedium, nil
	case "high":
		return TaskPriorityHigh, nil
	case "urgent":
		return TaskPriorityUrgent, nil
	}
	return 0, errors.Wrapf(ErrInvalidTaskPriority, "priority name: %s", name)
}

func GetTaskPriorityText(priority TaskPriority) string {
	switch priority {
	case TaskPriorityLow:
		return "低"
	case TaskPriorityMedium:
		return "中"
	case TaskPriorityHigh:
		return "高"
	case TaskPriorityUrgent:
		return "紧急"
	}
	return "未知"
}

// StateType 状态类型,对应定义JSON里面state的type字段
type StateType = string

const (
	StateTypeInitial StateType = "initial"
	StateTypeRegular StateType = "regular"
	StateTypeFinal   StateType = "final"
)

func IsValidStateType(stateType StateType) bool {
	return stateType == StateTypeInitial || stateType == StateTypeRegular || stateType == StateTypeFinal
}

// StrategyTag 审批策略标签,五种策略
type StrategyTag = string

const (
	StrategySequential StrategyTag = "sequential"
	StrategyParallel   StrategyTag = "parallel"
	StrategyQuorum     StrategyTag = "quorum"
	StrategyAny        StrategyTag = "any"
	StrategyWeighted   StrategyTag = "weighted"
)

// TransitionContextKey 迁移上下文里面引擎保留的key
type TransitionContextKey = string

const (
	// 操作人,有值的话会记录到history的operator字段
	TransitionContextKeyOperator TransitionContextKey = "operator"
	// 系统保留字段,历史metadata快照的时候会被剔除
	TransitionContextKeySystem TransitionContextKey = "system"
)

// IsSeriousError 判断是否是严重错误,严重错误打error级别日志,其余打warn
// 严重错误定义: 需要人工介入处理,比如定义/守卫/钩子配置不正确,或者出现了写冲突之外的存储异常
func IsSeriousError(err error) bool {
	if err == nil {
		// 空error不算严重错误
		return false
	}
	causeErr := errors.Cause(err)
	if errors.Is(causeErr, ErrDefinitionNotFound) ||
		errors.Is(causeErr, ErrDefinitionInvalid) ||
		errors.Is(causeErr, ErrGuardNotRegistered) ||
		errors.Is(causeErr, ErrHookNotRegistered) ||
		errors.Is(causeErr, ErrUnknownStrategy) ||
		errors.Is(causeErr, ErrStrategyConfigInvalid) ||
		errors.Is(causeErr, ErrGroupNotFound) {
		return true
	}
	return false
}

// IsRejectedByDesign 是否是按设计拒绝类错误,这类错误是正常返回值,不需要报警
func IsRejectedByDesign(err error) bool {
	if err == nil {
		return false
	}
	causeErr := errors.Cause(err)
	return errors.Is(causeErr, ErrNoSuchTransition) ||
		errors.Is(causeErr, ErrGuardRejected) ||
		errors.Is(causeErr, ErrBeforeHookFailed) ||
		errors.Is(causeErr, ErrApprovalIncomplete) ||
		errors.Is(causeErr, ErrTaskTerminal) ||
		errors.Is(causeErr, ErrDuplicateMember) ||
		errors.Is(causeErr, ErrMemberNotFound)
}
