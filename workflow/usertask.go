package workflow

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

// UserTask 用户任务entity
// 任务生命周期: pending -> in_progress -> completed/canceled,终态之后不允许任何变更
type UserTask struct {
	ID                 int64
	WorkflowInstanceID int64
	TransitionName     string
	Assignee           string
	AssignedBy         string
	Status             TaskStatus
	Priority           TaskPriority
	// unix秒,0表示没有截止时间
	DueDate int64
	// 完成时的结果载荷
	Result      *JSONContext
	CompletedBy string
	// unix毫秒,sequential策略靠它判定完成顺序,秒级精度会把同一秒内的乱序审批判成有序
	CompletedAt int64
	CreatedAt   int64
	UpdatedAt   int64
}

// IsOverdue 有截止时间且已过期,终态任务不算过期
func (t *UserTask) IsOverdue(now int64) bool {
	if IsTerminalTaskStatus(t.Status) {
		return false
	}
	return t.DueDate > 0 && t.DueDate < now
}

// CreateTaskSpec 创建任务的请求
type CreateTaskSpec struct {
	WorkflowInstanceID int64  `json:"workflow_instance_id" validate:"required"`
	TransitionName     string `json:"transition_name" validate:"required"`
	Assignee           string `json:"assignee" validate:"required"`
	AssignedBy         string `json:"assigned_by"`
	// low|medium|high|urgent,空串默认medium
	Priority string `json:"priority"`
	// unix秒,0表示没有截止时间
	DueDate int64 `json:"due_date"`
}

// TaskStatistics 单个用户的任务统计
type TaskStatistics struct {
	Pending        int64 `json:"pending"`
	InProgress     int64 `json:"in_progress"`
	Completed      int64 `json:"completed"`
	Canceled       int64 `json:"canceled"`
	Overdue        int64 `json:"overdue"`
	CompletedToday int64 `json:"completed_today"`
}

// TaskService 用户任务服务
// 任务的completed记录是审批策略的输入,CompleteTask之后对应迁移的审批进度会前进
type TaskService interface {
	CreateTask(ctx context.Context, spec *CreateTaskSpec) (*UserTask, error)
	// CreateTasksBulk 批量创建,整体成功或者整体失败
	CreateTasksBulk(ctx context.Context, specs []*CreateTaskSpec) ([]*UserTask, error)
	GetTask(ctx context.Context, taskID int64) (*UserTask, error)

	// AssignTask 改派任务,终态任务返回ErrTaskTerminal
	AssignTask(ctx context.Context, taskID int64, assignee string, assignedBy string) error
	// StartTask pending -> in_progress
	StartTask(ctx context.Context, taskID int64) error
	// CompleteTask pending/in_progress -> completed,记录完成人/完成时间/结果载荷
	CompleteTask(ctx context.Context, taskID int64, completedBy string, result *JSONContext) error
	// CancelTask pending/in_progress -> canceled
	CancelTask(ctx context.Context, taskID int64) error

	// GetInbox 收件箱: 非终态任务,优先级降序,有截止时间的在前按截止时间升序
	// statusIn为空取全部非终态任务,传值只允许pending/in_progress,终态不属于收件箱
	GetInbox(ctx context.Context, assignee string, statusIn []TaskStatus, page *Pager) ([]*UserTask, error)
	GetPendingTasks(ctx context.Context, assignee string, page *Pager) ([]*UserTask, error)
	// GetOverdueTasks 有截止时间且已过期的非终态任务
	GetOverdueTasks(ctx context.Context, assignee string, page *Pager) ([]*UserTask, error)
	// GetCompletedTasks 最近完成的任务,按完成时间倒序,最多50条
	GetCompletedTasks(ctx context.Context, assignee string) ([]*UserTask, error)
	GetTaskStatistics(ctx context.Context, assignee string) (*TaskStatistics, error)

	GetTasksForWorkflow(ctx context.Context, workflowInstanceID int64) ([]*UserTask, error)
	// CancelWorkflowTasks 取消一个工作流实例下面全部未完结任务,返回实际取消的数量
	// 工作流被驳回/放弃的时候挂在上面的审批任务一起清掉
	CancelWorkflowTasks(ctx context.Context, workflowInstanceID int64) (int64, error)
}

// GetCompletedTasks 的上限
const completedTasksLimit = 50

// CancelWorkflowTasks 单批取消的上限
const cancelTasksBatchSize = 1000

type TaskServiceImpl struct {
	repo WorkflowRepo
}

func NewTaskService(repo WorkflowRepo) TaskService {
	return &TaskServiceImpl{repo: repo}
}

func taskFromPo(po *UserTaskPo) *UserTask {
	return &UserTask{
		ID:                 po.ID,
		WorkflowInstanceID: po.WorkflowInstanceID,
		TransitionName:     po.TransitionName,
		Assignee:           po.Assignee,
		AssignedBy:         po.AssignedBy,
		Status:             po.Status,
		Priority:           po.Priority,
		DueDate:            po.DueDate,
		Result:             NewJSONContext(po.Result),
		CompletedBy:        po.CompletedBy,
		CompletedAt:        po.CompletedAt,
		CreatedAt:          po.CreatedAt,
		UpdatedAt:          po.UpdatedAt,
	}
}

func tasksFromPos(pos []*UserTaskPo) []*UserTask {
	tasks := make([]*UserTask, 0, len(pos))
	for _, po := range pos {
		tasks = append(tasks, taskFromPo(po))
	}
	return tasks
}

func (s *TaskServiceImpl) buildTaskPo(spec *CreateTaskSpec) (*UserTaskPo, error) {
	if spec == nil {
		return nil, errors.Wrap(ErrParamInvalid, "create task spec is nil")
	}
	if err := validatorUtil.Struct(spec); err != nil {
		return nil, errors.Wrapf(ErrParamInvalid, "create task spec invalid: %v", err)
	}
	priority, err := ParseTaskPriority(spec.Priority)
	if err != nil {
		return nil, err
	}
	return &UserTaskPo{
		WorkflowInstanceID: spec.WorkflowInstanceID,
		TransitionName:     spec.TransitionName,
		Assignee:           spec.Assignee,
		AssignedBy:         spec.AssignedBy,
		Status:             TaskStatusPending,
		Priority:           priority,
		DueDate:            spec.DueDate,
	}, nil
}

func (s *TaskServiceImpl) CreateTask(ctx context.Context, spec *CreateTaskSpec) (*UserTask, error) {
	po, err := s.buildTaskPo(spec)
	if err != nil {
		return nil, err
	}
	created, err := s.repo.CreateUserTask(ctx, po)
	if err != nil {
		return nil, errors.WithMessagef(err, "CreateUserTask failed, assignee: %s", spec.Assignee)
	}
	return taskFromPo(created), nil
}

func (s *TaskServiceImpl) CreateTasksBulk(ctx context.Context, specs []*CreateTaskSpec) ([]*UserTask, error) {
	if len(specs) == 0 {
		return nil, errors.Wrap(ErrParamInvalid, "specs is empty")
	}
	// 先整体校验再开事务,避免写到一半才发现参数有问题
	pos := make([]*UserTaskPo, 0, len(specs))
	for _, spec := range specs {
		po, err := s.buildTaskPo(spec)
		if err != nil {
			return nil, err
		}
		pos = append(pos, po)
	}
	tasks := make([]*UserTask, 0, len(pos))
	err := s.repo.Transaction(ctx, func(ctx context.Context) error {
		for _, po := range pos {
			created, err := s.repo.CreateUserTask(ctx, po)
			if err != nil {
				return errors.WithMessagef(err, "CreateUserTask failed, assignee: %s", po.Assignee)
			}
			tasks = append(tasks, taskFromPo(created))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return tasks, nil
}

func (s *TaskServiceImpl) getTaskPo(ctx context.Context, taskID int64) (*UserTaskPo, error) {
	pos, err := s.repo.QueryUserTask(ctx, &QueryUserTaskParams{
		TaskID: &taskID,
		Page:   &Pager{Page: 1, Size: 1},
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "QueryUserTask failed, taskID: %d", taskID)
	}
	if len(pos) == 0 {
		return nil, errors.Wrapf(ErrTaskNotFound, "taskID: %d", taskID)
	}
	return pos[0], nil
}

func (s *TaskServiceImpl) GetTask(ctx context.Context, taskID int64) (*UserTask, error) {
	po, err := s.getTaskPo(ctx, taskID)
	if err != nil {
		return nil, err
	}
	return taskFromPo(po), nil
}

// updateWithStatusGuard 带状态前置条件的更新,终态任务在这里被拦截
// 0行受影响的时候回查任务区分"不存在"/"已是终态"/"状态竞争"
func (s *TaskServiceImpl) updateWithStatusGuard(ctx context.Context, taskID int64, allowedFrom []string, fields *UpdateUserTaskField) error {
	rowsAffected, err := s.repo.UpdateUserTask(ctx, &UpdateUserTaskParams{
		Where: &UpdateUserTaskWhere{
			IDIn:     []int64{taskID},
			StatusIn: allowedFrom,
		},
		Fields:   fields,
		LimitMax: 1,
	})
	if err != nil {
		return errors.WithMessagef(err, "UpdateUserTask failed, taskID: %d", taskID)
	}
	if rowsAffected > 0 {
		return nil
	}
	po, err := s.getTaskPo(ctx, taskID)
	if err != nil {
		return err
	}
	if IsTerminalTaskStatus(po.Status) {
		return errors.Wrapf(ErrTaskTerminal, "taskID: %d, status: %s", taskID, po.Status)
	}
	return errors.Wrapf(ErrInvalidTaskStatus, "taskID: %d, status: %s, expected one of %v", taskID, po.Status, allowedFrom)
}

func (s *TaskServiceImpl) AssignTask(ctx context.Context, taskID int64, assignee string, assignedBy string) error {
	if assignee == "" {
		return errors.Wrap(ErrParamInvalid, "assignee is empty")
	}
	return s.updateWithStatusGuard(ctx, taskID,
		[]string{TaskStatusPending, TaskStatusInProgress},
		&UpdateUserTaskField{Assignee: &assignee, AssignedBy: &assignedBy})
}

func (s *TaskServiceImpl) StartTask(ctx context.Context, taskID int64) error {
	return s.updateWithStatusGuard(ctx, taskID,
		[]string{TaskStatusPending},
		&UpdateUserTaskField{Status: String(TaskStatusInProgress)})
}

func (s *TaskServiceImpl) CompleteTask(ctx context.Context, taskID int64, completedBy string, result *JSONContext) error {
	if completedBy == "" {
		return errors.Wrap(ErrParamInvalid, "completedBy is empty")
	}
	resultBytes := []byte(nil)
	if result != nil {
		resultBytes = result.ToBytesWithoutError()
	}
	return s.updateWithStatusGuard(ctx, taskID,
		[]string{TaskStatusPending, TaskStatusInProgress},
		&UpdateUserTaskField{
			Status:      String(TaskStatusCompleted),
			Result:      resultBytes,
			CompletedBy: &completedBy,
			CompletedAt: Int64(time.Now().UnixMilli()),
		})
}

func (s *TaskServiceImpl) CancelTask(ctx context.Context, taskID int64) error {
	return s.updateWithStatusGuard(ctx, taskID,
		[]string{TaskStatusPending, TaskStatusInProgress},
		&UpdateUserTaskField{Status: String(TaskStatusCancelled)})
}

func (s *TaskServiceImpl) GetInbox(ctx context.Context, assignee string, statusIn []TaskStatus, page *Pager) ([]*UserTask, error) {
	if assignee == "" {
		return nil, errors.Wrap(ErrParamInvalid, "assignee is empty")
	}
	if len(statusIn) == 0 {
		statusIn = []string{TaskStatusPending, TaskStatusInProgress}
	}
	for _, status := range statusIn {
		if !IsValidTaskStatus(status) || IsTerminalTaskStatus(status) {
			return nil, errors.Wrapf(ErrInvalidTaskStatus, "inbox status filter: %s", status)
		}
	}
	if page == nil {
		page = &Pager{IsNoLimit: Bool(true)}
	}
	pos, err := s.repo.QueryUserTask(ctx, &QueryUserTaskParams{
		Assignee:     &assignee,
		StatusIn:     statusIn,
		OrderbyInbox: Bool(true),
		Page:         page,
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "QueryUserTask failed, assignee: %s", assignee)
	}
	return tasksFromPos(pos), nil
}

func (s *TaskServiceImpl) GetPendingTasks(ctx context.Context, assignee string, page *Pager) ([]*UserTask, error) {
	if assignee == "" {
		return nil, errors.Wrap(ErrParamInvalid, "assignee is empty")
	}
	if page == nil {
		page = &Pager{IsNoLimit: Bool(true)}
	}
	pos, err := s.repo.QueryUserTask(ctx, &QueryUserTaskParams{
		Assignee:     &assignee,
		StatusIn:     []string{TaskStatusPending},
		OrderbyIDAsc: Bool(true),
		Page:         page,
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "QueryUserTask failed, assignee: %s", assignee)
	}
	return tasksFromPos(pos), nil
}

func (s *TaskServiceImpl) GetOverdueTasks(ctx context.Context, assignee string, page *Pager) ([]*UserTask, error) {
	if assignee == "" {
		return nil, errors.Wrap(ErrParamInvalid, "assignee is empty")
	}
	if page == nil {
		page = &Pager{IsNoLimit: Bool(true)}
	}
	pos, err := s.repo.QueryUserTask(ctx, &QueryUserTaskParams{
		Assignee:  &assignee,
		StatusIn:  []string{TaskStatusPending, TaskStatusInProgress},
		DueBefore: Int64(time.Now().Unix()),
		// 最早到期的排最前面
		OrderbyInbox: Bool(true),
		Page:         page,
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "QueryUserTask failed, assignee: %s", assignee)
	}
	return tasksFromPos(pos), nil
}

func (s *TaskServiceImpl) GetCompletedTasks(ctx context.Context, assignee string) ([]*UserTask, error) {
	if assignee == "" {
		return nil, errors.Wrap(ErrParamInvalid, "assignee is empty")
	}
	pos, err := s.repo.QueryUserTask(ctx, &QueryUserTaskParams{
		Assignee:             &assignee,
		StatusIn:             []string{TaskStatusCompleted},
		OrderbyCompletedDesc: Bool(true),
		Page:                 &Pager{Page: 1, Size: completedTasksLimit},
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "QueryUserTask failed, assignee: %s", assignee)
	}
	return tasksFromPos(pos), nil
}

func (s *TaskServiceImpl) countTasks(ctx context.Context, param *QueryUserTaskParams) (int64, error) {
	count, err := s.repo.CountUserTask(ctx, param)
	if err != nil {
		return 0, errors.WithMessage(err, "CountUserTask failed")
	}
	return count, nil
}

func (s *TaskServiceImpl) GetTaskStatistics(ctx context.Context, assignee string) (*TaskStatistics, error) {
	if assignee == "" {
		return nil, errors.Wrap(ErrParamInvalid, "assignee is empty")
	}
	statistics := &TaskStatistics{}
	statusCounts := []struct {
		status string
		target *int64
	}{
		{TaskStatusPending, &statistics.Pending},
		{TaskStatusInProgress, &statistics.InProgress},
		{TaskStatusCompleted, &statistics.Completed},
		{TaskStatusCancelled, &statistics.Canceled},
	}
	for _, statusCount := range statusCounts {
		count, err := s.countTasks(ctx, &QueryUserTaskParams{
			Assignee: &assignee,
			StatusIn: []string{statusCount.status},
		})
		if err != nil {
			return nil, err
		}
		*statusCount.target = count
	}
	now := time.Now()
	overdue, err := s.countTasks(ctx, &QueryUserTaskParams{
		Assignee:  &assignee,
		StatusIn:  []string{TaskStatusPending, TaskStatusInProgress},
		DueBefore: Int64(now.Unix()),
	})
	if err != nil {
		return nil, err
	}
	statistics.Overdue = overdue
	// 今日零点之后完成的数量
	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	completedToday, err := s.countTasks(ctx, &QueryUserTaskParams{
		Assignee:       &assignee,
		StatusIn:       []string{TaskStatusCompleted},
		CompletedAfter: Int64(startOfDay.UnixMilli()),
	})
	if err != nil {
		return nil, err
	}
	statistics.CompletedToday = completedToday
	return statistics, nil
}

func (s *TaskServiceImpl) GetTasksForWorkflow(ctx context.Context, workflowInstanceID int64) ([]*UserTask, error) {
	if workflowInstanceID <= 0 {
		return nil, errors.Wrapf(ErrParamInvalid, "workflowInstanceID: %d", workflowInstanceID)
	}
	pos, err := s.repo.QueryUserTask(ctx, &QueryUserTaskParams{
		WorkflowInstanceID: &workflowInstanceID,
		OrderbyIDAsc:       Bool(true),
		Page:               &Pager{IsNoLimit: Bool(true)},
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "QueryUserTask failed, workflowInstanceID: %d", workflowInstanceID)
	}
	return tasksFromPos(pos), nil
}

func (s *TaskServiceImpl) CancelWorkflowTasks(ctx context.Context, workflowInstanceID int64) (int64, error) {
	if workflowInstanceID <= 0 {
		return 0, errors.Wrapf(ErrParamInvalid, "workflowInstanceID: %d", workflowInstanceID)
	}
	// 分批取消直到没有剩余,单批上限只控制单条UPDATE的规模,不是整体上限
	total := int64(0)
	for {
		rowsAffected, err := s.repo.UpdateUserTask(ctx, &UpdateUserTaskParams{
			Where: &UpdateUserTaskWhere{
				WorkflowInstanceIDIn: []int64{workflowInstanceID},
				// 终态任务不受影响
				StatusIn: []string{TaskStatusPending, TaskStatusInProgress},
			},
			Fields:   &UpdateUserTaskField{Status: String(TaskStatusCancelled)},
			LimitMax: cancelTasksBatchSize,
		})
		if err != nil {
			return total, errors.WithMessagef(err, "UpdateUserTask failed, workflowInstanceID: %d", workflowInstanceID)
		}
		total += rowsAffected
		if rowsAffected < cancelTasksBatchSize {
			return total, nil
		}
	}
}
