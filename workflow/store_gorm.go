package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"
)

type WorkflowDefinitionPo struct {
	ID        int64  `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	Code      string `gorm:"column:code;index:idx_code_version,unique,priority:1" json:"code"`
	Name      string `gorm:"column:name" json:"name"`
	Version   int64  `gorm:"column:version;index:idx_code_version,unique,priority:2" json:"version"`
	IsActive  bool   `gorm:"column:is_active" json:"is_active"`
	Body      []byte `gorm:"column:body" json:"body"` // DefinitionBody的JSON
	CreatedAt int64  `gorm:"column:created_at" json:"created_at"`
	UpdatedAt int64  `gorm:"column:updated_at" json:"updated_at"`
}

func (WorkflowDefinitionPo) TableName() string {
	return "workflow_definition"
}

type WorkflowStatePo struct {
	ID           int64  `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	EntityType   string `gorm:"column:entity_type;index:idx_entity,unique,priority:1" json:"entity_type"`
	EntityID     string `gorm:"column:entity_id;index:idx_entity,unique,priority:2" json:"entity_id"`
	DefinitionID int64  `gorm:"column:definition_id" json:"definition_id"` // 绑定时激活的定义版本
	CurrentState string `gorm:"column:current_state" json:"current_state"`
	CreatedAt    int64  `gorm:"column:created_at" json:"created_at"`
	UpdatedAt    int64  `gorm:"column:updated_at" json:"updated_at"`
}

func (WorkflowStatePo) TableName() string {
	return "workflow_state"
}

type WorkflowHistoryPo struct {
	ID                 int64  `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	WorkflowInstanceID int64  `gorm:"column:workflow_instance_id;index" json:"workflow_instance_id"`
	TransitionName     string `gorm:"column:transition_name" json:"transition_name"`
	FromState          string `gorm:"column:from_state" json:"from_state"`
	ToState            string `gorm:"column:to_state" json:"to_state"`
	Operator           string `gorm:"column:operator" json:"operator"`
	Metadata           []byte `gorm:"column:metadata" json:"metadata"` // 迁移上下文快照
	CreatedAt          int64  `gorm:"column:created_at" json:"created_at"`
}

func (WorkflowHistoryPo) TableName() string {
	return "workflow_history"
}

type ApproverGroupPo struct {
	ID          int64       `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	Name        string      `gorm:"column:name;uniqueIndex" json:"name"`
	Strategy    StrategyTag `gorm:"column:strategy" json:"strategy"`
	QuorumCount int64       `gorm:"column:quorum_count" json:"quorum_count"` // quorum策略专用
	MinWeight   int64       `gorm:"column:min_weight" json:"min_weight"`     // weighted策略专用
	IsActive    bool        `gorm:"column:is_active" json:"is_active"`
	CreatedAt   int64       `gorm:"column:created_at" json:"created_at"`
	UpdatedAt   int64       `gorm:"column:updated_at" json:"updated_at"`
}

func (ApproverGroupPo) TableName() string {
	return "approver_group"
}

type ApproverGroupMemberPo struct {
	ID        int64  `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	GroupID   int64  `gorm:"column:group_id;index:idx_group_user,unique,priority:1" json:"group_id"`
	UserID    string `gorm:"column:user_id;index:idx_group_user,unique,priority:2" json:"user_id"`
	Sequence  int64  `gorm:"column:sequence" json:"sequence"` // sequential策略必填
	Weight    int64  `gorm:"column:weight" json:"weight"`     // weighted策略必填
	CreatedAt int64  `gorm:"column:created_at" json:"created_at"`
	UpdatedAt int64  `gorm:"column:updated_at" json:"updated_at"`
}

func (ApproverGroupMemberPo) TableName() string {
	return "approver_group_member"
}

type UserTaskPo struct {
	ID                 int64        `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	WorkflowInstanceID int64        `gorm:"column:workflow_instance_id;index" json:"workflow_instance_id"`
	TransitionName     string       `gorm:"column:transition_name" json:"transition_name"`
	Assignee           string       `gorm:"column:assignee;index" json:"assignee"`
	AssignedBy         string       `gorm:"column:assigned_by" json:"assigned_by"`
	Status             TaskStatus   `gorm:"column:status" json:"status"`
	Priority           TaskPriority `gorm:"column:priority" json:"priority"`
	DueDate            int64        `gorm:"column:due_date" json:"due_date"` // unix秒,0表示没有截止时间
	Result             []byte       `gorm:"column:result" json:"result"`     // 完成时的结果载荷
	CompletedBy        string       `gorm:"column:completed_by" json:"completed_by"`
	CompletedAt        int64        `gorm:"column:completed_at" json:"completed_at"` // unix毫秒
	CreatedAt          int64        `gorm:"column:created_at" json:"created_at"`
	UpdatedAt          int64        `gorm:"column:updated_at" json:"updated_at"`
}

func (UserTaskPo) TableName() string {
	return "user_task"
}

type Pager struct {
	IsNoLimit *bool `json:"is_no_limit"`
	Page      int64 `json:"page"`
	Size      int64 `json:"size"`
}

func applyPager(db *gorm.DB, page *Pager) (*gorm.DB, error) {
	if page == nil {
		return nil, errors.New("page is nil")
	}
	if page.IsNoLimit != nil && *page.IsNoLimit {
		return db, nil
	}
	if page.Page == 0 {
		page.Page = 1
	}
	if page.Size == 0 {
		page.Size = 10
	}
	return db.Offset(int(page.Page-1) * int(page.Size)).Limit(int(page.Size)), nil
}

type QueryDefinitionParams struct {
	DefinitionID *int64  `json:"definition_id"`
	Code         *string `json:"code"`
	Version      *int64  `json:"version"`
	IsActive     *bool   `json:"is_active"`
	OrderbyIDAsc *bool   `json:"orderby_id_asc"`
	Page         *Pager  `json:"page"`
}

type UpdateDefinitionParams struct {
	Where    *UpdateDefinitionWhere `json:"where" validate:"required"`
	Fields   *UpdateDefinitionField `json:"field" validate:"required"`
	LimitMax int                    `json:"limit_max" validate:"required"`
}

type UpdateDefinitionWhere struct {
	IDIn   []int64 `json:"id_in"`
	CodeIn []string `json:"code_in"`
}

type UpdateDefinitionField struct {
	Name     *string `json:"name"`
	IsActive *bool   `json:"is_active"`
	Body     []byte  `json:"body"`
}

type QueryWorkflowStateParams struct {
	WorkflowStateID *int64  `json:"workflow_state_id"`
	EntityType      *string `json:"entity_type"`
	EntityID        *string `json:"entity_id"`
	DefinitionID    *int64  `json:"definition_id"`
	Page            *Pager  `json:"page"`
}

type UpdateWorkflowStateParams struct {
	Where    *UpdateWorkflowStateWhere `json:"where" validate:"required"`
	Fields   *UpdateWorkflowStateField `json:"field" validate:"required"`
	LimitMax int                       `json:"limit_max" validate:"required"`
}

type UpdateWorkflowStateWhere struct {
	IDIn []int64 `json:"id_in"`
	// 乐观写条件: 当前状态必须还停留在迁移的from上,被并发抢走则0行受影响
	CurrentStateIn []string `json:"current_state_in"`
}

type UpdateWorkflowStateField struct {
	CurrentState *string `json:"current_state"`
}

type QueryHistoryParams struct {
	WorkflowInstanceID *int64 `json:"workflow_instance_id"`
	OrderbyIDAsc       *bool  `json:"orderby_id_asc"`
	Page               *Pager `json:"page"`
}

type QueryApproverGroupParams struct {
	GroupID      *int64  `json:"group_id"`
	Name         *string `json:"name"`
	IsActive     *bool   `json:"is_active"`
	OrderbyIDAsc *bool   `json:"orderby_id_asc"`
	Page         *Pager  `json:"page"`
}

type UpdateApproverGroupParams struct {
	Where    *UpdateApproverGroupWhere `json:"where" validate:"required"`
	Fields   *UpdateApproverGroupField `json:"field" validate:"required"`
	LimitMax int                       `json:"limit_max" validate:"required"`
}

type UpdateApproverGroupWhere struct {
	IDIn []int64 `json:"id_in"`
}

type UpdateApproverGroupField struct {
	Name        *string `json:"name"`
	QuorumCount *int64  `json:"quorum_count"`
	MinWeight   *int64  `json:"min_weight"`
	IsActive    *bool   `json:"is_active"`
}

type QueryApproverGroupMemberParams struct {
	MemberID        *int64  `json:"member_id"`
	GroupID         *int64  `json:"group_id"`
	UserID          *string `json:"user_id"`
	OrderbySequence *bool   `json:"orderby_sequence"`
	Page            *Pager  `json:"page"`
}

type UpdateApproverGroupMemberParams struct {
	Where    *UpdateApproverGroupMemberWhere `json:"where" validate:"required"`
	Fields   *UpdateApproverGroupMemberField `json:"field" validate:"required"`
	LimitMax int                             `json:"limit_max" validate:"required"`
}

type UpdateApproverGroupMemberWhere struct {
	IDIn []int64 `json:"id_in"`
}

type UpdateApproverGroupMemberField struct {
	Sequence *int64 `json:"sequence"`
	Weight   *int64 `json:"weight"`
}

type QueryUserTaskParams struct {
	TaskID             *int64  `json:"task_id"`
	WorkflowInstanceID *int64  `json:"workflow_instance_id"`
	TransitionName     *string `json:"transition_name"`
	Assignee           *string `json:"assignee"`
	StatusIn           []string `json:"status_in"`
	// 只匹配有截止时间且已过期的任务
	DueBefore *int64 `json:"due_before"`
	// completed_at >= CompletedAfter,unix毫秒,统计今日完成数用
	CompletedAfter *int64 `json:"completed_after"`
	// 收件箱排序: 优先级降序,有截止时间的在前并按截止时间升序
	OrderbyInbox          *bool  `json:"orderby_inbox"`
	OrderbyCompletedDesc  *bool  `json:"orderby_completed_desc"`
	OrderbyIDAsc          *bool  `json:"orderby_id_asc"`
	Page                  *Pager `json:"page"`
}

type UpdateUserTaskParams struct {
	Where    *UpdateUserTaskWhere `json:"where" validate:"required"`
	Fields   *UpdateUserTaskField `json:"field" validate:"required"`
	LimitMax int                  `json:"limit_max" validate:"required"`
}

type UpdateUserTaskWhere struct {
	IDIn []int64 `json:"id_in"`
	// 状态机前置条件,终态任务靠这个条件天然拦截(0行受影响)
	StatusIn []string `json:"status_in"`
	WorkflowInstanceIDIn []int64 `json:"workflow_instance_id_in"`
}

type UpdateUserTaskField struct {
	Status      *string       `json:"status"`
	Assignee    *string       `json:"assignee"`
	AssignedBy  *string       `json:"assigned_by"`
	Priority    *TaskPriority `json:"priority"`
	DueDate     *int64        `json:"due_date"`
	Result      []byte        `json:"result"`
	CompletedBy *string       `json:"completed_by"`
	CompletedAt *int64        `json:"completed_at"`
}

type workflowRepo struct {
	db *gorm.DB
}

func NewWorkflowRepo(db *gorm.DB) WorkflowRepo {
	return &workflowRepo{
		db: db,
	}
}

// AutoMigrateTables 建表,测试和示例使用,生产环境可以用自己的迁移工具
func AutoMigrateTables(db *gorm.DB) error {
	return db.AutoMigrate(
		&WorkflowDefinitionPo{},
		&WorkflowStatePo{},
		&WorkflowHistoryPo{},
		&ApproverGroupPo{},
		&ApproverGroupMemberPo{},
		&UserTaskPo{},
	)
}

func (r *workflowRepo) CreateDefinition(ctx context.Context, definition *WorkflowDefinitionPo) (*WorkflowDefinitionPo, error) {
	if definition == nil {
		return nil, fmt.Errorf("nil WorkflowDefinitionPo")
	}
	definition.CreatedAt = time.Now().Unix()
	definition.UpdatedAt = time.Now().Unix()
	if err := r.GetDBWithContext(ctx).Create(definition).Error; err != nil {
		return nil, errors.WithMessage(err, "CreateDefinition failed")
	}
	return definition, nil
}

func buildQueryDefinitionParams(db *gorm.DB, isCount bool, param *QueryDefinitionParams) (*gorm.DB, error) {
	if param == nil {
		return nil, errors.New("nil QueryDefinitionParams")
	}
	if param.DefinitionID != nil {
		db = db.Where("id = ?", param.DefinitionID)
	}
	if param.Code != nil {
		db = db.Where("code = ?", param.Code)
	}
	if param.Version != nil {
		db = db.Where("version = ?", param.Version)
	}
	if param.IsActive != nil {
		db = db.Where("is_active = ?", param.IsActive)
	}
	if param.OrderbyIDAsc != nil && !isCount {
		if *param.OrderbyIDAsc {
			db = db.Order("id asc")
		} else {
			db = db.Order("id desc")
		}
	}
	if !isCount {
		return applyPager(db, param.Page)
	}
	return db, nil
}

func (r *workflowRepo) QueryDefinition(ctx context.Context, param *QueryDefinitionParams) ([]*WorkflowDefinitionPo, error) {
	db := r.GetDBWithContext(ctx).Model(&WorkflowDefinitionPo{})
	db, err := buildQueryDefinitionParams(db, false, param)
	if err != nil {
		return nil, errors.WithMessage(err, "buildQueryDefinitionParams failed")
	}
	pos := make([]*WorkflowDefinitionPo, 0)
	if err := db.Find(&pos).Error; err != nil {
		return nil, errors.WithMessage(err, "QueryDefinition failed")
	}
	return pos, nil
}

func (r *workflowRepo) CountDefinition(ctx context.Context, param *QueryDefinitionParams) (int64, error) {
	db := r.GetDBWithContext(ctx).Model(&WorkflowDefinitionPo{})
	db, err := buildQueryDefinitionParams(db, true, param)
	if err != nil {
		return 0, errors.WithMessage(err, "buildQueryDefinitionParams failed")
	}
	var count int64
	if err := db.Count(&count).Error; err != nil {
		return 0, errors.WithMessage(err, "CountDefinition failed")
	}
	return count, nil
}

func (r *workflowRepo) UpdateDefinition(ctx context.Context, param *UpdateDefinitionParams) (int64, error) {
	if param == nil || param.Where == nil || param.Fields == nil {
		return 0, errors.New("nil UpdateDefinitionParams")
	}
	db := r.GetDBWithContext(ctx).Model(&WorkflowDefinitionPo{})
	isHasWhere := false
	if len(param.Where.IDIn) > 0 {
		isHasWhere = true
		db = db.Where("id IN ?", param.Where.IDIn)
	}
	if len(param.Where.CodeIn) > 0 {
		isHasWhere = true
		db = db.Where("code IN ?", param.Where.CodeIn)
	}
	if !isHasWhere {
		return 0, errors.New("update definition need where condition, please check")
	}
	updateFields := make(map[string]any)
	if param.Fields.Name != nil {
		updateFields["name"] = *param.Fields.Name
	}
	if param.Fields.IsActive != nil {
		updateFields["is_active"] = *param.Fields.IsActive
	}
	if param.Fields.Body != nil {
		updateFields["body"] = param.Fields.Body
	}
	if len(updateFields) == 0 {
		return 0, errors.New("no fields to update")
	}
	updateFields["updated_at"] = time.Now().Unix()
	result := db.Limit(param.LimitMax).Updates(updateFields)
	if result.Error != nil {
		return 0, errors.WithMessage(result.Error, "UpdateDefinition failed")
	}
	return result.RowsAffected, nil
}

func (r *workflowRepo) DeleteDefinition(ctx context.Context, definitionID int64) error {
	if definitionID <= 0 {
		return errors.New("definitionID is invalid")
	}
	if err := r.GetDBWithContext(ctx).Delete(&WorkflowDefinitionPo{}, definitionID).Error; err != nil {
		return errors.WithMessage(err, "DeleteDefinition failed")
	}
	return nil
}

func (r *workflowRepo) CreateWorkflowState(ctx context.Context, state *WorkflowStatePo) (*WorkflowStatePo, error) {
	if state == nil {
		return nil, fmt.Errorf("nil WorkflowStatePo")
	}
	state.CreatedAt = time.Now().Unix()
	state.UpdatedAt = time.Now().Unix()
	if err := r.GetDBWithContext(ctx).Create(state).Error; err != nil {
		return nil, errors.WithMessage(err, "CreateWorkflowState failed")
	}
	return state, nil
}

func (r *workflowRepo) QueryWorkflowState(ctx context.Context, param *QueryWorkflowStateParams) ([]*WorkflowStatePo, error) {
	if param == nil {
		return nil, fmt.Errorf("nil QueryWorkflowStateParams")
	}
	db := r.GetDBWithContext(ctx).Model(&WorkflowStatePo{})
	if param.WorkflowStateID != nil {
		db = db.Where("id = ?", param.WorkflowStateID)
	}
	if param.EntityType != nil {
		db = db.Where("entity_type = ?", param.EntityType)
	}
	if param.EntityID != nil {
		db = db.Where("entity_id = ?", param.EntityID)
	}
	if param.DefinitionID != nil {
		db = db.Where("definition_id = ?", param.DefinitionID)
	}
	db, err := applyPager(db, param.Page)
	if err != nil {
		return nil, errors.WithMessage(err, "applyPager failed")
	}
	pos := make([]*WorkflowStatePo, 0)
	if err := db.Find(&pos).Error; err != nil {
		return nil, errors.WithMessage(err, "QueryWorkflowState failed")
	}
	return pos, nil
}

func (r *workflowRepo) UpdateWorkflowState(ctx context.Context, param *UpdateWorkflowStateParams) (int64, error) {
	if param == nil || param.Where == nil || param.Fields == nil {
		return 0, errors.New("nil UpdateWorkflowStateParams")
	}
	if len(param.Where.IDIn) == 0 {
		return 0, errors.New("update workflow state need where condition, please check")
	}
	db := r.GetDBWithContext(ctx).Model(&WorkflowStatePo{}).Where("id IN ?", param.Where.IDIn)
	if len(param.Where.CurrentStateIn) > 0 {
		db = db.Where("current_state IN ?", param.Where.CurrentStateIn)
	}
	updateFields := make(map[string]any)
	if param.Fields.CurrentState != nil {
		updateFields["current_state"] = *param.Fields.CurrentState
	}
	if len(updateFields) == 0 {
		return 0, errors.New("no fields to update")
	}
	updateFields["updated_at"] = time.Now().Unix()
	result := db.Limit(param.LimitMax).Updates(updateFields)
	if result.Error != nil {
		return 0, errors.WithMessage(result.Error, "UpdateWorkflowState failed")
	}
	return result.RowsAffected, nil
}

func (r *workflowRepo) CreateHistory(ctx context.Context, entry *WorkflowHistoryPo) (*WorkflowHistoryPo, error) {
	if entry == nil {
		return nil, fmt.Errorf("nil WorkflowHistoryPo")
	}
	entry.CreatedAt = time.Now().Unix()
	if err := r.GetDBWithContext(ctx).Create(entry).Error; err != nil {
		return nil, errors.WithMessage(err, "CreateHistory failed")
	}
	return entry, nil
}

func buildQueryHistoryParams(db *gorm.DB, isCount bool, param *QueryHistoryParams) (*gorm.DB, error) {
	if param == nil {
		return nil, errors.New("nil QueryHistoryParams")
	}
	if param.WorkflowInstanceID != nil {
		db = db.Where("workflow_instance_id = ?", param.WorkflowInstanceID)
	}
	if param.OrderbyIDAsc != nil && !isCount {
		if *param.OrderbyIDAsc {
			db = db.Order("id asc")
		} else {
			db = db.Order("id desc")
		}
	}
	if !isCount {
		return applyPager(db, param.Page)
	}
	return db, nil
}

func (r *workflowRepo) QueryHistory(ctx context.Context, param *QueryHistoryParams) ([]*WorkflowHistoryPo, error) {
	db := r.GetDBWithContext(ctx).Model(&WorkflowHistoryPo{})
	db, err := buildQueryHistoryParams(db, false, param)
	if err != nil {
		return nil, errors.WithMessage(err, "buildQueryHistoryParams failed")
	}
	pos := make([]*WorkflowHistoryPo, 0)
	if err := db.Find(&pos).Error; err != nil {
		return nil, errors.WithMessage(err, "QueryHistory failed")
	}
	return pos, nil
}

func (r *workflowRepo) CountHistory(ctx context.Context, param *QueryHistoryParams) (int64, error) {
	db := r.GetDBWithContext(ctx).Model(&WorkflowHistoryPo{})
	db, err := buildQueryHistoryParams(db, true, param)
	if err != nil {
		return 0, errors.WithMessage(err, "buildQueryHistoryParams failed")
	}
	var count int64
	if err := db.Count(&count).Error; err != nil {
		return 0, errors.WithMessage(err, "CountHistory failed")
	}
	return count, nil
}

func (r *workflowRepo) CreateApproverGroup(ctx context.Context, group *ApproverGroupPo) (*ApproverGroupPo, error) {
	if group == nil {
		return nil, fmt.Errorf("nil ApproverGroupPo")
	}
	group.CreatedAt = time.Now().Unix()
	group.UpdatedAt = time.Now().Unix()
	if err := r.GetDBWithContext(ctx).Create(group).Error; err != nil {
		return nil, errors.WithMessage(err, "CreateApproverGroup failed")
	}
	return group, nil
}

func (r *workflowRepo) QueryApproverGroup(ctx context.Context, param *QueryApproverGroupParams) ([]*ApproverGroupPo, error) {
	if param == nil {
		return nil, fmt.Errorf("nil QueryApproverGroupParams")
	}
	db := r.GetDBWithContext(ctx).Model(&ApproverGroupPo{})
	if param.GroupID != nil {
		db = db.Where("id = ?", param.GroupID)
	}
	if param.Name != nil {
		db = db.Where("name = ?", param.Name)
	}
	if param.IsActive != nil {
		db = db.Where("is_active = ?", param.IsActive)
	}
	if param.OrderbyIDAsc != nil {
		if *param.OrderbyIDAsc {
			db = db.Order("id asc")
		} else {
			db = db.Order("id desc")
		}
	}
	db, err := applyPager(db, param.Page)
	if err != nil {
		return nil, errors.WithMessage(err, "applyPager failed")
	}
	pos := make([]*ApproverGroupPo, 0)
	if err := db.Find(&pos).Error; err != nil {
		return nil, errors.WithMessage(err, "QueryApproverGroup failed")
	}
	return pos, nil
}

func (r *workflowRepo) UpdateApproverGroup(ctx context.Context, param *UpdateApproverGroupParams) (int64, error) {
	if param == nil || param.Where == nil || param.Fields == nil {
		return 0, errors.New("nil UpdateApproverGroupParams")
	}
	if len(param.Where.IDIn) == 0 {
		return 0, errors.New("update approver group need where condition, please check")
	}
	db := r.GetDBWithContext(ctx).Model(&ApproverGroupPo{}).Where("id IN ?", param.Where.IDIn)
	updateFields := make(map[string]any)
	if param.Fields.Name != nil {
		updateFields["name"] = *param.Fields.Name
	}
	if param.Fields.QuorumCount != nil {
		updateFields["quorum_count"] = *param.Fields.QuorumCount
	}
	if param.Fields.MinWeight != nil {
		updateFields["min_weight"] = *param.Fields.MinWeight
	}
	if param.Fields.IsActive != nil {
		updateFields["is_active"] = *param.Fields.IsActive
	}
	if len(updateFields) == 0 {
		return 0, errors.New("no fields to update")
	}
	updateFields["updated_at"] = time.Now().Unix()
	result := db.Limit(param.LimitMax).Updates(updateFields)
	if result.Error != nil {
		return 0, errors.WithMessage(result.Error, "UpdateApproverGroup failed")
	}
	return result.RowsAffected, nil
}

func (r *workflowRepo) DeleteApproverGroup(ctx context.Context, groupID int64) error {
	if groupID <= 0 {
		return errors.New("groupID is invalid")
	}
	if err := r.GetDBWithContext(ctx).Delete(&ApproverGroupPo{}, groupID).Error; err != nil {
		return errors.WithMessage(err, "DeleteApproverGroup failed")
	}
	return nil
}

func (r *workflowRepo) CreateApproverGroupMember(ctx context.Context, member *ApproverGroupMemberPo) (*ApproverGroupMemberPo, error) {
	if member == nil {
		return nil, fmt.Errorf("nil ApproverGroupMemberPo")
	}
	member.CreatedAt = time.Now().Unix()
	member.UpdatedAt = time.Now().Unix()
	if err := r.GetDBWithContext(ctx).Create(member).Error; err != nil {
		return nil, errors.WithMessage(err, "CreateApproverGroupMember failed")
	}
	return member, nil
}

func (r *workflowRepo) QueryApproverGroupMember(ctx context.Context, param *QueryApproverGroupMemberParams) ([]*ApproverGroupMemberPo, error) {
	if param == nil {
		return nil, fmt.Errorf("nil QueryApproverGroupMemberParams")
	}
	db := r.GetDBWithContext(ctx).Model(&ApproverGroupMemberPo{})
	if param.MemberID != nil {
		db = db.Where("id = ?", param.MemberID)
	}
	if param.GroupID != nil {
		db = db.Where("group_id = ?", param.GroupID)
	}
	if param.UserID != nil {
		db = db.Where("user_id = ?", param.UserID)
	}
	if param.OrderbySequence != nil && *param.OrderbySequence {
		db = db.Order("sequence asc")
	} else {
		db = db.Order("id asc")
	}
	db, err := applyPager(db, param.Page)
	if err != nil {
		return nil, errors.WithMessage(err, "applyPager failed")
	}
	pos := make([]*ApproverGroupMemberPo, 0)
	if err := db.Find(&pos).Error; err != nil {
		return nil, errors.WithMessage(err, "QueryApproverGroupMember failed")
	}
	return pos, nil
}

func (r *workflowRepo) UpdateApproverGroupMember(ctx context.Context, param *UpdateApproverGroupMemberParams) (int64, error) {
	if param == nil || param.Where == nil || param.Fields == nil {
		return 0, errors.New("nil UpdateApproverGroupMemberParams")
	}
	if len(param.Where.IDIn) == 0 {
		return 0, errors.New("update approver group member need where condition, please check")
	}
	db := r.GetDBWithContext(ctx).Model(&ApproverGroupMemberPo{}).Where("id IN ?", param.Where.IDIn)
	updateFields := make(map[string]any)
	if param.Fields.Sequence != nil {
		updateFields["sequence"] = *param.Fields.Sequence
	}
	if param.Fields.Weight != nil {
		updateFields["weight"] = *param.Fields.Weight
	}
	if len(updateFields) == 0 {
		return 0, errors.New("no fields to update")
	}
	updateFields["updated_at"] = time.Now().Unix()
	result := db.Limit(param.LimitMax).Updates(updateFields)
	if result.Error != nil {
		return 0, errors.WithMessage(result.Error, "UpdateApproverGroupMember failed")
	}
	return result.RowsAffected, nil
}

func (r *workflowRepo) DeleteApproverGroupMember(ctx context.Context, memberID int64) error {
	if memberID <= 0 {
		return errors.New("memberID is invalid")
	}
	if err := r.GetDBWithContext(ctx).Delete(&ApproverGroupMemberPo{}, memberID).Error; err != nil {
		return errors.WithMessage(err, "DeleteApproverGroupMember failed")
	}
	return nil
}

func (r *workflowRepo) DeleteApproverGroupMembersByGroup(ctx context.Context, groupID int64) error {
	if groupID <= 0 {
		return errors.New("groupID is invalid")
	}
	if err := r.GetDBWithContext(ctx).Where("group_id = ?", groupID).Delete(&ApproverGroupMemberPo{}).Error; err != nil {
		return errors.WithMessage(err, "DeleteApproverGroupMembersByGroup failed")
	}
	return nil
}

func (r *workflowRepo) CreateUserTask(ctx context.Context, task *UserTaskPo) (*UserTaskPo, error) {
	if task == nil {
		return nil, fmt.Errorf("nil UserTaskPo")
	}
	task.CreatedAt = time.Now().Unix()
	task.UpdatedAt = time.Now().Unix()
	if err := r.GetDBWithContext(ctx).Create(task).Error; err != nil {
		return nil, errors.WithMessage(err, "CreateUserTask failed")
	}
	return task, nil
}

func buildQueryUserTaskParams(db *gorm.DB, isCount bool, param *QueryUserTaskParams) (*gorm.DB, error) {
	if param == nil {
		return nil, errors.New("nil QueryUserTaskParams")
	}
	if param.TaskID != nil {
		db = db.Where("id = ?", param.TaskID)
	}
	if param.WorkflowInstanceID != nil {
		db = db.Where("workflow_instance_id = ?", param.WorkflowInstanceID)
	}
	if param.TransitionName != nil {
		db = db.Where("transition_name = ?", param.TransitionName)
	}
	if param.Assignee != nil {
		db = db.Where("assignee = ?", param.Assignee)
	}
	if len(param.StatusIn) != 0 {
		db = db.Where("status IN ?", param.StatusIn)
	}
	if param.DueBefore != nil {
		db = db.Where("due_date > 0 AND due_date < ?", param.DueBefore)
	}
	if param.CompletedAfter != nil {
		db = db.Where("completed_at >= ?", param.CompletedAfter)
	}
	if !isCount {
		if param.OrderbyInbox != nil && *param.OrderbyInbox {
			// 最紧急最先到期的排最前面,没有截止时间的排最后
			db = db.Order("priority desc").
				Order("CASE WHEN due_date = 0 THEN 1 ELSE 0 END asc").
				Order("due_date asc").
				Order("id asc")
		} else if param.OrderbyCompletedDesc != nil && *param.OrderbyCompletedDesc {
			db = db.Order("completed_at desc")
		} else if param.OrderbyIDAsc != nil {
			if *param.OrderbyIDAsc {
				db = db.Order("id asc")
			} else {
				db = db.Order("id desc")
			}
		}
		return applyPager(db, param.Page)
	}
	return db, nil
}

func (r *workflowRepo) QueryUserTask(ctx context.Context, param *QueryUserTaskParams) ([]*UserTaskPo, error) {
	db := r.GetDBWithContext(ctx).Model(&UserTaskPo{})
	db, err := buildQueryUserTaskParams(db, false, param)
	if err != nil {
		return nil, errors.WithMessage(err, "buildQueryUserTaskParams failed")
	}
	pos := make([]*UserTaskPo, 0)
	if err := db.Find(&pos).Error; err != nil {
		return nil, errors.WithMessage(err, "QueryUserTask failed")
	}
	return pos, nil
}

func (r *workflowRepo) CountUserTask(ctx context.Context, param *QueryUserTaskParams) (int64, error) {
	db := r.GetDBWithContext(ctx).Model(&UserTaskPo{})
	db, err := buildQueryUserTaskParams(db, true, param)
	if err != nil {
		return 0, errors.WithMessage(err, "buildQueryUserTaskParams failed")
	}
	var count int64
	if err := db.Count(&count).Error; err != nil {
		return 0, errors.WithMessage(err, "CountUserTask failed")
	}
	return count, nil
}

func (r *workflowRepo) UpdateUserTask(ctx context.Context, param *UpdateUserTaskParams) (int64, error) {
	if param == nil || param.Where == nil || param.Fields == nil {
		return 0, errors.New("nil UpdateUserTaskParams")
	}
	db := r.GetDBWithContext(ctx).Model(&UserTaskPo{})
	isHasWhere := false
	if len(param.Where.IDIn) > 0 {
		isHasWhere = true
		db = db.Where("id IN ?", param.Where.IDIn)
	}
	if len(param.Where.WorkflowInstanceIDIn) > 0 {
		isHasWhere = true
		db = db.Where("workflow_instance_id IN ?", param.Where.WorkflowInstanceIDIn)
	}
	if !isHasWhere {
		return 0, errors.New("update user task need where condition, please check")
	}
	if len(param.Where.StatusIn) > 0 {
		db = db.Where("status IN ?", param.Where.StatusIn)
	}
	updateFields := make(map[string]any)
	if param.Fields.Status != nil {
		updateFields["status"] = *param.Fields.Status
	}
	if param.Fields.Assignee != nil {
		updateFields["assignee"] = *param.Fields.Assignee
	}
	if param.Fields.AssignedBy != nil {
		updateFields["assigned_by"] = *param.Fields.AssignedBy
	}
	if param.Fields.Priority != nil {
		updateFields["priority"] = *param.Fields.Priority
	}
	if param.Fields.DueDate != nil {
		updateFields["due_date"] = *param.Fields.DueDate
	}
	if param.Fields.Result != nil {
		updateFields["result"] = param.Fields.Result
	}
	if param.Fields.CompletedBy != nil {
		updateFields["completed_by"] = *param.Fields.CompletedBy
	}
	if param.Fields.CompletedAt != nil {
		updateFields["completed_at"] = *param.Fields.CompletedAt
	}
	if len(updateFields) == 0 {
		return 0, errors.New("no fields to update")
	}
	updateFields["updated_at"] = time.Now().Unix()
	result := db.Limit(param.LimitMax).Updates(updateFields)
	if result.Error != nil {
		return 0, errors.WithMessage(result.Error, "UpdateUserTask failed")
	}
	return result.RowsAffected, nil
}

type contextKey string

const (
	transactionContextKey contextKey = "transaction"
)

func (r *workflowRepo) GetDBWithContext(ctx context.Context) *gorm.DB {
	tx := ctx.Value(transactionContextKey)
	if tx == nil {
		// 没有事务，直接返回db即可
		return r.db.WithContext(ctx)
	}
	return tx.(*gorm.DB)
}

func (r *workflowRepo) Transaction(ctx context.Context, fn func(ctx context.Context) error) error {
	ctxTX := ctx.Value(transactionContextKey)
	var err error
	if ctxTX == nil {
		tx := r.db.Begin()
		defer func() {
			if err != nil {
				tx.Rollback()
			} else {
				tx.Commit()
			}
		}()
		newCtx := context.WithValue(ctx, transactionContextKey, tx)
		err = fn(newCtx)
		return err
	}
	return fn(ctx)
}
