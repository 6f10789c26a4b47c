package workflow

import (
	"context"

	"github.com/pkg/errors"
)

// HistoryEntry 迁移历史entity,append-only,一次成功的Apply恰好产生一条
type HistoryEntry struct {
	ID                 int64
	WorkflowInstanceID int64
	TransitionName     string
	FromState          string
	ToState            string
	// 迁移上下文里面operator字段的快照,没有的话是空串
	Operator string
	// 迁移上下文快照,system保留字段已剔除
	Metadata  *JSONContext
	CreatedAt int64
}

// HistoryService 历史账本读接口,写入只发生在引擎Apply的事务里面
type HistoryService interface {
	GetHistory(ctx context.Context, workflowInstanceID int64, page *Pager) ([]*HistoryEntry, error)
	CountHistory(ctx context.Context, workflowInstanceID int64) (int64, error)
	// GetLatestHistory 最近一条迁移记录,没有迁移过返回nil
	GetLatestHistory(ctx context.Context, workflowInstanceID int64) (*HistoryEntry, error)
}

type HistoryServiceImpl struct {
	repo WorkflowRepo
}

func NewHistoryService(repo WorkflowRepo) HistoryService {
	return &HistoryServiceImpl{repo: repo}
}

func historyFromPo(po *WorkflowHistoryPo) *HistoryEntry {
	return &HistoryEntry{
		ID:                 po.ID,
		WorkflowInstanceID: po.WorkflowInstanceID,
		TransitionName:     po.TransitionName,
		FromState:          po.FromState,
		ToState:            po.ToState,
		Operator:           po.Operator,
		Metadata:           NewJSONContext(po.Metadata),
		CreatedAt:          po.CreatedAt,
	}
}

// GetHistory 按发生顺序(id升序)返回迁移历史
func (s *HistoryServiceImpl) GetHistory(ctx context.Context, workflowInstanceID int64, page *Pager) ([]*HistoryEntry, error) {
	if workflowInstanceID <= 0 {
		return nil, errors.Wrapf(ErrParamInvalid, "workflowInstanceID: %d", workflowInstanceID)
	}
	if page == nil {
		page = &Pager{IsNoLimit: Bool(true)}
	}
	pos, err := s.repo.QueryHistory(ctx, &QueryHistoryParams{
		WorkflowInstanceID: &workflowInstanceID,
		OrderbyIDAsc:       Bool(true),
		Page:               page,
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "QueryHistory failed, workflowInstanceID: %d", workflowInstanceID)
	}
	entries := make([]*HistoryEntry, 0, len(pos))
	for _, po := range pos {
		entries = append(entries, historyFromPo(po))
	}
	return entries, nil
}

func (s *HistoryServiceImpl) CountHistory(ctx context.Context, workflowInstanceID int64) (int64, error) {
	if workflowInstanceID <= 0 {
		return 0, errors.Wrapf(ErrParamInvalid, "workflowInstanceID: %d", workflowInstanceID)
	}
	return s.repo.CountHistory(ctx, &QueryHistoryParams{WorkflowInstanceID: &workflowInstanceID})
}

func (s *HistoryServiceImpl) GetLatestHistory(ctx context.Context, workflowInstanceID int64) (*HistoryEntry, error) {
	if workflowInstanceID <= 0 {
		return nil, errors.Wrapf(ErrParamInvalid, "workflowInstanceID: %d", workflowInstanceID)
	}
	pos, err := s.repo.QueryHistory(ctx, &QueryHistoryParams{
		WorkflowInstanceID: &workflowInstanceID,
		OrderbyIDAsc:       Bool(false),
		Page:               &Pager{Page: 1, Size: 1},
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "QueryHistory failed, workflowInstanceID: %d", workflowInstanceID)
	}
	if len(pos) == 0 {
		return nil, nil
	}
	return historyFromPo(pos[0]), nil
}
