package workflow

import (
	"context"

	"github.com/pkg/errors"
)

// ApproverGroup 审批组entity,策略配置直接挂在组上
type ApproverGroup struct {
	ID        int64
	Name      string
	Strategy  StrategyTag
	Config    StrategyConfig
	IsActive  bool
	CreatedAt int64
	UpdatedAt int64
}

// ApproverGroupMember 审批组成员entity
// Sequence只有sequential策略使用,Weight只有weighted策略使用,其他策略忽略这两个字段
type ApproverGroupMember struct {
	ID        int64
	GroupID   int64
	UserID    string
	Sequence  int64
	Weight    int64
	CreatedAt int64
}

// MemberOption 添加成员的附加参数,sequential必须给Sequence,weighted必须给Weight
type MemberOption struct {
	Sequence *int64
	Weight   *int64
}

// CreateGroupSpec 创建审批组的请求
type CreateGroupSpec struct {
	Name     string      `json:"name" validate:"required"`
	Strategy StrategyTag `json:"strategy" validate:"required"`
	// quorum策略必填
	QuorumCount int64 `json:"quorum_count"`
	// weighted策略必填
	MinWeight int64 `json:"min_weight"`
}

// GroupService 审批组管理
type GroupService interface {
	CreateGroup(ctx context.Context, spec *CreateGroupSpec) (*ApproverGroup, error)
	GetGroup(ctx context.Context, groupID int64) (*ApproverGroup, error)
	GetGroupByName(ctx context.Context, name string) (*ApproverGroup, error)
	ListGroups(ctx context.Context, param *QueryApproverGroupParams) ([]*ApproverGroup, error)
	UpdateGroup(ctx context.Context, groupID int64, field *UpdateApproverGroupField) error
	// DeleteGroup 删除组并级联删除全部成员
	DeleteGroup(ctx context.Context, groupID int64) error
	CloneGroup(ctx context.Context, groupID int64, newName string) (*ApproverGroup, error)

	AddMember(ctx context.Context, groupID int64, userID string, option *MemberOption) (*ApproverGroupMember, error)
	RemoveMember(ctx context.Context, groupID int64, userID string) error
	UpdateMember(ctx context.Context, groupID int64, userID string, option *MemberOption) error
	// GetMembers sequential策略按sequence升序返回,其他策略按加入顺序返回
	GetMembers(ctx context.Context, groupID int64) ([]*ApproverGroupMember, error)
}

type GroupServiceImpl struct {
	repo WorkflowRepo
}

func NewGroupService(repo WorkflowRepo) GroupService {
	return &GroupServiceImpl{repo: repo}
}

// strategyConfigOf 从组记录恢复策略配置
func strategyConfigOf(po *ApproverGroupPo) StrategyConfig {
	switch po.Strategy {
	case StrategyQuorum:
		return &QuorumConfig{Count: po.QuorumCount}
	case StrategyWeighted:
		return &WeightedConfig{MinWeight: po.MinWeight}
	case StrategySequential:
		return &SequentialConfig{}
	}
	return &NoConfig{Tag: po.Strategy}
}

func groupFromPo(po *ApproverGroupPo) *ApproverGroup {
	return &ApproverGroup{
		ID:        po.ID,
		Name:      po.Name,
		Strategy:  po.Strategy,
		Config:    strategyConfigOf(po),
		IsActive:  po.IsActive,
		CreatedAt: po.CreatedAt,
		UpdatedAt: po.UpdatedAt,
	}
}

func memberFromPo(po *ApproverGroupMemberPo) *ApproverGroupMember {
	return &ApproverGroupMember{
		ID:        po.ID,
		GroupID:   po.GroupID,
		UserID:    po.UserID,
		Sequence:  po.Sequence,
		Weight:    po.Weight,
		CreatedAt: po.CreatedAt,
	}
}

func (s *GroupServiceImpl) CreateGroup(ctx context.Context, spec *CreateGroupSpec) (*ApproverGroup, error) {
	if spec == nil {
		return nil, errors.Wrap(ErrParamInvalid, "create group spec is nil")
	}
	if err := validatorUtil.Struct(spec); err != nil {
		return nil, errors.Wrapf(ErrParamInvalid, "create group spec invalid: %v", err)
	}
	if !IsValidStrategyTag(spec.Strategy) {
		return nil, errors.Wrapf(ErrUnknownStrategy, "strategy tag: %s", spec.Strategy)
	}
	po := &ApproverGroupPo{
		Name:        spec.Name,
		Strategy:    spec.Strategy,
		QuorumCount: spec.QuorumCount,
		MinWeight:   spec.MinWeight,
		IsActive:    true,
	}
	// 策略配置在创建入口一次性校验,求值路径不再校验
	if err := strategyConfigOf(po).Validate(); err != nil {
		return nil, err
	}
	created, err := s.repo.CreateApproverGroup(ctx, po)
	if err != nil {
		return nil, errors.WithMessagef(err, "CreateApproverGroup failed, name: %s", spec.Name)
	}
	return groupFromPo(created), nil
}

func (s *GroupServiceImpl) getGroupPo(ctx context.Context, groupID int64) (*ApproverGroupPo, error) {
	pos, err := s.repo.QueryApproverGroup(ctx, &QueryApproverGroupParams{
		GroupID: &groupID,
		Page:    &Pager{Page: 1, Size: 1},
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "QueryApproverGroup failed, groupID: %d", groupID)
	}
	if len(pos) == 0 {
		return nil, errors.Wrapf(ErrGroupNotFound, "groupID: %d", groupID)
	}
	return pos[0], nil
}

func (s *GroupServiceImpl) GetGroup(ctx context.Context, groupID int64) (*ApproverGroup, error) {
	po, err := s.getGroupPo(ctx, groupID)
	if err != nil {
		return nil, err
	}
	return groupFromPo(po), nil
}

func (s *GroupServiceImpl) GetGroupByName(ctx context.Context, name string) (*ApproverGroup, error) {
	pos, err := s.repo.QueryApproverGroup(ctx, &QueryApproverGroupParams{
		Name: &name,
		Page: &Pager{Page: 1, Size: 1},
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "QueryApproverGroup failed, name: %s", name)
	}
	if len(pos) == 0 {
		return nil, errors.Wrapf(ErrGroupNotFound, "name: %s", name)
	}
	return groupFromPo(pos[0]), nil
}

func (s *GroupServiceImpl) ListGroups(ctx context.Context, param *QueryApproverGroupParams) ([]*ApproverGroup, error) {
	pos, err := s.repo.QueryApproverGroup(ctx, param)
	if err != nil {
		return nil, errors.WithMessage(err, "QueryApproverGroup failed")
	}
	groups := make([]*ApproverGroup, 0, len(pos))
	for _, po := range pos {
		groups = append(groups, groupFromPo(po))
	}
	return groups, nil
}

func (s *GroupServiceImpl) UpdateGroup(ctx context.Context, groupID int64, field *UpdateApproverGroupField) error {
	if field == nil {
		return errors.Wrap(ErrParamInvalid, "update field is nil")
	}
	return s.repo.Transaction(ctx, func(ctx context.Context) error {
		po, err := s.getGroupPo(ctx, groupID)
		if err != nil {
			return err
		}
		// 改配置的话按改完之后的值重新校验
		if field.QuorumCount != nil {
			po.QuorumCount = *field.QuorumCount
		}
		if field.MinWeight != nil {
			po.MinWeight = *field.MinWeight
		}
		if err := strategyConfigOf(po).Validate(); err != nil {
			return err
		}
		if _, err := s.repo.UpdateApproverGroup(ctx, &UpdateApproverGroupParams{
			Where:    &UpdateApproverGroupWhere{IDIn: []int64{groupID}},
			Fields:   field,
			LimitMax: 1,
		}); err != nil {
			return errors.WithMessagef(err, "UpdateApproverGroup failed, groupID: %d", groupID)
		}
		return nil
	})
}

func (s *GroupServiceImpl) DeleteGroup(ctx context.Context, groupID int64) error {
	return s.repo.Transaction(ctx, func(ctx context.Context) error {
		if _, err := s.getGroupPo(ctx, groupID); err != nil {
			return err
		}
		if err := s.repo.DeleteApproverGroupMembersByGroup(ctx, groupID); err != nil {
			return errors.WithMessagef(err, "delete members failed, groupID: %d", groupID)
		}
		if err := s.repo.DeleteApproverGroup(ctx, groupID); err != nil {
			return errors.WithMessagef(err, "DeleteApproverGroup failed, groupID: %d", groupID)
		}
		return nil
	})
}

// CloneGroup 克隆组和全部成员,新组用新名字
func (s *GroupServiceImpl) CloneGroup(ctx context.Context, groupID int64, newName string) (*ApproverGroup, error) {
	if newName == "" {
		return nil, errors.Wrap(ErrParamInvalid, "new group name is empty")
	}
	var cloned *ApproverGroup
	err := s.repo.Transaction(ctx, func(ctx context.Context) error {
		po, err := s.getGroupPo(ctx, groupID)
		if err != nil {
			return err
		}
		createdPo, err := s.repo.CreateApproverGroup(ctx, &ApproverGroupPo{
			Name:        newName,
			Strategy:    po.Strategy,
			QuorumCount: po.QuorumCount,
			MinWeight:   po.MinWeight,
			IsActive:    po.IsActive,
		})
		if err != nil {
			return errors.WithMessagef(err, "CreateApproverGroup failed, name: %s", newName)
		}
		members, err := s.queryMemberPos(ctx, groupID)
		if err != nil {
			return err
		}
		for _, member := range members {
			if _, err := s.repo.CreateApproverGroupMember(ctx, &ApproverGroupMemberPo{
				GroupID:  createdPo.ID,
				UserID:   member.UserID,
				Sequence: member.Sequence,
				Weight:   member.Weight,
			}); err != nil {
				return errors.WithMessagef(err, "clone member failed, userID: %s", member.UserID)
			}
		}
		cloned = groupFromPo(createdPo)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return cloned, nil
}

// AddMember 添加成员,sequential策略必须带sequence,weighted策略必须带正weight
// 同一个组里面同一个用户只能出现一次
func (s *GroupServiceImpl) AddMember(ctx context.Context, groupID int64, userID string, option *MemberOption) (*ApproverGroupMember, error) {
	if userID == "" {
		return nil, errors.Wrap(ErrParamInvalid, "userID is empty")
	}
	if option == nil {
		option = &MemberOption{}
	}
	var added *ApproverGroupMember
	err := s.repo.Transaction(ctx, func(ctx context.Context) error {
		groupPo, err := s.getGroupPo(ctx, groupID)
		if err != nil {
			return err
		}
		memberPo := &ApproverGroupMemberPo{GroupID: groupID, UserID: userID}
		switch groupPo.Strategy {
		case StrategySequential:
			if option.Sequence == nil {
				return errors.Wrapf(ErrParamInvalid, "sequential group requires sequence, groupID: %d", groupID)
			}
			memberPo.Sequence = *option.Sequence
		case StrategyWeighted:
			if option.Weight == nil || *option.Weight <= 0 {
				return errors.Wrapf(ErrParamInvalid, "weighted group requires weight > 0, groupID: %d", groupID)
			}
			memberPo.Weight = *option.Weight
		default:
			if option.Sequence != nil {
				memberPo.Sequence = *option.Sequence
			}
			if option.Weight != nil {
				memberPo.Weight = *option.Weight
			}
		}
		existing, err := s.repo.QueryApproverGroupMember(ctx, &QueryApproverGroupMemberParams{
			GroupID: &groupID,
			UserID:  &userID,
			Page:    &Pager{Page: 1, Size: 1},
		})
		if err != nil {
			return errors.WithMessagef(err, "QueryApproverGroupMember failed, groupID: %d", groupID)
		}
		if len(existing) > 0 {
			return errors.Wrapf(ErrDuplicateMember, "groupID: %d, userID: %s", groupID, userID)
		}
		createdPo, err := s.repo.CreateApproverGroupMember(ctx, memberPo)
		if err != nil {
			return errors.WithMessagef(err, "CreateApproverGroupMember failed, groupID: %d, userID: %s", groupID, userID)
		}
		added = memberFromPo(createdPo)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return added, nil
}

func (s *GroupServiceImpl) findMemberPo(ctx context.Context, groupID int64, userID string) (*ApproverGroupMemberPo, error) {
	pos, err := s.repo.QueryApproverGroupMember(ctx, &QueryApproverGroupMemberParams{
		GroupID: &groupID,
		UserID:  &userID,
		Page:    &Pager{Page: 1, Size: 1},
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "QueryApproverGroupMember failed, groupID: %d", groupID)
	}
	if len(pos) == 0 {
		return nil, errors.Wrapf(ErrMemberNotFound, "groupID: %d, userID: %s", groupID, userID)
	}
	return pos[0], nil
}

func (s *GroupServiceImpl) RemoveMember(ctx context.Context, groupID int64, userID string) error {
	memberPo, err := s.findMemberPo(ctx, groupID, userID)
	if err != nil {
		return err
	}
	if err := s.repo.DeleteApproverGroupMember(ctx, memberPo.ID); err != nil {
		return errors.WithMessagef(err, "DeleteApproverGroupMember failed, memberID: %d", memberPo.ID)
	}
	return nil
}

func (s *GroupServiceImpl) UpdateMember(ctx context.Context, groupID int64, userID string, option *MemberOption) error {
	if option == nil || (option.Sequence == nil && option.Weight == nil) {
		return errors.Wrap(ErrParamInvalid, "member option is empty")
	}
	if option.Weight != nil && *option.Weight <= 0 {
		return errors.Wrap(ErrParamInvalid, "weight must be > 0")
	}
	memberPo, err := s.findMemberPo(ctx, groupID, userID)
	if err != nil {
		return err
	}
	if _, err := s.repo.UpdateApproverGroupMember(ctx, &UpdateApproverGroupMemberParams{
		Where:    &UpdateApproverGroupMemberWhere{IDIn: []int64{memberPo.ID}},
		Fields:   &UpdateApproverGroupMemberField{Sequence: option.Sequence, Weight: option.Weight},
		LimitMax: 1,
	}); err != nil {
		return errors.WithMessagef(err, "UpdateApproverGroupMember failed, memberID: %d", memberPo.ID)
	}
	return nil
}

func (s *GroupServiceImpl) queryMemberPos(ctx context.Context, groupID int64) ([]*ApproverGroupMemberPo, error) {
	groupPo, err := s.getGroupPo(ctx, groupID)
	if err != nil {
		return nil, err
	}
	orderbySequence := groupPo.Strategy == StrategySequential
	pos, err := s.repo.QueryApproverGroupMember(ctx, &QueryApproverGroupMemberParams{
		GroupID:         &groupID,
		OrderbySequence: &orderbySequence,
		Page:            &Pager{IsNoLimit: Bool(true)},
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "QueryApproverGroupMember failed, groupID: %d", groupID)
	}
	return pos, nil
}

func (s *GroupServiceImpl) GetMembers(ctx context.Context, groupID int64) ([]*ApproverGroupMember, error) {
	pos, err := s.queryMemberPos(ctx, groupID)
	if err != nil {
		return nil, err
	}
	members := make([]*ApproverGroupMember, 0, len(pos))
	for _, po := range pos {
		members = append(members, memberFromPo(po))
	}
	return members, nil
}
