package workflow

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
)

// DefinitionService 工作流定义存储
// 版本规则: 同一个code多版本,激活是事务性交换,任何时刻一个code最多一个激活版本
// 激活中的定义不可变,修改和删除只对草稿(未激活)版本开放
type DefinitionService interface {
	CreateDefinition(ctx context.Context, spec *DefinitionSpec) (*WorkflowDefinition, error)
	CreateDefinitionVersion(ctx context.Context, code string, spec *DefinitionSpec) (*WorkflowDefinition, error)
	ActivateDefinition(ctx context.Context, definitionID int64) error
	DeactivateDefinition(ctx context.Context, definitionID int64) error
	GetActiveDefinition(ctx context.Context, code string) (*WorkflowDefinition, error)
	GetDefinition(ctx context.Context, definitionID int64) (*WorkflowDefinition, error)
	ListDefinitions(ctx context.Context, param *QueryDefinitionParams) ([]*WorkflowDefinition, error)
	CountDefinitions(ctx context.Context, param *QueryDefinitionParams) (int64, error)
	UpdateDefinition(ctx context.Context, definitionID int64, spec *DefinitionSpec) (*WorkflowDefinition, error)
	DeleteDefinition(ctx context.Context, definitionID int64) error
	CloneDefinition(ctx context.Context, code string, newCode string) (*WorkflowDefinition, error)
	ExportDefinitionJSON(ctx context.Context, definitionID int64) ([]byte, error)
	ImportDefinitionJSON(ctx context.Context, data []byte) (*WorkflowDefinition, error)
}

type DefinitionServiceImpl struct {
	repo  WorkflowRepo
	cache DefinitionCache
}

func NewDefinitionService(repo WorkflowRepo, cache DefinitionCache) DefinitionService {
	if cache == nil {
		cache = NewNoopDefinitionCache()
	}
	return &DefinitionServiceImpl{repo: repo, cache: cache}
}

func definitionFromPo(po *WorkflowDefinitionPo) (*WorkflowDefinition, error) {
	if po == nil {
		return nil, errors.New("nil WorkflowDefinitionPo")
	}
	body := &DefinitionBody{}
	if err := json.Unmarshal(po.Body, body); err != nil {
		return nil, errors.Wrapf(ErrDefinitionInvalid, "unmarshal definition body failed, definitionID: %d, err: %v", po.ID, err)
	}
	return &WorkflowDefinition{
		ID:           po.ID,
		Code:         po.Code,
		Name:         po.Name,
		Version:      po.Version,
		IsActive:     po.IsActive,
		Body:         body,
		InitialState: initialStateOf(body),
		CreatedAt:    po.CreatedAt,
		UpdatedAt:    po.UpdatedAt,
	}, nil
}

func (s *DefinitionServiceImpl) createWithVersion(ctx context.Context, spec *DefinitionSpec, version int64, isActive bool) (*WorkflowDefinition, error) {
	bodyBytes, err := json.Marshal(spec.Body)
	if err != nil {
		return nil, errors.WithMessage(err, "marshal definition body failed")
	}
	po, err := s.repo.CreateDefinition(ctx, &WorkflowDefinitionPo{
		Code:     spec.Code,
		Name:     spec.Name,
		Version:  version,
		IsActive: isActive,
		Body:     bodyBytes,
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "CreateDefinition failed, code: %s", spec.Code)
	}
	return definitionFromPo(po)
}

// CreateDefinition 创建第一个版本,新建的定义默认是草稿,需要显式激活
func (s *DefinitionServiceImpl) CreateDefinition(ctx context.Context, spec *DefinitionSpec) (*WorkflowDefinition, error) {
	if err := ValidateDefinitionSpec(spec); err != nil {
		return nil, err
	}
	var created *WorkflowDefinition
	err := s.repo.Transaction(ctx, func(ctx context.Context) error {
		count, err := s.repo.CountDefinition(ctx, &QueryDefinitionParams{Code: &spec.Code})
		if err != nil {
			return errors.WithMessagef(err, "CountDefinition failed, code: %s", spec.Code)
		}
		if count > 0 {
			return errors.Wrapf(ErrDefinitionVersionExists, "code: %s already exists, use CreateDefinitionVersion", spec.Code)
		}
		created, err = s.createWithVersion(ctx, spec, 1, false)
		return err
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// CreateDefinitionVersion 在已有code上追加新版本,版本号取当前最大版本+1
// 激活版本不可变,修订永远走新版本,这里是唯一的修订入口
func (s *DefinitionServiceImpl) CreateDefinitionVersion(ctx context.Context, code string, spec *DefinitionSpec) (*WorkflowDefinition, error) {
	if spec != nil && spec.Code == "" {
		spec.Code = code
	}
	if err := ValidateDefinitionSpec(spec); err != nil {
		return nil, err
	}
	if spec.Code != code {
		return nil, errors.Wrapf(ErrParamInvalid, "spec code %q does not match %q", spec.Code, code)
	}
	var created *WorkflowDefinition
	err := s.repo.Transaction(ctx, func(ctx context.Context) error {
		latest, err := s.repo.QueryDefinition(ctx, &QueryDefinitionParams{
			Code:         &code,
			OrderbyIDAsc: Bool(false),
			Page:         &Pager{Page: 1, Size: 1},
		})
		if err != nil {
			return errors.WithMessagef(err, "QueryDefinition failed, code: %s", code)
		}
		if len(latest) == 0 {
			return errors.Wrapf(ErrDefinitionNotFound, "code: %s", code)
		}
		created, err = s.createWithVersion(ctx, spec, latest[0].Version+1, false)
		return err
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// ActivateDefinition 激活指定版本,同code的其他版本在同一个事务里面被取消激活
// 这是一个事务性交换,不是两次独立写入
func (s *DefinitionServiceImpl) ActivateDefinition(ctx context.Context, definitionID int64) error {
	if definitionID <= 0 {
		return errors.Wrapf(ErrParamInvalid, "definitionID: %d", definitionID)
	}
	var code string
	err := s.repo.Transaction(ctx, func(ctx context.Context) error {
		pos, err := s.repo.QueryDefinition(ctx, &QueryDefinitionParams{
			DefinitionID: &definitionID,
			Page:         &Pager{Page: 1, Size: 1},
		})
		if err != nil {
			return errors.WithMessagef(err, "QueryDefinition failed, definitionID: %d", definitionID)
		}
		if len(pos) == 0 {
			return errors.Wrapf(ErrDefinitionNotFound, "definitionID: %d", definitionID)
		}
		code = pos[0].Code
		// 先整code下线,再激活目标版本
		if _, err := s.repo.UpdateDefinition(ctx, &UpdateDefinitionParams{
			Where:    &UpdateDefinitionWhere{CodeIn: []string{code}},
			Fields:   &UpdateDefinitionField{IsActive: Bool(false)},
			LimitMax: 1000,
		}); err != nil {
			return errors.WithMessagef(err, "deactivate siblings failed, code: %s", code)
		}
		if _, err := s.repo.UpdateDefinition(ctx, &UpdateDefinitionParams{
			Where:    &UpdateDefinitionWhere{IDIn: []int64{definitionID}},
			Fields:   &UpdateDefinitionField{IsActive: Bool(true)},
			LimitMax: 1,
		}); err != nil {
			return errors.WithMessagef(err, "activate failed, definitionID: %d", definitionID)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.cache.ClearCache(code)
	return nil
}

func (s *DefinitionServiceImpl) DeactivateDefinition(ctx context.Context, definitionID int64) error {
	if definitionID <= 0 {
		return errors.Wrapf(ErrParamInvalid, "definitionID: %d", definitionID)
	}
	po, err := s.getDefinitionPo(ctx, definitionID)
	if err != nil {
		return err
	}
	if _, err := s.repo.UpdateDefinition(ctx, &UpdateDefinitionParams{
		Where:    &UpdateDefinitionWhere{IDIn: []int64{definitionID}},
		Fields:   &UpdateDefinitionField{IsActive: Bool(false)},
		LimitMax: 1,
	}); err != nil {
		return errors.WithMessagef(err, "DeactivateDefinition failed, definitionID: %d", definitionID)
	}
	s.cache.ClearCache(po.Code)
	return nil
}

// GetActiveDefinition 获取某个code当前激活的版本,读路径带缓存
func (s *DefinitionServiceImpl) GetActiveDefinition(ctx context.Context, code string) (*WorkflowDefinition, error) {
	if code == "" {
		return nil, errors.Wrap(ErrParamInvalid, "code is empty")
	}
	if cached, ok := s.cache.Get(code); ok {
		return cached, nil
	}
	pos, err := s.repo.QueryDefinition(ctx, &QueryDefinitionParams{
		Code:     &code,
		IsActive: Bool(true),
		Page:     &Pager{Page: 1, Size: 1},
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "QueryDefinition failed, code: %s", code)
	}
	if len(pos) == 0 {
		return nil, errors.Wrapf(ErrDefinitionNotFound, "no active definition, code: %s", code)
	}
	definition, err := definitionFromPo(pos[0])
	if err != nil {
		return nil, err
	}
	s.cache.Set(code, definition)
	return definition, nil
}

func (s *DefinitionServiceImpl) getDefinitionPo(ctx context.Context, definitionID int64) (*WorkflowDefinitionPo, error) {
	pos, err := s.repo.QueryDefinition(ctx, &QueryDefinitionParams{
		DefinitionID: &definitionID,
		Page:         &Pager{Page: 1, Size: 1},
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "QueryDefinition failed, definitionID: %d", definitionID)
	}
	if len(pos) == 0 {
		return nil, errors.Wrapf(ErrDefinitionNotFound, "definitionID: %d", definitionID)
	}
	return pos[0], nil
}

func (s *DefinitionServiceImpl) GetDefinition(ctx context.Context, definitionID int64) (*WorkflowDefinition, error) {
	po, err := s.getDefinitionPo(ctx, definitionID)
	if err != nil {
		return nil, err
	}
	return definitionFromPo(po)
}

func (s *DefinitionServiceImpl) ListDefinitions(ctx context.Context, param *QueryDefinitionParams) ([]*WorkflowDefinition, error) {
	pos, err := s.repo.QueryDefinition(ctx, param)
	if err != nil {
		return nil, errors.WithMessage(err, "QueryDefinition failed")
	}
	definitions := make([]*WorkflowDefinition, 0, len(pos))
	for _, po := range pos {
		definition, err := definitionFromPo(po)
		if err != nil {
			return nil, err
		}
		definitions = append(definitions, definition)
	}
	return definitions, nil
}

func (s *DefinitionServiceImpl) CountDefinitions(ctx context.Context, param *QueryDefinitionParams) (int64, error) {
	return s.repo.CountDefinition(ctx, param)
}

// UpdateDefinition 只允许修改草稿,激活中的定义返回冲突错误
func (s *DefinitionServiceImpl) UpdateDefinition(ctx context.Context, definitionID int64, spec *DefinitionSpec) (*WorkflowDefinition, error) {
	if err := ValidateDefinitionSpec(spec); err != nil {
		return nil, err
	}
	var updated *WorkflowDefinition
	err := s.repo.Transaction(ctx, func(ctx context.Context) error {
		po, err := s.getDefinitionPo(ctx, definitionID)
		if err != nil {
			return err
		}
		if po.IsActive {
			return errors.Wrapf(ErrDefinitionActive, "definitionID: %d is active, create a new version instead", definitionID)
		}
		if spec.Code != po.Code {
			return errors.Wrapf(ErrParamInvalid, "spec code %q does not match %q", spec.Code, po.Code)
		}
		bodyBytes, err := json.Marshal(spec.Body)
		if err != nil {
			return errors.WithMessage(err, "marshal definition body failed")
		}
		if _, err := s.repo.UpdateDefinition(ctx, &UpdateDefinitionParams{
			Where:    &UpdateDefinitionWhere{IDIn: []int64{definitionID}},
			Fields:   &UpdateDefinitionField{Name: &spec.Name, Body: bodyBytes},
			LimitMax: 1,
		}); err != nil {
			return errors.WithMessagef(err, "UpdateDefinition failed, definitionID: %d", definitionID)
		}
		newPo, err := s.getDefinitionPo(ctx, definitionID)
		if err != nil {
			return err
		}
		updated, err = definitionFromPo(newPo)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.cache.ClearCache(updated.Code)
	return updated, nil
}

// DeleteDefinition 只允许删除草稿
func (s *DefinitionServiceImpl) DeleteDefinition(ctx context.Context, definitionID int64) error {
	var code string
	err := s.repo.Transaction(ctx, func(ctx context.Context) error {
		po, err := s.getDefinitionPo(ctx, definitionID)
		if err != nil {
			return err
		}
		if po.IsActive {
			return errors.Wrapf(ErrDefinitionActive, "definitionID: %d is active, deactivate first", definitionID)
		}
		code = po.Code
		return s.repo.DeleteDefinition(ctx, definitionID)
	})
	if err != nil {
		return err
	}
	s.cache.ClearCache(code)
	return nil
}

// CloneDefinition 将code的最新版本克隆成newCode的版本1草稿
func (s *DefinitionServiceImpl) CloneDefinition(ctx context.Context, code string, newCode string) (*WorkflowDefinition, error) {
	if !definitionCodePattern.MatchString(newCode) {
		return nil, errors.Wrapf(ErrDefinitionInvalid, "field code: %q must match %s", newCode, definitionCodePattern.String())
	}
	var cloned *WorkflowDefinition
	err := s.repo.Transaction(ctx, func(ctx context.Context) error {
		pos, err := s.repo.QueryDefinition(ctx, &QueryDefinitionParams{
			Code:         &code,
			OrderbyIDAsc: Bool(false),
			Page:         &Pager{Page: 1, Size: 1},
		})
		if err != nil {
			return errors.WithMessagef(err, "QueryDefinition failed, code: %s", code)
		}
		if len(pos) == 0 {
			return errors.Wrapf(ErrDefinitionNotFound, "code: %s", code)
		}
		count, err := s.repo.CountDefinition(ctx, &QueryDefinitionParams{Code: &newCode})
		if err != nil {
			return errors.WithMessagef(err, "CountDefinition failed, code: %s", newCode)
		}
		if count > 0 {
			return errors.Wrapf(ErrDefinitionVersionExists, "code: %s already exists", newCode)
		}
		created, err := s.repo.CreateDefinition(ctx, &WorkflowDefinitionPo{
			Code:     newCode,
			Name:     pos[0].Name,
			Version:  1,
			IsActive: false,
			Body:     pos[0].Body,
		})
		if err != nil {
			return errors.WithMessagef(err, "CreateDefinition failed, code: %s", newCode)
		}
		cloned, err = definitionFromPo(created)
		return err
	})
	if err != nil {
		return nil, err
	}
	return cloned, nil
}

func (s *DefinitionServiceImpl) ExportDefinitionJSON(ctx context.Context, definitionID int64) ([]byte, error) {
	definition, err := s.GetDefinition(ctx, definitionID)
	if err != nil {
		return nil, err
	}
	return definition.ToJSON()
}

// ImportDefinitionJSON 从边界JSON导入,version字段被忽略,按已有版本顺延
// is_active为true的导入会在同一个事务语义下完成激活交换
func (s *DefinitionServiceImpl) ImportDefinitionJSON(ctx context.Context, data []byte) (*WorkflowDefinition, error) {
	parsed, err := ParseDefinitionJSON(data)
	if err != nil {
		return nil, err
	}
	spec := &DefinitionSpec{
		Code: parsed.Code,
		Name: parsed.Name,
		Body: parsed.Definition,
	}
	var imported *WorkflowDefinition
	err = s.repo.Transaction(ctx, func(ctx context.Context) error {
		count, err := s.repo.CountDefinition(ctx, &QueryDefinitionParams{Code: &spec.Code})
		if err != nil {
			return errors.WithMessagef(err, "CountDefinition failed, code: %s", spec.Code)
		}
		if count == 0 {
			imported, err = s.createWithVersion(ctx, spec, 1, false)
		} else {
			imported, err = s.CreateDefinitionVersion(ctx, spec.Code, spec)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	if parsed.IsActive {
		if err := s.ActivateDefinition(ctx, imported.ID); err != nil {
			return nil, err
		}
		imported.IsActive = true
	}
	return imported, nil
}
