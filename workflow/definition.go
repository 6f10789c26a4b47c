package workflow

import (
	"encoding/json"
	"regexp"

	"github.com/pkg/errors"
)

// WorkflowDefinition 工作流定义entity
// 定义一旦激活就是不可变的,修改需要创建新版本,同一个code同时最多只有一个激活版本
type WorkflowDefinition struct {
	ID       int64
	Code     string // 定义key,同一业务的多个版本共享一个code
	Name     string
	Version  int64
	IsActive bool
	Body     *DefinitionBody
	// 冗余字段,从Body.States里面type=initial的状态解析出来
	InitialState string
	CreatedAt    int64
	UpdatedAt    int64
}

// DefinitionBody 定义主体,对应导入导出JSON的definition字段
type DefinitionBody struct {
	States      []*StateDefinition      `json:"states"`
	Transitions []*TransitionDefinition `json:"transitions"`
}

// StateDefinition 状态定义
type StateDefinition struct {
	Name  string    `json:"name"`
	Label string    `json:"label"`
	Type  StateType `json:"type"` // initial|regular|final
}

// TransitionDefinition 迁移定义,归属于所在的工作流定义
// Guard/钩子/审批组都是按名字引用,具体实现通过Register*注册到进程里面
type TransitionDefinition struct {
	Name  string `json:"name"`
	From  string `json:"from"`
	To    string `json:"to"`
	Label string `json:"label"`
	// 守卫名字,空串表示无条件放行
	Guard string `json:"guard,omitempty"`
	// 审批组名字,非空表示这个迁移需要多人审批完成后才能Apply
	ApproverGroup string   `json:"approver_group,omitempty"`
	BeforeHooks   []string `json:"before_hooks,omitempty"`
	AfterHooks    []string `json:"after_hooks,omitempty"`
}

// DefinitionJSON 导入导出边界的JSON结构
type DefinitionJSON struct {
	Code       string          `json:"code"`
	Name       string          `json:"name"`
	Version    int64           `json:"version"`
	IsActive   bool            `json:"is_active"`
	Definition *DefinitionBody `json:"definition"`
}

// DefinitionSpec 创建定义的请求
type DefinitionSpec struct {
	Code string          `json:"code" validate:"required"`
	Name string          `json:"name" validate:"required"`
	Body *DefinitionBody `json:"body" validate:"required"`
}

// code只允许标识符安全字符,和数据库key、缓存key直接挂钩
var definitionCodePattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_-]*$`)

// ValidateDefinitionBody 定义结构校验,全部在落库之前完成
// 校验规则:
//  1. 状态名非空且不重复,状态type合法,有且仅有一个initial状态
//  2. 每个迁移的from/to都必须是已声明的状态
//  3. (name, from)在一个定义内唯一,迁移名本身可以复用
func ValidateDefinitionBody(body *DefinitionBody) error {
	if body == nil {
		return errors.Wrap(ErrDefinitionInvalid, "definition body is nil")
	}
	if len(body.States) == 0 {
		return errors.Wrap(ErrDefinitionInvalid, "field states: at least one state required")
	}
	stateSet := make(map[string]struct{}, len(body.States))
	initialCount := 0
	for _, state := range body.States {
		if state == nil || state.Name == "" {
			return errors.Wrap(ErrDefinitionInvalid, "field states.name: state name is empty")
		}
		if !IsValidStateType(state.Type) {
			return errors.Wrapf(ErrDefinitionInvalid, "field states.type: invalid state type %q for state %q", state.Type, state.Name)
		}
		if _, ok := stateSet[state.Name]; ok {
			return errors.Wrapf(ErrDefinitionInvalid, "field states.name: duplicate state %q", state.Name)
		}
		stateSet[state.Name] = struct{}{}
		if state.Type == StateTypeInitial {
			initialCount++
		}
	}
	if initialCount != 1 {
		return errors.Wrapf(ErrDefinitionInvalid, "field states: exactly one initial state required, got %d", initialCount)
	}
	// (name, from) 去重检查
	nameFromSet := make(map[string]struct{}, len(body.Transitions))
	for _, transition := range body.Transitions {
		if transition == nil || transition.Name == "" {
			return errors.Wrap(ErrDefinitionInvalid, "field transitions.name: transition name is empty")
		}
		if _, ok := stateSet[transition.From]; !ok {
			return errors.Wrapf(ErrDefinitionInvalid, "field transitions.from: transition %q references undeclared state %q", transition.Name, transition.From)
		}
		if _, ok := stateSet[transition.To]; !ok {
			return errors.Wrapf(ErrDefinitionInvalid, "field transitions.to: transition %q references undeclared state %q", transition.Name, transition.To)
		}
		nameFromKey := transition.Name + "@" + transition.From
		if _, ok := nameFromSet[nameFromKey]; ok {
			return errors.Wrapf(ErrDefinitionInvalid, "field transitions: duplicate (name, from) pair (%q, %q)", transition.Name, transition.From)
		}
		nameFromSet[nameFromKey] = struct{}{}
	}
	return nil
}

// ValidateDefinitionSpec 创建请求校验,结构校验之外额外校验code格式
func ValidateDefinitionSpec(spec *DefinitionSpec) error {
	if spec == nil {
		return errors.Wrap(ErrParamInvalid, "definition spec is nil")
	}
	if err := validatorUtil.Struct(spec); err != nil {
		return errors.Wrapf(ErrParamInvalid, "definition spec invalid: %v", err)
	}
	if !definitionCodePattern.MatchString(spec.Code) {
		return errors.Wrapf(ErrDefinitionInvalid, "field code: %q must match %s", spec.Code, definitionCodePattern.String())
	}
	return ValidateDefinitionBody(spec.Body)
}

// initialStateOf 解析定义的初始状态,调用前提是Body已通过校验
func initialStateOf(body *DefinitionBody) string {
	for _, state := range body.States {
		if state.Type == StateTypeInitial {
			return state.Name
		}
	}
	return ""
}

// HasState 状态是否已声明
func (d *WorkflowDefinition) HasState(name string) bool {
	if d == nil || d.Body == nil {
		return false
	}
	for _, state := range d.Body.States {
		if state.Name == name {
			return true
		}
	}
	return false
}

// FindTransition 按(name, from)定位迁移,找不到返回nil
func (d *WorkflowDefinition) FindTransition(name string, from string) *TransitionDefinition {
	if d == nil || d.Body == nil {
		return nil
	}
	for _, transition := range d.Body.Transitions {
		if transition.Name == name && transition.From == from {
			return transition
		}
	}
	return nil
}

// TransitionsFrom 从某个状态出发的所有迁移,声明顺序返回
func (d *WorkflowDefinition) TransitionsFrom(from string) []*TransitionDefinition {
	ret := make([]*TransitionDefinition, 0)
	if d == nil || d.Body == nil {
		return ret
	}
	for _, transition := range d.Body.Transitions {
		if transition.From == from {
			ret = append(ret, transition)
		}
	}
	return ret
}

// IsTerminalState 没有出边的状态天然就是终态,核心不需要额外的终态标记
func (d *WorkflowDefinition) IsTerminalState(name string) bool {
	return d.HasState(name) && len(d.TransitionsFrom(name)) == 0
}

// ToJSON 导出为边界JSON
func (d *WorkflowDefinition) ToJSON() ([]byte, error) {
	exported := &DefinitionJSON{
		Code:       d.Code,
		Name:       d.Name,
		Version:    d.Version,
		IsActive:   d.IsActive,
		Definition: d.Body,
	}
	bytes, err := json.MarshalIndent(exported, "", "  ")
	if err != nil {
		return nil, errors.WithMessage(err, "marshal definition failed")
	}
	return bytes, nil
}

// ParseDefinitionJSON 从边界JSON解析并校验
func ParseDefinitionJSON(data []byte) (*DefinitionJSON, error) {
	parsed := &DefinitionJSON{}
	if err := json.Unmarshal(data, parsed); err != nil {
		return nil, errors.Wrapf(ErrDefinitionInvalid, "unmarshal definition json failed: %v", err)
	}
	if !definitionCodePattern.MatchString(parsed.Code) {
		return nil, errors.Wrapf(ErrDefinitionInvalid, "field code: %q must match %s", parsed.Code, definitionCodePattern.String())
	}
	if err := ValidateDefinitionBody(parsed.Definition); err != nil {
		return nil, err
	}
	return parsed, nil
}
