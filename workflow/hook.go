package workflow

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

// TransitionEvent 钩子入参,一次迁移的完整现场
type TransitionEvent struct {
	WorkflowInstanceID int64
	DefinitionCode     string
	EntityType         string
	EntityID           string
	Transition         string
	FromState          string
	ToState            string
	// 迁移上下文,before钩子修改会反映到history metadata快照里面
	Context *JSONContext
}

// BeforeHook 前置钩子,在状态写入之前执行
// 返回错误会中止整个迁移,效果等同守卫失败,不会产生任何状态变化
type BeforeHook interface {
	Before(ctx context.Context, event *TransitionEvent) error
}

// AfterHook 后置钩子,在迁移提交之后执行
// 失败只记录不回滚,钩子是尽力而为的通知,不在原子性边界里面
// 这是刻意保留的不对称设计,见TransitionResult.HookErrors
type AfterHook interface {
	After(ctx context.Context, event *TransitionEvent) error
}

// BeforeHookFunc / AfterHookFunc 函数适配器
type BeforeHookFunc func(ctx context.Context, event *TransitionEvent) error

func (f BeforeHookFunc) Before(ctx context.Context, event *TransitionEvent) error {
	return f(ctx, event)
}

type AfterHookFunc func(ctx context.Context, event *TransitionEvent) error

func (f AfterHookFunc) After(ctx context.Context, event *TransitionEvent) error {
	return f(ctx, event)
}

var (
	registeredBeforeHooks = sync.Map{}
	registeredAfterHooks  = sync.Map{}
)

// RegisterBeforeHook 注册前置钩子,定义里面的迁移通过名字引用
func RegisterBeforeHook(name string, hook BeforeHook) error {
	if name == "" {
		return errors.Wrap(ErrParamInvalid, "hook name is empty")
	}
	if hook == nil {
		return errors.Wrap(ErrParamInvalid, "hook is nil")
	}
	if _, ok := registeredBeforeHooks.Load(name); ok {
		return errors.Wrapf(ErrHookAlreadyExists, "before hook name: %s", name)
	}
	registeredBeforeHooks.Store(name, hook)
	return nil
}

// RegisterAfterHook 注册后置钩子
func RegisterAfterHook(name string, hook AfterHook) error {
	if name == "" {
		return errors.Wrap(ErrParamInvalid, "hook name is empty")
	}
	if hook == nil {
		return errors.Wrap(ErrParamInvalid, "hook is nil")
	}
	if _, ok := registeredAfterHooks.Load(name); ok {
		return errors.Wrapf(ErrHookAlreadyExists, "after hook name: %s", name)
	}
	registeredAfterHooks.Store(name, hook)
	return nil
}

// UnregisterBeforeHook / UnregisterAfterHook 测试场景使用
func UnregisterBeforeHook(name string) {
	registeredBeforeHooks.Delete(name)
}

func UnregisterAfterHook(name string) {
	registeredAfterHooks.Delete(name)
}

func getRegisteredBeforeHook(name string) (BeforeHook, error) {
	hookInterface, ok := registeredBeforeHooks.Load(name)
	if !ok {
		return nil, errors.Wrapf(ErrHookNotRegistered, "before hook name: %s", name)
	}
	hook, ok := hookInterface.(BeforeHook)
	if !ok {
		return nil, errors.Wrapf(ErrHookNotRegistered, "before hook name: %s, type error,please check code", name)
	}
	return hook, nil
}

func getRegisteredAfterHook(name string) (AfterHook, error) {
	hookInterface, ok := registeredAfterHooks.Load(name)
	if !ok {
		return nil, errors.Wrapf(ErrHookNotRegistered, "after hook name: %s", name)
	}
	hook, ok := hookInterface.(AfterHook)
	if !ok {
		return nil, errors.Wrapf(ErrHookNotRegistered, "after hook name: %s, type error,please check code", name)
	}
	return hook, nil
}
