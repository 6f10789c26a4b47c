package workflow

import "sync"

// DefinitionCache 定义缓存,进程内可变状态,必须显式注入引擎
// 任何定义的update/activate/deactivate都要调用ClearCache(code)做失效
type DefinitionCache interface {
	Get(code string) (*WorkflowDefinition, bool)
	Set(code string, definition *WorkflowDefinition)
	// ClearCache 失效某个code的缓存
	ClearCache(code string)
	// Purge 清空全部缓存,测试场景使用
	Purge()
}

func NewLocalDefinitionCache() DefinitionCache {
	return &localDefinitionCache{}
}

type localDefinitionCache struct {
	definitions sync.Map // code -> *WorkflowDefinition
}

func (c *localDefinitionCache) Get(code string) (*WorkflowDefinition, bool) {
	definitionInterface, ok := c.definitions.Load(code)
	if !ok {
		return nil, false
	}
	definition, ok := definitionInterface.(*WorkflowDefinition)
	if !ok {
		return nil, false
	}
	return definition, true
}

func (c *localDefinitionCache) Set(code string, definition *WorkflowDefinition) {
	if code == "" || definition == nil {
		return
	}
	c.definitions.Store(code, definition)
}

func (c *localDefinitionCache) ClearCache(code string) {
	c.definitions.Delete(code)
}

func (c *localDefinitionCache) Purge() {
	c.definitions.Range(func(key, value any) bool {
		c.definitions.Delete(key)
		return true
	})
}

// NewNoopDefinitionCache 空实现,测试的时候换掉真实缓存
func NewNoopDefinitionCache() DefinitionCache {
	return &noopDefinitionCache{}
}

type noopDefinitionCache struct{}

func (c *noopDefinitionCache) Get(code string) (*WorkflowDefinition, bool)    { return nil, false }
func (c *noopDefinitionCache) Set(code string, definition *WorkflowDefinition) {}
func (c *noopDefinitionCache) ClearCache(code string)                          {}
func (c *noopDefinitionCache) Purge()                                          {}
