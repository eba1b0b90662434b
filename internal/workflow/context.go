package workflow

import (
	"sync"

	"github.com/google/uuid"
)

// Context 承载一次运行的共享状态：用户任务、入参、
// 以及各步骤已落盘的结构化输出。输出只增不改，
// 步骤完成后由引擎统一写入。
type Context struct {
	RunID  string
	Task   string
	Params map[string]any

	mu      sync.RWMutex
	outputs map[string]map[string]any
}

// NewContext 为一次运行创建共享上下文。
func NewContext(task string, params map[string]any) *Context {
	if params == nil {
		params = map[string]any{}
	}
	return &Context{
		RunID:   uuid.NewString(),
		Task:    task,
		Params:  params,
		outputs: make(map[string]map[string]any),
	}
}

// StoreOutput 记录步骤的结构化输出，键为步骤的输出名。
func (c *Context) StoreOutput(key string, output map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if output == nil {
		output = map[string]any{}
	}
	c.outputs[key] = output
}

// Output 返回指定步骤的输出。
func (c *Context) Output(key string) (map[string]any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out, ok := c.outputs[key]
	return out, ok
}

// Outputs 返回全部输出的浅拷贝。
func (c *Context) Outputs() map[string]map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]map[string]any, len(c.outputs))
	for k, v := range c.outputs {
		out[k] = v
	}
	return out
}
