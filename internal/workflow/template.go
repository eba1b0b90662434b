package workflow

import (
	xerrors "AgentFi-Mesh/internal/errors"
)

const (
	CodeTemplateUnknown xerrors.Code = "WORKFLOW_TEMPLATE_UNKNOWN"
	CodeTemplateInvalid xerrors.Code = "WORKFLOW_TEMPLATE_INVALID"
	CodeUnsatisfiable   xerrors.Code = "WORKFLOW_UNSATISFIABLE"
	CodeRunFailure      xerrors.Code = "WORKFLOW_RUN_FAILED"
)

func init() {
	xerrors.Register(CodeTemplateUnknown, xerrors.Attributes{
		Message:  "workflow template not registered",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeTemplateInvalid, xerrors.Attributes{
		Message:  "workflow template validation failed",
		Severity: xerrors.SeverityWarning,
	})
	xerrors.Register(CodeUnsatisfiable, xerrors.Attributes{
		Message:  "workflow dependencies cannot be satisfied",
		Severity: xerrors.SeverityCritical,
		Alert:    true,
	})
	xerrors.Register(CodeRunFailure, xerrors.Attributes{
		Message:   "workflow run failed",
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
		Alert:     true,
	})
}

// StepDef 是工作流模板中一个步骤的静态定义。
type StepDef struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Capability  string   `json:"capability"`
	Action      string   `json:"action"`
	Description string   `json:"description"`
	DependsOn   []string `json:"depends_on,omitempty"`
	// Alias 可选；非空时上游输出以该名字注入依赖方的输入。
	Alias string `json:"alias,omitempty"`
}

// OutputKey 返回该步骤输出在下游输入中的键名。
func (s StepDef) OutputKey() string {
	if s.Alias != "" {
		return s.Alias
	}
	return s.ID
}

// Template 是一个不可变的步骤 DAG 定义。
type Template struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Steps       []StepDef `json:"steps"`
}

// Summary 是模板的只读摘要，用于 API 列表。
type Summary struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Description  string   `json:"description"`
	StepCount    int      `json:"step_count"`
	Capabilities []string `json:"capabilities"`
}

// Summarize 生成模板摘要。
func (t Template) Summarize() Summary {
	caps := make([]string, 0, len(t.Steps))
	seen := make(map[string]struct{}, len(t.Steps))
	for _, step := range t.Steps {
		if _, ok := seen[step.Capability]; ok {
			continue
		}
		seen[step.Capability] = struct{}{}
		caps = append(caps, step.Capability)
	}
	return Summary{
		ID:           t.ID,
		Name:         t.Name,
		Description:  t.Description,
		StepCount:    len(t.Steps),
		Capabilities: caps,
	}
}

// Validate 在注册阶段校验模板：步骤 ID 唯一、依赖指向同模板内的
// 步骤、依赖图无环。运行时不再重复校验，配置错误必须尽早暴露。
func (t Template) Validate() error {
	if t.ID == "" {
		return xerrors.New(CodeTemplateInvalid, "模板 ID 不能为空")
	}
	if len(t.Steps) == 0 {
		return xerrors.Newf(CodeTemplateInvalid, "模板 %s 不包含任何步骤", t.ID)
	}

	index := make(map[string]StepDef, len(t.Steps))
	for _, step := range t.Steps {
		if step.ID == "" {
			return xerrors.Newf(CodeTemplateInvalid, "模板 %s 存在空步骤 ID", t.ID)
		}
		if _, ok := index[step.ID]; ok {
			return xerrors.Newf(CodeTemplateInvalid, "模板 %s 步骤 ID 重复: %s", t.ID, step.ID)
		}
		if step.Capability == "" {
			return xerrors.Newf(CodeTemplateInvalid, "模板 %s 步骤 %s 缺少 capability", t.ID, step.ID)
		}
		index[step.ID] = step
	}

	for _, step := range t.Steps {
		for _, dep := range step.DependsOn {
			if dep == step.ID {
				return xerrors.Newf(CodeTemplateInvalid, "模板 %s 步骤 %s 依赖自身", t.ID, step.ID)
			}
			if _, ok := index[dep]; !ok {
				return xerrors.Newf(CodeTemplateInvalid, "模板 %s 步骤 %s 依赖未定义的步骤 %s", t.ID, step.ID, dep)
			}
		}
	}

	if cycle := findCycle(t.Steps); len(cycle) > 0 {
		return xerrors.Newf(CodeTemplateInvalid, "模板 %s 依赖图存在环: %v", t.ID, cycle)
	}
	return nil
}

// findCycle 用 Kahn 拓扑排序检测环，返回无法排序的步骤 ID。
func findCycle(steps []StepDef) []string {
	indegree := make(map[string]int, len(steps))
	dependents := make(map[string][]string, len(steps))
	for _, step := range steps {
		indegree[step.ID] += 0
		for _, dep := range step.DependsOn {
			indegree[step.ID]++
			dependents[dep] = append(dependents[dep], step.ID)
		}
	}

	queue := make([]string, 0, len(steps))
	for _, step := range steps {
		if indegree[step.ID] == 0 {
			queue = append(queue, step.ID)
		}
	}

	visited := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		visited++
		for _, next := range dependents[id] {
			indegree[next]--
			if indegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	if visited == len(steps) {
		return nil
	}
	var cycle []string
	for _, step := range steps {
		if indegree[step.ID] > 0 {
			cycle = append(cycle, step.ID)
		}
	}
	return cycle
}

// transitiveDeps 返回步骤的全部祖先步骤 ID。
func transitiveDeps(index map[string]StepDef, id string) []string {
	seen := make(map[string]struct{})
	var walk func(string)
	walk = func(cur string) {
		step, ok := index[cur]
		if !ok {
			return
		}
		for _, dep := range step.DependsOn {
			if _, done := seen[dep]; done {
				continue
			}
			seen[dep] = struct{}{}
			walk(dep)
		}
	}
	walk(id)

	out := make([]string, 0, len(seen))
	for dep := range seen {
		out = append(out, dep)
	}
	return out
}
