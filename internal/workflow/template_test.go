package workflow

import (
	"testing"

	xerrors "AgentFi-Mesh/internal/errors"
)

func TestValidateRejectsDuplicateStepID(t *testing.T) {
	tpl := Template{
		ID:   "dup",
		Name: "dup",
		Steps: []StepDef{
			{ID: "x", Capability: "market_data", Action: "fetch"},
			{ID: "x", Capability: "analysis", Action: "crunch"},
		},
	}
	if err := tpl.Validate(); xerrors.CodeOf(err) != CodeTemplateInvalid {
		t.Fatalf("expected template invalid, got %v", err)
	}
}

func TestValidateRejectsUnknownDependency(t *testing.T) {
	tpl := Template{
		ID:   "dangling",
		Name: "dangling",
		Steps: []StepDef{
			{ID: "x", Capability: "market_data", Action: "fetch", DependsOn: []string{"ghost"}},
		},
	}
	if err := tpl.Validate(); xerrors.CodeOf(err) != CodeTemplateInvalid {
		t.Fatalf("expected template invalid, got %v", err)
	}
}

func TestValidateRejectsCycle(t *testing.T) {
	tpl := Template{
		ID:   "loop",
		Name: "loop",
		Steps: []StepDef{
			{ID: "a", Capability: "market_data", Action: "fetch", DependsOn: []string{"c"}},
			{ID: "b", Capability: "analysis", Action: "crunch", DependsOn: []string{"a"}},
			{ID: "c", Capability: "execution", Action: "fire", DependsOn: []string{"b"}},
		},
	}
	if err := tpl.Validate(); xerrors.CodeOf(err) != CodeTemplateInvalid {
		t.Fatalf("cycle must be rejected at registration, got %v", err)
	}
}

func TestValidateRejectsSelfDependency(t *testing.T) {
	tpl := Template{
		ID:   "selfish",
		Name: "selfish",
		Steps: []StepDef{
			{ID: "a", Capability: "market_data", Action: "fetch", DependsOn: []string{"a"}},
		},
	}
	if err := tpl.Validate(); xerrors.CodeOf(err) != CodeTemplateInvalid {
		t.Fatalf("self dependency must be rejected, got %v", err)
	}
}

func TestRegisterRejectsInvalidTemplate(t *testing.T) {
	engine := NewEngine()
	err := engine.RegisterTemplate(Template{ID: "empty", Name: "empty"})
	if xerrors.CodeOf(err) != CodeTemplateInvalid {
		t.Fatalf("expected template invalid, got %v", err)
	}
	if len(engine.Templates()) != 0 {
		t.Fatal("invalid template must not be registered")
	}
}

func TestOutputKeyPrefersAlias(t *testing.T) {
	step := StepDef{ID: "price_source", Alias: "source_quote"}
	if step.OutputKey() != "source_quote" {
		t.Fatalf("expected alias, got %s", step.OutputKey())
	}
	step.Alias = ""
	if step.OutputKey() != "price_source" {
		t.Fatalf("expected id fallback, got %s", step.OutputKey())
	}
}

func TestTransitiveDepsWalksAncestors(t *testing.T) {
	tpl := diamondTemplate()
	index := make(map[string]StepDef, len(tpl.Steps))
	for _, s := range tpl.Steps {
		index[s.ID] = s
	}
	deps := transitiveDeps(index, "c")
	if len(deps) != 2 {
		t.Fatalf("expected 2 ancestors, got %v", deps)
	}
	seen := map[string]bool{}
	for _, d := range deps {
		seen[d] = true
	}
	if !seen["a"] || !seen["b"] {
		t.Fatalf("missing ancestors: %v", deps)
	}
}
