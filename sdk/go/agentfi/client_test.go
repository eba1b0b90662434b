package agentfi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSubmitRunSendsAPIKey(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/v1/runs" {
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("X-API-Key"); got != "secret" {
			t.Fatalf("missing api key header, got %q", got)
		}
		var req RunRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.TemplateID != "safe_swap" {
			t.Fatalf("unexpected template: %s", req.TemplateID)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(Run{ID: "run-1", TemplateID: req.TemplateID, Status: "pending"})
	}))
	defer server.Close()

	client, err := NewClient(server.URL, "secret", nil)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	run, err := client.SubmitRun(context.Background(), RunRequest{TemplateID: "safe_swap", Task: "swap"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if run.ID != "run-1" {
		t.Fatalf("unexpected run: %+v", run)
	}
}

func TestGetRunDecodesResult(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/runs/run-9" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(Run{
			ID:     "run-9",
			Status: "partial_failure",
			Result: &RunResult{
				Status:      "partial_failure",
				FailedSteps: []string{"execution"},
			},
		})
	}))
	defer server.Close()

	client, err := NewClient(server.URL, "", nil)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	run, err := client.GetRun(context.Background(), "run-9")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if run.Result == nil || len(run.Result.FailedSteps) != 1 {
		t.Fatalf("result not decoded: %+v", run)
	}
}

func TestAPIErrorSurfacesCodeAndStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"模板 ghost 未注册","code":"RUN_VALIDATION_FAILED"}`))
	}))
	defer server.Close()

	client, err := NewClient(server.URL, "", nil)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	_, err = client.SubmitRun(context.Background(), RunRequest{TemplateID: "ghost", Task: "t"})
	apiErr, ok := err.(*APIError)
	if !ok {
		t.Fatalf("expected APIError, got %T: %v", err, err)
	}
	if apiErr.StatusCode != http.StatusBadRequest || apiErr.Code != "RUN_VALIDATION_FAILED" {
		t.Fatalf("unexpected error: %+v", apiErr)
	}
}

func TestListTemplates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/templates" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"templates":[{"id":"safe_swap","name":"安全代币兑换","step_count":5}]}`))
	}))
	defer server.Close()

	client, err := NewClient(server.URL, "", nil)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	templates, err := client.ListTemplates(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(templates) != 1 || templates[0].ID != "safe_swap" {
		t.Fatalf("unexpected templates: %+v", templates)
	}
}

func TestGetNonceGapsBuildsQuery(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/nonce/gaps" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if r.URL.Query().Get("chain") != "base" {
			t.Fatalf("chain query lost: %s", r.URL.RawQuery)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"chain":"base","address":"0xaa","gaps":[7,8]}`))
	}))
	defer server.Close()

	client, err := NewClient(server.URL, "", nil)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	gaps, err := client.GetNonceGaps(context.Background(), "base", "0xaa")
	if err != nil {
		t.Fatalf("gaps: %v", err)
	}
	if len(gaps.Gaps) != 2 || gaps.Gaps[0] != 7 {
		t.Fatalf("unexpected gaps: %+v", gaps)
	}
}
