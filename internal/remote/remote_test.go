package remote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/google/uuid"
)

type apiCall struct {
	path string
	body map[string]any
}

func newAPIServer(t *testing.T, success bool) (*httptest.Server, *[]apiCall) {
	t.Helper()
	var mu sync.Mutex
	calls := []apiCall{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pw, ok := r.BasicAuth()
		if !ok || user != "guide" || pw != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		mu.Lock()
		calls = append(calls, apiCall{path: r.URL.Path, body: body})
		mu.Unlock()
		if r.URL.Path == "/api/executions" {
			w.WriteHeader(http.StatusCreated)
			w.Write([]byte(`{"executionId": "exec-1"}`))
			return
		}
		if success {
			w.Write([]byte(`{"success": true}`))
		} else {
			w.Write([]byte(`{"success": false, "error": "unknown execution"}`))
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func TestAPIRemote(t *testing.T) {
	srv, calls := newAPIServer(t, true)
	r, err := NewRemote(&Config{Type: API_REMOTE_TYPE, Uri: srv.URL + "/api/", User: "guide", Password: "secret"})
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	ctx := context.Background()

	id, err := r.StartExecution(ctx, "onboarding", SessionContext{SessionID: "s1"})
	if err != nil || id != "exec-1" {
		t.Fatalf("StartExecution() = %q, %v", id, err)
	}
	if err := r.UpdateProgress(ctx, id, ProgressUpdate{StepID: "a", Position: 1000, Status: "completed"}); err != nil {
		t.Fatalf("UpdateProgress() error: %v", err)
	}
	if err := r.CompleteExecution(ctx, id); err != nil {
		t.Fatalf("CompleteExecution() error: %v", err)
	}
	if err := r.AbandonExecution(ctx, id, Abandonment{Status: "abandoned", LastStepID: "a", LastPosition: 1000}); err != nil {
		t.Fatalf("AbandonExecution() error: %v", err)
	}

	wantPaths := []string{
		"/api/executions",
		"/api/executions/exec-1/progress",
		"/api/executions/exec-1/complete",
		"/api/executions/exec-1/abandon",
	}
	if len(*calls) != len(wantPaths) {
		t.Fatalf("got %d calls; want %d", len(*calls), len(wantPaths))
	}
	for i, c := range *calls {
		if c.path != wantPaths[i] {
			t.Errorf("call %d went to %s; want %s", i, c.path, wantPaths[i])
		}
	}
	if (*calls)[0].body["flowId"] != "onboarding" {
		t.Errorf("start body = %v", (*calls)[0].body)
	}
	if (*calls)[1].body["position"] != float64(1000) {
		t.Errorf("progress body = %v", (*calls)[1].body)
	}
}

func TestAPIRemoteRejected(t *testing.T) {
	srv, _ := newAPIServer(t, false)
	r, err := NewAPIRemote(&Config{Uri: srv.URL + "/api", User: "guide", Password: "secret"})
	if err != nil {
		t.Fatal(err)
	}
	err = r.CompleteExecution(context.Background(), "exec-1")
	if !errors.Is(err, ErrRejected) {
		t.Errorf("expected ErrRejected, got %v", err)
	}

	bad, _ := NewAPIRemote(&Config{Uri: srv.URL + "/api", User: "guide", Password: "wrong"})
	if _, err := bad.StartExecution(context.Background(), "f", SessionContext{}); err == nil {
		t.Error("expected an error for a 401 response")
	}
}

func TestNewRemote(t *testing.T) {
	if _, err := NewRemote(&Config{Type: "carrier-pigeon"}); err == nil {
		t.Error("expected an error for an unknown remote type")
	}
	if _, err := NewRemote(&Config{Type: API_REMOTE_TYPE}); err == nil {
		t.Error("expected an error for an api remote without uri")
	}
	r, err := NewRemote(&Config{Type: STDOUT_REMOTE_TYPE})
	if err != nil {
		t.Fatal(err)
	}
	id, err := r.StartExecution(context.Background(), "f", SessionContext{})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := uuid.Parse(id); err != nil {
		t.Errorf("stdout execution id %q is not a uuid", id)
	}
}

func TestNATSSubject(t *testing.T) {
	r := &NATSRemote{Config: &Config{Subject: "guides"}}
	if got := r.SubjectFor("progress"); got != "guides.execution.progress" {
		t.Errorf("SubjectFor() = %s", got)
	}
}
