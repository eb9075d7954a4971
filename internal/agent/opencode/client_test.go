package opencode

import (
	"context"
	"strings"
	"testing"

	"github.com/taskbench/taskbench/internal/common/logger"
	"github.com/taskbench/taskbench/internal/sandbox"
)

func newTestLogger() *logger.Logger {
	log, _ := logger.NewLogger(logger.LoggingConfig{
		Level:  "error",
		Format: "json",
	})
	return log
}

// fakeContext scripts sandbox command results keyed by a substring of
// the command arguments.
type fakeContext struct {
	results  map[string]*sandbox.ExecResult
	runs     [][]string
	detached [][]string
}

func newFakeContext() *fakeContext {
	return &fakeContext{results: make(map[string]*sandbox.ExecResult)}
}

func (f *fakeContext) Key() string { return "task-test" }

func (f *fakeContext) Run(_ context.Context, _ sandbox.RunOpts, name string, args ...string) (*sandbox.ExecResult, error) {
	full := append([]string{name}, args...)
	f.runs = append(f.runs, full)

	joined := strings.Join(full, " ")
	for key, res := range f.results {
		if strings.Contains(joined, key) {
			return res, nil
		}
	}
	return &sandbox.ExecResult{Success: true}, nil
}

func (f *fakeContext) StartDetached(_ context.Context, _ sandbox.StartOpts, name string, args ...string) error {
	f.detached = append(f.detached, append([]string{name}, args...))
	return nil
}

func (f *fakeContext) OpenStream(_ context.Context, _ string, _ ...string) (sandbox.Stream, error) {
	return nil, nil
}

func TestClient_Probe(t *testing.T) {
	tests := []struct {
		name   string
		result *sandbox.ExecResult
		want   bool
	}{
		{
			name:   "healthy",
			result: &sandbox.ExecResult{Stdout: `{"healthy":true,"version":"0.5.0"}`, Success: true},
			want:   true,
		},
		{
			name:   "unhealthy",
			result: &sandbox.ExecResult{Stdout: `{"healthy":false}`, Success: true},
			want:   false,
		},
		{
			name:   "connection refused",
			result: &sandbox.ExecResult{ExitCode: 7},
			want:   false,
		},
		{
			name:   "garbage body",
			result: &sandbox.ExecResult{Stdout: "<html>bad gateway</html>", Success: true},
			want:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sb := newFakeContext()
			sb.results["/global/health"] = tt.result

			client := NewClient(sb, 4096, newTestLogger())
			if got := client.Probe(context.Background()); got != tt.want {
				t.Errorf("Probe() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestClient_CreateSession(t *testing.T) {
	sb := newFakeContext()
	sb.results["/session"] = &sandbox.ExecResult{Stdout: `{"id":"ses_abc123"}`, Success: true}

	client := NewClient(sb, 4096, newTestLogger())
	id, err := client.CreateSession(context.Background())
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	if id != "ses_abc123" {
		t.Errorf("expected session ID ses_abc123, got %s", id)
	}
}

func TestClient_CreateSession_ErrorEnvelope(t *testing.T) {
	sb := newFakeContext()
	sb.results["/session"] = &sandbox.ExecResult{
		Stdout:  `{"name":"ProviderAuthError","data":{"message":"no API key configured"}}`,
		Success: true,
	}

	client := NewClient(sb, 4096, newTestLogger())
	_, err := client.CreateSession(context.Background())
	if err == nil {
		t.Fatal("expected error for error envelope response")
	}
	if !strings.Contains(err.Error(), "ProviderAuthError") {
		t.Errorf("expected error to name the failure, got: %v", err)
	}
	if !strings.Contains(err.Error(), "no API key configured") {
		t.Errorf("expected error to carry the server message, got: %v", err)
	}
}

func TestClient_CreateSession_UnexpectedBody(t *testing.T) {
	sb := newFakeContext()
	sb.results["/session"] = &sandbox.ExecResult{Stdout: `{"something":"else"}`, Success: true}

	client := NewClient(sb, 4096, newTestLogger())
	_, err := client.CreateSession(context.Background())
	if err == nil {
		t.Fatal("expected error for unexpected response shape")
	}
	if !strings.Contains(err.Error(), "unexpected session response") {
		t.Errorf("expected unexpected-response error, got: %v", err)
	}
	if !strings.Contains(err.Error(), `{"something":"else"}`) {
		t.Errorf("expected raw payload in error, got: %v", err)
	}
}

func TestClient_DispatchPrompt_IsDetached(t *testing.T) {
	sb := newFakeContext()
	client := NewClient(sb, 4096, newTestLogger())

	if err := client.DispatchPrompt(context.Background(), "ses_1", "fix the bug"); err != nil {
		t.Fatalf("DispatchPrompt failed: %v", err)
	}

	if len(sb.runs) != 0 {
		t.Errorf("expected no synchronous runs, got %d", len(sb.runs))
	}
	if len(sb.detached) != 1 {
		t.Fatalf("expected 1 detached command, got %d", len(sb.detached))
	}

	joined := strings.Join(sb.detached[0], " ")
	if !strings.Contains(joined, "/session/ses_1/message") {
		t.Errorf("expected message endpoint in command, got: %s", joined)
	}
	if !strings.Contains(joined, "fix the bug") {
		t.Errorf("expected prompt text in request body, got: %s", joined)
	}
}

func TestClient_Abort(t *testing.T) {
	sb := newFakeContext()
	sb.results["/abort"] = &sandbox.ExecResult{Stdout: "true", Success: true}

	client := NewClient(sb, 4096, newTestLogger())
	if err := client.Abort(context.Background(), "ses_1"); err != nil {
		t.Fatalf("Abort failed: %v", err)
	}

	if len(sb.runs) != 1 {
		t.Fatalf("expected 1 run, got %d", len(sb.runs))
	}
	if !strings.Contains(strings.Join(sb.runs[0], " "), "/session/ses_1/abort") {
		t.Errorf("expected abort endpoint, got: %v", sb.runs[0])
	}
}

func TestClient_StreamCommand(t *testing.T) {
	sb := newFakeContext()
	client := NewClient(sb, 4096, newTestLogger())

	name, args := client.StreamCommand()
	if name != "sh" {
		t.Errorf("expected sh, got %s", name)
	}

	pipeline := strings.Join(args, " ")
	if !strings.Contains(pipeline, "/event") {
		t.Errorf("expected event endpoint in pipeline: %s", pipeline)
	}
	if !strings.Contains(pipeline, StreamMarker) {
		t.Errorf("expected stream marker in pipeline: %s", pipeline)
	}
}
