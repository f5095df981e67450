package api_test

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gitmine/gitmine/internal/api"
	"github.com/gitmine/gitmine/internal/audit"
	"github.com/gitmine/gitmine/internal/registry"
	"github.com/gitmine/gitmine/internal/service"
	"github.com/gitmine/gitmine/internal/tooling"
)

// worker is a stand-in extraction tool: it reads the standard flags appended
// by the catalog ($2 is the output directory), emits protocol lines and
// produces one csv.
const worker = `
out="$2"
printf 'PROGRESS {"pct":10,"msg":"start"}\n'
echo "fetching data"
printf 'id,name\n1,alpha\n' > "$out/result.csv"
echo "OUTPUT_CSV $out/result.csv"
printf 'PROGRESS {"pct":95,"msg":"finishing"}\n'
exit 0`

type env struct {
	ts       *httptest.Server
	audit    *audit.Log
	registry *registry.Registry
	outRoot  string
}

func newEnv(t *testing.T, script string) *env {
	t.Helper()
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skipf("skipped, binary sh not available: %v", err)
	}

	outRoot := t.TempDir()
	reg := registry.New()
	auditLog := audit.New(filepath.Join(t.TempDir(), "audit-log.jsonl"))
	catalog := tooling.NewCatalog(map[string]tooling.Program{
		tooling.FileCommitHistory:    {Path: sh, Args: []string{"-c", script, "worker"}},
		tooling.PullRequestExtractor: {Path: sh, Args: []string{"-c", script, "worker"}},
	})
	sup := service.NewSupervisor(reg, auditLog, t.TempDir())
	server := api.NewServer(reg, auditLog, catalog, sup, outRoot)

	ts := httptest.NewServer(server.Router())
	t.Cleanup(ts.Close)
	return &env{ts: ts, audit: auditLog, registry: reg, outRoot: outRoot}
}

func (e *env) submit(t *testing.T, body any) (*http.Response, map[string]any) {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(e.ts.URL+"/api/extract", "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	defer func() {
		_ = resp.Body.Close()
	}()
	var decoded map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp, decoded
}

func (e *env) status(t *testing.T, jobID string) (int, map[string]any) {
	t.Helper()
	resp, err := http.Get(e.ts.URL + "/api/status/" + jobID)
	require.NoError(t, err)
	defer func() {
		_ = resp.Body.Close()
	}()
	var decoded map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp.StatusCode, decoded
}

func TestExtractValidation(t *testing.T) {
	t.Parallel()
	e := newEnv(t, worker)

	t.Run("unknown tool", func(t *testing.T) {
		resp, body := e.submit(t, map[string]any{"type": "mystery", "token": "tok"})
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
		require.Contains(t, body["error"], "type")
	})

	t.Run("missing token", func(t *testing.T) {
		resp, body := e.submit(t, map[string]any{"type": tooling.FileCommitHistory})
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
		require.Contains(t, body["error"], "token")
	})

	t.Run("blank token", func(t *testing.T) {
		resp, _ := e.submit(t, map[string]any{"type": tooling.FileCommitHistory, "token": "   "})
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("invalid json", func(t *testing.T) {
		resp, err := http.Post(e.ts.URL+"/api/extract", "application/json",
			bytes.NewReader([]byte("{nope")))
		require.NoError(t, err)
		defer func() {
			_ = resp.Body.Close()
		}()
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	// no job and no audit entry came out of any rejected submission
	entries, err := e.audit.Tail(100)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestStatusNotFound(t *testing.T) {
	t.Parallel()
	e := newEnv(t, worker)
	code, body := e.status(t, "doesnotexist")
	require.Equal(t, http.StatusNotFound, code)
	require.Contains(t, body["error"], "job_id")
}

func TestExtractLifecycle(t *testing.T) {
	t.Parallel()
	e := newEnv(t, worker)

	resp, body := e.submit(t, map[string]any{
		"type":  tooling.FileCommitHistory,
		"token": "ghp_secret_token_12345",
		"args":  map[string]any{"org": "acme", "repos": "alpha,beta"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	jobID, _ := body["job_id"].(string)
	require.NotEmpty(t, jobID)

	// submission is fire and forget: the job finishes on its own goroutine
	require.Eventually(t, func() bool {
		code, status := e.status(t, jobID)
		return code == http.StatusOK && status["status"] == "succeeded"
	}, 5*time.Second, 20*time.Millisecond)

	code, status := e.status(t, jobID)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, jobID, status["job_id"])
	require.Equal(t, tooling.FileCommitHistory, status["tool"])
	require.Equal(t, float64(100), status["progress"])
	require.Equal(t, "Done.", status["message"])
	require.Equal(t, []any{"result.csv"}, status["outputs"])
	require.NotEmpty(t, status["log"])

	// two audit entries per job: started and terminal
	require.Eventually(t, func() bool {
		entries, err := e.audit.Tail(100)
		return err == nil && len(entries) == 2
	}, 5*time.Second, 20*time.Millisecond)

	entries, err := e.audit.Tail(100)
	require.NoError(t, err)
	require.Equal(t, "started", entries[0].Status)
	require.Equal(t, jobID, entries[0].JobID)
	require.NotContains(t, entries[0].CmdPreview, "ghp_secret_token_12345")
	require.Contains(t, entries[0].CmdPreview, tooling.TokenPlaceholder)
	require.Equal(t, "succeeded", entries[1].Status)
	require.Equal(t, []string{"result.csv"}, entries[1].Outputs)

	t.Run("download produced file", func(t *testing.T) {
		resp, err := http.Get(e.ts.URL + "/api/download/" + jobID + "/result.csv")
		require.NoError(t, err)
		defer func() {
			_ = resp.Body.Close()
		}()
		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.Contains(t, resp.Header.Get("Content-Disposition"), "attachment")
		raw, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		require.Equal(t, "id,name\n1,alpha\n", string(raw))
	})

	t.Run("download missing file", func(t *testing.T) {
		resp, err := http.Get(e.ts.URL + "/api/download/" + jobID + "/nope.csv")
		require.NoError(t, err)
		defer func() {
			_ = resp.Body.Close()
		}()
		require.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("status idempotent once terminal", func(t *testing.T) {
		_, first := e.status(t, jobID)
		_, second := e.status(t, jobID)
		require.Equal(t, first, second)
	})
}

func TestExtractFailedJob(t *testing.T) {
	t.Parallel()
	e := newEnv(t, `echo "boom"; exit 5`)

	resp, body := e.submit(t, map[string]any{
		"type":  tooling.PullRequestExtractor,
		"token": "tok-123456789",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	jobID := body["job_id"].(string)

	require.Eventually(t, func() bool {
		_, status := e.status(t, jobID)
		return status["status"] == "failed"
	}, 5*time.Second, 20*time.Millisecond)

	_, status := e.status(t, jobID)
	require.Equal(t, "Exited with code 5", status["message"])
	require.Contains(t, status["log"], "boom")
	require.Equal(t, []any{}, status["outputs"])
}

func TestDownloadUnknownJob(t *testing.T) {
	t.Parallel()
	e := newEnv(t, worker)
	resp, err := http.Get(e.ts.URL + "/api/download/ghost/whatever.csv")
	require.NoError(t, err)
	defer func() {
		_ = resp.Body.Close()
	}()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDownloadTraversalNeverServes(t *testing.T) {
	t.Parallel()
	e := newEnv(t, worker)

	_, body := e.submit(t, map[string]any{
		"type":  tooling.FileCommitHistory,
		"token": "tok-123456789",
	})
	jobID := body["job_id"].(string)

	// a real secret one level above every job directory
	secret := filepath.Join(e.outRoot, "secrets.txt")
	require.NoError(t, os.WriteFile(secret, []byte("top secret"), 0o600))

	client := &http.Client{
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	req, err := http.NewRequest(http.MethodGet, e.ts.URL+"/api/download/"+jobID+"/..%2Fsecrets.txt", nil)
	require.NoError(t, err)
	resp, err := client.Do(req)
	require.NoError(t, err)
	defer func() {
		_ = resp.Body.Close()
	}()

	require.NotEqual(t, http.StatusOK, resp.StatusCode)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NotContains(t, string(raw), "top secret")
}

func TestAuditEndpoint(t *testing.T) {
	t.Parallel()
	e := newEnv(t, worker)

	t.Run("empty log", func(t *testing.T) {
		resp, err := http.Get(e.ts.URL + "/api/audit")
		require.NoError(t, err)
		defer func() {
			_ = resp.Body.Close()
		}()
		require.Equal(t, http.StatusOK, resp.StatusCode)
		raw, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		require.JSONEq(t, "[]", string(raw))
	})

	t.Run("after a job", func(t *testing.T) {
		_, body := e.submit(t, map[string]any{
			"type":  tooling.FileCommitHistory,
			"token": "tok-123456789",
		})
		jobID := body["job_id"].(string)

		require.Eventually(t, func() bool {
			resp, err := http.Get(e.ts.URL + "/api/audit")
			if err != nil {
				return false
			}
			defer func() {
				_ = resp.Body.Close()
			}()
			var entries []map[string]any
			if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
				return false
			}
			return len(entries) == 2 && entries[1]["job_id"] == jobID
		}, 5*time.Second, 20*time.Millisecond)
	})
}

func TestConcurrentSubmissions(t *testing.T) {
	t.Parallel()
	e := newEnv(t, worker)

	ids := make([]string, 0, 4)
	for range 4 {
		resp, body := e.submit(t, map[string]any{
			"type":  tooling.FileCommitHistory,
			"token": "tok-123456789",
		})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		ids = append(ids, body["job_id"].(string))
	}

	for _, id := range ids {
		require.Eventually(t, func() bool {
			_, status := e.status(t, id)
			return status["status"] == "succeeded"
		}, 5*time.Second, 20*time.Millisecond)
	}

	// each job owns a private directory with exactly its own artifact
	seen := map[string]bool{}
	for _, id := range ids {
		require.False(t, seen[id], "duplicate job id %s", id)
		seen[id] = true
		_, status := e.status(t, id)
		require.Equal(t, []any{"result.csv"}, status["outputs"])
		require.FileExists(t, filepath.Join(e.outRoot, id, "result.csv"))
	}
}
