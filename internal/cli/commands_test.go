package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ferry/internal/record"
)

// isolate runs the test in an empty working directory with no user config
// and restores the default logger afterwards.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("HOME", t.TempDir())

	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })
	return dir
}

type cliRun struct {
	stdout string
	stderr string
	err    error
}

func runCLI(t *testing.T, stdin string, args ...string) cliRun {
	t.Helper()
	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return cliRun{stdout: stdout.String(), stderr: stderr.String(), err: err}
}

// remoteServer accepts creates and answers with srv-<n> ids. Collections in
// reject get a 400.
type remoteServer struct {
	*httptest.Server

	mu       sync.Mutex
	reject   map[string]bool
	received []receivedCreate
}

type receivedCreate struct {
	Collection string
	Payload    map[string]any
	Key        string
}

func newRemoteServer(t *testing.T, reject ...string) *remoteServer {
	t.Helper()
	rs := &remoteServer{reject: map[string]bool{}}
	for _, c := range reject {
		rs.reject[c] = true
	}
	rs.Server = httptest.NewServer(http.HandlerFunc(rs.handle))
	t.Cleanup(rs.Close)
	t.Setenv("FERRY_REMOTE_BASE_URL", rs.URL)
	return rs
}

func (rs *remoteServer) handle(w http.ResponseWriter, r *http.Request) {
	collection := strings.TrimPrefix(r.URL.Path, "/collections/")
	body, _ := io.ReadAll(r.Body)

	rs.mu.Lock()
	defer rs.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if rs.reject[collection] {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":"missing field"}`)
		return
	}

	var payload map[string]any
	_ = json.Unmarshal(body, &payload)
	rs.received = append(rs.received, receivedCreate{
		Collection: collection,
		Payload:    payload,
		Key:        r.Header.Get("Idempotency-Key"),
	})
	fmt.Fprintf(w, `{"id":"srv-%d"}`, len(rs.received))
}

func (rs *remoteServer) creates() []receivedCreate {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return append([]receivedCreate(nil), rs.received...)
}

func enqueueID(t *testing.T, args ...string) string {
	t.Helper()
	res := runCLI(t, "", append([]string{"enqueue"}, args...)...)
	require.NoError(t, res.err, res.stderr)
	id := strings.TrimSpace(res.stdout)
	require.NotEmpty(t, id)
	return id
}

func TestEnqueueAndPending(t *testing.T) {
	isolate(t)

	id := enqueueID(t, record.PrimaryCollection, `{"name":"Acme"}`)
	assert.Len(t, id, 36)

	res := runCLI(t, "", "pending")
	require.NoError(t, res.err)
	assert.Equal(t, "1\n", res.stdout)
}

func TestEnqueueFromStdin(t *testing.T) {
	isolate(t)

	res := runCLI(t, `{"name":"Acme"}`, "--format", "json", "enqueue", record.PrimaryCollection, "-")
	require.NoError(t, res.err)

	var resp struct {
		Status string        `json:"status"`
		Data   EnqueueResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, record.PrimaryCollection, resp.Data.Collection)
	assert.NotEmpty(t, resp.Data.ID)
}

func TestEnqueueRejected(t *testing.T) {
	tests := []struct {
		name string
		args []string
		in   string
		want string
	}{
		{"invalid json", []string{record.PrimaryCollection, `{"name":`}, "", "not valid JSON"},
		{"unknown collection", []string{"invoices", `{}`}, "", "unknown collection"},
		{"unknown parent", []string{record.DependentCollectionA, "--parent", "nope", `{"text":"x"}`}, "", "parent"},
		{"empty stdin", []string{record.PrimaryCollection}, "  ", "empty payload"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			isolate(t)

			res := runCLI(t, tt.in, append([]string{"--verbose", "enqueue"}, tt.args...)...)
			require.Error(t, res.err)
			assert.Equal(t, ExitCommandError, GetExitCode(res.err))
			assert.True(t, IsReported(res.err))
			assert.Contains(t, res.stderr, "Error [E003]")
			assert.Contains(t, res.stderr, tt.want)
			assert.Empty(t, res.stdout)
		})
	}
}

func TestSyncOffline(t *testing.T) {
	isolate(t)
	enqueueID(t, record.PrimaryCollection, `{"name":"Acme"}`)

	res := runCLI(t, "", "sync")
	require.Error(t, res.err)
	assert.Equal(t, ExitFailure, GetExitCode(res.err))
	assert.Contains(t, res.stderr, "sync skipped: offline")

	res = runCLI(t, "", "pending")
	require.NoError(t, res.err)
	assert.Equal(t, "1\n", res.stdout)
}

func TestSyncSubmitsParentBeforeDependent(t *testing.T) {
	isolate(t)
	srv := newRemoteServer(t)

	lead := enqueueID(t, record.PrimaryCollection, `{"name":"Acme"}`)
	note := enqueueID(t, record.DependentCollectionA, "--parent", lead, `{"text":"call back"}`)

	res := runCLI(t, "", "--online", "sync")
	require.NoError(t, res.err, res.stderr)
	assert.Contains(t, res.stdout, "attempted 2, synced 2, failed 0")

	creates := srv.creates()
	require.Len(t, creates, 2)
	assert.Equal(t, record.PrimaryCollection, creates[0].Collection)
	assert.Equal(t, lead, creates[0].Key)
	assert.Equal(t, record.DependentCollectionA, creates[1].Collection)
	assert.Equal(t, note, creates[1].Key)
	assert.Equal(t, "srv-1", creates[1].Payload["leadId"])

	res = runCLI(t, "", "pending")
	require.NoError(t, res.err)
	assert.Equal(t, "0\n", res.stdout)
}

func TestStatus(t *testing.T) {
	isolate(t)
	newRemoteServer(t)

	enqueueID(t, record.PrimaryCollection, `{"name":"Acme"}`)

	res := runCLI(t, "", "status")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "last sync:")
	assert.Contains(t, res.stdout, "never")
	assert.Contains(t, res.stdout, "platform=down")
	assert.Contains(t, res.stdout, "COLLECTION")
	assert.Contains(t, res.stdout, record.DependentCollectionB)

	require.NoError(t, runCLI(t, "", "--online", "sync").err)

	res = runCLI(t, "", "--online", "--format", "json", "status")
	require.NoError(t, res.err)

	var resp struct {
		Status string `json:"status"`
		Data   struct {
			Online      bool            `json:"online"`
			Signals     map[string]bool `json:"signals"`
			Pending     int             `json:"pending"`
			LastSyncAt  string          `json:"last_sync_at"`
			LastPass    json.RawMessage `json:"last_pass"`
			Collections []struct {
				Name  string `json:"name"`
				Total int    `json:"total"`
			} `json:"collections"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &resp))
	assert.True(t, resp.Data.Online)
	assert.Equal(t, map[string]bool{"platform": true}, resp.Data.Signals)
	assert.Equal(t, 0, resp.Data.Pending)
	assert.NotEmpty(t, resp.Data.LastSyncAt)
	assert.NotEmpty(t, resp.Data.LastPass)
	require.Len(t, resp.Data.Collections, 3)
}

func TestSyncRejectionIsRetried(t *testing.T) {
	isolate(t)
	newRemoteServer(t, record.PrimaryCollection)

	lead := enqueueID(t, record.PrimaryCollection, `{"name":"Acme"}`)

	res := runCLI(t, "", "--online", "sync")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "failed 1, deferred 0, needs review 0")

	res = runCLI(t, "", "review", "list")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "No records need review.")
	assert.NotContains(t, res.stdout, lead)
}

func TestReviewListAndRetry(t *testing.T) {
	isolate(t)
	newRemoteServer(t, record.PrimaryCollection)
	t.Setenv("FERRY_SYNC_REJECTED_ATTEMPTS", "1")

	lead := enqueueID(t, record.PrimaryCollection, `{"name":"Acme"}`)

	res := runCLI(t, "", "review", "list")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "No records need review.")

	res = runCLI(t, "", "--online", "sync")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "needs review 1")

	res = runCLI(t, "", "review", "list")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "LAST ERROR")
	assert.Contains(t, res.stdout, lead)
	assert.Contains(t, res.stdout, "missing field")

	res = runCLI(t, "", "review", "retry", record.PrimaryCollection, lead)
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "requeued "+record.PrimaryCollection+"/"+lead)

	res = runCLI(t, "", "--format", "json", "review", "list")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, `"records":[]`)
}

func TestReviewRetryUnknownRecord(t *testing.T) {
	isolate(t)

	res := runCLI(t, "", "review", "retry", record.PrimaryCollection, "missing")
	require.Error(t, res.err)
	assert.Equal(t, ExitCommandError, GetExitCode(res.err))
	assert.Contains(t, res.stderr, "Error [E005]")
}

func TestPrune(t *testing.T) {
	isolate(t)

	res := runCLI(t, "", "prune")
	require.Error(t, res.err)
	assert.Equal(t, ExitCommandError, GetExitCode(res.err))
	assert.Contains(t, res.stderr, "no retention")

	res = runCLI(t, "", "--format", "json", "prune", "--older-than", "1h")
	require.NoError(t, res.err)
	assert.JSONEq(t, `{"status":"ok","data":{"pruned":0}}`, res.stdout)
}

func TestClear(t *testing.T) {
	isolate(t)
	enqueueID(t, record.PrimaryCollection, `{"name":"Acme"}`)

	res := runCLI(t, "", "clear")
	require.Error(t, res.err)
	assert.Equal(t, ExitCommandError, GetExitCode(res.err))
	assert.Contains(t, res.stderr, "--yes")

	res = runCLI(t, "", "clear", "--yes")
	require.NoError(t, res.err)
	assert.Equal(t, "outbox cleared\n", res.stdout)

	res = runCLI(t, "", "pending")
	require.NoError(t, res.err)
	assert.Equal(t, "0\n", res.stdout)
}

func TestConfigCommand(t *testing.T) {
	dir := isolate(t)
	db := filepath.Join(dir, "other.db")

	res := runCLI(t, "", "--db", db, "config")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "path: "+db)
	assert.Contains(t, res.stdout, "max_attempts: 8")
	assert.Contains(t, res.stdout, "rejected_attempts: 3")
	assert.Contains(t, res.stdout, "- name: "+record.PrimaryCollection)

	res = runCLI(t, "", "--format", "json", "config")
	require.NoError(t, res.err)

	var resp struct {
		Data struct {
			Store struct {
				Path string `json:"path"`
			} `json:"store"`
			Sync struct {
				BackoffMax string `json:"backoff_max"`
			} `json:"sync"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &resp))
	assert.Equal(t, "ferry.db", resp.Data.Store.Path)
	assert.Equal(t, "30m0s", resp.Data.Sync.BackoffMax)
}

func TestConfigCommandBadFile(t *testing.T) {
	isolate(t)

	res := runCLI(t, "", "--config", "missing.yaml", "pending")
	require.Error(t, res.err)
	assert.Equal(t, ExitCommandError, GetExitCode(res.err))
	assert.Contains(t, res.stderr, "Error [E001]")
}
