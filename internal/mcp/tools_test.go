package mcp

import (
	"context"
	"sync"
	"testing"
	"time"

	"docbridge/internal/browser"
	"docbridge/internal/config"
	"docbridge/internal/mirror"
	"docbridge/internal/remote"
	"docbridge/internal/session"
	"docbridge/internal/trace"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubRunner struct {
	mu      sync.Mutex
	scripts []string
	result  string
	err     error
	block   chan struct{}
	started chan struct{}
}

func (r *stubRunner) ExecuteScript(ctx context.Context, code string) (string, error) {
	r.mu.Lock()
	r.scripts = append(r.scripts, code)
	r.mu.Unlock()
	if r.started != nil {
		select {
		case r.started <- struct{}{}:
		default:
		}
	}
	if r.block != nil {
		<-r.block
	}
	return r.result, r.err
}

type stubScope struct {
	org  string
	proj string
	url  string
}

func (s stubScope) ActiveScope() (string, string, bool) {
	return s.org, s.proj, s.org != "" && s.proj != ""
}

func (s stubScope) CurrentScope() session.Scope {
	return session.Scope{OrganizationID: s.org, ProjectID: s.proj, ProjectURL: s.url}
}

type stubSink struct{}

func (s *stubSink) MutationPerformed() {}

type stubFiles struct{ names []string }

func (s stubFiles) ProjectFileNames() []string { return s.names }

func newTestBridge(runner *stubRunner, scope stubScope) *remote.Bridge {
	return remote.NewBridge(runner, scope, &stubSink{}, stubFiles{}, "/api", zap.NewNop())
}

func newTestMirror(t *testing.T) *mirror.Mirror {
	t.Helper()
	m, err := mirror.New(t.TempDir(), time.Minute, zap.NewNop())
	require.NoError(t, err)
	return m
}

func TestCreateDocTool(t *testing.T) {
	runner := &stubRunner{result: `{"uuid":"u1","file_name":"a.md"}`}
	tool := newCreateDocTool(newTestBridge(runner, stubScope{org: "org-1", proj: "proj-1"}))

	_, err := tool.Execute(context.Background(), map[string]interface{}{})
	assert.Error(t, err, "file_name is required")

	res, err := tool.Execute(context.Background(), map[string]interface{}{
		"file_name": "a.md",
		"content":   "hello",
	})
	require.NoError(t, err)

	m := res.(map[string]interface{})
	assert.Equal(t, true, m["success"])
	artifact := m["artifact"].(*remote.Artifact)
	assert.Equal(t, "u1", artifact.UUID)
	assert.Equal(t, "proj-1", artifact.ProjectUUID)
}

func TestCreateDocToolDropsConcurrentCall(t *testing.T) {
	runner := &stubRunner{
		result:  `{"uuid":"u1","file_name":"a.md"}`,
		block:   make(chan struct{}),
		started: make(chan struct{}, 1),
	}
	tool := newCreateDocTool(newTestBridge(runner, stubScope{org: "org-1", proj: "proj-1"}))

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := tool.Execute(context.Background(), map[string]interface{}{"file_name": "a.md"})
		assert.NoError(t, err)
	}()

	<-runner.started

	res, err := tool.Execute(context.Background(), map[string]interface{}{"file_name": "b.md"})
	require.NoError(t, err)
	m := res.(map[string]interface{})
	assert.Equal(t, false, m["success"])
	assert.Equal(t, true, m["busy"])

	close(runner.block)
	<-done
}

func TestDeleteDocToolResolvesFileName(t *testing.T) {
	mir := newTestMirror(t)
	require.NoError(t, mir.ApplyDocs("proj-1",
		[]byte(`[{"uuid":"u9","file_name":"spec-notes.md","content":"x"}]`)))

	runner := &stubRunner{result: ""}
	scope := stubScope{org: "org-1", proj: "proj-1"}
	tool := newDeleteDocTool(newTestBridge(runner, scope), scope, mir)

	res, err := tool.Execute(context.Background(), map[string]interface{}{"file_name": "spec-notes.md"})
	require.NoError(t, err)

	m := res.(map[string]interface{})
	assert.Equal(t, true, m["success"])
	assert.Equal(t, "u9", m["uuid"])

	// The local mirror entry is gone after the remote delete.
	_, found := mir.ResolveByName("proj-1", "spec-notes.md")
	assert.False(t, found)

	require.Len(t, runner.scripts, 1)
	assert.Contains(t, runner.scripts[0], "/api/organizations/org-1/projects/proj-1/docs/u9")
}

func TestDeleteDocToolRequiresIdentifier(t *testing.T) {
	mir := newTestMirror(t)
	scope := stubScope{org: "org-1", proj: "proj-1"}
	tool := newDeleteDocTool(newTestBridge(&stubRunner{}, scope), scope, mir)

	_, err := tool.Execute(context.Background(), map[string]interface{}{})
	assert.Error(t, err)
}

func TestDeleteDocToolUnknownFileName(t *testing.T) {
	mir := newTestMirror(t)
	scope := stubScope{org: "org-1", proj: "proj-1"}
	tool := newDeleteDocTool(newTestBridge(&stubRunner{}, scope), scope, mir)

	_, err := tool.Execute(context.Background(), map[string]interface{}{"file_name": "nope.md"})
	assert.Error(t, err)
}

func TestListDocsTool(t *testing.T) {
	mir := newTestMirror(t)
	require.NoError(t, mir.ApplyDocs("proj-1",
		[]byte(`[{"uuid":"u1","file_name":"a.md","content":""}]`)))

	tool := &ListDocsTool{correlator: stubScope{org: "org-1", proj: "proj-1"}, mirror: mir}
	res, err := tool.Execute(context.Background(), nil)
	require.NoError(t, err)

	m := res.(map[string]interface{})
	assert.Equal(t, "proj-1", m["project_id"])
	assert.Equal(t, []string{"a.md"}, m["file_names"])
	docs := m["docs"].([]map[string]string)
	require.Len(t, docs, 1)
	assert.Equal(t, "u1", docs[0]["uuid"])
}

func TestListDocsToolNoScope(t *testing.T) {
	tool := &ListDocsTool{correlator: stubScope{}, mirror: newTestMirror(t)}
	_, err := tool.Execute(context.Background(), nil)
	assert.ErrorIs(t, err, remote.ErrNoActiveProject)
}

func TestQueryTraceTool(t *testing.T) {
	tracer, err := trace.NewEngine(config.TraceConfig{Enable: true, FactBufferLimit: 16})
	require.NoError(t, err)

	now := time.Now()
	require.NoError(t, tracer.AddFacts(context.Background(), []trace.Fact{
		{Predicate: "doc_fetch", Args: []interface{}{"org-1", "proj-1", now.UnixMilli()}, Timestamp: now},
	}))

	tool := &QueryTraceTool{tracer: tracer}

	_, err = tool.Execute(context.Background(), map[string]interface{}{})
	assert.Error(t, err)

	res, err := tool.Execute(context.Background(), map[string]interface{}{
		"query": "doc_fetch(Org, Proj, Ts).",
	})
	require.NoError(t, err)
	m := res.(map[string]interface{})
	assert.Equal(t, 1, m["count"])
}

func TestSyncStatusTool(t *testing.T) {
	tracer, err := trace.NewEngine(config.TraceConfig{Enable: false})
	require.NoError(t, err)

	tool := &SyncStatusTool{
		shell:      browser.NewShell(config.BrowserConfig{}, "about:blank", zap.NewNop()),
		correlator: stubScope{org: "org-1", proj: "proj-1", url: "https://app.parchment.io/project/proj-1"},
		mirror:     newTestMirror(t),
		tracer:     tracer,
	}

	res, err := tool.Execute(context.Background(), nil)
	require.NoError(t, err)

	m := res.(map[string]interface{})
	assert.Equal(t, false, m["browser_connected"])
	scope := m["scope"].(map[string]string)
	assert.Equal(t, "proj-1", scope["project_id"])
	assert.Equal(t, true, m["trace_ready"])
}
