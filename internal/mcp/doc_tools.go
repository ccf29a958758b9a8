package mcp

import (
	"context"
	"fmt"
	"sync"

	"docbridge/internal/browser"
	"docbridge/internal/command"
	"docbridge/internal/mirror"
	"docbridge/internal/remote"
	"docbridge/internal/session"
	"docbridge/internal/trace"
)

// ScopeSource exposes the active org/project scope to tools.
type ScopeSource interface {
	ActiveScope() (org, project string, ok bool)
}

// StatusSource adds the full scope snapshot for status reporting.
type StatusSource interface {
	ScopeSource
	CurrentScope() session.Scope
}

// NavigateTool drives the shell page to a URL.
type NavigateTool struct {
	shell *browser.Shell
}

func (t *NavigateTool) Name() string { return "navigate" }
func (t *NavigateTool) Description() string {
	return `Navigate the shell page to a URL.

Navigating to a project page switches the active project: the correlation
engine picks up the navigation, refreshes its context, and the docs traffic
the page load triggers repopulates the local mirror.

Returns: {success, url}.`
}
func (t *NavigateTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"url": map[string]interface{}{
				"type":        "string",
				"description": "Absolute URL to navigate to",
			},
		},
		"required": []string{"url"},
	}
}
func (t *NavigateTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	url := getStringArg(args, "url")
	if url == "" {
		return nil, fmt.Errorf("url is required")
	}
	if err := t.shell.Navigate(ctx, url); err != nil {
		return nil, err
	}
	return map[string]interface{}{"success": true, "url": url}, nil
}

type createDocArgs struct {
	fileName string
	content  string
}

// CreateDocTool creates a remote document in the active project. The call is
// busy-guarded: a second create while one is in flight is dropped and
// reported as busy rather than queued.
type CreateDocTool struct {
	bridge *remote.Bridge

	mu      sync.Mutex
	pending createDocArgs
	created *remote.Artifact
	cmd     *command.Async
}

func newCreateDocTool(bridge *remote.Bridge) *CreateDocTool {
	t := &CreateDocTool{bridge: bridge}
	t.cmd = command.New(t.run)
	return t
}

func (t *CreateDocTool) run(ctx context.Context) error {
	t.mu.Lock()
	args := t.pending
	t.mu.Unlock()

	artifact, err := t.bridge.CreateArtifact(ctx, args.fileName, args.content)
	if err != nil {
		return err
	}

	t.mu.Lock()
	t.created = artifact
	t.mu.Unlock()
	return nil
}

func (t *CreateDocTool) Name() string { return "create-doc" }
func (t *CreateDocTool) Description() string {
	return `Create a document in the active project via the authenticated page.

PREREQUISITE: an active project (visit a project page first).

The call rides the page's own session; the resulting network traffic is
observed by the correlation engine, which schedules the page reload and docs
re-fetch automatically.

Returns: {success, artifact: {uuid, file_name, project_uuid}} or
{success: false, busy: true} when a create is already in flight.`
}
func (t *CreateDocTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"file_name": map[string]interface{}{
				"type":        "string",
				"description": "Document file name (e.g., notes.md)",
			},
			"content": map[string]interface{}{
				"type":        "string",
				"description": "Document content",
			},
		},
		"required": []string{"file_name"},
	}
}
func (t *CreateDocTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	fileName := getStringArg(args, "file_name")
	if fileName == "" {
		return nil, fmt.Errorf("file_name is required")
	}
	content := getStringArg(args, "content")

	t.mu.Lock()
	t.pending = createDocArgs{fileName: fileName, content: content}
	t.created = nil
	t.mu.Unlock()

	if err := t.cmd.Execute(ctx); err != nil {
		return nil, err
	}

	t.mu.Lock()
	artifact := t.created
	t.mu.Unlock()
	if artifact == nil {
		// Execute dropped the call: another create was in flight.
		return map[string]interface{}{"success": false, "busy": true}, nil
	}
	return map[string]interface{}{"success": true, "artifact": artifact}, nil
}

// DeleteDocTool deletes a remote document, resolving a local file name to
// its remote uuid through the mirror's cached inventory. Busy-guarded like
// create-doc.
type DeleteDocTool struct {
	bridge     *remote.Bridge
	correlator ScopeSource
	mirror     *mirror.Mirror

	mu      sync.Mutex
	pending *remote.Artifact
	deleted bool
	cmd     *command.Async
}

func newDeleteDocTool(bridge *remote.Bridge, correlator ScopeSource, mir *mirror.Mirror) *DeleteDocTool {
	t := &DeleteDocTool{bridge: bridge, correlator: correlator, mirror: mir}
	t.cmd = command.New(t.run)
	return t
}

func (t *DeleteDocTool) run(ctx context.Context) error {
	t.mu.Lock()
	artifact := t.pending
	t.mu.Unlock()

	if err := t.bridge.DeleteArtifact(ctx, artifact); err != nil {
		return err
	}

	t.mu.Lock()
	t.deleted = true
	t.mu.Unlock()
	return nil
}

func (t *DeleteDocTool) Name() string { return "delete-doc" }
func (t *DeleteDocTool) Description() string {
	return `Delete a document from its project via the authenticated page.

Identify the document either by uuid or by file_name; file names resolve
against the active project's mirrored inventory. Deletion uses the
document's own project, so a document created before a project switch is
still deletable.

Returns: {success, uuid} or {success: false, busy: true}.`
}
func (t *DeleteDocTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"uuid": map[string]interface{}{
				"type":        "string",
				"description": "Remote document uuid",
			},
			"file_name": map[string]interface{}{
				"type":        "string",
				"description": "Local file name to resolve in the active project",
			},
		},
	}
}
func (t *DeleteDocTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	artifact, err := t.resolve(args)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	t.pending = artifact
	t.deleted = false
	t.mu.Unlock()

	if err := t.cmd.Execute(ctx); err != nil {
		return nil, err
	}

	t.mu.Lock()
	done := t.deleted
	t.mu.Unlock()
	if !done {
		return map[string]interface{}{"success": false, "busy": true}, nil
	}

	t.mirror.RemoveByUUID(artifact.UUID)
	return map[string]interface{}{"success": true, "uuid": artifact.UUID}, nil
}

func (t *DeleteDocTool) resolve(args map[string]interface{}) (*remote.Artifact, error) {
	if uuid := getStringArg(args, "uuid"); uuid != "" {
		return &remote.Artifact{UUID: uuid}, nil
	}

	fileName := getStringArg(args, "file_name")
	if fileName == "" {
		return nil, fmt.Errorf("uuid or file_name is required")
	}

	_, projectID, ok := t.correlator.ActiveScope()
	if !ok {
		return nil, remote.ErrNoActiveProject
	}
	doc, found := t.mirror.ResolveByName(projectID, fileName)
	if !found {
		return nil, fmt.Errorf("no mirrored document named %q in project %s", fileName, projectID)
	}
	return &remote.Artifact{
		UUID:        doc.UUID,
		FileName:    doc.FileName,
		ProjectUUID: projectID,
	}, nil
}

// FetchDocsTool forces an immediate docs re-fetch for the active project.
type FetchDocsTool struct {
	bridge *remote.Bridge
}

func (t *FetchDocsTool) Name() string { return "fetch-docs" }
func (t *FetchDocsTool) Description() string {
	return `Force an immediate docs fetch for the active project.

Normally the engine re-fetches on its own after observed mutations; use
this when the mirror looks stale. The fetched payload flows back through
the network tap and reconciles the mirror asynchronously.

Returns: {success}.`
}
func (t *FetchDocsTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
	}
}
func (t *FetchDocsTool) Execute(ctx context.Context, _ map[string]interface{}) (interface{}, error) {
	if err := t.bridge.FetchDocs(ctx); err != nil {
		return nil, err
	}
	return map[string]interface{}{"success": true}, nil
}

// ListDocsTool lists the active project's mirrored documents.
type ListDocsTool struct {
	correlator ScopeSource
	mirror     *mirror.Mirror
}

func (t *ListDocsTool) Name() string { return "list-docs" }
func (t *ListDocsTool) Description() string {
	return `List the mirrored documents of the active project.

Reads the mirror's cached inventory; when the cache has expired the file
names are still listed from disk but uuids are unavailable until the next
docs fetch.

Returns: {project_id, docs: [{uuid, file_name}], file_names}.`
}
func (t *ListDocsTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
	}
}
func (t *ListDocsTool) Execute(_ context.Context, _ map[string]interface{}) (interface{}, error) {
	_, projectID, ok := t.correlator.ActiveScope()
	if !ok {
		return nil, remote.ErrNoActiveProject
	}

	result := map[string]interface{}{
		"project_id": projectID,
		"file_names": t.mirror.ProjectFileNames(),
	}
	if docs, found := t.mirror.Docs(projectID); found {
		summaries := make([]map[string]string, 0, len(docs))
		for _, d := range docs {
			summaries = append(summaries, map[string]string{
				"uuid":      d.UUID,
				"file_name": d.FileName,
			})
		}
		result["docs"] = summaries
	}
	return result, nil
}

// SyncStatusTool reports the engine's current state in one call.
type SyncStatusTool struct {
	shell      *browser.Shell
	correlator StatusSource
	mirror     *mirror.Mirror
	tracer     *trace.Engine
}

func (t *SyncStatusTool) Name() string { return "sync-status" }
func (t *SyncStatusTool) Description() string {
	return `Report the sync engine's current state.

Returns: {browser_connected, scope: {organization_id, project_id,
project_url, last_visited_url}, mirror_dir, trace_ready}.`
}
func (t *SyncStatusTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
	}
}
func (t *SyncStatusTool) Execute(_ context.Context, _ map[string]interface{}) (interface{}, error) {
	scope := t.correlator.CurrentScope()
	return map[string]interface{}{
		"browser_connected": t.shell.IsConnected(),
		"scope": map[string]string{
			"organization_id":  scope.OrganizationID,
			"project_id":       scope.ProjectID,
			"project_url":      scope.ProjectURL,
			"last_visited_url": scope.LastVisitedURL,
		},
		"mirror_dir":  t.mirror.BaseDir(),
		"trace_ready": t.tracer.Ready(),
	}, nil
}
