// Package remote performs one-shot mutating calls against the product's API
// without a direct HTTP client: it builds script payloads, executes them
// inside the authenticated page context (reusing the browser's cookies), and
// parses the JSON result back into domain objects. The side effects of these
// calls are observed later as network events flowing through the classifier,
// which is the intended feedback loop.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"
)

var (
	// ErrNoActiveProject means a mutating call was attempted before the
	// correlator observed any organization/project scope.
	ErrNoActiveProject = errors.New("no active project: visit a project page first")
	// ErrRemoteCall covers script throws, non-2xx statuses, and unusable
	// response payloads. Parse failures are remote-call failures.
	ErrRemoteCall = errors.New("remote call failed")
)

// Artifact is a remote project document. Identity is UUID. ProjectUUID is
// stamped locally from the correlation context because the remote create
// response does not echo it.
type Artifact struct {
	UUID        string `json:"uuid"`
	FileName    string `json:"file_name"`
	Content     string `json:"content"`
	ProjectUUID string `json:"project_uuid"`
}

// ScriptRunner executes a JS function expression inside the page context and
// returns its (string) result, or an error when the script throws.
type ScriptRunner interface {
	ExecuteScript(ctx context.Context, code string) (string, error)
}

// ContextSource exposes the active organization/project scope recovered by
// passive correlation.
type ContextSource interface {
	ActiveScope() (orgID, projectID string, ok bool)
}

// MutationSink is told after every successful mutating call so the owner can
// arm its follow-up debouncers (page reload, docs refetch).
type MutationSink interface {
	MutationPerformed()
}

// FileSource lists local project file names for the autocomplete helper.
type FileSource interface {
	ProjectFileNames() []string
}

// Bridge issues script-injected API calls. One method per remote operation;
// the string templating below is an implementation detail no other component
// depends on.
type Bridge struct {
	runner    ScriptRunner
	scope     ContextSource
	mutations MutationSink
	files     FileSource
	apiBase   string
	logger    *zap.Logger
}

// NewBridge wires the bridge to its collaborators. apiBase is the product
// API path prefix on the application host (e.g., "/api").
func NewBridge(runner ScriptRunner, scope ContextSource, mutations MutationSink, files FileSource, apiBase string, logger *zap.Logger) *Bridge {
	return &Bridge{
		runner:    runner,
		scope:     scope,
		mutations: mutations,
		files:     files,
		apiBase:   strings.TrimRight(apiBase, "/"),
		logger:    logger,
	}
}

type createRequest struct {
	FileName string `json:"file_name"`
	Content  string `json:"content"`
}

// CreateArtifact POSTs {file_name, content} to the active project's docs
// collection and returns the created artifact with ProjectUUID stamped from
// the current scope. Both debouncers are armed on success.
func (b *Bridge) CreateArtifact(ctx context.Context, fileName, content string) (*Artifact, error) {
	orgID, projectID, ok := b.scope.ActiveScope()
	if !ok {
		return nil, ErrNoActiveProject
	}

	payload, err := json.Marshal(createRequest{FileName: fileName, Content: content})
	if err != nil {
		return nil, fmt.Errorf("encode create payload: %w", err)
	}

	endpoint := b.docsPath(orgID, projectID)
	script := fmt.Sprintf(`async () => {
		const res = await fetch(%q, {
			method: "POST",
			headers: { "Content-Type": "application/json" },
			body: JSON.stringify(%s),
		});
		if (!res.ok) {
			throw new Error("unexpected status " + res.status);
		}
		return JSON.stringify(await res.json());
	}`, endpoint, payload)

	result, err := b.runner.ExecuteScript(ctx, script)
	if err != nil {
		b.logger.Error("create artifact call failed",
			zap.String("file_name", fileName), zap.Error(err))
		return nil, fmt.Errorf("%w: create %s: %v", ErrRemoteCall, fileName, err)
	}

	var artifact Artifact
	if err := json.Unmarshal([]byte(result), &artifact); err != nil {
		b.logger.Error("create artifact response unparseable",
			zap.String("file_name", fileName), zap.Error(err))
		return nil, fmt.Errorf("%w: decode create response: %v", ErrRemoteCall, err)
	}
	if artifact.UUID == "" {
		return nil, fmt.Errorf("%w: create response missing uuid", ErrRemoteCall)
	}

	// Stamped locally; the remote response does not echo the project.
	artifact.ProjectUUID = projectID

	b.mutations.MutationPerformed()
	return &artifact, nil
}

// DeleteArtifact DELETEs the docs item scoped by the artifact's OWN
// ProjectUUID, so an artifact from a previously active project remains
// deletable after the user switches projects.
func (b *Bridge) DeleteArtifact(ctx context.Context, artifact *Artifact) error {
	orgID, _, ok := b.scope.ActiveScope()
	if !ok {
		return ErrNoActiveProject
	}
	if artifact == nil || artifact.UUID == "" {
		return fmt.Errorf("%w: artifact has no uuid", ErrRemoteCall)
	}

	projectID := artifact.ProjectUUID
	if projectID == "" {
		_, projectID, _ = b.scope.ActiveScope()
	}

	endpoint := b.docsPath(orgID, projectID) + "/" + url.PathEscape(artifact.UUID)
	script := fmt.Sprintf(`async () => {
		const res = await fetch(%q, { method: "DELETE" });
		if (!res.ok) {
			throw new Error("unexpected status " + res.status);
		}
		return "";
	}`, endpoint)

	if _, err := b.runner.ExecuteScript(ctx, script); err != nil {
		b.logger.Error("delete artifact call failed",
			zap.String("uuid", artifact.UUID), zap.Error(err))
		return fmt.Errorf("%w: delete %s: %v", ErrRemoteCall, artifact.UUID, err)
	}

	b.mutations.MutationPerformed()
	return nil
}

// FetchDocs fires a docs collection GET inside the page. The response is not
// read here: it loops back through the network tap and reaches the
// correlator like any other observed fetch.
func (b *Bridge) FetchDocs(ctx context.Context) error {
	orgID, projectID, ok := b.scope.ActiveScope()
	if !ok {
		return ErrNoActiveProject
	}

	script := fmt.Sprintf(`async () => {
		await fetch(%q);
		return "";
	}`, b.docsPath(orgID, projectID))

	if _, err := b.runner.ExecuteScript(ctx, script); err != nil {
		return fmt.Errorf("%w: refetch docs: %v", ErrRemoteCall, err)
	}
	return nil
}

// InjectAutocomplete pushes the local project file list into the page for
// the product's mention autocomplete. The helper self-guards against double
// install, so re-injecting on every navigation is safe; the suggestion list
// itself is refreshed each call.
func (b *Bridge) InjectAutocomplete(ctx context.Context) error {
	names := b.files.ProjectFileNames()
	encoded, err := json.Marshal(names)
	if err != nil {
		return fmt.Errorf("encode suggestions: %w", err)
	}

	script := fmt.Sprintf(`() => {
		window.__docbridgeSuggestions = %s;
		if (window.__docbridgeHelperInstalled) {
			return "";
		}
		window.__docbridgeHelperInstalled = true;
		document.dispatchEvent(new CustomEvent("docbridge:suggestions", {
			detail: { names: window.__docbridgeSuggestions },
		}));
		return "";
	}`, encoded)

	if _, err := b.runner.ExecuteScript(ctx, script); err != nil {
		return fmt.Errorf("inject autocomplete helper: %w", err)
	}
	return nil
}

func (b *Bridge) docsPath(orgID, projectID string) string {
	return fmt.Sprintf("%s/organizations/%s/projects/%s/docs",
		b.apiBase, url.PathEscape(orgID), url.PathEscape(projectID))
}
