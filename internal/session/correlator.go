// Package session is the correlation engine at the center of the shell. It
// consumes the browser's network and navigation stream, classifies each
// observed request, maintains the active org/project scope, and schedules
// the debounced follow-ups (page reload, docs re-fetch) that keep the local
// mirror converged with what the user does in the product UI.
package session

import (
	"context"
	"net/http"
	"sync"
	"time"

	"docbridge/internal/browser"
	"docbridge/internal/classify"
	"docbridge/internal/config"
	"docbridge/internal/debounce"
	"docbridge/internal/events"
	"docbridge/internal/recorder"
	"docbridge/internal/trace"

	"go.uber.org/zap"
)

// followUpTimeout bounds each debounced follow-up action.
const followUpTimeout = 20 * time.Second

// PageDriver is what the correlator needs from the browser shell.
type PageDriver interface {
	CurrentURL(ctx context.Context) (string, error)
	Reload(ctx context.Context) error
}

// Bridge is the follow-up surface poked after navigations and mutations.
// Set after construction because the bridge itself needs the correlator as
// its context source.
type Bridge interface {
	FetchDocs(ctx context.Context) error
	InjectAutocomplete(ctx context.Context) error
}

// Scope is the active org/project context inferred from observed traffic.
type Scope struct {
	OrganizationID string
	ProjectID      string
	// ProjectURL is the canonical URL of the last announced project page.
	ProjectURL string
	// LastVisitedURL tracks every navigation, project page or not.
	LastVisitedURL string
}

// Correlator implements browser.Observer. All entry points are safe for
// concurrent use; the event stream, debouncer timers, and tool calls all
// arrive on different goroutines.
type Correlator struct {
	classifier *classify.Classifier
	bus        *events.Bus
	driver     PageDriver
	tracer     *trace.Engine
	rec        *recorder.Recorder
	logger     *zap.Logger

	mu     sync.RWMutex
	scope  Scope
	bridge Bridge
	closed bool

	reload  *debounce.Debouncer
	refetch *debounce.Debouncer
}

var _ browser.Observer = (*Correlator)(nil)

// NewCorrelator wires the correlation engine. The bridge is attached later
// via SetBridge.
func NewCorrelator(
	cfg config.SyncConfig,
	classifier *classify.Classifier,
	bus *events.Bus,
	driver PageDriver,
	tracer *trace.Engine,
	rec *recorder.Recorder,
	logger *zap.Logger,
) *Correlator {
	c := &Correlator{
		classifier: classifier,
		bus:        bus,
		driver:     driver,
		tracer:     tracer,
		rec:        rec,
		logger:     logger,
	}
	c.reload = debounce.New(c.reloadProjectPage, cfg.ReloadDelay())
	c.refetch = debounce.New(c.refetchDocs, cfg.RefetchDelay())
	return c
}

// SetBridge attaches the remote action bridge once it exists.
func (c *Correlator) SetBridge(b Bridge) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bridge = b
}

// OnResponse classifies one observed network response and reacts to it.
func (c *Correlator) OnResponse(ev browser.ResponseEvent) {
	res := c.classifier.Classify(ev.URL, ev.Method)
	if res.Kind == classify.Unclassified {
		return
	}

	now := time.Now()
	c.addFact(trace.Fact{
		Predicate: "response_event",
		Args:      []interface{}{ev.Method, ev.URL, res.Kind.String(), now.UnixMilli()},
		Timestamp: now,
	})

	switch res.Kind {
	case classify.DocsFetched:
		c.refreshScope(res.OrganizationID, res.ProjectID)
		body, err := ev.Body()
		if err != nil {
			c.logger.Warn("docs body unavailable",
				zap.String("url", ev.URL), zap.Error(err))
			return
		}
		c.bus.PublishDocsReceived(events.DocsReceived{
			OrganizationID: res.OrganizationID,
			ProjectID:      res.ProjectID,
			Body:           body,
		})
		c.addFact(trace.Fact{
			Predicate: "doc_fetch",
			Args:      []interface{}{res.OrganizationID, res.ProjectID, now.UnixMilli()},
			Timestamp: now,
		})
		c.rec.Log("docs_received", res.ProjectID, map[string]interface{}{"bytes": len(body)})
		c.logger.Info("docs payload captured",
			zap.String("project", res.ProjectID), zap.Int("bytes", len(body)))

	case classify.DocumentCreated:
		c.refreshScope(res.OrganizationID, res.ProjectID)
		c.addFact(trace.Fact{
			Predicate: "doc_created",
			Args:      []interface{}{res.OrganizationID, res.ProjectID, now.UnixMilli()},
			Timestamp: now,
		})
		c.rec.Log("doc_created", res.ProjectID, nil)
		c.NotifyMutation()

	case classify.DocumentDeleted:
		// Deletions never move the active scope: the ids in a DELETE URL can
		// belong to an artifact of a project the user is no longer in.
		c.bus.PublishArtifactDeleted(events.ArtifactDeleted{ArtifactID: res.DocumentID})
		c.addFact(trace.Fact{
			Predicate: "doc_deleted",
			Args:      []interface{}{res.DocumentID, now.UnixMilli()},
			Timestamp: now,
		})
		c.rec.Log("artifact_deleted", res.ProjectID, map[string]string{"uuid": res.DocumentID})
		c.NotifyMutation()

	case classify.ContextSignal:
		if c.refreshScope(res.OrganizationID, res.ProjectID) {
			c.addFact(trace.Fact{
				Predicate: "context_switch",
				Args:      []interface{}{res.OrganizationID, res.ProjectID, now.UnixMilli()},
				Timestamp: now,
			})
		}
	}
}

// OnNavigated reacts to the shell page moving. Project page loads update the
// scope and announce the change; any product-host navigation re-installs the
// in-page helper, because page loads wipe injected state.
func (c *Correlator) OnNavigated(url string) {
	c.mu.Lock()
	c.scope.LastVisitedURL = url
	c.mu.Unlock()

	res := c.classifier.Classify(url, http.MethodGet)
	if res.Kind == classify.ProjectNavigated {
		c.mu.Lock()
		duplicate := c.scope.ProjectURL == res.ProjectURL
		if !duplicate {
			c.scope.ProjectURL = res.ProjectURL
			c.scope.ProjectID = res.ProjectID
		}
		c.mu.Unlock()

		if !duplicate {
			now := time.Now()
			c.bus.PublishProjectChanged(events.ProjectChanged{
				ProjectID:  res.ProjectID,
				ProjectURL: res.ProjectURL,
			})
			c.addFact(trace.Fact{
				Predicate: "project_change",
				Args:      []interface{}{res.ProjectURL, now.UnixMilli()},
				Timestamp: now,
			})
			c.rec.Log("project_changed", res.ProjectID, map[string]string{"url": res.ProjectURL})
			c.logger.Info("active project changed",
				zap.String("project", res.ProjectID), zap.String("url", res.ProjectURL))
		}
	}

	if c.classifier.IsProductHost(url) {
		if bridge := c.currentBridge(); bridge != nil {
			ctx, cancel := context.WithTimeout(context.Background(), followUpTimeout)
			if err := bridge.InjectAutocomplete(ctx); err != nil {
				c.logger.Debug("autocomplete injection failed",
					zap.String("url", url), zap.Error(err))
			}
			cancel()
		}
	}
}

// NotifyMutation arms both follow-up debouncers. Called for wire-observed
// mutations and by the bridge after it performs one itself.
func (c *Correlator) NotifyMutation() {
	c.mu.RLock()
	closed := c.closed
	c.mu.RUnlock()
	if closed {
		return
	}
	c.reload.Trigger()
	c.refetch.Trigger()
}

// MutationPerformed satisfies the bridge's mutation sink.
func (c *Correlator) MutationPerformed() {
	c.NotifyMutation()
}

// ActiveScope reports the current org/project pair; ok is false until both
// halves have been observed.
func (c *Correlator) ActiveScope() (org, project string, ok bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.scope.OrganizationID == "" || c.scope.ProjectID == "" {
		return "", "", false
	}
	return c.scope.OrganizationID, c.scope.ProjectID, true
}

// CurrentScope returns a snapshot of the full scope for status reporting.
func (c *Correlator) CurrentScope() Scope {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.scope
}

// Close cancels any pending follow-ups. Events arriving after Close are
// still classified but schedule nothing.
func (c *Correlator) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.reload.Dispose()
	c.refetch.Dispose()
}

// refreshScope applies last-write-wins context updates; empty halves never
// overwrite known values.
func (c *Correlator) refreshScope(org, project string) bool {
	if org == "" && project == "" {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	changed := false
	if org != "" && org != c.scope.OrganizationID {
		c.scope.OrganizationID = org
		changed = true
	}
	if project != "" && project != c.scope.ProjectID {
		c.scope.ProjectID = project
		changed = true
	}
	if changed {
		c.logger.Debug("scope refreshed",
			zap.String("org", c.scope.OrganizationID),
			zap.String("project", c.scope.ProjectID))
	}
	return changed
}

// reloadProjectPage runs when the reload debouncer fires. It re-checks the
// live URL first: the user may have left the project during the quiet period.
func (c *Correlator) reloadProjectPage() {
	ctx, cancel := context.WithTimeout(context.Background(), followUpTimeout)
	defer cancel()

	url, err := c.driver.CurrentURL(ctx)
	if err != nil {
		c.logger.Warn("current url unavailable, skipping reload", zap.Error(err))
		return
	}
	if !c.classifier.IsProjectPage(url) {
		c.logger.Debug("skip reload, shell page left the project", zap.String("url", url))
		return
	}
	if err := c.driver.Reload(ctx); err != nil {
		c.logger.Warn("page reload failed", zap.Error(err))
		return
	}
	c.rec.Log("page_reloaded", c.CurrentScope().ProjectID, map[string]string{"url": url})
}

// refetchDocs runs when the refetch debouncer fires. The fetched payload
// loops back through the network tap like any other docs response.
func (c *Correlator) refetchDocs() {
	bridge := c.currentBridge()
	if bridge == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), followUpTimeout)
	defer cancel()
	if err := bridge.FetchDocs(ctx); err != nil {
		c.logger.Warn("docs refetch failed", zap.Error(err))
	}
}

func (c *Correlator) currentBridge() Bridge {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.bridge
}

func (c *Correlator) addFact(f trace.Fact) {
	if c.tracer == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := c.tracer.AddFacts(ctx, []trace.Fact{f}); err != nil {
		c.logger.Warn("trace fact rejected", zap.String("predicate", f.Predicate), zap.Error(err))
	}
}
