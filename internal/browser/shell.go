// Package browser owns the Chrome instance the shell rides on. It launches
// or attaches to a browser via Rod, keeps a single product page, and streams
// network and navigation events to an observer. The page is logged into the
// product by a human; everything the shell knows, it learns by watching this
// page's traffic.
package browser

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"

	"docbridge/internal/config"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"
)

// ErrBrowserGone means a page operation was attempted while no browser is
// connected (before Start, after Shutdown, or after a crash).
var ErrBrowserGone = errors.New("browser not connected")

// ResponseEvent is one observed network response. Body is lazy: it pulls the
// response body over CDP on first call and caches the result, because bodies
// are only retrievable while the browser still holds them and most responses
// are never read.
type ResponseEvent struct {
	URL    string
	Method string
	Status int
	Body   func() ([]byte, error)
}

// Observer receives the shell page's traffic and navigation stream.
type Observer interface {
	OnResponse(ev ResponseEvent)
	OnNavigated(url string)
}

// Shell owns the detached Chrome instance and the single product page.
type Shell struct {
	cfg    config.BrowserConfig
	start  string
	logger *zap.Logger

	mu         sync.RWMutex
	browser    *rod.Browser
	page       *rod.Page
	controlURL string
	observers  []Observer
}

// NewShell builds the shell; Start must be called before any page operation.
func NewShell(cfg config.BrowserConfig, startURL string, logger *zap.Logger) *Shell {
	return &Shell{
		cfg:    cfg,
		start:  startURL,
		logger: logger,
	}
}

// Attach registers an observer for the page's event stream. Must be called
// before Start.
func (s *Shell) Attach(obs Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, obs)
}

// Start connects to an existing Chrome or launches a new one, opens the
// product page, and begins streaming events.
func (s *Shell) Start(ctx context.Context) error {
	controlURL := s.cfg.DebuggerURL
	if controlURL == "" && len(s.cfg.Launch) > 0 {
		bin := s.cfg.Launch[0]
		launch := launcher.New().Bin(bin).Headless(s.cfg.IsHeadless())
		for _, rawFlag := range s.cfg.Launch[1:] {
			flagStr := strings.TrimLeft(rawFlag, "-")
			name, val, hasVal := strings.Cut(flagStr, "=")
			if hasVal {
				launch = launch.Set(flags.Flag(name), val)
			} else {
				launch = launch.Set(flags.Flag(name))
			}
		}
		url, err := launch.Launch()
		if err != nil {
			// Fallback: let Rod pick the port and defaults.
			fallback := launcher.New().Bin(bin).Headless(s.cfg.IsHeadless())
			alt, altErr := fallback.Launch()
			if altErr != nil {
				return fmt.Errorf("launch chrome: %w (fallback: %v)", err, altErr)
			}
			url = alt
		}
		controlURL = url
	}

	if controlURL == "" {
		return errors.New("no debugger_url or launch command provided")
	}

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		return fmt.Errorf("connect to chrome: %w", err)
	}

	page, err := browser.Page(proto.TargetCreateTarget{URL: s.start})
	if err != nil {
		_ = browser.Close()
		return fmt.Errorf("create shell page: %w", err)
	}

	if err := (proto.EmulationSetDeviceMetricsOverride{
		Width:             s.cfg.GetViewportWidth(),
		Height:            s.cfg.GetViewportHeight(),
		DeviceScaleFactor: 1.0,
		Mobile:            false,
	}).Call(page); err != nil {
		s.logger.Warn("set viewport failed", zap.Error(err))
	}

	s.mu.Lock()
	s.browser = browser
	s.page = page
	s.controlURL = controlURL
	s.mu.Unlock()

	s.startEventStream(ctx, page)
	s.logger.Info("browser connected", zap.String("control_url", controlURL))
	return nil
}

// startEventStream wires the CDP network and navigation streams to the
// registered observers. Methods arrive on NetworkRequestWillBeSent, statuses
// on NetworkResponseReceived, so we correlate the two by request id.
func (s *Shell) startEventStream(ctx context.Context, page *rod.Page) {
	var methodMu sync.Mutex
	methods := make(map[proto.NetworkRequestID]string)

	wait := page.Context(ctx).EachEvent(
		func(ev *proto.NetworkRequestWillBeSent) {
			if ev.Request == nil {
				return
			}
			methodMu.Lock()
			methods[ev.RequestID] = ev.Request.Method
			// The map only needs to cover in-flight requests.
			if len(methods) > 4096 {
				methods = make(map[proto.NetworkRequestID]string)
			}
			methodMu.Unlock()
		},
		func(ev *proto.NetworkResponseReceived) {
			if ev.Response == nil {
				return
			}
			methodMu.Lock()
			method := methods[ev.RequestID]
			delete(methods, ev.RequestID)
			methodMu.Unlock()
			if method == "" {
				method = "GET"
			}

			requestID := ev.RequestID
			var once sync.Once
			var body []byte
			var bodyErr error

			event := ResponseEvent{
				URL:    ev.Response.URL,
				Method: method,
				Status: ev.Response.Status,
				Body: func() ([]byte, error) {
					once.Do(func() {
						res, err := proto.NetworkGetResponseBody{RequestID: requestID}.Call(page)
						if err != nil {
							bodyErr = err
							return
						}
						if res.Base64Encoded {
							body, bodyErr = base64.StdEncoding.DecodeString(res.Body)
							return
						}
						body = []byte(res.Body)
					})
					return body, bodyErr
				},
			}
			s.notifyResponse(event)
		},
		func(ev *proto.PageFrameNavigated) {
			// Only the main frame counts as a navigation of the shell page.
			if ev.Frame == nil || ev.Frame.ParentID != "" {
				return
			}
			s.notifyNavigated(ev.Frame.URL)
		},
		func(ev *proto.PageNavigatedWithinDocument) {
			// SPA route changes never fire PageFrameNavigated.
			s.notifyNavigated(ev.URL)
		},
	)
	go wait()
}

func (s *Shell) notifyResponse(ev ResponseEvent) {
	s.mu.RLock()
	observers := s.observers
	s.mu.RUnlock()
	for _, obs := range observers {
		obs.OnResponse(ev)
	}
}

func (s *Shell) notifyNavigated(url string) {
	s.mu.RLock()
	observers := s.observers
	s.mu.RUnlock()
	for _, obs := range observers {
		obs.OnNavigated(url)
	}
}

// Navigate drives the shell page to a URL and waits for the load event.
func (s *Shell) Navigate(ctx context.Context, url string) error {
	page, err := s.currentPage()
	if err != nil {
		return err
	}
	p := page.Context(ctx).Timeout(s.cfg.NavigationTimeout())
	if err := p.Navigate(url); err != nil {
		return fmt.Errorf("navigate to %s: %w", url, err)
	}
	if err := p.WaitLoad(); err != nil {
		s.logger.Warn("wait load after navigate", zap.String("url", url), zap.Error(err))
	}
	return nil
}

// Reload refreshes the shell page.
func (s *Shell) Reload(ctx context.Context) error {
	page, err := s.currentPage()
	if err != nil {
		return err
	}
	return page.Context(ctx).Timeout(s.cfg.NavigationTimeout()).Reload()
}

// CurrentURL reports where the shell page is right now.
func (s *Shell) CurrentURL(ctx context.Context) (string, error) {
	page, err := s.currentPage()
	if err != nil {
		return "", err
	}
	info, err := page.Context(ctx).Info()
	if err != nil {
		return "", fmt.Errorf("page info: %w", err)
	}
	return info.URL, nil
}

// ExecuteScript evaluates JS in the page context, awaiting promises, and
// returns the result as a string. The code must be a function expression.
func (s *Shell) ExecuteScript(ctx context.Context, code string) (string, error) {
	page, err := s.currentPage()
	if err != nil {
		return "", err
	}

	res, err := page.Context(ctx).Evaluate(&rod.EvalOptions{
		JS:           code,
		ByValue:      true,
		AwaitPromise: true,
	})
	if err != nil {
		return "", fmt.Errorf("evaluate: %w", err)
	}
	if res == nil || res.Value.Nil() {
		return "", nil
	}
	return res.Value.Str(), nil
}

// IsConnected reports whether the browser is currently connected.
func (s *Shell) IsConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.browser != nil
}

// ControlURL returns the WebSocket debugger URL for the connected browser.
func (s *Shell) ControlURL() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.controlURL
}

// Shutdown closes the page and the underlying browser.
func (s *Shell) Shutdown() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.page != nil {
		_ = s.page.Close()
		s.page = nil
	}
	var err error
	if s.browser != nil {
		err = s.browser.Close()
		s.browser = nil
	}
	s.controlURL = ""
	s.logger.Info("browser shutdown complete")
	return err
}

func (s *Shell) currentPage() (*rod.Page, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.page == nil {
		return nil, ErrBrowserGone
	}
	return s.page, nil
}
