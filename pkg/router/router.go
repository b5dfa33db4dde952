// Package router dispatches typed messages to their handlers and wraps every
// outcome in a success or error envelope.
package router

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/sw33tLie/xtmscope/pkg/platforms"
	"github.com/sw33tLie/xtmscope/pkg/storage"
)

// Logger abstracts logging so callers can use logrus or any other logger.
type Logger interface {
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	Debugf(format string, args ...interface{})
}

type nopLogger struct{}

func (nopLogger) Infof(string, ...interface{})  {}
func (nopLogger) Warnf(string, ...interface{})  {}
func (nopLogger) Errorf(string, ...interface{}) {}
func (nopLogger) Debugf(string, ...interface{}) {}

// Clients looks up configured platform clients.
type Clients interface {
	Client(id string) (platforms.Client, bool)
}

// Refresher is the part of a refresh scheduler the router drives.
type Refresher interface {
	Family() platforms.Family
	Refresh(ctx context.Context, force bool) bool
	IsRefreshing() bool
}

// Settings are the user preferences that shape scans and stats. They are
// read on every message so a reload takes effect immediately.
type Settings struct {
	DisabledTypes       map[platforms.Family][]string
	DisabledObservables []string
	MinKeyLength        int
	MaxAge              time.Duration
	ConnectionTimeout   time.Duration
}

// Deps are the collaborators of a Router.
type Deps struct {
	Clients    Clients
	Stores     map[platforms.Family]storage.Store
	Schedulers []Refresher
	Settings   func() Settings
	Log        Logger
	Now        func() time.Time
}

type handlerFunc func(ctx context.Context, payload json.RawMessage) (interface{}, error)

// Router dispatches Requests by type.
type Router struct {
	deps     Deps
	log      Logger
	handlers map[MessageType]handlerFunc
}

// handle adapts a handler with a typed payload. A missing payload decodes
// to the zero value.
func handle[P any](fn func(ctx context.Context, p P) (interface{}, error)) handlerFunc {
	return func(ctx context.Context, raw json.RawMessage) (interface{}, error) {
		var p P
		if len(raw) > 0 && string(raw) != "null" {
			if err := json.Unmarshal(raw, &p); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrBadPayload, err)
			}
		}
		return fn(ctx, p)
	}
}

func noPayload(fn func(ctx context.Context) (interface{}, error)) handlerFunc {
	return func(ctx context.Context, _ json.RawMessage) (interface{}, error) { return fn(ctx) }
}

// New creates a router. Stores must hold a store for every family.
func New(deps Deps) *Router {
	if deps.Settings == nil {
		deps.Settings = func() Settings { return Settings{} }
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	log := deps.Log
	if log == nil {
		log = nopLogger{}
	}
	r := &Router{deps: deps, log: log}
	r.handlers = map[MessageType]handlerFunc{
		ScanPage:               handle(r.scanPage),
		ScanOtherPlatform:      handle(r.scanOtherPlatform),
		ScanAll:                handle(r.scanAll),
		RefreshCache:           noPayload(r.refreshCache),
		GetCacheStats:          noPayload(r.cacheStats),
		ClearPlatformCache:     handle(r.clearPlatformCache),
		TestPlatformConnection: handle(r.testConnection),
		GetCachedEntity:        handle(r.cachedEntity),
	}
	return r
}

// Types lists the message types the router understands.
func (r *Router) Types() []MessageType {
	out := make([]MessageType, 0, len(r.handlers))
	for t := range r.handlers {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Dispatch runs the handler of req.Type. It never panics and never returns
// an error: failures are reported in the envelope.
func (r *Router) Dispatch(ctx context.Context, req Request) (env Envelope) {
	defer func() {
		if p := recover(); p != nil {
			r.log.Errorf("Handler for %s panicked: %v", req.Type, p)
			env = Envelope{Success: false, Error: fmt.Sprintf("internal error handling %s", req.Type)}
		}
	}()

	h, ok := r.handlers[req.Type]
	if !ok {
		return Envelope{Success: false, Error: fmt.Sprintf("%s: %s", ErrUnknownMessage, req.Type)}
	}
	data, err := h(ctx, req.Payload)
	if err != nil {
		r.log.Debugf("%s failed: %v", req.Type, err)
		return Envelope{Success: false, Error: err.Error()}
	}
	return Envelope{Success: true, Data: data}
}

func (r *Router) store(f platforms.Family) (storage.Store, error) {
	s, ok := r.deps.Stores[f]
	if !ok || s == nil {
		return nil, fmt.Errorf("%w: %s", platforms.ErrUnsupportedFamily, f)
	}
	return s, nil
}
