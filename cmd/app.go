package cmd

import (
	"context"
	"fmt"

	"github.com/sw33tLie/xtmscope/internal/config"
	"github.com/sw33tLie/xtmscope/internal/utils"
	"github.com/sw33tLie/xtmscope/pkg/platforms"
	"github.com/sw33tLie/xtmscope/pkg/platforms/openaev"
	"github.com/sw33tLie/xtmscope/pkg/platforms/opencti"
	"github.com/sw33tLie/xtmscope/pkg/refresh"
	"github.com/sw33tLie/xtmscope/pkg/router"
	"github.com/sw33tLie/xtmscope/pkg/storage"
)

// app wires the registry, the cache stores, the schedulers and the router
// around the live settings.
type app struct {
	settings   *config.Holder
	registry   *platforms.Registry
	stores     *storage.Stores
	schedulers []*refresh.Scheduler
	router     *router.Router
}

// factories builds clients with the transport settings current at build
// time, so a reload that changes the proxy applies to the new clients.
func factories(h *config.Holder, retryMax int) map[platforms.Family]platforms.Factory {
	return map[platforms.Family]platforms.Factory{
		platforms.FamilyOpenCTI: func(inst platforms.Instance) (platforms.Client, error) {
			return opencti.Factory(h.Get().HTTPClientConfig(retryMax))(inst)
		},
		platforms.FamilyOpenAEV: func(inst platforms.Instance) (platforms.Client, error) {
			return openaev.Factory(h.Get().HTTPClientConfig(retryMax))(inst)
		},
	}
}

// clientFactories is swapped out in tests.
var clientFactories = factories

// newApp opens the cache and builds every component. retryMax is the
// transport retry count of the platform clients.
func newApp(s config.Settings, retryMax int) (*app, error) {
	a := &app{settings: config.NewHolder(s)}

	stores, err := storage.OpenStores(s.Backend())
	if err != nil {
		return nil, err
	}
	a.stores = stores

	a.registry = platforms.NewRegistry(clientFactories(a.settings, retryMax), utils.Log)
	a.registry.Reload(s.Platforms)

	refreshers := make([]router.Refresher, 0, len(platforms.Families))
	for _, f := range platforms.Families {
		sch := refresh.New(refresh.Config{
			Family:        f,
			Clients:       a.registry,
			Store:         stores.Family(f),
			Interval:      s.Refresh.Interval,
			RetryInterval: s.Refresh.RetryInterval,
			FetchTimeout:  s.Refresh.FetchTimeout,
			ForceWait:     s.Refresh.ForceWait,
			Log:           utils.Log.WithField("family", f),
		})
		a.schedulers = append(a.schedulers, sch)
		refreshers = append(refreshers, sch)
	}

	a.router = router.New(router.Deps{
		Clients:    a.registry,
		Stores:     stores.ByFamily,
		Schedulers: refreshers,
		Settings:   a.settings.Router,
		Log:        utils.Log,
	})
	return a, nil
}

// start launches every scheduler loop.
func (a *app) start(ctx context.Context) error {
	for _, s := range a.schedulers {
		if err := s.Start(ctx); err != nil {
			return fmt.Errorf("starting %s scheduler: %w", s.Family(), err)
		}
	}
	return nil
}

// reload applies new settings: clients are rebuilt, caches of platforms
// that are gone are dropped and every scheduler refreshes right away.
func (a *app) reload(ctx context.Context, s config.Settings) {
	a.settings.Set(s)
	a.registry.Reload(s.Platforms)
	for _, f := range platforms.Families {
		removed, err := a.stores.Family(f).CleanupOrphaned(ctx, a.registry.ValidIDs(f))
		if err != nil {
			utils.Log.Warnf("Could not clean up %s cache: %v", f, err)
			continue
		}
		for _, id := range removed {
			utils.Log.Infof("Dropped cached entities of removed %s platform %s", f, id)
		}
	}
	for _, sch := range a.schedulers {
		sch.Reinit()
	}
}

// dispatch sends one message and turns a failed envelope into an error.
func (a *app) dispatch(ctx context.Context, typ router.MessageType, payload interface{}) (interface{}, error) {
	req, err := newRequest(typ, payload)
	if err != nil {
		return nil, err
	}
	env := a.router.Dispatch(ctx, req)
	if !env.Success {
		return nil, fmt.Errorf("%s", env.Error)
	}
	return env.Data, nil
}

func (a *app) close() {
	for _, s := range a.schedulers {
		s.Stop()
	}
	if err := a.stores.Close(); err != nil {
		utils.Log.Warnf("Closing cache: %v", err)
	}
}
