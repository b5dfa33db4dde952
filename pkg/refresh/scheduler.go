// Package refresh keeps the entity cache of a platform family up to date.
package refresh

import (
	"context"
	"sync"
	"time"

	"github.com/sw33tLie/xtmscope/pkg/platforms"
	"github.com/sw33tLie/xtmscope/pkg/storage"
	"golang.org/x/sync/errgroup"
)

// Logger abstracts logging so callers can use logrus, stdlib log, or any
// other logger that satisfies this interface.
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

const (
	DefaultInterval      = 30 * time.Minute
	DefaultRetryInterval = 5 * time.Minute
	DefaultFetchTimeout  = 60 * time.Second
	DefaultForceWait     = 30 * time.Second
	defaultPollEvery     = 500 * time.Millisecond
)

// ClientSource lists the configured clients of a family.
type ClientSource interface {
	Clients(f platforms.Family) []platforms.Client
}

// State is the scheduler lifecycle state.
type State string

const (
	StateIdle       State = "idle"
	StateRefreshing State = "refreshing"
	StateScheduled  State = "scheduled"
)

// Config configures a Scheduler. Zero durations take the defaults.
type Config struct {
	Family  platforms.Family
	Clients ClientSource
	Store   storage.Store

	Interval      time.Duration // after a fully successful run
	RetryInterval time.Duration // after a failed or partial run
	FetchTimeout  time.Duration // per entity type fetch
	ForceWait     time.Duration // how long a forced refresh waits for one in flight
	PollEvery     time.Duration

	Log Logger
	Now func() time.Time
}

// Status is a snapshot of the scheduler.
type Status struct {
	Family          platforms.Family `json:"family"`
	State           State            `json:"state"`
	LastStartedAt   time.Time        `json:"lastStartedAt"`
	LastDuration    time.Duration    `json:"lastDuration"`
	LastSucceeded   bool             `json:"lastSucceeded"`
	NextRunAt       time.Time        `json:"nextRunAt"`
	PlatformResults []PlatformResult `json:"platformResults"`
}

// Scheduler periodically refreshes the cache of one platform family.
type Scheduler struct {
	cfg Config
	log Logger

	mu        sync.Mutex
	inFlight  int
	running   bool
	forceNext bool
	status    Status
	stopCh    chan struct{}
	doneCh    chan struct{}
	wakeCh    chan struct{}
}

// New creates a scheduler. It does nothing until Start or Refresh is called.
func New(cfg Config) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = DefaultRetryInterval
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = DefaultFetchTimeout
	}
	if cfg.ForceWait <= 0 {
		cfg.ForceWait = DefaultForceWait
	}
	if cfg.PollEvery <= 0 {
		cfg.PollEvery = defaultPollEvery
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	log := cfg.Log
	if log == nil {
		log = nopLogger{}
	}
	return &Scheduler{
		cfg:    cfg,
		log:    log,
		status: Status{Family: cfg.Family, State: StateIdle},
		wakeCh: make(chan struct{}, 1),
	}
}

func (s *Scheduler) Family() platforms.Family { return s.cfg.Family }

// Start runs an immediate refresh in the background, then keeps refreshing
// on a timer until Stop is called or ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	stop, done := s.stopCh, s.doneCh
	s.mu.Unlock()

	s.log.Infof("Starting %s cache scheduler (interval: %s, retry: %s)", s.cfg.Family, s.cfg.Interval, s.cfg.RetryInterval)
	go s.run(ctx, stop, done)
	return nil
}

// Stop stops the loop and waits for an in-progress run to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	close(s.stopCh)
	done := s.doneCh
	s.mu.Unlock()

	<-done
	s.log.Infof("Stopped %s cache scheduler", s.cfg.Family)
}

// Reinit asks a running loop for an immediate forced refresh, typically
// after the platform settings changed. The refresh waits for a run already
// in flight instead of being skipped.
func (s *Scheduler) Reinit() {
	s.mu.Lock()
	s.forceNext = true
	s.mu.Unlock()
	select {
	case s.wakeCh <- struct{}{}:
	default:
	}
}

func (s *Scheduler) run(ctx context.Context, stop, done chan struct{}) {
	defer s.exit(done)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-s.wakeCh:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		case <-timer.C:
		}

		s.mu.Lock()
		force := s.forceNext
		s.forceNext = false
		s.mu.Unlock()
		if force {
			// the pending wake is served by this run
			select {
			case <-s.wakeCh:
			default:
			}
		}

		ok := s.Refresh(ctx, force)
		delay := s.nextDelay(ok)

		s.mu.Lock()
		s.status.NextRunAt = s.cfg.Now().Add(delay)
		if s.inFlight == 0 {
			s.status.State = StateScheduled
		}
		s.mu.Unlock()
		s.log.Debugf("Next %s refresh in %s", s.cfg.Family, delay)
		timer.Reset(delay)
	}
}

// exit marks the loop as stopped, so a later Start runs a new one even when
// the loop ended because its context was cancelled.
func (s *Scheduler) exit(done chan struct{}) {
	s.mu.Lock()
	s.running = false
	s.forceNext = false
	if s.inFlight == 0 {
		s.status.State = StateIdle
	}
	s.status.NextRunAt = time.Time{}
	s.mu.Unlock()
	close(done)
}

func (s *Scheduler) nextDelay(succeeded bool) time.Duration {
	if succeeded {
		return s.cfg.Interval
	}
	return s.cfg.RetryInterval
}

// Refresh refreshes every platform of the family and reports whether all of
// them succeeded. A non-forced call while another run is in flight returns
// the last known outcome without doing anything. A forced call waits for the
// run in flight to finish, up to ForceWait, then proceeds anyway.
func (s *Scheduler) Refresh(ctx context.Context, force bool) bool {
	if !s.begin(ctx, force) {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.status.LastSucceeded
	}

	start := s.cfg.Now()
	var results []PlatformResult
	ok := true
	defer func() { s.end(start, results, ok) }()

	clients := s.cfg.Clients.Clients(s.cfg.Family)
	if len(clients) == 0 {
		s.log.Debugf("No %s platforms configured, nothing to refresh", s.cfg.Family)
		return true
	}

	results = make([]PlatformResult, len(clients))
	var g errgroup.Group
	for i, c := range clients {
		id := c.Instance().ID
		g.Go(func() error {
			results[i] = RefreshPlatform(ctx, PlatformConfig{
				Client:       c,
				Store:        s.cfg.Store,
				FetchTimeout: s.cfg.FetchTimeout,
				Now:          s.cfg.Now,
				Log:          s.log,
				Active:       func() bool { return s.configured(id) },
			})
			return nil
		})
	}
	_ = g.Wait()

	for _, r := range results {
		if !r.Succeeded {
			ok = false
		}
	}
	return ok
}

// configured reports whether platformID is still one of the family's clients.
func (s *Scheduler) configured(platformID string) bool {
	for _, c := range s.cfg.Clients.Clients(s.cfg.Family) {
		if c.Instance().ID == platformID {
			return true
		}
	}
	return false
}

func (s *Scheduler) begin(ctx context.Context, force bool) bool {
	deadline := time.Now().Add(s.cfg.ForceWait)
	for {
		s.mu.Lock()
		expired := force && !time.Now().Before(deadline)
		if s.inFlight == 0 || expired {
			if expired {
				s.log.Warnf("Forced %s refresh proceeding after waiting %s for the previous run", s.cfg.Family, s.cfg.ForceWait)
			}
			s.inFlight++
			s.status.State = StateRefreshing
			s.mu.Unlock()
			return true
		}
		s.mu.Unlock()

		if !force {
			s.log.Debugf("A %s refresh is already in flight, skipping", s.cfg.Family)
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(s.cfg.PollEvery):
		}
	}
}

func (s *Scheduler) end(start time.Time, results []PlatformResult, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inFlight--
	s.status.LastStartedAt = start
	s.status.LastDuration = s.cfg.Now().Sub(start)
	s.status.LastSucceeded = ok
	s.status.PlatformResults = results
	if s.inFlight == 0 {
		if s.running {
			s.status.State = StateScheduled
		} else {
			s.status.State = StateIdle
		}
	}
}

// State returns the current lifecycle state.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status.State
}

// IsRefreshing reports whether a run is in flight.
func (s *Scheduler) IsRefreshing() bool {
	return s.State() == StateRefreshing
}

// Status returns a snapshot of the scheduler.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.status
	out.PlatformResults = append([]PlatformResult(nil), s.status.PlatformResults...)
	return out
}
