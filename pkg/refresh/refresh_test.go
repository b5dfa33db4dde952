package refresh

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/sw33tLie/xtmscope/internal/utils"
	"github.com/sw33tLie/xtmscope/pkg/platforms"
	"github.com/sw33tLie/xtmscope/pkg/storage"
)

// MockClient is a mock implementation of platforms.Client
type MockClient struct {
	mock.Mock
	inst platforms.Instance
}

func (m *MockClient) Instance() platforms.Instance { return m.inst }

func (m *MockClient) FetchEntitiesOfType(ctx context.Context, entityType string) ([]platforms.Entity, error) {
	args := m.Called(ctx, entityType)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]platforms.Entity), args.Error(1)
}

func (m *MockClient) TestConnection(ctx context.Context) (platforms.ConnectionInfo, error) {
	args := m.Called(ctx)
	return args.Get(0).(platforms.ConnectionInfo), args.Error(1)
}

type staticClients map[platforms.Family][]platforms.Client

func (s staticClients) Clients(f platforms.Family) []platforms.Client { return s[f] }

func newStore(t *testing.T, f platforms.Family) storage.Store {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "cache.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db.Store(f)
}

func ctiInstance(id string) platforms.Instance {
	return platforms.Instance{ID: id, Name: id, URL: "https://cti.example", Token: "t", Enabled: true, Type: platforms.FamilyOpenCTI}
}

// partialClient answers every opencti type with one entity except the failing ones.
func partialClient(id string, failing ...string) *MockClient {
	m := &MockClient{inst: ctiInstance(id)}
	fail := map[string]bool{}
	for _, f := range failing {
		fail[f] = true
	}
	for _, typ := range platforms.EntityTypes(platforms.FamilyOpenCTI) {
		if fail[typ] {
			m.On("FetchEntitiesOfType", mock.Anything, typ).Return(nil, errors.New("502 bad gateway"))
			continue
		}
		m.On("FetchEntitiesOfType", mock.Anything, typ).Return([]platforms.Entity{{ID: typ + "-1", Name: typ + " one", Type: typ}}, nil)
	}
	return m
}

func TestRefreshPlatformPartialFailure(t *testing.T) {
	ctx := context.Background()
	store := newStore(t, platforms.FamilyOpenCTI)
	prev := storage.EntityTypeCache{
		Timestamp: 1000,
		Entities: map[string][]storage.CachedEntity{
			"Malware": {{ID: "old-m", Name: "Emotet", Type: "Malware", PlatformID: "cti"}},
		},
		TypeTimestamps: map[string]int64{"Malware": 1000},
	}
	require.NoError(t, store.Set(ctx, "cti", prev))

	client := partialClient("cti", "Malware", "Tool", "City")
	now := time.UnixMilli(5000)
	res := RefreshPlatform(ctx, PlatformConfig{Client: client, Store: store, Now: func() time.Time { return now }})

	assert.True(t, res.Succeeded)
	assert.Equal(t, 16, res.Attempted)
	assert.Equal(t, 3, res.Failed)
	assert.Equal(t, 13, res.Total)
	client.AssertNumberOfCalls(t, "FetchEntitiesOfType", 16)

	got, found, err := store.Get(ctx, "cti")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, int64(1000), got.Timestamp, "timestamp must not advance when a type failed")
	assert.Equal(t, prev.Entities["Malware"], got.Entities["Malware"], "failed type keeps previous data")
	assert.Equal(t, int64(1000), got.TypeTimestamps["Malware"])
	assert.NotContains(t, got.Entities, "Tool")
	assert.Len(t, got.Entities["Intrusion-Set"], 1)
	assert.Equal(t, int64(5000), got.TypeTimestamps["Intrusion-Set"])
	assert.Equal(t, 14, got.Total())
}

func TestRefreshPlatformFirstRunAdvancesTimestamp(t *testing.T) {
	ctx := context.Background()
	store := newStore(t, platforms.FamilyOpenCTI)
	now := time.UnixMilli(7000)
	res := RefreshPlatform(ctx, PlatformConfig{Client: partialClient("cti", "Tool"), Store: store, Now: func() time.Time { return now }})
	assert.True(t, res.Succeeded)

	got, found, err := store.Get(ctx, "cti")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, int64(7000), got.Timestamp)
}

func TestRefreshPlatformAllFailedKeepsCache(t *testing.T) {
	ctx := context.Background()
	store := newStore(t, platforms.FamilyOpenCTI)
	res := RefreshPlatform(ctx, PlatformConfig{Client: partialClient("cti", platforms.EntityTypes(platforms.FamilyOpenCTI)...), Store: store})
	assert.False(t, res.Succeeded)
	assert.Equal(t, 16, res.Failed)

	_, found, err := store.Get(ctx, "cti")
	require.NoError(t, err)
	assert.False(t, found, "nothing should be written when every type failed")
}

func TestRefreshPlatformEmptyIsNotSuccess(t *testing.T) {
	ctx := context.Background()
	m := &MockClient{inst: ctiInstance("cti")}
	m.On("FetchEntitiesOfType", mock.Anything, mock.Anything).Return([]platforms.Entity{}, nil)
	res := RefreshPlatform(ctx, PlatformConfig{Client: m, Store: newStore(t, platforms.FamilyOpenCTI)})
	assert.False(t, res.Succeeded)
	assert.Zero(t, res.Failed)
}

// hangingClient blocks on one type until its context ends.
type hangingClient struct {
	inst platforms.Instance
	hang string
}

func (h *hangingClient) Instance() platforms.Instance { return h.inst }

func (h *hangingClient) FetchEntitiesOfType(ctx context.Context, entityType string) ([]platforms.Entity, error) {
	if entityType == h.hang {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return []platforms.Entity{{ID: entityType, Name: entityType + " entity"}}, nil
}

func (h *hangingClient) TestConnection(ctx context.Context) (platforms.ConnectionInfo, error) {
	return platforms.ConnectionInfo{Success: true}, nil
}

func TestRefreshPlatformTimeoutCountsAsFailure(t *testing.T) {
	client := &hangingClient{inst: ctiInstance("cti"), hang: "Campaign"}
	res := RefreshPlatform(context.Background(), PlatformConfig{
		Client:       client,
		Store:        newStore(t, platforms.FamilyOpenCTI),
		FetchTimeout: 50 * time.Millisecond,
	})
	assert.True(t, res.Succeeded)
	assert.Equal(t, 1, res.Failed)
	require.Len(t, res.Errors, 1)
	assert.ErrorIs(t, res.Errors[0], utils.ErrTimeout)
}

func TestConvert(t *testing.T) {
	raw := []platforms.Entity{
		{ID: "ap-1", Name: "Phishing", Aliases: []string{"phishing", "Spearphishing"}, ExternalID: "T1566"},
		{ID: "ap-1", Name: "Duplicate"},
		{ID: "", Name: "No id"},
		{ID: "ap-2", Name: "  "},
		{ID: "ap-3", Name: "Valid Accounts"},
	}
	got := Convert(raw, "Attack-Pattern", "cti")
	require.Len(t, got, 2)
	assert.Equal(t, storage.CachedEntity{
		ID: "ap-1", Name: "Phishing", Aliases: []string{"Spearphishing", "T1566"},
		ExternalID: "T1566", Type: "Attack-Pattern", PlatformID: "cti",
	}, got[0])
	assert.Nil(t, got[1].Aliases)
}

func TestSchedulerNoPlatformsIsSuccess(t *testing.T) {
	s := New(Config{Family: platforms.FamilyOpenAEV, Clients: staticClients{}, Store: newStore(t, platforms.FamilyOpenAEV)})
	assert.True(t, s.Refresh(context.Background(), false))
	assert.Equal(t, StateIdle, s.State())
	assert.True(t, s.Status().LastSucceeded)
}

func TestSchedulerIntervals(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name    string
		failing []string
		want    time.Duration
	}{
		{"partial failure uses long interval", []string{"Malware", "Tool", "City"}, time.Hour},
		{"total failure uses retry interval", platforms.EntityTypes(platforms.FamilyOpenCTI), 2 * time.Hour},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New(Config{
				Family:        platforms.FamilyOpenCTI,
				Clients:       staticClients{platforms.FamilyOpenCTI: {partialClient("cti", tt.failing...)}},
				Store:         newStore(t, platforms.FamilyOpenCTI),
				Interval:      time.Hour,
				RetryInterval: 2 * time.Hour,
				Now:           func() time.Time { return now },
			})
			require.NoError(t, s.Start(context.Background()))
			defer s.Stop()

			require.Eventually(t, func() bool { return !s.Status().NextRunAt.IsZero() }, 5*time.Second, 10*time.Millisecond)
			st := s.Status()
			assert.Equal(t, now.Add(tt.want), st.NextRunAt)
			assert.Equal(t, StateScheduled, st.State)
			require.Len(t, st.PlatformResults, 1)
		})
	}
}

// gatedClient blocks every fetch of the first run until released.
type gatedClient struct {
	inst  platforms.Instance
	gate  chan struct{}
	calls atomic.Int32
}

func (g *gatedClient) Instance() platforms.Instance { return g.inst }

func (g *gatedClient) FetchEntitiesOfType(ctx context.Context, entityType string) ([]platforms.Entity, error) {
	if g.calls.Add(1) <= int32(len(platforms.EntityTypes(g.inst.Type))) {
		select {
		case <-g.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return []platforms.Entity{{ID: entityType, Name: entityType + " entity"}}, nil
}

func (g *gatedClient) TestConnection(ctx context.Context) (platforms.ConnectionInfo, error) {
	return platforms.ConnectionInfo{Success: true}, nil
}

func TestSchedulerInFlightGuard(t *testing.T) {
	ctx := context.Background()
	client := &gatedClient{inst: ctiInstance("cti"), gate: make(chan struct{})}
	s := New(Config{
		Family:    platforms.FamilyOpenCTI,
		Clients:   staticClients{platforms.FamilyOpenCTI: {client}},
		Store:     newStore(t, platforms.FamilyOpenCTI),
		ForceWait: 5 * time.Second,
		PollEvery: 5 * time.Millisecond,
	})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.Refresh(ctx, false)
	}()
	require.Eventually(t, s.IsRefreshing, time.Second, 5*time.Millisecond)

	// a non-forced call is skipped and reports the last known outcome
	assert.False(t, s.Refresh(ctx, false))
	assert.LessOrEqual(t, int(client.calls.Load()), 16)

	forced := make(chan bool, 1)
	go func() { forced <- s.Refresh(ctx, true) }()
	time.Sleep(30 * time.Millisecond)
	assert.LessOrEqual(t, int(client.calls.Load()), 16, "forced refresh must wait for the run in flight")

	close(client.gate)
	wg.Wait()
	select {
	case ok := <-forced:
		assert.True(t, ok)
	case <-time.After(5 * time.Second):
		t.Fatal("forced refresh did not complete")
	}
	assert.Equal(t, int32(32), client.calls.Load())
	assert.Equal(t, StateIdle, s.State())
}

func TestSchedulerForcedProceedsAfterForceWait(t *testing.T) {
	ctx := context.Background()
	client := &gatedClient{inst: ctiInstance("cti"), gate: make(chan struct{})}
	s := New(Config{
		Family:    platforms.FamilyOpenCTI,
		Clients:   staticClients{platforms.FamilyOpenCTI: {client}},
		Store:     newStore(t, platforms.FamilyOpenCTI),
		ForceWait: 50 * time.Millisecond,
		PollEvery: 5 * time.Millisecond,
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Refresh(ctx, false)
	}()
	require.Eventually(t, s.IsRefreshing, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return client.calls.Load() == 16 }, time.Second, 5*time.Millisecond)

	// the first run is still blocked; the forced one gives up waiting and runs
	assert.True(t, s.Refresh(ctx, true))
	assert.Equal(t, StateRefreshing, s.State())

	close(client.gate)
	<-done
	assert.Equal(t, StateIdle, s.State())
}

func TestSchedulerReinitTriggersRefresh(t *testing.T) {
	gate := make(chan struct{})
	close(gate)
	client := &gatedClient{inst: ctiInstance("cti"), gate: gate}
	s := New(Config{
		Family:   platforms.FamilyOpenCTI,
		Clients:  staticClients{platforms.FamilyOpenCTI: {client}},
		Store:    newStore(t, platforms.FamilyOpenCTI),
		Interval: time.Hour,
	})
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	require.Eventually(t, func() bool { return client.calls.Load() == 16 && s.State() == StateScheduled }, 5*time.Second, 10*time.Millisecond)
	s.Reinit()
	require.Eventually(t, func() bool { return client.calls.Load() == 32 }, 5*time.Second, 10*time.Millisecond)
}

// mutableClients is a ClientSource whose platforms change while a test runs.
type mutableClients struct {
	mu   sync.Mutex
	list []platforms.Client
}

func (m *mutableClients) Clients(f platforms.Family) []platforms.Client {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []platforms.Client
	for _, c := range m.list {
		if c.Instance().Type == f {
			out = append(out, c)
		}
	}
	return out
}

func (m *mutableClients) add(c platforms.Client) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.list = append(m.list, c)
}

func (m *mutableClients) remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.list[:0]
	for _, c := range m.list {
		if c.Instance().ID != id {
			kept = append(kept, c)
		}
	}
	m.list = kept
}

func openGate() chan struct{} {
	gate := make(chan struct{})
	close(gate)
	return gate
}

func TestSchedulerReinitDuringForcedRefresh(t *testing.T) {
	ctx := context.Background()
	first := &gatedClient{inst: ctiInstance("first"), gate: openGate()}
	source := &mutableClients{list: []platforms.Client{first}}
	s := New(Config{
		Family:    platforms.FamilyOpenCTI,
		Clients:   source,
		Store:     newStore(t, platforms.FamilyOpenCTI),
		Interval:  time.Hour,
		ForceWait: 5 * time.Second,
		PollEvery: 5 * time.Millisecond,
	})
	require.NoError(t, s.Start(ctx))
	defer s.Stop()
	require.Eventually(t, func() bool { return first.calls.Load() == 16 && s.State() == StateScheduled }, 5*time.Second, 10*time.Millisecond)

	slow := &gatedClient{inst: ctiInstance("slow"), gate: make(chan struct{})}
	source.add(slow)
	forced := make(chan bool, 1)
	go func() { forced <- s.Refresh(ctx, true) }()
	require.Eventually(t, func() bool { return slow.calls.Load() == 16 }, 5*time.Second, 5*time.Millisecond)

	// settings saved while the forced run is still fetching
	added := &gatedClient{inst: ctiInstance("added"), gate: openGate()}
	source.add(added)
	s.Reinit()
	time.Sleep(20 * time.Millisecond)
	close(slow.gate)

	select {
	case ok := <-forced:
		assert.True(t, ok)
	case <-time.After(5 * time.Second):
		t.Fatal("forced refresh did not complete")
	}
	require.Eventually(t, func() bool { return added.calls.Load() == 16 }, 5*time.Second, 10*time.Millisecond,
		"a platform added by a settings save must be fetched without waiting for the next interval")
	require.Eventually(t, func() bool { return s.State() == StateScheduled }, 5*time.Second, 10*time.Millisecond)
}

func TestRefreshSkipsPlatformRemovedMidFetch(t *testing.T) {
	ctx := context.Background()
	store := newStore(t, platforms.FamilyOpenCTI)
	gone := &gatedClient{inst: ctiInstance("gone"), gate: make(chan struct{})}
	source := &mutableClients{list: []platforms.Client{gone}}
	s := New(Config{Family: platforms.FamilyOpenCTI, Clients: source, Store: store})

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Refresh(ctx, false)
	}()
	require.Eventually(t, func() bool { return gone.calls.Load() == 16 }, 5*time.Second, 5*time.Millisecond)

	source.remove("gone")
	removed, err := store.CleanupOrphaned(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, removed)
	close(gone.gate)
	<-done

	_, found, err := store.Get(ctx, "gone")
	require.NoError(t, err)
	assert.False(t, found, "a platform removed during its refresh must not come back")
	stats, err := store.Stats(ctx, time.Now(), time.Hour)
	require.NoError(t, err)
	assert.Empty(t, stats)
}

func TestRefreshPlatformDropsWriteWhenInactive(t *testing.T) {
	ctx := context.Background()
	store := newStore(t, platforms.FamilyOpenCTI)
	res := RefreshPlatform(ctx, PlatformConfig{
		Client: partialClient("cti"),
		Store:  store,
		Active: func() bool { return false },
	})
	assert.Equal(t, 16, res.Total)

	_, found, err := store.Get(ctx, "cti")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestSchedulerRestartsAfterContextCancel(t *testing.T) {
	client := &gatedClient{inst: ctiInstance("cti"), gate: openGate()}
	s := New(Config{
		Family:   platforms.FamilyOpenCTI,
		Clients:  staticClients{platforms.FamilyOpenCTI: {client}},
		Store:    newStore(t, platforms.FamilyOpenCTI),
		Interval: time.Hour,
	})

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Start(ctx))
	require.Eventually(t, func() bool { return s.State() == StateScheduled }, 5*time.Second, 10*time.Millisecond)
	cancel()
	require.Eventually(t, func() bool { return s.State() == StateIdle }, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()
	require.Eventually(t, func() bool { return client.calls.Load() == 32 }, 5*time.Second, 10*time.Millisecond,
		"Start after a cancelled context must run a new loop")
}
