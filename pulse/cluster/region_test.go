package cluster

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/teranos/tempo/am"
	"github.com/teranos/tempo/errors"
	tempotest "github.com/teranos/tempo/internal/testing"
	"github.com/teranos/tempo/pulse/executor"
	"github.com/teranos/tempo/pulse/job"
	"github.com/teranos/tempo/pulse/schedule"
)

var t0 = time.Date(2024, 5, 6, 12, 0, 0, 0, time.UTC)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

// testCluster shares one job store between in-process nodes.
type testCluster struct {
	t      *testing.T
	reg    *job.Registry[string]
	jobs   *job.MemoryRepository[string]
	execs  *job.MemoryExecutionRepository[string]
	org    uuid.UUID
	net    *bufNet
	leases LeaseStore
}

func newTestCluster(t *testing.T, leases LeaseStore) *testCluster {
	t.Helper()
	reg := job.NewRegistry[string]()
	jobs := job.NewMemoryRepository[string]()
	execs := job.NewMemoryExecutionRepository[string]()
	require.NoError(t, reg.RegisterRepository("memory", jobs))
	require.NoError(t, reg.RegisterExecutionRepository("memory-exec", execs))
	return &testCluster{t: t, reg: reg, jobs: jobs, execs: execs, org: uuid.New(), net: newBufNet(), leases: leases}
}

func (c *testCluster) execConfig() executor.Config {
	cfg := executor.DefaultConfig()
	cfg.SafetyTick = time.Hour
	cfg.RestartMinBackoff = 5 * time.Millisecond
	cfg.RestartMaxBackoff = 20 * time.Millisecond
	return cfg
}

// node starts a region for id whose ring holds members, served over
// bufconn. Every node can dial every other.
func (c *testCluster) node(id string, members ...string) *Region[string] {
	c.t.Helper()
	peers := make(map[string]string)
	for _, m := range []string{"node-a", "node-b", "node-c"} {
		peers[m] = "passthrough:///" + m
	}
	tr := NewGRPCTransport(peers, nil, c.net.dialer())
	c.t.Cleanup(func() { tr.Close() })

	r := NewRegion(RegionConfig{
		NodeID:       id,
		Members:      members,
		VirtualNodes: 32,
		Shards:       256,
		LeaseTTL:     time.Minute,
	}, executor.Deps[string]{
		Registry: c.reg,
		Clock:    func() time.Time { return t0 },
	}, c.execConfig(), c.leases, tr)

	c.net.serve(c.t, id, r.Register)
	c.t.Cleanup(r.Stop)
	return r
}

// jobOwnedBy registers a job whose shard the ring assigns to owner.
func (c *testCluster) jobOwnedBy(ring *Ring, owner string, start time.Time) job.Ref[string] {
	c.t.Helper()
	for i := 0; i < 10000; i++ {
		id := uuid.New()
		ref := job.NewRef[string]("memory", "memory-exec", c.org, id)
		if ring.Owner(ShardOf(ref.ShardKey(), 256)) != owner {
			continue
		}
		s, err := schedule.NewPeriodic(schedule.PeriodicConfig{
			Zone:   time.UTC,
			Unit:   schedule.Minute,
			Bounds: schedule.Bounds{RunAtAndAfter: start},
		})
		require.NoError(c.t, err)
		c.jobs.Put(c.org, &job.FuncJob[string]{JobID: id, Tag: "v1", Sched: s})
		return ref
	}
	c.t.Fatalf("no job id maps to %s", owner)
	return job.Ref[string]{}
}

func TestRegion_SpawnsLocallyOnce(t *testing.T) {
	c := newTestCluster(t, nil)
	a := c.node("node-a", "node-a")
	ref := c.jobOwnedBy(NewRing([]string{"node-a"}, 32), "node-a", t0.Add(time.Hour))
	ctx := context.Background()

	require.NoError(t, a.Tell(ctx, executor.Reload[string]{Ref: ref}))
	require.NoError(t, a.Tell(ctx, executor.Reload[string]{Ref: ref, ETag: "v1"}))

	name := job.Serialize(ref)
	assert.Equal(t, []string{name}, a.Entities())

	e, ok := a.Entity(name)
	require.True(t, ok)
	require.Eventually(t, func() bool {
		st, err := e.Status(ctx)
		return err == nil && st.Initialized && st.NextRun != nil
	}, waitFor, tick)
	assert.Equal(t, 1, c.jobs.Gets())
}

func TestRegion_ForwardsToOwner(t *testing.T) {
	c := newTestCluster(t, nil)
	members := []string{"node-a", "node-b"}
	a := c.node("node-a", members...)
	b := c.node("node-b", members...)
	ref := c.jobOwnedBy(NewRing(members, 32), "node-b", t0.Add(-time.Minute))

	assert.Equal(t, "node-b", a.OwnerOf(ref))
	require.NoError(t, a.Tell(context.Background(), executor.Reload[string]{Ref: ref}))

	assert.Empty(t, a.Entities())
	assert.Equal(t, []string{job.Serialize(ref)}, b.Entities())

	// the due runs execute on node-b
	require.Eventually(t, func() bool {
		_, succeeded, _ := c.execs.Counts()
		return succeeded == 2
	}, waitFor, tick)
}

func TestRegion_RejectsForeignShard(t *testing.T) {
	c := newTestCluster(t, nil)
	members := []string{"node-a", "node-b"}
	b := c.node("node-b", members...)
	ref := c.jobOwnedBy(NewRing(members, 32), "node-a", t0.Add(time.Hour))

	_, err := b.Deliver(context.Background(), &Envelope{EntityID: job.Serialize(ref)})
	assert.Equal(t, codes.Unavailable, status.Code(err))
	assert.Empty(t, b.Entities())

	_, err = b.Deliver(context.Background(), &Envelope{EntityID: "garbage"})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestRegion_RemovesPassivatedEntities(t *testing.T) {
	leases := NewSQLiteLeases(tempotest.CreateMigratedTestDB(t))
	c := newTestCluster(t, leases)
	a := c.node("node-a", "node-a")
	ref := job.NewRef[string]("memory", "memory-exec", c.org, uuid.New())
	name := job.Serialize(ref)

	require.NoError(t, a.Tell(context.Background(), executor.Reload[string]{Ref: ref}))

	require.Eventually(t, func() bool { return len(a.Entities()) == 0 }, waitFor, tick)
	require.Eventually(t, func() bool {
		owner, err := leases.Owner(context.Background(), LeaseName(name))
		return err == nil && owner == ""
	}, waitFor, tick)

	// a later Reload respawns it
	later, err := schedule.NewPeriodic(schedule.PeriodicConfig{
		Zone:   time.UTC,
		Unit:   schedule.Hour,
		Bounds: schedule.Bounds{RunAtAndAfter: t0.Add(time.Hour)},
	})
	require.NoError(t, err)
	c.jobs.Put(c.org, &job.FuncJob[string]{JobID: ref.JobID, Sched: later})
	require.NoError(t, a.Tell(context.Background(), executor.Reload[string]{Ref: ref}))
	_, ok := a.Entity(name)
	assert.True(t, ok)
}

func TestRegion_LeaseExclusivity(t *testing.T) {
	leases := NewSQLiteLeases(tempotest.CreateMigratedTestDB(t))
	c := newTestCluster(t, leases)
	// both nodes believe they are alone and own every shard
	a := c.node("node-a", "node-a")
	b := c.node("node-b", "node-b")
	ref := c.jobOwnedBy(NewRing([]string{"node-a"}, 32), "node-a", t0.Add(time.Hour))

	require.NoError(t, a.Tell(context.Background(), executor.Reload[string]{Ref: ref}))

	err := b.Tell(context.Background(), executor.Reload[string]{Ref: ref})
	assert.True(t, errors.Is(err, errors.ErrLeaseHeld))
	assert.Empty(t, b.Entities())
	assert.Len(t, a.Entities(), 1)

	owner, err := leases.Owner(context.Background(), LeaseName(job.Serialize(ref)))
	require.NoError(t, err)
	assert.Equal(t, "node-a", owner)
}

func TestRegion_MembershipChangeStopsMovedEntities(t *testing.T) {
	leases := NewSQLiteLeases(tempotest.CreateMigratedTestDB(t))
	c := newTestCluster(t, leases)
	a := c.node("node-a", "node-a")
	c.node("node-b", "node-a", "node-b")

	// owned by node-a alone, by node-b once it joins
	ref := c.jobOwnedBy(NewRing([]string{"node-a", "node-b"}, 32), "node-b", t0.Add(time.Hour))
	name := job.Serialize(ref)
	require.NoError(t, a.Tell(context.Background(), executor.Reload[string]{Ref: ref}))
	require.Len(t, a.Entities(), 1)

	a.SetMembers([]string{"node-a", "node-b"})

	assert.Equal(t, []string{"node-a", "node-b"}, a.Members())
	require.Eventually(t, func() bool { return len(a.Entities()) == 0 }, waitFor, tick)
	require.Eventually(t, func() bool {
		owner, err := leases.Owner(context.Background(), LeaseName(name))
		return err == nil && owner == ""
	}, waitFor, tick)

	// the next Reload lands on the new owner
	require.NoError(t, a.Tell(context.Background(), executor.Reload[string]{Ref: ref}))
	owner, err := leases.Owner(context.Background(), LeaseName(name))
	require.NoError(t, err)
	assert.Equal(t, "node-b", owner)
}

func TestRegion_StopReleasesLeases(t *testing.T) {
	leases := NewSQLiteLeases(tempotest.CreateMigratedTestDB(t))
	c := newTestCluster(t, leases)
	a := c.node("node-a", "node-a")
	ref := c.jobOwnedBy(NewRing([]string{"node-a"}, 32), "node-a", t0.Add(time.Hour))
	require.NoError(t, a.Tell(context.Background(), executor.Reload[string]{Ref: ref}))

	a.Stop()

	owner, err := leases.Owner(context.Background(), LeaseName(job.Serialize(ref)))
	require.NoError(t, err)
	assert.Equal(t, "", owner)
	assert.Error(t, a.Tell(context.Background(), executor.Reload[string]{Ref: ref}))
}

func TestRegion_RenewStopsEntityOnLostLease(t *testing.T) {
	leases := NewSQLiteLeases(tempotest.CreateMigratedTestDB(t))
	c := newTestCluster(t, leases)
	a := c.node("node-a", "node-a")
	ref := c.jobOwnedBy(NewRing([]string{"node-a"}, 32), "node-a", t0.Add(time.Hour))
	name := job.Serialize(ref)
	require.NoError(t, a.Tell(context.Background(), executor.Reload[string]{Ref: ref}))

	// another node took the lease over
	_, err := leases.db.Exec(`UPDATE leases SET owner = 'node-z' WHERE name = ?`, LeaseName(name))
	require.NoError(t, err)

	a.renew(context.Background())

	require.Eventually(t, func() bool { return len(a.Entities()) == 0 }, waitFor, tick)
	owner, err := leases.Owner(context.Background(), LeaseName(name))
	require.NoError(t, err)
	assert.Equal(t, "node-z", owner)
}

// stallingLeases holds Acquire for one lease until gate closes.
type stallingLeases struct {
	NopLeases
	name    string
	gate    chan struct{}
	entered chan struct{}
}

func (l *stallingLeases) Acquire(ctx context.Context, name, owner string, ttl time.Duration) error {
	if name != l.name {
		return nil
	}
	l.entered <- struct{}{}
	select {
	case <-l.gate:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func TestRegion_SlowLeaseDoesNotBlockOtherEntities(t *testing.T) {
	leases := &stallingLeases{gate: make(chan struct{}), entered: make(chan struct{}, 2)}
	c := newTestCluster(t, leases)
	a := c.node("node-a", "node-a")
	ring := NewRing([]string{"node-a"}, 32)
	slow := c.jobOwnedBy(ring, "node-a", t0.Add(time.Hour))
	fast := c.jobOwnedBy(ring, "node-a", t0.Add(time.Hour))
	leases.name = LeaseName(job.Serialize(slow))

	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() { errs <- a.Tell(context.Background(), executor.Reload[string]{Ref: slow}) }()
	}
	for i := 0; i < 2; i++ {
		select {
		case <-leases.entered:
		case <-time.After(waitFor):
			t.Fatal("acquire for the slow entity never started")
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, a.Tell(ctx, executor.Reload[string]{Ref: fast}))
	assert.Equal(t, []string{job.Serialize(fast)}, a.Entities())

	close(leases.gate)
	for i := 0; i < 2; i++ {
		require.NoError(t, <-errs)
	}
	assert.ElementsMatch(t, []string{job.Serialize(fast), job.Serialize(slow)}, a.Entities())
}

func TestRegionConfigFrom(t *testing.T) {
	cfg := RegionConfigFrom(am.ClusterConfig{
		NodeID:       "node-a",
		Peers:        map[string]string{"node-a": "10.0.0.1:7466", "node-b": "10.0.0.2:7466"},
		VirtualNodes: 16,
		Shards:       128,
		Lease:        am.LeaseConfig{TTLSeconds: 30},
	})
	assert.Equal(t, "node-a", cfg.NodeID)
	assert.Equal(t, []string{"node-a", "node-b"}, cfg.Members)
	assert.Equal(t, 30*time.Second, cfg.LeaseTTL)
	assert.Equal(t, 128, cfg.Shards)

	alone := RegionConfigFrom(am.ClusterConfig{NodeID: "solo"})
	assert.Equal(t, []string{"solo"}, alone.Members)
}

var _ RouterServer = (*Region[string])(nil)
