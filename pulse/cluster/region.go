package cluster

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/teranos/tempo/am"
	"github.com/teranos/tempo/errors"
	"github.com/teranos/tempo/logger"
	"github.com/teranos/tempo/pulse/executor"
	"github.com/teranos/tempo/pulse/job"
)

// errNotOwner is returned for envelopes this node does not own under its
// current ring. Membership views disagree briefly during changes.
var errNotOwner = errors.New("node does not own shard")

// RegionConfig places this node in the cluster.
type RegionConfig struct {
	NodeID       string
	Members      []string
	VirtualNodes int
	Shards       int
	LeaseTTL     time.Duration
}

// RegionConfigFrom reads the cluster section of am.Config. Without peers
// the node is a cluster of one.
func RegionConfigFrom(c am.ClusterConfig) RegionConfig {
	members := []string{c.NodeID}
	for node := range c.Peers {
		if node != c.NodeID {
			members = append(members, node)
		}
	}
	sort.Strings(members)
	return RegionConfig{
		NodeID:       c.NodeID,
		Members:      members,
		VirtualNodes: c.VirtualNodes,
		Shards:       c.Shards,
		LeaseTTL:     c.Lease.TTL(),
	}
}

type hosted[T any] struct {
	entity *executor.Entity[T]
	cancel context.CancelFunc
	shard  int
}

// Region hosts the entities this node owns and routes Reloads for the rest.
// Entities and leases are keyed by entity name, which includes the execution
// repository token; a deployment sweeps each repository with one fixed
// execution repository, so a job has one name.
type Region[T any] struct {
	nodeID     string
	cfg        RegionConfig
	deps       executor.Deps[T]
	execCfg    executor.Config
	serializer *job.Serializer[T]
	leases     LeaseStore
	transport  Transport
	log        *zap.SugaredLogger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	ring     *Ring
	entities map[string]*hosted[T]
	pending  map[string]int
}

// NewRegion builds a region. leases may be nil for NopLeases; transport may
// be nil when this node is the only member.
func NewRegion[T any](cfg RegionConfig, deps executor.Deps[T], execCfg executor.Config, leases LeaseStore, transport Transport) *Region[T] {
	if leases == nil {
		leases = NopLeases{}
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = time.Duration(am.DefaultLeaseTTLSeconds) * time.Second
	}
	if cfg.Shards <= 0 {
		cfg.Shards = am.DefaultShards
	}
	if cfg.VirtualNodes <= 0 {
		cfg.VirtualNodes = am.DefaultVirtualNodes
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop().Sugar()
	}
	if deps.Serializer == nil {
		deps.Serializer = job.NewSerializer(deps.Registry)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Region[T]{
		nodeID:     cfg.NodeID,
		cfg:        cfg,
		deps:       deps,
		execCfg:    execCfg,
		serializer: deps.Serializer,
		leases:     leases,
		transport:  transport,
		log:        logger.AddRingSymbol(deps.Logger.Named("region")).With(logger.FieldNodeID, cfg.NodeID),
		ctx:        ctx,
		cancel:     cancel,
		ring:       NewRing(cfg.Members, cfg.VirtualNodes),
		entities:   make(map[string]*hosted[T]),
		pending:    make(map[string]int),
	}
}

// Start renews leases of hosted entities every third of the TTL until ctx
// is done or Stop is called.
func (r *Region[T]) Start(ctx context.Context) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.cfg.LeaseTTL / 3)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-r.ctx.Done():
				return
			case <-ticker.C:
				r.renew(ctx)
			}
		}
	}()
}

// Stop stops every hosted entity, waits for them and releases their leases.
func (r *Region[T]) Stop() {
	r.cancel()
	r.wg.Wait()
}

// Tell routes a Reload to the entity's owner. It spawns the entity when
// this node owns it and it is not running.
func (r *Region[T]) Tell(ctx context.Context, msg executor.Reload[T]) error {
	name := r.serializer.Serialize(msg.Ref)
	shard := ShardOf(msg.Ref.ShardKey(), r.cfg.Shards)
	owner := r.owner(shard)

	if owner == r.nodeID {
		return r.deliver(ctx, name, shard, msg)
	}
	if owner == "" {
		return errors.New("cluster has no members")
	}
	if r.transport == nil {
		return errors.Newf("shard %d is owned by %s and no transport is configured", shard, owner)
	}
	return r.transport.Forward(ctx, owner, Envelope{EntityID: name, ETag: msg.ETag})
}

// Deliver handles an envelope forwarded by another node.
func (r *Region[T]) Deliver(ctx context.Context, env *Envelope) (*Ack, error) {
	ref, err := r.serializer.Deserialize(env.EntityID)
	if err != nil {
		return nil, statusOf(err)
	}
	shard := ShardOf(ref.ShardKey(), r.cfg.Shards)
	if owner := r.owner(shard); owner != r.nodeID {
		r.log.Debugw("Rejecting envelope for foreign shard",
			logger.FieldEntityID, env.EntityID,
			logger.FieldShardID, shard,
			"owner", owner,
		)
		return nil, statusOf(errors.Wrapf(errNotOwner, "shard %d belongs to %s", shard, owner))
	}
	if err := r.deliver(ctx, env.EntityID, shard, executor.Reload[T]{Ref: ref, ETag: env.ETag}); err != nil {
		return nil, statusOf(err)
	}
	return &Ack{Node: r.nodeID}, nil
}

func (r *Region[T]) owner(shard int) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ring.Owner(shard)
}

func (r *Region[T]) deliver(ctx context.Context, name string, shard int, msg executor.Reload[T]) error {
	// an entity may passivate between lookup and Tell; one respawn covers it
	for attempt := 0; attempt < 2; attempt++ {
		e, err := r.entityFor(ctx, name, shard)
		if err != nil {
			return err
		}
		if e.Tell(msg) {
			return nil
		}
	}
	return errors.Newf("entity %s stopped before accepting the reload", name)
}

// entityFor returns the running entity for name, spawning it under a lease
// if there is none. The lease round-trip runs without r.mu; pending keeps a
// concurrent reap from releasing the lease the spawn is about to rely on.
func (r *Region[T]) entityFor(ctx context.Context, name string, shard int) (*executor.Entity[T], error) {
	r.mu.Lock()
	if r.ctx.Err() != nil {
		r.mu.Unlock()
		return nil, errors.New("region stopped")
	}
	if e := r.liveLocked(name); e != nil {
		r.mu.Unlock()
		return e, nil
	}
	r.pending[name]++
	r.mu.Unlock()

	err := r.leases.Acquire(ctx, LeaseName(name), r.nodeID, r.cfg.LeaseTTL)

	r.mu.Lock()
	r.pending[name]--
	if r.pending[name] == 0 {
		delete(r.pending, name)
	}
	if err != nil {
		r.mu.Unlock()
		if errors.Is(err, errors.ErrLeaseHeld) {
			r.log.Infow("Entity lease held elsewhere, dropping reload", logger.FieldEntityID, name)
		}
		return nil, err
	}
	if r.ctx.Err() != nil {
		r.mu.Unlock()
		r.release(name)
		return nil, errors.New("region stopped")
	}
	// a concurrent delivery may have spawned it meanwhile
	if e := r.liveLocked(name); e != nil {
		r.mu.Unlock()
		return e, nil
	}
	e := r.spawnLocked(name, shard)
	r.mu.Unlock()

	r.log.Debugw("Spawned entity", logger.FieldEntityID, name, logger.FieldShardID, shard)
	return e, nil
}

func (r *Region[T]) liveLocked(name string) *executor.Entity[T] {
	h, ok := r.entities[name]
	if !ok {
		return nil
	}
	select {
	case <-h.entity.Done():
		return nil
	default:
		return h.entity
	}
}

func (r *Region[T]) spawnLocked(name string, shard int) *executor.Entity[T] {
	e := executor.New(name, r.deps, r.execCfg)
	ectx, cancel := context.WithCancel(r.ctx)
	r.entities[name] = &hosted[T]{entity: e, cancel: cancel, shard: shard}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer cancel()
		reason := e.Run(ectx)
		r.reap(name, e, reason)
	}()
	return e
}

// reap forgets a stopped entity and releases its lease, unless a newer
// entity already took its place or a spawn for the same name is in flight.
func (r *Region[T]) reap(name string, e *executor.Entity[T], reason executor.StopReason) {
	r.mu.Lock()
	h, ok := r.entities[name]
	current := ok && h.entity == e
	if current {
		delete(r.entities, name)
	}
	respawning := r.pending[name] > 0
	r.mu.Unlock()

	r.log.Debugw("Entity stopped", logger.FieldEntityID, name, "reason", reason)
	if !current || respawning {
		return
	}
	r.release(name)
}

func (r *Region[T]) release(name string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.leases.Release(ctx, LeaseName(name), r.nodeID); err != nil {
		r.log.Warnw("Failed to release entity lease", logger.FieldEntityID, name, logger.FieldError, err)
	}
}

func (r *Region[T]) renew(ctx context.Context) {
	r.mu.Lock()
	names := make([]string, 0, len(r.entities))
	for name := range r.entities {
		names = append(names, name)
	}
	r.mu.Unlock()

	for _, name := range names {
		err := r.leases.Renew(ctx, LeaseName(name), r.nodeID, r.cfg.LeaseTTL)
		if err == nil {
			continue
		}
		if errors.Is(err, errors.ErrLeaseHeld) {
			r.log.Warnw("Lost entity lease, stopping entity", logger.FieldEntityID, name)
			r.stopEntity(name)
			continue
		}
		r.log.Errorw("Failed to renew entity lease", logger.FieldEntityID, name, logger.FieldError, err)
	}
}

func (r *Region[T]) stopEntity(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.entities[name]; ok {
		h.cancel()
	}
}

// SetMembers rebuilds the ring and stops hosted entities whose shard moved
// to another node. Their next Reload is routed to the new owner.
func (r *Region[T]) SetMembers(members []string) {
	ring := NewRing(members, r.cfg.VirtualNodes)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.ring = ring
	r.cfg.Members = ring.Nodes()

	moved := 0
	for _, h := range r.entities {
		if ring.Owner(h.shard) != r.nodeID {
			h.cancel()
			moved++
		}
	}
	r.log.Infow("Cluster membership changed",
		"members", ring.Nodes(),
		logger.FieldCount, moved,
	)
}

// Members returns the current ring members.
func (r *Region[T]) Members() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ring.Nodes()
}

// OwnerOf returns the node that owns ref.
func (r *Region[T]) OwnerOf(ref job.Ref[T]) string {
	return r.owner(ShardOf(ref.ShardKey(), r.cfg.Shards))
}

// Entities returns the names of running entities, sorted.
func (r *Region[T]) Entities() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.entities))
	for name := range r.entities {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Entity returns the running entity for name, if any.
func (r *Region[T]) Entity(name string) (*executor.Entity[T], bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.entities[name]
	if !ok {
		return nil, false
	}
	return h.entity, true
}

// Register exposes the region on s as the router service.
func (r *Region[T]) Register(s *grpc.Server) {
	RegisterRouterServer(s, r)
}
