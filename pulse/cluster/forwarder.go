package cluster

import (
	"context"
	"sync"

	"github.com/teranos/tempo/am"
	"github.com/teranos/tempo/errors"
	"github.com/teranos/tempo/pulse/executor"
	"github.com/teranos/tempo/pulse/job"
)

// Forwarder routes Reloads for a process that hosts no entities, such as
// `tempo job sweep`. Every message goes to its owner over the transport.
type Forwarder[T any] struct {
	shards     int
	vnodes     int
	serializer *job.Serializer[T]
	transport  Transport

	mu   sync.Mutex
	ring *Ring
}

// NewForwarder places cfg.Members on a ring the way a Region does.
// cfg.NodeID is not special.
func NewForwarder[T any](cfg RegionConfig, serializer *job.Serializer[T], transport Transport) *Forwarder[T] {
	if cfg.Shards <= 0 {
		cfg.Shards = am.DefaultShards
	}
	if cfg.VirtualNodes <= 0 {
		cfg.VirtualNodes = am.DefaultVirtualNodes
	}
	return &Forwarder[T]{
		shards:     cfg.Shards,
		vnodes:     cfg.VirtualNodes,
		serializer: serializer,
		transport:  transport,
		ring:       NewRing(cfg.Members, cfg.VirtualNodes),
	}
}

// Tell implements coordinator.Router.
func (f *Forwarder[T]) Tell(ctx context.Context, msg executor.Reload[T]) error {
	f.mu.Lock()
	owner := f.ring.Owner(ShardOf(msg.Ref.ShardKey(), f.shards))
	f.mu.Unlock()
	if owner == "" {
		return errors.New("cluster has no members")
	}
	return f.transport.Forward(ctx, owner, Envelope{
		EntityID: f.serializer.Serialize(msg.Ref),
		ETag:     msg.ETag,
	})
}

// SetMembers replaces the ring.
func (f *Forwarder[T]) SetMembers(members []string) {
	ring := NewRing(members, f.vnodes)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ring = ring
}
