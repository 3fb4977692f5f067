// Package cluster places executor entities on nodes.
//
// Every job maps to a shard, every shard to exactly one node on a
// consistent-hash ring of the configured members. The owning node hosts the
// job's entity under a lease; other nodes forward Reloads to it over gRPC.
package cluster

import (
	"sort"
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// Ring maps shards to member nodes by consistent hashing with virtual
// nodes. A Ring is immutable; membership changes build a new one.
type Ring struct {
	points []uint64
	owners map[uint64]string
	nodes  []string
}

// NewRing places vnodes points per node on the ring. Duplicate and empty
// node ids are ignored.
func NewRing(nodes []string, vnodes int) *Ring {
	if vnodes <= 0 {
		vnodes = 1
	}
	r := &Ring{owners: make(map[uint64]string)}

	seen := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		r.nodes = append(r.nodes, n)
	}
	sort.Strings(r.nodes)

	for _, n := range r.nodes {
		for i := 0; i < vnodes; i++ {
			h := xxhash.Sum64String(n + "#" + strconv.Itoa(i))
			// on collision the smaller id wins so every node builds the same ring
			if cur, ok := r.owners[h]; ok && cur < n {
				continue
			} else if !ok {
				r.points = append(r.points, h)
			}
			r.owners[h] = n
		}
	}
	sort.Slice(r.points, func(i, j int) bool { return r.points[i] < r.points[j] })
	return r
}

// Owner returns the node owning shard, or "" for an empty ring.
func (r *Ring) Owner(shard int) string {
	if len(r.points) == 0 {
		return ""
	}
	h := xxhash.Sum64String("shard-" + strconv.Itoa(shard))
	i := sort.Search(len(r.points), func(i int) bool { return r.points[i] >= h })
	if i == len(r.points) {
		i = 0
	}
	return r.owners[r.points[i]]
}

// Nodes returns the members, sorted.
func (r *Ring) Nodes() []string {
	return append([]string(nil), r.nodes...)
}

// Has reports whether node is a member.
func (r *Ring) Has(node string) bool {
	i := sort.SearchStrings(r.nodes, node)
	return i < len(r.nodes) && r.nodes[i] == node
}

// ShardOf hashes a ref's shard key into [0, shards).
func ShardOf(shardKey string, shards int) int {
	if shards <= 1 {
		return 0
	}
	return int(xxhash.Sum64String(shardKey) % uint64(shards))
}
