package cluster

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/tempo/pulse/job"
)

const testShards = 1024

func TestRing_Distribution(t *testing.T) {
	r := NewRing([]string{"node-a", "node-b", "node-c"}, 64)

	counts := map[string]int{}
	for s := 0; s < testShards; s++ {
		counts[r.Owner(s)]++
	}
	require.Len(t, counts, 3)
	for node, n := range counts {
		assert.Greater(t, n, testShards/6, "node %s owns too few shards", node)
	}
}

func TestRing_Deterministic(t *testing.T) {
	a := NewRing([]string{"node-a", "node-b", "node-c"}, 32)
	b := NewRing([]string{"node-c", "node-a", "node-b", "node-a", ""}, 32)

	assert.Equal(t, []string{"node-a", "node-b", "node-c"}, b.Nodes())
	for s := 0; s < testShards; s++ {
		assert.Equal(t, a.Owner(s), b.Owner(s), "shard %d", s)
	}
}

func TestRing_AddingNodeOnlyMovesShardsToIt(t *testing.T) {
	before := NewRing([]string{"node-a", "node-b", "node-c"}, 64)
	after := NewRing([]string{"node-a", "node-b", "node-c", "node-d"}, 64)

	moved := 0
	for s := 0; s < testShards; s++ {
		if before.Owner(s) != after.Owner(s) {
			moved++
			assert.Equal(t, "node-d", after.Owner(s), "shard %d moved between old nodes", s)
		}
	}
	assert.Greater(t, moved, 0)
	assert.Less(t, moved, testShards/2)
}

func TestRing_Empty(t *testing.T) {
	r := NewRing(nil, 16)
	assert.Equal(t, "", r.Owner(7))
	assert.False(t, r.Has("node-a"))
}

func TestRing_Has(t *testing.T) {
	r := NewRing([]string{"node-b", "node-a"}, 4)
	assert.True(t, r.Has("node-a"))
	assert.True(t, r.Has("node-b"))
	assert.False(t, r.Has("node-c"))
}

func TestShardOf(t *testing.T) {
	org, id := uuid.New(), uuid.New()
	a := job.NewRef[string]("sqlite", "sqlite", org, id)
	b := job.NewRef[string]("sqlite", "archive", org, id)

	s := ShardOf(a.ShardKey(), testShards)
	assert.GreaterOrEqual(t, s, 0)
	assert.Less(t, s, testShards)
	assert.Equal(t, s, ShardOf(a.ShardKey(), testShards))
	// the execution repository does not take part in placement
	assert.Equal(t, s, ShardOf(b.ShardKey(), testShards))
	assert.Equal(t, 0, ShardOf(a.ShardKey(), 1))
}
