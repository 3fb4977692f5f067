package am

import "github.com/teranos/tempo/errors"

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.Cluster.NodeID == "" {
		return errors.New("cluster.node_id cannot be empty")
	}
	if len(c.Cluster.Peers) > 0 {
		if _, ok := c.Cluster.Peers[c.Cluster.NodeID]; !ok {
			return errors.WithHintf(
				errors.Newf("cluster.peers does not contain this node %q", c.Cluster.NodeID),
				"add %s = %q under [cluster.peers]", c.Cluster.NodeID, c.Cluster.ListenAddr)
		}
	}
	if c.Cluster.VirtualNodes <= 0 {
		return errors.Newf("cluster.virtual_nodes must be > 0, got %d", c.Cluster.VirtualNodes)
	}
	if c.Cluster.Shards <= 0 {
		return errors.Newf("cluster.shards must be > 0, got %d", c.Cluster.Shards)
	}

	switch c.Cluster.Lease.Backend {
	case "sqlite", "none":
	case "redis":
		if c.Cluster.Lease.RedisAddr == "" {
			return errors.New("cluster.lease.redis_addr cannot be empty when backend is redis")
		}
	default:
		return errors.Newf("cluster.lease.backend must be sqlite, redis or none, got %q", c.Cluster.Lease.Backend)
	}
	if c.Cluster.Lease.Backend != "none" && c.Cluster.Lease.TTLSeconds <= 0 {
		return errors.Newf("cluster.lease.ttl_seconds must be > 0, got %d", c.Cluster.Lease.TTLSeconds)
	}

	s := c.Scheduler
	if s.RepositoryType == "" || s.ExecutionRepositoryType == "" {
		return errors.New("scheduler.repository_type and scheduler.execution_repository_type are required")
	}
	// Zero interval disables periodic sweeps, leaving only the startup sweep
	if s.AntiEntropyIntervalSeconds < 0 {
		return errors.Newf("scheduler.anti_entropy_interval_seconds must be >= 0, got %d", s.AntiEntropyIntervalSeconds)
	}
	if s.PageSize <= 0 {
		return errors.Newf("scheduler.page_size must be > 0, got %d", s.PageSize)
	}
	if s.ReloadsPerSecond < 0 {
		return errors.Newf("scheduler.reloads_per_second must be >= 0, got %f", s.ReloadsPerSecond)
	}
	if s.SafetyTickSeconds <= 0 {
		return errors.Newf("scheduler.safety_tick_seconds must be > 0, got %d", s.SafetyTickSeconds)
	}
	if s.ExecuteThresholdMS < 0 {
		return errors.Newf("scheduler.execute_threshold_ms must be >= 0, got %d", s.ExecuteThresholdMS)
	}
	if s.RestartMinBackoffMS <= 0 || s.RestartMaxBackoffMS < s.RestartMinBackoffMS {
		return errors.Newf("scheduler restart backoff must satisfy 0 < min <= max, got %d..%d",
			s.RestartMinBackoffMS, s.RestartMaxBackoffMS)
	}
	if s.SnapshotEvery < 0 {
		return errors.Newf("scheduler.snapshot_every must be >= 0, got %d", s.SnapshotEvery)
	}

	if c.Metrics.Enabled && c.Metrics.ListenAddr == "" {
		return errors.New("metrics.listen_addr cannot be empty when metrics are enabled")
	}

	return nil
}
