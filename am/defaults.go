package am

import (
	"fmt"
	"os"

	"github.com/spf13/viper"
)

// Default values shared with code that builds a Config without viper.
const (
	DefaultAntiEntropyIntervalSeconds = 3600
	DefaultPageSize                   = 256
	DefaultSafetyTickSeconds          = 60
	DefaultExecuteThresholdMS         = 500
	DefaultLeaseTTLSeconds            = 30
	DefaultVirtualNodes               = 64
	DefaultShards                     = 1024
)

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	v.SetDefault("database.path", "tempo.db")

	v.SetDefault("log.json", false)
	v.SetDefault("log.verbosity", 1)

	v.SetDefault("cluster.node_id", defaultNodeID())
	v.SetDefault("cluster.listen_addr", "127.0.0.1:7466")
	v.SetDefault("cluster.virtual_nodes", DefaultVirtualNodes)
	v.SetDefault("cluster.shards", DefaultShards)
	v.SetDefault("cluster.lease.backend", "sqlite")
	v.SetDefault("cluster.lease.ttl_seconds", DefaultLeaseTTLSeconds)
	v.SetDefault("cluster.lease.redis_addr", "127.0.0.1:6379")
	v.SetDefault("cluster.lease.key_prefix", "tempo:lease:")

	v.SetDefault("scheduler.repository_type", "sqlite")
	v.SetDefault("scheduler.execution_repository_type", "sqlite")
	v.SetDefault("scheduler.anti_entropy_interval_seconds", DefaultAntiEntropyIntervalSeconds)
	v.SetDefault("scheduler.page_size", DefaultPageSize)
	v.SetDefault("scheduler.reloads_per_second", 0)
	v.SetDefault("scheduler.safety_tick_seconds", DefaultSafetyTickSeconds)
	v.SetDefault("scheduler.execute_threshold_ms", DefaultExecuteThresholdMS)
	v.SetDefault("scheduler.restart_min_backoff_ms", 100)
	v.SetDefault("scheduler.restart_max_backoff_ms", 30000)
	v.SetDefault("scheduler.snapshot_every", 50)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.listen_addr", "127.0.0.1:9466")
	v.SetDefault("metrics.namespace", "tempo")
}

// BindSensitiveEnvVars binds secrets that must never be read from a
// checked-in file when the environment provides them.
func BindSensitiveEnvVars(v *viper.Viper) {
	_ = v.BindEnv("cluster.lease.redis_password", "TEMPO_REDIS_PASSWORD")
}

// defaultNodeID is the hostname, falling back to "local".
func defaultNodeID() string {
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "local"
}

// String returns a string representation of the config
func (c *Config) String() string {
	return fmt.Sprintf("Config{Database: %s, Cluster: {NodeID: %s, Peers: %d}, Scheduler: {Repository: %s}}",
		c.Database.Path, c.Cluster.NodeID, len(c.Cluster.Peers), c.Scheduler.RepositoryType)
}
