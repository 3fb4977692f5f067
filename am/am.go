package am

import "time"

// Config represents the tempo configuration
type Config struct {
	Database  DatabaseConfig  `mapstructure:"database" toml:"database"`
	Log       LogConfig       `mapstructure:"log" toml:"log"`
	Cluster   ClusterConfig   `mapstructure:"cluster" toml:"cluster"`
	Scheduler SchedulerConfig `mapstructure:"scheduler" toml:"scheduler"`
	Metrics   MetricsConfig   `mapstructure:"metrics" toml:"metrics"`
}

// DatabaseConfig configures the SQLite database
type DatabaseConfig struct {
	Path string `mapstructure:"path" toml:"path"`
}

// LogConfig configures the global logger
type LogConfig struct {
	JSON      bool `mapstructure:"json" toml:"json"`
	Verbosity int  `mapstructure:"verbosity" toml:"verbosity"` // same scale as -v flags
}

// ClusterConfig configures node identity, membership and entity leases.
// Peers maps node id to gRPC address and includes this node.
type ClusterConfig struct {
	NodeID       string            `mapstructure:"node_id" toml:"node_id"`
	ListenAddr   string            `mapstructure:"listen_addr" toml:"listen_addr"`
	Peers        map[string]string `mapstructure:"peers" toml:"peers"`
	VirtualNodes int               `mapstructure:"virtual_nodes" toml:"virtual_nodes"`
	Shards       int               `mapstructure:"shards" toml:"shards"`
	Lease        LeaseConfig       `mapstructure:"lease" toml:"lease"`
}

// LeaseConfig selects the entity lease backend: "sqlite", "redis" or "none".
type LeaseConfig struct {
	Backend       string `mapstructure:"backend" toml:"backend"`
	TTLSeconds    int    `mapstructure:"ttl_seconds" toml:"ttl_seconds"`
	RedisAddr     string `mapstructure:"redis_addr" toml:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password" toml:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db" toml:"redis_db"`
	KeyPrefix     string `mapstructure:"key_prefix" toml:"key_prefix"`
}

// SchedulerConfig configures executors and the anti-entropy coordinator
type SchedulerConfig struct {
	RepositoryType             string  `mapstructure:"repository_type" toml:"repository_type"`
	ExecutionRepositoryType    string  `mapstructure:"execution_repository_type" toml:"execution_repository_type"`
	AntiEntropyIntervalSeconds int     `mapstructure:"anti_entropy_interval_seconds" toml:"anti_entropy_interval_seconds"`
	PageSize                   int     `mapstructure:"page_size" toml:"page_size"`
	ReloadsPerSecond           float64 `mapstructure:"reloads_per_second" toml:"reloads_per_second"` // 0 = unlimited
	SafetyTickSeconds          int     `mapstructure:"safety_tick_seconds" toml:"safety_tick_seconds"`
	ExecuteThresholdMS         int     `mapstructure:"execute_threshold_ms" toml:"execute_threshold_ms"`
	RestartMinBackoffMS        int     `mapstructure:"restart_min_backoff_ms" toml:"restart_min_backoff_ms"`
	RestartMaxBackoffMS        int     `mapstructure:"restart_max_backoff_ms" toml:"restart_max_backoff_ms"`
	SnapshotEvery              int     `mapstructure:"snapshot_every" toml:"snapshot_every"`
}

// MetricsConfig configures the Prometheus endpoint
type MetricsConfig struct {
	Enabled    bool   `mapstructure:"enabled" toml:"enabled"`
	ListenAddr string `mapstructure:"listen_addr" toml:"listen_addr"`
	Namespace  string `mapstructure:"namespace" toml:"namespace"`
}

// AntiEntropyInterval returns the sweep interval
func (s SchedulerConfig) AntiEntropyInterval() time.Duration {
	return time.Duration(s.AntiEntropyIntervalSeconds) * time.Second
}

// SafetyTick returns the executor's periodic tick interval
func (s SchedulerConfig) SafetyTick() time.Duration {
	return time.Duration(s.SafetyTickSeconds) * time.Second
}

// ExecuteThreshold returns how close a run must be before it executes instead of arming a timer
func (s SchedulerConfig) ExecuteThreshold() time.Duration {
	return time.Duration(s.ExecuteThresholdMS) * time.Millisecond
}

// RestartBackoff returns the supervisor's backoff bounds
func (s SchedulerConfig) RestartBackoff() (min, max time.Duration) {
	return time.Duration(s.RestartMinBackoffMS) * time.Millisecond,
		time.Duration(s.RestartMaxBackoffMS) * time.Millisecond
}

// TTL returns the lease time-to-live
func (l LeaseConfig) TTL() time.Duration {
	return time.Duration(l.TTLSeconds) * time.Second
}

// File and directory permission constants
const (
	DefaultFilePermissions = 0644
	DefaultDirPermissions  = 0755
)
