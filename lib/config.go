package lib

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/alecthomas/units"
)

/* This file implements the 'user controlled' configuration of each module of the engine */

const (
	// FILE NAMES in the 'data directory'
	ConfigFilePath = "config.json" // the file path for the engine configuration
)

// Config is the structure of the user configuration options for an agreement engine
type Config struct {
	MainConfig      // main options spanning over all modules
	ConsensusConfig // bft options
	RecoveryConfig  // crash-recovery log options
	MetricsConfig   // telemetry options
	RPCConfig       // status server options
}

// DefaultConfig() returns a Config with developer set options
func DefaultConfig() Config {
	return Config{
		MainConfig:      DefaultMainConfig(),
		ConsensusConfig: DefaultConsensusConfig(),
		RecoveryConfig:  DefaultRecoveryConfig(),
		MetricsConfig:   DefaultMetricsConfig(),
		RPCConfig:       DefaultRPCConfig(),
	}
}

// MAIN CONFIG BELOW

type MainConfig struct {
	LogLevel    string `json:"logLevel"`    // any level includes the levels above it: debug < info < warning < error
	DataDirPath string `json:"dataDirPath"` // path of the designated folder where the engine stores its data
}

// DefaultMainConfig() sets log level to 'info'
func DefaultMainConfig() MainConfig {
	return MainConfig{
		LogLevel:    "info",
		DataDirPath: DefaultDataDirPath(),
	}
}

// GetLogLevel() parses the log string in the config file into a LogLevel Enum
func (m *MainConfig) GetLogLevel() int32 {
	switch {
	case strings.Contains(strings.ToLower(m.LogLevel), "deb"):
		return DebugLevel
	case strings.Contains(strings.ToLower(m.LogLevel), "inf"):
		return InfoLevel
	case strings.Contains(strings.ToLower(m.LogLevel), "war"):
		return WarnLevel
	case strings.Contains(strings.ToLower(m.LogLevel), "err"):
		return ErrorLevel
	default:
		return DebugLevel
	}
}

// DefaultDataDirPath() is $USERHOME/.accord
func DefaultDataDirPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		panic(err)
	}
	return filepath.Join(home, ".accord")
}

// CONSENSUS CONFIG BELOW

const (
	LinearBackoff      = "linear"      // base + round * increment
	ExponentialBackoff = "exponential" // base * multiplier ^ round, capped
)

// ConsensusConfig defines the round timing and the bounds on buffered and cached messages
type ConsensusConfig struct {
	BaseTimeoutMS       int     `json:"baseTimeoutMS"`       // the step timeout of round 0
	TimeoutIncrementMS  int     `json:"timeoutIncrementMS"`  // linear growth added per round
	TimeoutBackoff      string  `json:"timeoutBackoff"`      // 'linear' or 'exponential'
	TimeoutMultiplier   float64 `json:"timeoutMultiplier"`   // exponential growth factor per round
	MaxTimeoutMS        int     `json:"maxTimeoutMS"`        // cap for the exponential schedule
	FutureHeightGap     uint64  `json:"futureHeightGap"`     // messages up to this many heights ahead are buffered
	FutureRoundGap      uint64  `json:"futureRoundGap"`      // messages up to this many rounds ahead are accepted
	FutureBufferSize    int     `json:"futureBufferSize"`    // max messages held for future heights
	InboundQueueSize    int     `json:"inboundQueueSize"`    // verified messages waiting for the event loop
	VerifyWorkers       int     `json:"verifyWorkers"`       // concurrent signature verifications
	SignatureCacheSize  int     `json:"signatureCacheSize"`  // verified (authority, payload, signature) triples remembered
	SeenCacheSize       int     `json:"seenCacheSize"`       // digests of recently delivered messages, for duplicate filtering
	CommitRetryMaxMS    int     `json:"commitRetryMaxMS"`    // upper bound on the wait between executor commit attempts
	CommitRetryTimeoutS int     `json:"commitRetryTimeoutS"` // give up delivering a decision after this long, 0 is never
}

// DefaultConsensusConfig() returns the developer recommended round timing
func DefaultConsensusConfig() ConsensusConfig {
	return ConsensusConfig{
		BaseTimeoutMS:       3000, // 3 seconds
		TimeoutIncrementMS:  1000, // 1 second more per round
		TimeoutBackoff:      LinearBackoff,
		TimeoutMultiplier:   1.5,
		MaxTimeoutMS:        60000, // 1 minute
		FutureHeightGap:     5,
		FutureRoundGap:      10,
		FutureBufferSize:    4096,
		InboundQueueSize:    1024,
		VerifyWorkers:       4,
		SignatureCacheSize:  8192,
		SeenCacheSize:       8192,
		CommitRetryMaxMS:    5000, // 5 seconds
		CommitRetryTimeoutS: 0,
	}
}

// Check() rejects round timing that would fire step timers immediately or never let them grow
func (c *ConsensusConfig) Check() ErrorI {
	switch {
	case c.BaseTimeoutMS <= 0:
		return ErrInvalidConfig("baseTimeoutMS must be positive")
	case c.TimeoutIncrementMS < 0:
		return ErrInvalidConfig("timeoutIncrementMS can't be negative")
	case c.TimeoutBackoff != LinearBackoff && c.TimeoutBackoff != ExponentialBackoff:
		return ErrInvalidConfig(fmt.Sprintf("unknown timeoutBackoff %q", c.TimeoutBackoff))
	case c.TimeoutBackoff == ExponentialBackoff && c.TimeoutMultiplier <= 1:
		return ErrInvalidConfig("timeoutMultiplier must be above 1")
	case c.TimeoutBackoff == ExponentialBackoff && c.MaxTimeoutMS < c.BaseTimeoutMS:
		return ErrInvalidConfig("maxTimeoutMS is below baseTimeoutMS")
	}
	return nil
}

// BaseTimeout() returns the round 0 step timeout as a duration
func (c *ConsensusConfig) BaseTimeout() time.Duration {
	return time.Duration(c.BaseTimeoutMS) * time.Millisecond
}

// TimeoutIncrement() returns the per-round linear increase as a duration
func (c *ConsensusConfig) TimeoutIncrement() time.Duration {
	return time.Duration(c.TimeoutIncrementMS) * time.Millisecond
}

// MaxTimeout() returns the exponential cap as a duration
func (c *ConsensusConfig) MaxTimeout() time.Duration {
	return time.Duration(c.MaxTimeoutMS) * time.Millisecond
}

// RECOVERY CONFIG BELOW

// RecoveryConfig is the user configuration of the crash-recovery log
type RecoveryConfig struct {
	DBName        string `json:"dbName"`        // name of the log directory under the data dir
	InMemory      bool   `json:"inMemory"`      // non-disk log, only for testing
	SyncWrites    bool   `json:"syncWrites"`    // fsync every append before returning
	MemTableBytes int64  `json:"memTableBytes"` // badger memtable size
	ValueLogBytes int64  `json:"valueLogBytes"` // badger value log file size
}

// DefaultRecoveryConfig() returns the developer recommended recovery log configuration
func DefaultRecoveryConfig() RecoveryConfig {
	return RecoveryConfig{
		DBName:        "recovery",
		InMemory:      false,
		SyncWrites:    true,
		MemTableBytes: int64(16 * units.MiB),
		ValueLogBytes: int64(64 * units.MiB),
	}
}

// METRICS CONFIG BELOW

// MetricsConfig represents the configuration for the metrics server
type MetricsConfig struct {
	Enabled           bool   `json:"enabled"`           // if the metrics server is enabled
	PrometheusAddress string `json:"prometheusAddress"` // the address of the server
}

// DefaultMetricsConfig() returns the default metrics configuration
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Enabled:           false,
		PrometheusAddress: "0.0.0.0:9090",
	}
}

// RPC CONFIG BELOW

// RPCConfig is the configuration of the read-only status server
type RPCConfig struct {
	RPCEnabled bool   `json:"rpcEnabled"` // serve engine status over http
	RPCPort    string `json:"rpcPort"`    // the port of the status server
	TimeoutS   int    `json:"timeoutS"`   // the request timeout in seconds
}

// DefaultRPCConfig() returns the default status server configuration
func DefaultRPCConfig() RPCConfig {
	return RPCConfig{
		RPCEnabled: false,
		RPCPort:    "50002",
		TimeoutS:   3,
	}
}

// WriteToFile() saves the Config object to a JSON file
func (c Config) WriteToFile(filepath string) ErrorI {
	jsonBytes, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return ErrJSONMarshal(err)
	}
	if err = os.WriteFile(filepath, jsonBytes, os.ModePerm); err != nil {
		return ErrWriteFile(err)
	}
	return nil
}

// NewConfigFromFile() populates a Config object from a JSON file; missing fields keep their defaults
func NewConfigFromFile(filepath string) (Config, ErrorI) {
	fileBytes, err := os.ReadFile(filepath)
	if err != nil {
		return Config{}, ErrReadFile(err)
	}
	c := DefaultConfig()
	if err = json.Unmarshal(fileBytes, &c); err != nil {
		return Config{}, ErrJSONUnmarshal(err)
	}
	if e := c.ConsensusConfig.Check(); e != nil {
		return Config{}, e
	}
	return c, nil
}
