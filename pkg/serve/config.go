// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// Package serve holds the server configuration: one JSON document
// (vega.json), with TOML accepted by file extension, decoded over
// pre-populated defaults. Unknown keys are rejected rather than
// silently ignored.
package serve

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/antgroup/vega/modules/streamio"
)

const (
	MiByte = 1 << 20

	DefaultRequestTimeout   = 10 * time.Second
	DefaultIdleTimeout      = 15 * time.Second
	DefaultMaxFrameLength   = 10 * MiByte
	DefaultRepositoryWorker = 16
)

type Address struct {
	Host string `json:"host" toml:"host"`
	Port int    `json:"port" toml:"port"`
}

type Port struct {
	LocalAddress Address `json:"localAddress" toml:"local_address"`
	Protocol     string  `json:"protocol" toml:"protocol"`
}

func (p *Port) Listen() string {
	return fmt.Sprintf("%s:%d", p.LocalAddress.Host, p.LocalAddress.Port)
}

type GracefulShutdownTimeout struct {
	QuietPeriodMillis int64 `json:"quietPeriodMillis" toml:"quiet_period_millis"`
	TimeoutMillis     int64 `json:"timeoutMillis" toml:"timeout_millis"`
}

// ReplicationMethod selects how mutations are ordered across replicas.
type ReplicationMethod string

const (
	// ReplicationNone runs a standalone replica with no journal.
	ReplicationNone ReplicationMethod = "NONE"
	// ReplicationMySQL orders mutations through a shared database
	// journal and leader lease.
	ReplicationMySQL ReplicationMethod = "MYSQL"
)

type Replication struct {
	Method           ReplicationMethod `json:"method" toml:"method"`
	ReplicaID        string            `json:"replicaId" toml:"replica_id"`
	ConnectionString string            `json:"connectionString" toml:"connection_string"`
	PathPrefix       string            `json:"pathPrefix" toml:"path_prefix"`
	// AdvertiseURL is this replica's internal endpoint, published with
	// the leader lease so followers know where to forward writes.
	AdvertiseURL    string `json:"advertiseUrl" toml:"advertise_url"`
	MaxLogCount     int64  `json:"maxLogCount" toml:"max_log_count"`
	MinLogAgeMillis int64  `json:"minLogAgeMillis" toml:"min_log_age_millis"`
}

type Config struct {
	DataDir                 string                  `json:"dataDir" toml:"data_dir"`
	Ports                   []Port                  `json:"ports" toml:"ports"`
	NumWorkers              int                     `json:"numWorkers" toml:"num_workers"`
	MaxNumConnections       int                     `json:"maxNumConnections" toml:"max_num_connections"`
	RequestTimeoutMillis    int64                   `json:"requestTimeoutMillis" toml:"request_timeout_millis"`
	IdleTimeoutMillis       int64                   `json:"idleTimeoutMillis" toml:"idle_timeout_millis"`
	MaxFrameLength          int64                   `json:"maxFrameLength" toml:"max_frame_length"`
	NumRepositoryWorkers    int                     `json:"numRepositoryWorkers" toml:"num_repository_workers"`
	CacheSpec               string                  `json:"cacheSpec" toml:"cache_spec"`
	WebAppEnabled           bool                    `json:"webAppEnabled" toml:"web_app_enabled"`
	GracefulShutdownTimeout GracefulShutdownTimeout `json:"gracefulShutdownTimeout" toml:"graceful_shutdown_timeout"`
	Replication             Replication             `json:"replication" toml:"replication"`
	WriteQuotaPerRepository int                     `json:"writeQuotaPerRepository" toml:"write_quota_per_repository"`
	QuotaWindowMillis       int64                   `json:"quotaWindowMillis" toml:"quota_window_millis"`
	PurgeGracePeriodMillis  int64                   `json:"purgeGracePeriodMillis" toml:"purge_grace_period_millis"`
	AuthSecret              string                  `json:"authSecret" toml:"auth_secret"`
	PluginConfigs           []json.RawMessage       `json:"pluginConfigs" toml:"-"`
}

func defaultConfig() *Config {
	return &Config{
		Ports:                []Port{{LocalAddress: Address{Host: "0.0.0.0", Port: 36462}, Protocol: "http"}},
		NumWorkers:           2 * runtime.NumCPU(),
		RequestTimeoutMillis: DefaultRequestTimeout.Milliseconds(),
		IdleTimeoutMillis:    DefaultIdleTimeout.Milliseconds(),
		MaxFrameLength:       DefaultMaxFrameLength,
		NumRepositoryWorkers: DefaultRepositoryWorker,
		GracefulShutdownTimeout: GracefulShutdownTimeout{
			QuietPeriodMillis: 1000,
			TimeoutMillis:     10000,
		},
		Replication: Replication{
			Method:          ReplicationNone,
			MaxLogCount:     1024,
			MinLogAgeMillis: time.Hour.Milliseconds(),
		},
		WriteQuotaPerRepository: 0,
		QuotaWindowMillis:       1000,
		PurgeGracePeriodMillis:  600000,
	}
}

// NewExpandReader opens a config file, optionally substituting ${var}
// and $var from the environment before decoding.
func NewExpandReader(file string, expandEnv bool) (io.ReadCloser, error) {
	fd, err := os.Open(file)
	if err != nil {
		return nil, err
	}
	if !expandEnv {
		return fd, nil
	}
	defer fd.Close() // nolint: errcheck
	buf, err := streamio.ReadMax(fd, 64*MiByte)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(strings.NewReader(os.ExpandEnv(string(buf)))), nil
}

// LoadConfig reads and validates the configuration document. Extension
// picks the codec: .toml decodes as TOML, everything else as JSON.
func LoadConfig(file string, expandEnv bool) (*Config, error) {
	r, err := NewExpandReader(file, expandEnv)
	if err != nil {
		return nil, err
	}
	defer r.Close() // nolint: errcheck
	cfg := defaultConfig()
	if strings.EqualFold(filepath.Ext(file), ".toml") {
		md, err := toml.NewDecoder(r).Decode(cfg)
		if err != nil {
			return nil, err
		}
		if undecoded := md.Undecoded(); len(undecoded) != 0 {
			return nil, fmt.Errorf("config: unknown key %q", undecoded[0].String())
		}
	} else {
		dec := json.NewDecoder(r)
		dec.DisallowUnknownFields()
		if err := dec.Decode(cfg); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("config: dataDir is required")
	}
	if len(c.Ports) == 0 {
		return fmt.Errorf("config: at least one port is required")
	}
	for i := range c.Ports {
		if p := c.Ports[i].Protocol; p != "" && p != "http" {
			return fmt.Errorf("config: unsupported protocol %q", p)
		}
	}
	switch c.Replication.Method {
	case ReplicationNone:
	case ReplicationMySQL:
		if c.Replication.ReplicaID == "" {
			return fmt.Errorf("config: replication.replicaId is required")
		}
		if c.Replication.ConnectionString == "" {
			return fmt.Errorf("config: replication.connectionString is required")
		}
	default:
		return fmt.Errorf("config: unknown replication method %q", c.Replication.Method)
	}
	return nil
}

func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutMillis) * time.Millisecond
}

func (c *Config) IdleTimeout() time.Duration {
	return time.Duration(c.IdleTimeoutMillis) * time.Millisecond
}

func (c *Config) QuotaWindow() time.Duration {
	return time.Duration(c.QuotaWindowMillis) * time.Millisecond
}

func (c *Config) PurgeGracePeriod() time.Duration {
	return time.Duration(c.PurgeGracePeriodMillis) * time.Millisecond
}

func (c *Config) MinLogAge() time.Duration {
	return time.Duration(c.Replication.MinLogAgeMillis) * time.Millisecond
}

func (c *Config) QuietPeriod() time.Duration {
	return time.Duration(c.GracefulShutdownTimeout.QuietPeriodMillis) * time.Millisecond
}

func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.GracefulShutdownTimeout.TimeoutMillis) * time.Millisecond
}
