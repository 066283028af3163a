package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	logpkg "github.com/rzbill/pollbus/pkg/log"
)

// Store drivers.
const (
	StorePebble   = "pebble"
	StorePostgres = "postgres"
)

// Transport kinds.
const (
	TransportMemory   = "memory"
	TransportPostgres = "postgres"
	TransportGossip   = "gossip"
)

// Duration is a time.Duration written as a Go duration string ("50s") in
// JSON and YAML. Bare JSON numbers are read as nanoseconds.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

func (d Duration) MarshalJSON() ([]byte, error) { return json.Marshal(d.String()) }

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		var n int64
		if err := json.Unmarshal(b, &n); err != nil {
			return fmt.Errorf("duration: %s", b)
		}
		*d = Duration(n)
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) { return d.String(), nil }

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	v, err := time.ParseDuration(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*d = Duration(v)
	return nil
}

// Config is the top-level configuration loaded from file/env.
type Config struct {
	Namespace     string   `json:"namespace" yaml:"namespace"`
	DataDir       string   `json:"dataDir" yaml:"dataDir"`
	Fsync         string   `json:"fsync" yaml:"fsync"`
	FsyncInterval Duration `json:"fsyncInterval" yaml:"fsyncInterval"`

	NotifyTopic     string   `json:"notifyTopic" yaml:"notifyTopic"`
	RetentionWindow Duration `json:"retentionWindow" yaml:"retentionWindow"`
	// GCSampleRate of zero disables inline collection.
	GCSampleRate        float64  `json:"gcSampleRate" yaml:"gcSampleRate"`
	GCHorizon           Duration `json:"gcHorizon" yaml:"gcHorizon"`
	GCInterval          Duration `json:"gcInterval" yaml:"gcInterval"`
	MaxPollTimeout      Duration `json:"maxPollTimeout" yaml:"maxPollTimeout"`
	ListenerIdleTimeout Duration `json:"listenerIdleTimeout" yaml:"listenerIdleTimeout"`
	HistoryWindow       Duration `json:"historyWindow" yaml:"historyWindow"`

	Store     StoreConfig     `json:"store" yaml:"store"`
	Transport TransportConfig `json:"transport" yaml:"transport"`

	HTTPAddr    string   `json:"httpAddr" yaml:"httpAddr"`
	GRPCAddr    string   `json:"grpcAddr" yaml:"grpcAddr"`
	CORSOrigins []string `json:"corsOrigins,omitempty" yaml:"corsOrigins,omitempty"`

	Log logpkg.Config `json:"log" yaml:"log"`
}

// StoreConfig selects the message log backend.
type StoreConfig struct {
	Driver string `json:"driver" yaml:"driver"` // pebble|postgres
	DSN    string `json:"dsn,omitempty" yaml:"dsn,omitempty"`
	Table  string `json:"table,omitempty" yaml:"table,omitempty"`
}

// TransportConfig selects the notification transport.
type TransportConfig struct {
	Kind string `json:"kind" yaml:"kind"` // memory|postgres|gossip
	// DSN defaults to Store.DSN for the postgres transport.
	DSN             string   `json:"dsn,omitempty" yaml:"dsn,omitempty"`
	ListenAddrs     []string `json:"listenAddrs,omitempty" yaml:"listenAddrs,omitempty"`
	Bootstrap       []string `json:"bootstrap,omitempty" yaml:"bootstrap,omitempty"`
	Rendezvous      string   `json:"rendezvous,omitempty" yaml:"rendezvous,omitempty"`
	MDNS            bool     `json:"mdns" yaml:"mdns"`
	IdentityKeyFile string   `json:"identityKeyFile,omitempty" yaml:"identityKeyFile,omitempty"`
}

// Default returns built-in defaults.
func Default() Config {
	return Config{
		Namespace:           "default",
		Fsync:               "always",
		FsyncInterval:       Duration(5 * time.Millisecond),
		NotifyTopic:         "imbus",
		RetentionWindow:     Duration(50 * time.Second),
		GCSampleRate:        0.01,
		MaxPollTimeout:      Duration(50 * time.Second),
		ListenerIdleTimeout: Duration(50 * time.Second),
		HistoryWindow:       Duration(10 * time.Second),
		Store:               StoreConfig{Driver: StorePebble, Table: "bus_message"},
		Transport:           TransportConfig{Kind: TransportMemory, Rendezvous: "pollbus"},
		HTTPAddr:            ":8080",
		GRPCAddr:            ":50051",
		Log:                 logpkg.Config{Level: "info", Format: "text"},
	}
}

// Load reads configuration from a JSON or YAML file (by extension) over the
// defaults. If path is empty, returns defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: %s: %w", path, err)
		}
	}
	return cfg, nil
}

// TransportDSN is the DSN the postgres transport connects to.
func (c Config) TransportDSN() string {
	if c.Transport.DSN != "" {
		return c.Transport.DSN
	}
	return c.Store.DSN
}

// Validate reports the first inconsistent setting.
func (c Config) Validate() error {
	switch c.Store.Driver {
	case StorePebble:
	case StorePostgres:
		if c.Store.DSN == "" {
			return errors.New("config: store.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("config: unknown store.driver %q", c.Store.Driver)
	}
	switch c.Transport.Kind {
	case TransportMemory, TransportGossip:
	case TransportPostgres:
		if c.TransportDSN() == "" {
			return errors.New("config: transport.dsn is required for the postgres transport")
		}
	default:
		return fmt.Errorf("config: unknown transport.kind %q", c.Transport.Kind)
	}
	if c.Store.Driver == StorePebble && c.Transport.Kind != TransportMemory {
		// Peers would be woken for rows that only exist in the publisher's database.
		return fmt.Errorf("config: transport.kind %q needs a shared store; set store.driver=postgres", c.Transport.Kind)
	}
	if c.GCSampleRate < 0 || c.GCSampleRate > 1 {
		return fmt.Errorf("config: gcSampleRate %v outside [0,1]", c.GCSampleRate)
	}
	if c.GCHorizon != 0 && c.GCHorizon < c.RetentionWindow {
		return fmt.Errorf("config: gcHorizon %s shorter than retentionWindow %s", c.GCHorizon, c.RetentionWindow)
	}
	for name, d := range map[string]Duration{
		"retentionWindow":     c.RetentionWindow,
		"gcHorizon":           c.GCHorizon,
		"gcInterval":          c.GCInterval,
		"maxPollTimeout":      c.MaxPollTimeout,
		"listenerIdleTimeout": c.ListenerIdleTimeout,
		"historyWindow":       c.HistoryWindow,
	} {
		if d < 0 {
			return fmt.Errorf("config: %s must not be negative", name)
		}
	}
	return nil
}
