package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// FromEnv overlays POLLBUS_* environment variables onto cfg. Values that do
// not parse are ignored.
func FromEnv(cfg *Config) {
	envString("POLLBUS_NAMESPACE", &cfg.Namespace)
	envString("POLLBUS_DATA_DIR", &cfg.DataDir)
	envString("POLLBUS_FSYNC", &cfg.Fsync)
	envDuration("POLLBUS_FSYNC_INTERVAL", &cfg.FsyncInterval)

	envString("POLLBUS_NOTIFY_TOPIC", &cfg.NotifyTopic)
	envDuration("POLLBUS_RETENTION_WINDOW", &cfg.RetentionWindow)
	if v := os.Getenv("POLLBUS_GC_SAMPLE_RATE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.GCSampleRate = f
		}
	}
	envDuration("POLLBUS_GC_HORIZON", &cfg.GCHorizon)
	envDuration("POLLBUS_GC_INTERVAL", &cfg.GCInterval)
	envDuration("POLLBUS_MAX_POLL_TIMEOUT", &cfg.MaxPollTimeout)
	envDuration("POLLBUS_LISTENER_IDLE_TIMEOUT", &cfg.ListenerIdleTimeout)
	envDuration("POLLBUS_HISTORY_WINDOW", &cfg.HistoryWindow)

	envString("POLLBUS_STORE_DRIVER", &cfg.Store.Driver)
	envString("POLLBUS_STORE_DSN", &cfg.Store.DSN)
	envString("POLLBUS_STORE_TABLE", &cfg.Store.Table)

	envString("POLLBUS_TRANSPORT_KIND", &cfg.Transport.Kind)
	envString("POLLBUS_TRANSPORT_DSN", &cfg.Transport.DSN)
	envList("POLLBUS_TRANSPORT_LISTEN_ADDRS", &cfg.Transport.ListenAddrs)
	envList("POLLBUS_TRANSPORT_BOOTSTRAP", &cfg.Transport.Bootstrap)
	envString("POLLBUS_TRANSPORT_RENDEZVOUS", &cfg.Transport.Rendezvous)
	if v := os.Getenv("POLLBUS_TRANSPORT_MDNS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Transport.MDNS = b
		}
	}
	envString("POLLBUS_TRANSPORT_IDENTITY_KEY_FILE", &cfg.Transport.IdentityKeyFile)

	envString("POLLBUS_HTTP_ADDR", &cfg.HTTPAddr)
	envString("POLLBUS_GRPC_ADDR", &cfg.GRPCAddr)
	envList("POLLBUS_CORS_ORIGINS", &cfg.CORSOrigins)

	envString("POLLBUS_LOG_LEVEL", &cfg.Log.Level)
	envString("POLLBUS_LOG_FORMAT", &cfg.Log.Format)
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envDuration(key string, dst *Duration) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = Duration(d)
		}
	}
}

func envList(key string, dst *[]string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	*dst = nil
	for _, p := range strings.Split(v, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			*dst = append(*dst, p)
		}
	}
}
