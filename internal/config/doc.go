// Package config loads pollbus configuration. Default() is the baseline,
// Load reads a JSON or YAML file over it, and FromEnv overlays POLLBUS_*
// variables.
//
// Example:
//
//	cfg, err := config.Load("/etc/pollbus.yaml")
//	if err != nil {
//	    return err
//	}
//	config.FromEnv(&cfg)
//	if err := cfg.Validate(); err != nil {
//	    return err
//	}
//	rt, err := runtime.Open(ctx, runtime.Options{Config: cfg})
package config
