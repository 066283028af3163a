package main

import (
	"io"

	"gopkg.in/yaml.v3"

	cfgpkg "github.com/rzbill/pollbus/internal/config"
)

func printYAML(w io.Writer, cfg cfgpkg.Config) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	defer enc.Close()
	return enc.Encode(cfg)
}
