package logging

import (
	"io"
	"os"
	"strings"

	"github.com/hashicorp/go-hclog"

	"github.com/metaparticle-io/container-lib/pkg/config"
)

// builds the root logger, unknown levels fall back to info
func New(name string, cfg config.LoggingConfig) hclog.Logger {
	return newLogger(name, cfg, os.Stderr)
}

func newLogger(name string, cfg config.LoggingConfig, out io.Writer) hclog.Logger {
	level := hclog.LevelFromString(cfg.Level)
	if level == hclog.NoLevel {
		level = hclog.Info
	}

	return hclog.New(&hclog.LoggerOptions{
		Name:       name,
		Level:      level,
		Output:     out,
		JSONFormat: strings.EqualFold(cfg.Format, "json"),
	})
}
