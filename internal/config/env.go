package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Env holds process-level overrides read from the environment. Unset values
// leave the file configuration untouched.
type Env struct {
	ScratchDir   string   `env:"GTPIPE_SCRATCHDIR"`
	PFiles       string   `env:"GTPIPE_PFILES"`
	Engine       []string `env:"GTPIPE_ENGINE" envSeparator:" "`
	Verbosity    *int     `env:"GTPIPE_VERBOSITY"`
	MaxParallel  *int     `env:"GTPIPE_MAX_PARALLEL"`
	OTLPEndpoint string   `env:"GTPIPE_OTLP_ENDPOINT"`
	SystemPFiles string   `env:"PFILES"`
	User         string   `env:"USER" envDefault:"gtpipe"`
}

// LoadEnv parses the GTPIPE_* environment variables.
func LoadEnv() (Env, error) {
	var out Env
	if err := ParseEnv(&out); err != nil {
		return Env{}, fmt.Errorf("config: %w", err)
	}
	return out, nil
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// ParameterFiles returns the system parameter-file path, preferring the
// configured override.
func (e Env) ParameterFiles(configured string) string {
	if e.PFiles != "" {
		return e.PFiles
	}
	if configured != "" {
		return configured
	}
	return e.SystemPFiles
}

func (e Env) apply(a *Analysis) {
	if e.ScratchDir != "" {
		a.FileIO.ScratchDir = e.ScratchDir
	}
	if e.PFiles != "" {
		a.FileIO.PFiles = e.PFiles
	}
	if len(e.Engine) > 0 {
		a.Runtime.Engine = append([]string(nil), e.Engine...)
	}
	if e.Verbosity != nil {
		a.Verbosity = *e.Verbosity
	}
	if e.MaxParallel != nil {
		a.Runtime.MaxParallel = *e.MaxParallel
	}
}
