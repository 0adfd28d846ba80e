package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/and161185/goph-drafts/internal/config"
)

// parseConfig loads the file named by -config and applies explicitly set flags on top.
func parseConfig(args []string) (config.Config, error) {
	fs := flag.NewFlagSet("gk-drafts-server", flag.ContinueOnError)
	path := fs.String("config", os.Getenv("DRAFTS_CONFIG"), "YAML config file")

	var v config.Config
	fs.StringVar(&v.Addr, "addr", "", "listen address")
	fs.StringVar(&v.MetricsAddr, "metrics-addr", "", "prometheus listen address (empty disables)")
	fs.StringVar(&v.Store, "store", "", "content store: memory|postgres")
	fs.StringVar(&v.DSN, "dsn", "", "PostgreSQL DSN")
	fs.StringVar(&v.JWTKey, "jwt-key", "", "HS256 signing key (required)")
	fs.StringVar(&v.TLSCert, "tls-cert", "", "TLS certificate (PEM); empty serves plaintext in dev mode")
	fs.StringVar(&v.TLSKey, "tls-key", "", "TLS private key (PEM)")
	fs.BoolVar(&v.Dev, "dev", false, "dev mode: reflection, Clear, plaintext")
	maxConns := fs.Int("max-conns", 0, "max PostgreSQL connections")
	fs.DurationVar(&v.Drafts.RetireWindow, "retire-window", 0, "visibility window of published drafts")
	fs.DurationVar(&v.Drafts.SaveDebounce, "save-debounce", 0, "debounced save delay")
	if err := fs.Parse(args); err != nil {
		return config.Config{}, err
	}

	cfg, err := config.Load(*path)
	if err != nil {
		return config.Config{}, err
	}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "addr":
			cfg.Addr = v.Addr
		case "metrics-addr":
			cfg.MetricsAddr = v.MetricsAddr
		case "store":
			cfg.Store = v.Store
		case "dsn":
			cfg.DSN = v.DSN
		case "jwt-key":
			cfg.JWTKey = v.JWTKey
		case "tls-cert":
			cfg.TLSCert = v.TLSCert
		case "tls-key":
			cfg.TLSKey = v.TLSKey
		case "dev":
			cfg.Dev = v.Dev
		case "max-conns":
			cfg.MaxConns = int32(*maxConns)
		case "retire-window":
			cfg.Drafts.RetireWindow = v.Drafts.RetireWindow
		case "save-debounce":
			cfg.Drafts.SaveDebounce = v.Drafts.SaveDebounce
		}
	})
	if cfg.JWTKey == "" {
		cfg.JWTKey = os.Getenv("DRAFTS_JWT_KEY")
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
