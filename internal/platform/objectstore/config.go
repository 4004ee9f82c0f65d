package objectstore

import (
	"errors"
	"fmt"
	"strings"

	"github.com/avidelta/nexus/internal/platform/env"
)

type Config struct {
	Endpoint   string
	AccessKey  string
	SecretKey  string
	Region     string
	UseSSL     bool
	BucketRuns string
}

// Enabled reports whether an endpoint has been configured at all.
func (c Config) Enabled() bool {
	return strings.TrimSpace(c.Endpoint) != ""
}

// ConfigFromEnv returns a disabled (zero endpoint) config when
// NEXUS_OBJECTSTORE_ENDPOINT is unset.
func ConfigFromEnv() (Config, error) {
	useSSL, err := env.Bool("NEXUS_OBJECTSTORE_USE_SSL", true)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		Endpoint:   strings.TrimSpace(env.String("NEXUS_OBJECTSTORE_ENDPOINT", "")),
		AccessKey:  env.Secret("NEXUS_OBJECTSTORE_ACCESS_KEY"),
		SecretKey:  env.Secret("NEXUS_OBJECTSTORE_SECRET_KEY"),
		Region:     env.String("NEXUS_OBJECTSTORE_REGION", "us-east-1"),
		UseSSL:     useSSL,
		BucketRuns: env.String("NEXUS_OBJECTSTORE_BUCKET", "nexus-daily-runs"),
	}
	if !cfg.Enabled() {
		return cfg, nil
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Endpoint) == "" {
		return errors.New("endpoint is required")
	}
	if strings.TrimSpace(c.AccessKey) == "" {
		return errors.New("access key is required")
	}
	if strings.TrimSpace(c.SecretKey) == "" {
		return errors.New("secret key is required")
	}
	if strings.TrimSpace(c.Region) == "" {
		return errors.New("region is required")
	}
	if strings.TrimSpace(c.BucketRuns) == "" {
		return errors.New("runs bucket is required")
	}
	if strings.Contains(c.Endpoint, "://") {
		return fmt.Errorf("endpoint must not include scheme: %q", c.Endpoint)
	}
	return nil
}
