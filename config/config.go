package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// MinSigningSecretBytes matches the credential signer's minimum.
const MinSigningSecretBytes = 32

type Config struct {
	// Server configuration
	Port        string `env:"PORT"        envDefault:"8090"`
	Environment string `env:"ENVIRONMENT" envDefault:"development"`

	// Redis configuration
	RedisURL string `env:"REDIS_URL" envDefault:"localhost:6379"`

	// PubNub configuration
	PubNubPublishKey   string `env:"PUBNUB_PUBLISH_KEY"`
	PubNubSubscribeKey string `env:"PUBNUB_SUBSCRIBE_KEY"`
	PubNubSecretKey    string `env:"PUBNUB_SECRET_KEY"`
	PubNubUserID       string `env:"PUBNUB_USER_ID" envDefault:"ticket-checkin-server"`

	// Scan credentials
	SigningSecretHex  string        `env:"SCAN_SIGNING_SECRET"`
	Issuer            string        `env:"SCAN_ISSUER"        envDefault:"ticket-checkin"`
	CredentialTTL     time.Duration `env:"CREDENTIAL_TTL"     envDefault:"30s"`
	CredentialRefresh time.Duration `env:"CREDENTIAL_REFRESH" envDefault:"25s"`

	// Scanning
	ScanRateLimit   int    `env:"SCAN_RATE_LIMIT"  envDefault:"120"`
	ScanAuditMax    int    `env:"SCAN_AUDIT_MAX"   envDefault:"500"`
	DisplayTimezone string `env:"DISPLAY_TIMEZONE" envDefault:"Local"`

	// Monitoring
	EnableMetrics bool `env:"ENABLE_METRICS" envDefault:"true"`
}

func LoadConfig() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

func (c *Config) PubNubEnabled() bool {
	return c.PubNubPublishKey != "" && c.PubNubSubscribeKey != ""
}

// Validate rejects settings the scan protocol cannot work with.
func (c *Config) Validate() error {
	if c.CredentialTTL <= 0 {
		return errors.New("config: CREDENTIAL_TTL must be positive")
	}
	if c.CredentialRefresh <= 0 {
		return errors.New("config: CREDENTIAL_REFRESH must be positive")
	}
	if c.CredentialRefresh >= c.CredentialTTL {
		return fmt.Errorf("config: CREDENTIAL_REFRESH (%s) must be shorter than CREDENTIAL_TTL (%s)", c.CredentialRefresh, c.CredentialTTL)
	}

	if c.SigningSecretHex == "" {
		if !c.IsDevelopment() {
			return errors.New("config: SCAN_SIGNING_SECRET is required outside development")
		}
	} else if _, err := c.SigningSecret(); err != nil {
		return err
	}

	if _, err := c.Location(); err != nil {
		return err
	}
	if c.ScanRateLimit < 0 {
		return errors.New("config: SCAN_RATE_LIMIT cannot be negative")
	}
	return nil
}

// SigningSecret decodes SCAN_SIGNING_SECRET. It returns nil, nil when unset.
func (c *Config) SigningSecret() ([]byte, error) {
	if c.SigningSecretHex == "" {
		return nil, nil
	}
	secret, err := hex.DecodeString(c.SigningSecretHex)
	if err != nil {
		return nil, fmt.Errorf("config: SCAN_SIGNING_SECRET must be hex: %w", err)
	}
	if len(secret) < MinSigningSecretBytes {
		return nil, fmt.Errorf("config: SCAN_SIGNING_SECRET must decode to at least %d bytes, got %d", MinSigningSecretBytes, len(secret))
	}
	return secret, nil
}

func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.DisplayTimezone)
	if err != nil {
		return nil, fmt.Errorf("config: DISPLAY_TIMEZONE: %w", err)
	}
	return loc, nil
}
