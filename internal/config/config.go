package config

import (
	"encoding/base64"
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	ServerAddr     string
	DatabaseDSN    string
	SigningKey     []byte
	AllowedOrigins []string
	MemStore       bool
	MigrationsDir  string
}

// env holds environment overrides, read with the CONVO_ prefix
// (CONVO_ADDR, CONVO_DSN, CONVO_SIGNING_KEY).
type env struct {
	Addr       string `envconfig:"ADDR"`
	DSN        string `envconfig:"DSN"`
	SigningKey string `envconfig:"SIGNING_KEY"`
}

func decodeSigningSecret(base64Secret string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(base64Secret)
}

func NewConfig(serverAddr, databaseDSN, base64Secret string, allowedOrigins []string, memStore bool, migrationsDir string) (*Config, error) {
	var e env
	if err := envconfig.Process("convo", &e); err != nil {
		return nil, fmt.Errorf("read environment: %w", err)
	}
	if e.Addr != "" {
		serverAddr = e.Addr
	}
	if e.DSN != "" {
		databaseDSN = e.DSN
	}
	if e.SigningKey != "" {
		base64Secret = e.SigningKey
	}

	if serverAddr == "" {
		return nil, fmt.Errorf("server address cannot be empty")
	}
	if databaseDSN == "" && !memStore {
		return nil, fmt.Errorf("database DSN cannot be empty")
	}
	if base64Secret == "" {
		return nil, fmt.Errorf("signing secret cannot be empty")
	}

	signingKey, err := decodeSigningSecret(base64Secret)
	if err != nil {
		return nil, fmt.Errorf("decode signing secret: %w", err)
	}

	return &Config{
		ServerAddr:     serverAddr,
		DatabaseDSN:    databaseDSN,
		SigningKey:     signingKey,
		AllowedOrigins: allowedOrigins,
		MemStore:       memStore,
		MigrationsDir:  migrationsDir,
	}, nil
}
