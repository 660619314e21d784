package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
)

const (
	credentialsEnv       = "GOOGLE_APPLICATION_CREDENTIALS"
	localCredentialsFile = "dialogflow_credentials.json"

	defaultHost         = "0.0.0.0"
	defaultPort         = "5000"
	defaultStaticDir    = "static"
	defaultLanguageCode = "en-US"
	defaultAllowOrigins = "*"
	defaultLogLevel     = "info"
)

var (
	ErrCredentialsNotConfigured = errors.New("GOOGLE_APPLICATION_CREDENTIALS not set and " + localCredentialsFile + " not found")
	ErrMissingProjectID         = errors.New("project_id not found in credentials file")
)

// Config is built once at startup and never mutated afterwards.
type Config struct {
	ProjectID       string
	CredentialsPath string

	Addr                string
	StaticDir           string
	DefaultLanguageCode string
	AllowOrigins        string
	LogLevel            string

	TwilioAuthToken  string
	TwilioWebhookURL string
}

type credentialsRecord struct {
	ProjectID string `json:"project_id"`
}

// LoadConfig resolves the service account file and the remaining settings.
// baseDir is where the local credentials file is looked up when the
// environment does not point at one. A relative static dir is resolved
// against it as well.
func LoadConfig(getenv func(string) string, baseDir string) (Config, error) {
	credentialsPath, err := locateCredentials(getenv, baseDir)
	if err != nil {
		return Config{}, err
	}

	projectID, err := readProjectID(credentialsPath)
	if err != nil {
		return Config{}, fmt.Errorf("could not determine project id from %s: %w", credentialsPath, err)
	}

	cfg := Config{
		ProjectID:           projectID,
		CredentialsPath:     credentialsPath,
		Addr:                net.JoinHostPort(envDefault(getenv, "HOST", defaultHost), envDefault(getenv, "PORT", defaultPort)),
		StaticDir:           strings.TrimSpace(getenv("STATIC_DIR")),
		DefaultLanguageCode: strings.TrimSpace(getenv("DEFAULT_LANGUAGE_CODE")),
		AllowOrigins:        strings.TrimSpace(getenv("ALLOWED_ORIGINS")),
		LogLevel:            strings.TrimSpace(getenv("LOG_LEVEL")),
		TwilioAuthToken:     getenv("TWILIO_AUTH_TOKEN"),
		TwilioWebhookURL:    getenv("TWILIO_WEBHOOK_URL"),
	}.withDefaults()

	if !filepath.IsAbs(cfg.StaticDir) {
		cfg.StaticDir = filepath.Join(baseDir, cfg.StaticDir)
	}

	return cfg, nil
}

// withDefaults fills every unset optional setting.
func (c Config) withDefaults() Config {
	if c.Addr == "" {
		c.Addr = net.JoinHostPort(defaultHost, defaultPort)
	}
	if c.StaticDir == "" {
		c.StaticDir = defaultStaticDir
	}
	if c.DefaultLanguageCode == "" {
		c.DefaultLanguageCode = defaultLanguageCode
	}
	if c.AllowOrigins == "" {
		c.AllowOrigins = defaultAllowOrigins
	}
	if c.LogLevel == "" {
		c.LogLevel = defaultLogLevel
	}
	return c
}

func locateCredentials(getenv func(string) string, baseDir string) (string, error) {
	if path := getenv(credentialsEnv); path != "" {
		return path, nil
	}

	path := filepath.Join(baseDir, localCredentialsFile)
	if _, err := os.Stat(path); err != nil {
		return "", ErrCredentialsNotConfigured
	}

	return path, nil
}

func readProjectID(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}

	var record credentialsRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return "", fmt.Errorf("invalid credentials json: %w", err)
	}

	if record.ProjectID == "" {
		return "", ErrMissingProjectID
	}

	return record.ProjectID, nil
}

func envDefault(getenv func(string) string, key, def string) string {
	if v := strings.TrimSpace(getenv(key)); v != "" {
		return v
	}
	return def
}

// executableDir is the directory holding the running binary.
func executableDir() string {
	exe, err := os.Executable()
	if err != nil {
		return "."
	}
	return filepath.Dir(exe)
}
