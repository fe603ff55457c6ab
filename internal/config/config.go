// Package config loads application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the application configuration loaded from environment variables.
type Config struct {
	GitHubToken   string
	WebhookSecret string

	BackendURL   string
	BackendToken string

	// DefaultPlan is the build plan started for repositories without an
	// entry in RepoPlans.
	DefaultPlan string
	// RepoPlans maps "owner/repo" to a backend plan key.
	RepoPlans map[string]string

	// StageDefinitions is the path to the YAML stage definition file. Empty
	// means no stage configurations are seeded at startup.
	StageDefinitions string

	PollInterval    time.Duration
	ListenAddr      string
	DBPath          string
	DispatchWorkers int
	DispatchQueue   int
}

// Load reads configuration from environment variables and returns a validated
// Config. Required: CHECKBRIDGE_GITHUB_TOKEN, CHECKBRIDGE_WEBHOOK_SECRET,
// CHECKBRIDGE_BACKEND_URL, CHECKBRIDGE_BACKEND_TOKEN, CHECKBRIDGE_DEFAULT_PLAN.
// Optional variables with defaults: CHECKBRIDGE_POLL_INTERVAL (30s),
// CHECKBRIDGE_LISTEN_ADDR (127.0.0.1:8080), CHECKBRIDGE_DB_PATH
// (checkbridge.db), CHECKBRIDGE_DISPATCH_WORKERS (4),
// CHECKBRIDGE_DISPATCH_QUEUE (256).
func Load() (*Config, error) {
	cfg := &Config{
		GitHubToken:      os.Getenv("CHECKBRIDGE_GITHUB_TOKEN"),
		WebhookSecret:    os.Getenv("CHECKBRIDGE_WEBHOOK_SECRET"),
		BackendURL:       strings.TrimRight(os.Getenv("CHECKBRIDGE_BACKEND_URL"), "/"),
		BackendToken:     os.Getenv("CHECKBRIDGE_BACKEND_TOKEN"),
		DefaultPlan:      os.Getenv("CHECKBRIDGE_DEFAULT_PLAN"),
		StageDefinitions: os.Getenv("CHECKBRIDGE_STAGE_DEFINITIONS"),
		PollInterval:     30 * time.Second,
		ListenAddr:       "127.0.0.1:8080",
		DBPath:           "checkbridge.db",
		DispatchWorkers:  4,
		DispatchQueue:    256,
	}

	for name, value := range map[string]string{
		"CHECKBRIDGE_GITHUB_TOKEN":   cfg.GitHubToken,
		"CHECKBRIDGE_WEBHOOK_SECRET": cfg.WebhookSecret,
		"CHECKBRIDGE_BACKEND_URL":    cfg.BackendURL,
		"CHECKBRIDGE_BACKEND_TOKEN":  cfg.BackendToken,
		"CHECKBRIDGE_DEFAULT_PLAN":   cfg.DefaultPlan,
	} {
		if value == "" {
			return nil, fmt.Errorf("%s is required", name)
		}
	}

	if v, ok := os.LookupEnv("CHECKBRIDGE_POLL_INTERVAL"); ok {
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("CHECKBRIDGE_POLL_INTERVAL has invalid duration %q: %w", v, err)
		}
		cfg.PollInterval = parsed
	}
	if v, ok := os.LookupEnv("CHECKBRIDGE_LISTEN_ADDR"); ok {
		cfg.ListenAddr = v
	}
	if v, ok := os.LookupEnv("CHECKBRIDGE_DB_PATH"); ok {
		cfg.DBPath = v
	}
	if v, ok := os.LookupEnv("CHECKBRIDGE_DISPATCH_WORKERS"); ok {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 1 {
			return nil, fmt.Errorf("CHECKBRIDGE_DISPATCH_WORKERS has invalid value %q", v)
		}
		cfg.DispatchWorkers = parsed
	}
	if v, ok := os.LookupEnv("CHECKBRIDGE_DISPATCH_QUEUE"); ok {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 1 {
			return nil, fmt.Errorf("CHECKBRIDGE_DISPATCH_QUEUE has invalid value %q", v)
		}
		cfg.DispatchQueue = parsed
	}

	plans, err := parseRepoPlans(os.Getenv("CHECKBRIDGE_REPO_PLANS"))
	if err != nil {
		return nil, err
	}
	cfg.RepoPlans = plans

	return cfg, nil
}

// parseRepoPlans parses the per-repository plan override list, a
// comma-separated sequence of "owner/repo=PLAN-KEY" pairs.
func parseRepoPlans(raw string) (map[string]string, error) {
	plans := map[string]string{}
	if raw == "" {
		return plans, nil
	}

	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		repo, plan, found := strings.Cut(pair, "=")
		repo = strings.TrimSpace(repo)
		plan = strings.TrimSpace(plan)
		if !found || repo == "" || plan == "" || !strings.Contains(repo, "/") {
			return nil, fmt.Errorf("CHECKBRIDGE_REPO_PLANS has invalid entry %q, want owner/repo=PLAN", pair)
		}
		plans[repo] = plan
	}

	return plans, nil
}
