package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

const (
	defaultListenAddr = ":8080"
	defaultDBPath     = "scatter.db"
	defaultDeadlineMS = 500

	envListenAddr = "SCATTER_LISTEN_ADDR"
	envDBPath     = "SCATTER_DB_PATH"
	envLogLevel   = "SCATTER_LOG_LEVEL"
	envDeadlineMS = "SCATTER_DEADLINE_MS"
	envUpstreams  = "SCATTER_UPSTREAMS"
)

// UpstreamGroup is one named replica group parsed from the environment.
type UpstreamGroup struct {
	Name string
	URLs []string
}

// Config holds application configuration loaded from environment variables.
type Config struct {
	ListenAddr string
	DBPath     string
	LogLevel   slog.Level
	DeadlineMS int
	Upstreams  []UpstreamGroup
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (Config, error) {
	cfg := Config{
		ListenAddr: defaultListenAddr,
		DBPath:     defaultDBPath,
		LogLevel:   slog.LevelInfo,
		DeadlineMS: defaultDeadlineMS,
	}

	if v := os.Getenv(envListenAddr); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv(envDBPath); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv(envLogLevel); v != "" {
		cfg.LogLevel = parseLogLevel(v)
	}
	if v := os.Getenv(envDeadlineMS); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil || ms <= 0 {
			return Config{}, fmt.Errorf("invalid %s: %q", envDeadlineMS, v)
		}
		cfg.DeadlineMS = ms
	}
	if v := os.Getenv(envUpstreams); v != "" {
		groups, err := parseUpstreams(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", envUpstreams, err)
		}
		cfg.Upstreams = groups
	}

	return cfg, nil
}

// parseUpstreams parses the upstream group spec, e.g.
// "web=http://a:9200|http://b:9200;news=http://c:9200".
// Groups are separated by ";", replicas within a group by "|".
func parseUpstreams(s string) ([]UpstreamGroup, error) {
	var groups []UpstreamGroup
	seen := make(map[string]bool)

	for _, part := range strings.Split(s, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		name, urls, ok := strings.Cut(part, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("malformed group %q, want name=url|url", part)
		}
		if strings.Contains(name, ",") {
			return nil, fmt.Errorf("group name %q may not contain a comma", name)
		}
		if seen[name] {
			return nil, fmt.Errorf("duplicate group %q", name)
		}
		seen[name] = true

		g := UpstreamGroup{Name: name}
		for _, u := range strings.Split(urls, "|") {
			u = strings.TrimSpace(u)
			if u != "" {
				g.URLs = append(g.URLs, u)
			}
		}
		if len(g.URLs) == 0 {
			return nil, fmt.Errorf("group %q has no replica URLs", name)
		}
		groups = append(groups, g)
	}

	if len(groups) == 0 {
		return nil, fmt.Errorf("no upstream groups in %q", s)
	}
	return groups, nil
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a structured JSON logger writing to w at the configured level.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}
