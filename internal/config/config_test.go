package config

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv(envListenAddr, "")
	t.Setenv(envDBPath, "")
	t.Setenv(envLogLevel, "")
	t.Setenv(envDeadlineMS, "")
	t.Setenv(envUpstreams, "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.ListenAddr != defaultListenAddr {
		t.Errorf("ListenAddr = %q, want %q", cfg.ListenAddr, defaultListenAddr)
	}
	if cfg.DBPath != defaultDBPath {
		t.Errorf("DBPath = %q, want %q", cfg.DBPath, defaultDBPath)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Errorf("LogLevel = %v, want %v", cfg.LogLevel, slog.LevelInfo)
	}
	if cfg.DeadlineMS != defaultDeadlineMS {
		t.Errorf("DeadlineMS = %d, want %d", cfg.DeadlineMS, defaultDeadlineMS)
	}
	if len(cfg.Upstreams) != 0 {
		t.Errorf("Upstreams = %v, want none", cfg.Upstreams)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv(envListenAddr, ":9090")
	t.Setenv(envDBPath, "/tmp/test.db")
	t.Setenv(envLogLevel, "debug")
	t.Setenv(envDeadlineMS, "250")
	t.Setenv(envUpstreams, "web=http://a:9200|http://b:9200;news=http://c:9200")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.ListenAddr != ":9090" {
		t.Errorf("ListenAddr = %q, want %q", cfg.ListenAddr, ":9090")
	}
	if cfg.DBPath != "/tmp/test.db" {
		t.Errorf("DBPath = %q, want %q", cfg.DBPath, "/tmp/test.db")
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Errorf("LogLevel = %v, want %v", cfg.LogLevel, slog.LevelDebug)
	}
	if cfg.DeadlineMS != 250 {
		t.Errorf("DeadlineMS = %d, want 250", cfg.DeadlineMS)
	}
	if len(cfg.Upstreams) != 2 {
		t.Fatalf("len(Upstreams) = %d, want 2", len(cfg.Upstreams))
	}
	if cfg.Upstreams[0].Name != "web" || len(cfg.Upstreams[0].URLs) != 2 {
		t.Errorf("Upstreams[0] = %+v, want web with 2 URLs", cfg.Upstreams[0])
	}
	if cfg.Upstreams[1].Name != "news" || cfg.Upstreams[1].URLs[0] != "http://c:9200" {
		t.Errorf("Upstreams[1] = %+v, want news with http://c:9200", cfg.Upstreams[1])
	}
}

func TestLoadInvalidDeadline(t *testing.T) {
	tests := []string{"abc", "0", "-5"}
	for _, v := range tests {
		t.Setenv(envDeadlineMS, v)
		if _, err := Load(); err == nil {
			t.Errorf("Load with %s=%q should fail", envDeadlineMS, v)
		}
	}
}

func TestParseUpstreams(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"single group", "web=http://a", false},
		{"trailing separator", "web=http://a;", false},
		{"spaces", " web = http://a | http://b ", false},
		{"missing equals", "web", true},
		{"empty name", "=http://a", true},
		{"no urls", "web=", true},
		{"duplicate group", "web=http://a;web=http://b", true},
		{"comma in name", "we,b=http://a", true},
		{"empty spec", ";;", true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := parseUpstreams(tc.input)
			if tc.wantErr && err == nil {
				t.Errorf("parseUpstreams(%q) succeeded, want error", tc.input)
			}
			if !tc.wantErr && err != nil {
				t.Errorf("parseUpstreams(%q) = %v, want success", tc.input, err)
			}
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"invalid", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		got := parseLogLevel(tt.input)
		if got != tt.want {
			t.Errorf("parseLogLevel(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestNewLoggerOutputsJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, slog.LevelInfo)
	if logger == nil {
		t.Fatal("NewLogger returned nil")
	}

	logger.Info("test message", "key", "value")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("logger output is not valid JSON: %v\noutput: %s", err, buf.String())
	}

	for _, key := range []string{"time", "level", "msg"} {
		if _, ok := entry[key]; !ok {
			t.Errorf("JSON output missing expected key %q", key)
		}
	}
	if entry["msg"] != "test message" {
		t.Errorf("msg = %v, want %q", entry["msg"], "test message")
	}
	if entry["key"] != "value" {
		t.Errorf("key = %v, want %q", entry["key"], "value")
	}
}
