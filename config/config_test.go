package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
)

func newTestCommand(t *testing.T) *cobra.Command {
	t.Helper()
	cmd := &cobra.Command{Use: "batch"}
	RegisterLogFlags(cmd.Flags())
	if err := RegisterFlags(cmd); err != nil {
		t.Fatalf("RegisterFlags() error = %v", err)
	}
	return cmd
}

func setFlags(t *testing.T, cmd *cobra.Command, kv map[string]string) {
	t.Helper()
	for name, value := range kv {
		if err := cmd.Flags().Set(name, value); err != nil {
			t.Fatalf("set --%s=%s: %v", name, value, err)
		}
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	cmd := newTestCommand(t)
	setFlags(t, cmd, map[string]string{
		"source-dir": "/data/templates",
		"out-dir":    "/data/eml",
	})

	cfg, err := LoadConfig(cmd)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.SourceDir != "/data/templates" {
		t.Errorf("SourceDir = %q", cfg.SourceDir)
	}
	if cfg.OutDir != "/data/eml" {
		t.Errorf("OutDir = %q", cfg.OutDir)
	}
	if cfg.Workers != 4 {
		t.Errorf("Workers = %d, want default 4", cfg.Workers)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want info", cfg.LogLevel)
	}
	if cfg.TargetFolder != "INBOX" {
		t.Errorf("TargetFolder = %q, want INBOX", cfg.TargetFolder)
	}
	if cfg.StateDir == "" {
		t.Error("StateDir default is empty")
	}
	if cfg.DryRun {
		t.Error("DryRun = true, want false")
	}
}

func TestLoadConfigSinkSelection(t *testing.T) {
	t.Setenv("IMAP_PASS", "")

	tests := []struct {
		name    string
		flags   map[string]string
		wantErr string
	}{
		{
			name:    "no sink",
			flags:   map[string]string{"source-dir": "/src"},
			wantErr: "destination is required",
		},
		{
			name: "two sinks",
			flags: map[string]string{
				"source-dir": "/src",
				"out-dir":    "/out",
				"mbox":       "/out/all.mbox",
			},
			wantErr: "mutually exclusive",
		},
		{
			name: "mbox sink alone",
			flags: map[string]string{
				"source-dir": "/src",
				"mbox":       "/out/all.mbox",
			},
		},
		{
			name: "s3 sink alone",
			flags: map[string]string{
				"source-dir": "/src",
				"s3-bucket":  "mail-archive",
			},
		},
		{
			name: "imap sink without user",
			flags: map[string]string{
				"source-dir": "/src",
				"imap-host":  "mail.example.com",
			},
			wantErr: "--imap-user is required",
		},
		{
			name: "imap sink without password",
			flags: map[string]string{
				"source-dir": "/src",
				"imap-host":  "mail.example.com",
				"imap-user":  "alice",
			},
			wantErr: "IMAP password",
		},
		{
			name: "imap sink complete",
			flags: map[string]string{
				"source-dir": "/src",
				"imap-host":  "mail.example.com",
				"imap-user":  "alice",
				"imap-pass":  "secret",
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := newTestCommand(t)
			setFlags(t, cmd, tt.flags)
			_, err := LoadConfig(cmd)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("LoadConfig() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("LoadConfig() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadConfigIMAPPassFromEnv(t *testing.T) {
	t.Setenv("IMAP_PASS", "env-secret")
	cmd := newTestCommand(t)
	setFlags(t, cmd, map[string]string{
		"source-dir": "/src",
		"imap-host":  "mail.example.com",
		"imap-user":  "alice",
	})

	cfg, err := LoadConfig(cmd)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.IMAPPass != "env-secret" {
		t.Errorf("IMAPPass = %q, want env-secret", cfg.IMAPPass)
	}
}

func TestLoadConfigFileDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `source_dir: /from/file
s3:
  bucket: file-bucket
  prefix: archive/
  access_key: AKIAFILEEXAMPLE
  secret_key: file-secret
workers: 8
include:
  - "Subject: invoice"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cmd := newTestCommand(t)
	setFlags(t, cmd, map[string]string{"config": path})

	cfg, err := LoadConfig(cmd)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.SourceDir != "/from/file" {
		t.Errorf("SourceDir = %q, want file value", cfg.SourceDir)
	}
	if cfg.S3Bucket != "file-bucket" || cfg.S3Prefix != "archive/" {
		t.Errorf("S3 = %q/%q, want file values", cfg.S3Bucket, cfg.S3Prefix)
	}
	if cfg.S3AccessKey != "AKIAFILEEXAMPLE" || cfg.S3SecretKey != "file-secret" {
		t.Errorf("S3 credentials = %q/%q, want file values", cfg.S3AccessKey, cfg.S3SecretKey)
	}
	if cfg.Workers != 8 {
		t.Errorf("Workers = %d, want 8", cfg.Workers)
	}
	if len(cfg.Include) != 1 || cfg.Include[0] != "Subject: invoice" {
		t.Errorf("Include = %v", cfg.Include)
	}
}

func TestLoadConfigFlagsBeatFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := "source_dir: /from/file\nout_dir: /file/out\nworkers: 8\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cmd := newTestCommand(t)
	setFlags(t, cmd, map[string]string{
		"config":     path,
		"source-dir": "/from/flag",
		"workers":    "2",
	})

	cfg, err := LoadConfig(cmd)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.SourceDir != "/from/flag" {
		t.Errorf("SourceDir = %q, flag should win", cfg.SourceDir)
	}
	if cfg.Workers != 2 {
		t.Errorf("Workers = %d, flag should win", cfg.Workers)
	}
	if cfg.OutDir != "/file/out" {
		t.Errorf("OutDir = %q, unset flag should take the file value", cfg.OutDir)
	}
}

func TestLoadConfigBadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("workers: [unterminated\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cmd := newTestCommand(t)
	setFlags(t, cmd, map[string]string{"config": path, "source-dir": "/src", "out-dir": "/out"})
	if _, err := LoadConfig(cmd); err == nil {
		t.Fatal("LoadConfig() accepted a malformed config file")
	}
}

func TestLoadConfigStateBackendsExclusive(t *testing.T) {
	cmd := newTestCommand(t)
	setFlags(t, cmd, map[string]string{
		"source-dir": "/src",
		"out-dir":    "/out",
		"state-dir":  "/state",
		"state-db":   "/state.db",
	})
	_, err := LoadConfig(cmd)
	if err == nil || !strings.Contains(err.Error(), "mutually exclusive") {
		t.Fatalf("LoadConfig() error = %v, want state backend conflict", err)
	}
}

func TestLoadConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		flags   map[string]string
		wantErr string
	}{
		{
			name: "zero workers",
			flags: map[string]string{
				"source-dir": "/src", "out-dir": "/out", "workers": "0",
			},
			wantErr: "--workers",
		},
		{
			name: "bad log level",
			flags: map[string]string{
				"source-dir": "/src", "out-dir": "/out", "log-level": "loud",
			},
			wantErr: "--log-level",
		},
		{
			name: "include and exclude together",
			flags: map[string]string{
				"source-dir": "/src", "out-dir": "/out",
				"include": "a", "exclude": "b",
			},
			wantErr: "mutually exclusive",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := newTestCommand(t)
			setFlags(t, cmd, tt.flags)
			_, err := LoadConfig(cmd)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("LoadConfig() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadConfigWarningAlias(t *testing.T) {
	cmd := newTestCommand(t)
	setFlags(t, cmd, map[string]string{
		"source-dir": "/src",
		"out-dir":    "/out",
		"log-level":  "WARNING",
	})
	cfg, err := LoadConfig(cmd)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("LogLevel = %q, want warn", cfg.LogLevel)
	}
}
