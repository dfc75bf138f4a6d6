package infra

import (
	"strings"
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.Port != "8080" {
		t.Fatalf("Port = %q, want 8080", cfg.Port)
	}
	if cfg.StorageBackend != "filesystem" {
		t.Fatalf("StorageBackend = %q, want filesystem", cfg.StorageBackend)
	}
	if !cfg.Headless {
		t.Fatalf("Headless should default to true")
	}
	if cfg.MaxConcurrentJobs != 2 {
		t.Fatalf("MaxConcurrentJobs = %d, want 2", cfg.MaxConcurrentJobs)
	}
	if cfg.GenerationTimeout != 5*time.Minute {
		t.Fatalf("GenerationTimeout = %v, want 5m", cfg.GenerationTimeout)
	}
	if cfg.TargetURL != "https://labs.google" {
		t.Fatalf("TargetURL = %q", cfg.TargetURL)
	}
	if cfg.CredentialsPath != "labs.google_cookies.json" {
		t.Fatalf("CredentialsPath = %q", cfg.CredentialsPath)
	}
}

func TestLoadConfigRequiresS3Settings(t *testing.T) {
	t.Setenv("STORAGE_BACKEND", "s3")

	_, err := LoadConfig()
	if err == nil {
		t.Fatalf("expected error for s3 backend without connection settings")
	}
	if !strings.Contains(err.Error(), "S3_ENDPOINT") {
		t.Fatalf("error should name the missing settings, got: %v", err)
	}
}

func TestLoadConfigAcceptsCompleteS3Settings(t *testing.T) {
	t.Setenv("STORAGE_BACKEND", "s3")
	t.Setenv("S3_ENDPOINT", "minio.internal:9000")
	t.Setenv("S3_ACCESS_KEY", "access")
	t.Setenv("S3_SECRET_KEY", "secret")
	t.Setenv("S3_BUCKET", "videos")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.S3Bucket != "videos" {
		t.Fatalf("S3Bucket = %q, want videos", cfg.S3Bucket)
	}
	if !cfg.S3UseSSL {
		t.Fatalf("S3UseSSL should default to true")
	}
}

func TestLoadConfigRejectsUnknownBackend(t *testing.T) {
	t.Setenv("STORAGE_BACKEND", "floppy")

	_, err := LoadConfig()
	if err == nil {
		t.Fatalf("expected error for unknown backend")
	}
	if !strings.Contains(err.Error(), "unknown STORAGE_BACKEND") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLoadConfigValidatesJobSettings(t *testing.T) {
	t.Setenv("MAX_CONCURRENT_JOBS", "0")
	t.Setenv("GENERATION_TIMEOUT", "1s")
	t.Setenv("POLL_INTERVAL", "2s")

	_, err := LoadConfig()
	if err == nil {
		t.Fatalf("expected error for inconsistent job settings")
	}
	if !strings.Contains(err.Error(), "MAX_CONCURRENT_JOBS") {
		t.Fatalf("error should mention MAX_CONCURRENT_JOBS, got: %v", err)
	}
	if !strings.Contains(err.Error(), "GENERATION_TIMEOUT") {
		t.Fatalf("error should mention GENERATION_TIMEOUT, got: %v", err)
	}
}

func TestLoadConfigWriteTimeoutMustCoverSyncWait(t *testing.T) {
	t.Setenv("HTTP_WRITE_TIMEOUT", "30s")
	t.Setenv("SYNC_WAIT_TIMEOUT", "1m")

	_, err := LoadConfig()
	if err == nil {
		t.Fatalf("expected error when write timeout cuts off synchronous waits")
	}
	if !strings.Contains(err.Error(), "HTTP_WRITE_TIMEOUT") {
		t.Fatalf("unexpected error: %v", err)
	}
}
