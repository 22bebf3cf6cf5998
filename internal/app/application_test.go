package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"relaygate/internal/config"
	"relaygate/pkg/types"
)

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()
	return port
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.HTTP.Host = "127.0.0.1"
	cfg.HTTP.Port = freePort(t)
	cfg.Auth.CredentialDBPath = filepath.Join(t.TempDir(), "creds.db")
	cfg.Auth.SeedCredentials = []config.SeedCredential{
		{APIKey: "rgk_seed", UserID: "seeded", Role: types.RoleAdmin},
	}
	return cfg
}

func TestApplication_StartStop(t *testing.T) {
	cfg := testConfig(t)
	application, err := NewApplication(cfg)
	if err != nil {
		t.Fatalf("application construction failed: %v", err)
	}

	ctx := context.Background()
	if err := application.Start(ctx); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	resp, err := http.Get(fmt.Sprintf("http://%s/health", application.Addr()))
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200 from /health, got %d", resp.StatusCode)
	}
	var health struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		t.Fatalf("health decode failed: %v", err)
	}
	if health.Status != "healthy" {
		t.Errorf("expected healthy, got %q", health.Status)
	}

	metricsResp, err := http.Get(fmt.Sprintf("http://%s/metrics", application.Addr()))
	if err != nil {
		t.Fatalf("metrics request failed: %v", err)
	}
	metricsResp.Body.Close()
	if metricsResp.StatusCode != http.StatusOK {
		t.Errorf("expected 200 from /metrics, got %d", metricsResp.StatusCode)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := application.Stop(shutdownCtx); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
}

func TestApplication_SeedCredentials(t *testing.T) {
	cfg := testConfig(t)
	application, err := NewApplication(cfg)
	if err != nil {
		t.Fatalf("application construction failed: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = application.Stop(ctx)
	}()

	cred, err := application.credentials.Lookup(context.Background(), "rgk_seed")
	if err != nil {
		t.Fatalf("seeded credential not found: %v", err)
	}
	if cred.UserID != "seeded" || cred.Role != types.RoleAdmin {
		t.Errorf("unexpected seeded identity: %+v", cred)
	}
}

func TestApplication_InvalidConfigRejected(t *testing.T) {
	cfg := testConfig(t)
	cfg.HTTP.Port = -1
	if _, err := NewApplication(cfg); err == nil {
		t.Error("invalid configuration must be rejected before components start")
	}
}
