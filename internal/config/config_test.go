package config

import (
	"errors"
	"strings"
	"testing"
)

// Well-known throwaway key, never funded anywhere that matters.
const testKey = "59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d"

func loadWith(t *testing.T, env map[string]string) (*Config, error) {
	t.Helper()
	for k, v := range env {
		t.Setenv(k, v)
	}
	return Load()
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := loadWith(t, map[string]string{
		"FACILITATOR_PRIVATE_KEY": testKey,
	})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 8402 {
		t.Errorf("port: got %d want 8402", cfg.Server.Port)
	}
	if cfg.Mode != ModeProduction {
		t.Errorf("mode: got %v want production", cfg.Mode)
	}
	if cfg.Facilitator.UpstreamURL != "https://x402.org/facilitator" {
		t.Errorf("upstream: got %q", cfg.Facilitator.UpstreamURL)
	}
}

func TestLoad_MissingPrivateKey(t *testing.T) {
	_, err := loadWith(t, nil)
	if err == nil {
		t.Fatal("expected error for missing FACILITATOR_PRIVATE_KEY")
	}
	var cfgErr *Error
	if !errors.As(err, &cfgErr) {
		t.Errorf("expected *config.Error, got %T", err)
	}
	if !strings.Contains(err.Error(), "FACILITATOR_PRIVATE_KEY") {
		t.Errorf("error should name the missing field: %v", err)
	}
}

func TestLoad_InvalidPort(t *testing.T) {
	_, err := loadWith(t, map[string]string{
		"FACILITATOR_PRIVATE_KEY": testKey,
		"FACILITATOR_PORT":        "99999",
	})
	if err == nil {
		t.Fatal("expected error for out-of-range port")
	}
}

func TestLoad_FixedEndpointMode(t *testing.T) {
	cfg, err := loadWith(t, map[string]string{
		"FACILITATOR_PRIVATE_KEY": testKey,
		"TENDERLY_RPC":            "https://virtual.base.rpc.tenderly.co/abc",
	})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Mode != ModeFixedEndpoint {
		t.Errorf("mode: got %v want fixed-endpoint", cfg.Mode)
	}
}

func TestLoad_FixedEndpointInvalidURL(t *testing.T) {
	_, err := loadWith(t, map[string]string{
		"FACILITATOR_PRIVATE_KEY": testKey,
		"TENDERLY_RPC":            "not a url",
	})
	if err == nil {
		t.Fatal("expected error for malformed TENDERLY_RPC")
	}
	if !strings.Contains(err.Error(), "TENDERLY_RPC") {
		t.Errorf("error should name the field: %v", err)
	}
}

func TestLoad_DynamicSandboxMode(t *testing.T) {
	cfg, err := loadWith(t, map[string]string{
		"FACILITATOR_PRIVATE_KEY": testKey,
		"TENDERLY_ACCOUNT_NAME":   "acme",
		"TENDERLY_PROJECT_NAME":   "payments",
		"TENDERLY_ACCESS_KEY":     "key-123",
	})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Mode != ModeDynamicSandbox {
		t.Errorf("mode: got %v want dynamic-sandbox", cfg.Mode)
	}
}

func TestLoad_DynamicForcedWithoutCredentials(t *testing.T) {
	_, err := loadWith(t, map[string]string{
		"FACILITATOR_PRIVATE_KEY": testKey,
		"TENDERLY_DYNAMIC":        "true",
	})
	if err == nil {
		t.Fatal("expected error for dynamic mode without credentials")
	}
	for _, field := range []string{"TENDERLY_ACCOUNT_NAME", "TENDERLY_PROJECT_NAME", "TENDERLY_ACCESS_KEY"} {
		if !strings.Contains(err.Error(), field) {
			t.Errorf("error should enumerate %s: %v", field, err)
		}
	}
}

func TestLoad_DynamicPartialCredentials(t *testing.T) {
	_, err := loadWith(t, map[string]string{
		"FACILITATOR_PRIVATE_KEY": testKey,
		"TENDERLY_ACCOUNT_NAME":   "acme",
	})
	if err == nil {
		t.Fatal("expected error for partial credentials")
	}
	if strings.Contains(err.Error(), "TENDERLY_ACCOUNT_NAME") {
		t.Errorf("supplied field should not be listed: %v", err)
	}
	for _, field := range []string{"TENDERLY_PROJECT_NAME", "TENDERLY_ACCESS_KEY"} {
		if !strings.Contains(err.Error(), field) {
			t.Errorf("error should enumerate %s: %v", field, err)
		}
	}
}

func TestModeString(t *testing.T) {
	cases := map[Mode]string{
		ModeProduction:     "production",
		ModeFixedEndpoint:  "fixed-endpoint",
		ModeDynamicSandbox: "dynamic-sandbox",
	}
	for mode, want := range cases {
		if got := mode.String(); got != want {
			t.Errorf("%d.String(): got %q want %q", mode, got, want)
		}
	}
}
