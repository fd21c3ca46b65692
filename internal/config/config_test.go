package config

import (
	"os"
	"testing"
	"time"

	"github.com/spf13/cobra"
)

func buildTestCommand(cfg *Config) *cobra.Command {
	ran := false
	cmd := BuildCommand(cfg, func(cmd *cobra.Command, args []string) error {
		ran = true
		_ = ran
		return nil
	})
	return cmd
}

func TestConfigDefaults(t *testing.T) {
	cfg := &Config{}
	cmd := buildTestCommand(cfg)
	cmd.SetArgs([]string{})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if cfg.Bind != "0.0.0.0" {
		t.Errorf("Bind = %q, want 0.0.0.0", cfg.Bind)
	}
	if cfg.Port != 8080 {
		t.Errorf("Port = %d, want 8080", cfg.Port)
	}
	if cfg.IdentityTTL != 24*time.Hour {
		t.Errorf("IdentityTTL = %v, want 24h", cfg.IdentityTTL)
	}
}

func TestConfigFlagOverridesDefault(t *testing.T) {
	cfg := &Config{}
	cmd := buildTestCommand(cfg)
	cmd.SetArgs([]string{"--port", "9090", "--bind", "127.0.0.1"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if cfg.Port != 9090 {
		t.Errorf("Port = %d, want 9090", cfg.Port)
	}
	if cfg.Bind != "127.0.0.1" {
		t.Errorf("Bind = %q, want 127.0.0.1", cfg.Bind)
	}
}

func TestConfigEnvVarOverridesDefault(t *testing.T) {
	os.Setenv("CARDTABLE_PORT", "7777")
	defer os.Unsetenv("CARDTABLE_PORT")

	cfg := &Config{}
	cmd := buildTestCommand(cfg)
	cmd.SetArgs([]string{})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if cfg.Port != 7777 {
		t.Errorf("Port = %d, want 7777 from env", cfg.Port)
	}
}

func TestConfigFlagTakesPrecedenceOverEnv(t *testing.T) {
	os.Setenv("CARDTABLE_PORT", "7777")
	defer os.Unsetenv("CARDTABLE_PORT")

	cfg := &Config{}
	cmd := buildTestCommand(cfg)
	cmd.SetArgs([]string{"--port", "9999"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if cfg.Port != 9999 {
		t.Errorf("Port = %d, want 9999 (explicit flag beats env)", cfg.Port)
	}
}

func TestConfigValidateRejectsBadPort(t *testing.T) {
	cfg := &Config{Port: 0, IdentitySecret: "s"}
	if err := cfg.validate(); err == nil {
		t.Fatal("expected error for port 0")
	}
	cfg.Port = 70000
	if err := cfg.validate(); err == nil {
		t.Fatal("expected error for port > 65535")
	}
}

func TestConfigValidateRejectsEmptySecret(t *testing.T) {
	cfg := &Config{Port: 8080, IdentitySecret: ""}
	if err := cfg.validate(); err == nil {
		t.Fatal("expected error for empty identity secret")
	}
}

func TestConfigAddrCombinesBindAndPort(t *testing.T) {
	cfg := &Config{Bind: "0.0.0.0", Port: 8080}
	if cfg.Addr() != "0.0.0.0:8080" {
		t.Errorf("Addr() = %q, want 0.0.0.0:8080", cfg.Addr())
	}
}
