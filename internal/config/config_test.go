package config

import (
	"os"
	"path/filepath"
	"slices"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadRequiresToken(t *testing.T) {
	t.Setenv("DISCORD_TOKEN", "")
	path := writeConfig(t, "log_level: debug\n")
	if _, err := Load(path); err == nil {
		t.Fatalf("expected missing token error")
	}
}

func TestLoadYAMLThenEnv(t *testing.T) {
	path := writeConfig(t, `
discord_token: from-file
owner_id: "42"
audit_channel_id: "900"
database:
  driver: sqlite
  path: /tmp/test.db
counting:
  enabled: true
  reset_on_wrong: false
  milestones: [10, 20]
`)
	t.Setenv("DISCORD_TOKEN", "from-env")
	t.Setenv("COUNTING_MILESTONES", "5, 15")
	t.Setenv("AUDIT_CHANNEL_ID", "901")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DiscordToken != "from-env" {
		t.Fatalf("expected env token to win, got %q", cfg.DiscordToken)
	}
	if cfg.OwnerID != "42" || cfg.Database.Path != "/tmp/test.db" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.AuditChannelID != "901" {
		t.Fatalf("expected env audit channel to win, got %q", cfg.AuditChannelID)
	}
	if cfg.Counting.ResetOnWrong {
		t.Fatalf("expected reset_on_wrong from file")
	}
	if !slices.Equal(cfg.Counting.Milestones, []int64{5, 15}) {
		t.Fatalf("unexpected milestones %v", cfg.Counting.Milestones)
	}
	if cfg.Footer != "Blackspire Nation Counting System" {
		t.Fatalf("expected default footer, got %q", cfg.Footer)
	}
}

func TestLoadPostgresNeedsURL(t *testing.T) {
	t.Setenv("DISCORD_TOKEN", "token")
	t.Setenv("DATABASE_DRIVER", "postgresql")
	t.Setenv("DATABASE_URL", "")
	path := writeConfig(t, "")
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for postgres without url")
	}

	t.Setenv("DATABASE_URL", "postgres://localhost/blackspire")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Database.Driver != "postgres" {
		t.Fatalf("expected normalized driver, got %q", cfg.Database.Driver)
	}
}

func TestParseMilestones(t *testing.T) {
	values, err := ParseMilestones("100, 500,,1000")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !slices.Equal(values, []int64{100, 500, 1000}) {
		t.Fatalf("unexpected values %v", values)
	}
	if _, err := ParseMilestones("100,-5"); err == nil {
		t.Fatalf("expected error for negative milestone")
	}
	if _, err := ParseMilestones("ten"); err == nil {
		t.Fatalf("expected error for non-numeric milestone")
	}
}

func TestAuditChannelOptional(t *testing.T) {
	t.Setenv("DISCORD_TOKEN", "token")
	t.Setenv("AUDIT_CHANNEL_ID", "")
	cfg, err := Load(writeConfig(t, "audit_channel_id: \"77\"\n"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.AuditChannelID != "77" {
		t.Fatalf("expected audit channel from file, got %q", cfg.AuditChannelID)
	}
}
