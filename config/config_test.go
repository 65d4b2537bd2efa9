package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{"BOT_MESSAGE_RATE_LIMIT", "FINAL_COUNTDOWN_SECONDS", "GIVEAWAY_WARNING_MINUTES", "DONATION_TOKEN", "DATA_DIR", "PROMOTIONS_ENABLED"} {
		t.Setenv(k, "")
	}
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.MessageRateLimit != time.Second {
		t.Errorf("MessageRateLimit = %v, want 1s", cfg.MessageRateLimit)
	}
	if cfg.FinalCountdownSeconds != 10 {
		t.Errorf("FinalCountdownSeconds = %d, want 10", cfg.FinalCountdownSeconds)
	}
	if !reflect.DeepEqual(cfg.WarningMinutes, DefaultWarningMinutes) {
		t.Errorf("WarningMinutes = %v", cfg.WarningMinutes)
	}
	if cfg.DonationToken != "pengu" {
		t.Errorf("DonationToken = %q", cfg.DonationToken)
	}
	if cfg.PromotionsEnabled {
		t.Errorf("promotions should be disabled by default")
	}
	if got, want := cfg.AdminsPath(), filepath.Join("data", "admins.txt"); got != want {
		t.Errorf("AdminsPath = %q, want %q", got, want)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("BOT_MESSAGE_RATE_LIMIT", "0.25")
	t.Setenv("PROMOTION_INTERVAL", "90s")
	t.Setenv("PROMOTIONS_ENABLED", "1")
	t.Setenv("FINAL_COUNTDOWN_SECONDS", "0")
	t.Setenv("GIVEAWAY_WARNING_MINUTES", "3, 1")
	t.Setenv("TWITCH_CHANNEL", "#SomeStreamer")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.MessageRateLimit != 250*time.Millisecond {
		t.Errorf("MessageRateLimit = %v", cfg.MessageRateLimit)
	}
	if cfg.PromotionInterval != 90*time.Second || !cfg.PromotionsEnabled {
		t.Errorf("promotion config = %v/%v", cfg.PromotionsEnabled, cfg.PromotionInterval)
	}
	if cfg.FinalCountdownSeconds != 0 {
		t.Errorf("FinalCountdownSeconds = %d, want 0", cfg.FinalCountdownSeconds)
	}
	if !reflect.DeepEqual(cfg.WarningMinutes, []int{3, 1}) {
		t.Errorf("WarningMinutes = %v", cfg.WarningMinutes)
	}
	if cfg.TwitchChannel != "somestreamer" {
		t.Errorf("TwitchChannel = %q", cfg.TwitchChannel)
	}
}

func TestLoadRejectsMalformed(t *testing.T) {
	tests := []struct{ key, value string }{
		{"BOT_MESSAGE_RATE_LIMIT", "fast"},
		{"FINAL_COUNTDOWN_SECONDS", "-1"},
		{"GIVEAWAY_WARNING_MINUTES", "5,x"},
		{"OUTBOUND_MAX_ATTEMPTS", "0"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			if _, err := Load(); err == nil {
				t.Errorf("expected error for %s=%q", tt.key, tt.value)
			}
		})
	}
}

func TestValidateChatReady(t *testing.T) {
	t.Setenv("TWITCH_CHANNEL", "chan")
	t.Setenv("TWITCH_BOT_USERNAME", "bot")
	t.Setenv("TWITCH_OAUTH_TOKEN", "oauth:token")
	cfg, _ := Load()
	if err := cfg.ValidateChatReady(); err != nil {
		t.Errorf("expected valid chat config, got %v", err)
	}
	if err := os.Unsetenv("TWITCH_CHANNEL"); err != nil {
		t.Fatalf("failed to unset TWITCH_CHANNEL: %v", err)
	}
	cfg, _ = Load()
	if err := cfg.ValidateChatReady(); err == nil {
		t.Errorf("expected error when missing twitch envs")
	}
}

func TestLoadAdminSettings(t *testing.T) {
	t.Setenv("ADMIN_TOKEN", "secret")
	t.Setenv("RATE_LIMIT_ENABLED", "")
	t.Setenv("RATE_LIMIT_REQUESTS_PER_IP", "")
	t.Setenv("RATE_LIMIT_WINDOW_SECONDS", "30")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.AdminToken != "secret" || cfg.AdminRateLimit != 10 || cfg.AdminRateWindow != 30*time.Second {
		t.Errorf("admin config = %q/%d/%v", cfg.AdminToken, cfg.AdminRateLimit, cfg.AdminRateWindow)
	}

	t.Setenv("RATE_LIMIT_ENABLED", "0")
	if cfg, _ = Load(); cfg.AdminRateLimit != 0 {
		t.Errorf("AdminRateLimit = %d, want 0 when disabled", cfg.AdminRateLimit)
	}

	t.Setenv("RATE_LIMIT_ENABLED", "")
	t.Setenv("RATE_LIMIT_REQUESTS_PER_IP", "lots")
	if _, err := Load(); err == nil {
		t.Error("expected error for malformed RATE_LIMIT_REQUESTS_PER_IP")
	}
}
