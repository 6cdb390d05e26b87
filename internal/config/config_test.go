package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("WEBHOOK_SECRET", "whsec_test")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ReservationTTL != 15*time.Minute {
		t.Errorf("default TTL: got %v", cfg.ReservationTTL)
	}
	if cfg.SweepInterval != 60*time.Second {
		t.Errorf("default sweep interval: got %v", cfg.SweepInterval)
	}
	if cfg.MaxReservationLines != 20 {
		t.Errorf("default max lines: got %d", cfg.MaxReservationLines)
	}
}

func TestLoadRequiresWebhookSecret(t *testing.T) {
	t.Setenv("WEBHOOK_SECRET", "")

	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "WEBHOOK_SECRET") {
		t.Fatalf("expected WEBHOOK_SECRET error, got: %v", err)
	}
}

func TestLoadRejectsNonPositiveTTL(t *testing.T) {
	t.Setenv("WEBHOOK_SECRET", "whsec_test")
	t.Setenv("RESERVATION_TTL_MIN", "0")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for zero TTL")
	}
}

func TestLoadParsesBrokersCSV(t *testing.T) {
	t.Setenv("WEBHOOK_SECRET", "whsec_test")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092 ,")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[1] != "k2:9092" {
		t.Fatalf("brokers: got %v", cfg.KafkaBrokers)
	}
}

func TestLoadRejectsMalformedInt(t *testing.T) {
	t.Setenv("WEBHOOK_SECRET", "whsec_test")
	t.Setenv("SWEEP_INTERVAL_SEC", "soon")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for malformed SWEEP_INTERVAL_SEC")
	}
}
