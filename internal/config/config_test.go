package config

import (
	"os"
	"testing"
)

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("TEST_STR", "value")
	t.Setenv("TEST_INT", "123")
	t.Setenv("TEST_FLOAT", "3.14")
	t.Setenv("TEST_BOOL_TRUE", "yes")
	t.Setenv("TEST_BOOL_FALSE", "0")
	t.Setenv("TEST_BOOL_GARBAGE", "maybe")

	if v := getEnv("TEST_STR", ""); v != "value" {
		t.Fatalf("expected value, got %s", v)
	}
	if v := getEnvAsInt("TEST_INT", 0); v != 123 {
		t.Fatalf("expected 123, got %d", v)
	}
	if v := getEnvAsFloat("TEST_FLOAT", 0); v != 3.14 {
		t.Fatalf("expected 3.14, got %f", v)
	}
	if !getEnvAsBool("TEST_BOOL_TRUE", false) {
		t.Fatalf("expected true")
	}
	if getEnvAsBool("TEST_BOOL_FALSE", true) {
		t.Fatalf("expected false")
	}
	if !getEnvAsBool("TEST_BOOL_GARBAGE", true) {
		t.Fatalf("expected default for unparsable bool")
	}
}

func TestLoadDefaults(t *testing.T) {
	_ = os.Unsetenv("SERVER_PORT")
	_ = os.Unsetenv("PRICING_CURRENCY")
	cfg := Load()
	if cfg.Server.Port == "" {
		t.Fatalf("expected default server port set")
	}
	if cfg.Pricing.Currency != "lei" {
		t.Fatalf("expected default currency lei, got %q", cfg.Pricing.Currency)
	}
	if cfg.Catalog.CacheTTLSeconds == 0 || cfg.Cart.TTLHours == 0 {
		t.Fatalf("expected catalog/cart defaults set")
	}
	if cfg.Cart.MaxItemQuantity != 999 {
		t.Fatalf("expected default max item quantity 999, got %d", cfg.Cart.MaxItemQuantity)
	}
	if cfg.Kafka.Topics.Offers == "" || cfg.Kafka.Topics.Orders == "" {
		t.Fatalf("expected kafka topics defaults set")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PRICING_CURRENCY", "RON")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("DELIVERY_FREE_OVER", "120.5")

	cfg := Load()
	if cfg.Pricing.Currency != "RON" {
		t.Fatalf("expected RON, got %q", cfg.Pricing.Currency)
	}
	if len(cfg.Kafka.Brokers) != 2 {
		t.Fatalf("expected 2 brokers, got %v", cfg.Kafka.Brokers)
	}
	if cfg.Delivery.FreeDeliveryOver != 120.5 {
		t.Fatalf("expected free delivery threshold 120.5, got %v", cfg.Delivery.FreeDeliveryOver)
	}
}
