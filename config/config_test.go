package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("HTTP_CLIENT_TIMEOUT", "")

	cfg := Load("order-service", "5002")

	assert.Equal(t, "order-service", cfg.Server.Name)
	assert.Equal(t, "5002", cfg.Server.Port)
	assert.Contains(t, cfg.Database.URL, "/order_service?")
	assert.Equal(t, 5*time.Second, cfg.Services.HTTPClientTimeout)
	assert.Equal(t, "order_queue", cfg.Kafka.TopicOrder)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("HTTP_CLIENT_TIMEOUT", "750ms")
	t.Setenv("OUTBOX_HOLD_TIMEOUT", "not-a-duration")

	cfg := Load("inventory-service", "5001")

	assert.Equal(t, "9000", cfg.Server.Port)
	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 750*time.Millisecond, cfg.Services.HTTPClientTimeout)
	assert.Equal(t, time.Minute, cfg.Outbox.HoldTimeout)
}
