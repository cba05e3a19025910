package requester

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestProperties(t *testing.T) {
	p := Properties{
		"amqp.exchange":     "bench",
		"kafka.async":       "true",
		"mqtt.qos":          "1",
		"session.keepalive": "250ms",
		"kafka.brokers":     " a:1, b:2 ,,",
		"bad.int":           "one",
		"empty":             "",
	}

	assert.Equal(t, "bench", p.String("amqp.exchange", "x"))
	assert.Equal(t, "x", p.String("empty", "x"))
	assert.Equal(t, "x", p.String("missing", "x"))
	assert.True(t, p.Bool("kafka.async", false))
	assert.True(t, p.Bool("missing", true))
	assert.Equal(t, 1, p.Int("mqtt.qos", 0))
	assert.Equal(t, 7, p.Int("bad.int", 7))
	assert.Equal(t, 250*time.Millisecond, p.Duration("session.keepalive", time.Second))
	assert.Equal(t, time.Second, p.Duration("missing", time.Second))
	assert.Equal(t, []string{"a:1", "b:2"}, p.List("kafka.brokers", nil))
	assert.Equal(t, []string{"d"}, p.List("missing", []string{"d"}))
}
