package requester

import (
	"strconv"
	"strings"
	"time"
)

// Properties are transport specific settings, usually loaded from the
// --conf file. Keys are namespaced by transport, e.g. "amqp.exchange".
type Properties map[string]string

// String returns the value of key or def when it is unset.
func (p Properties) String(key, def string) string {
	if v, ok := p[key]; ok && v != "" {
		return v
	}
	return def
}

// Bool returns the value of key parsed as a boolean, or def.
func (p Properties) Bool(key string, def bool) bool {
	if b, err := strconv.ParseBool(p[key]); err == nil {
		return b
	}
	return def
}

// Int returns the value of key parsed as an integer, or def.
func (p Properties) Int(key string, def int) int {
	if n, err := strconv.Atoi(p[key]); err == nil {
		return n
	}
	return def
}

// Duration returns the value of key parsed as a duration, or def.
func (p Properties) Duration(key string, def time.Duration) time.Duration {
	if d, err := time.ParseDuration(p[key]); err == nil {
		return d
	}
	return def
}

// List returns the comma separated values of key, or def.
func (p Properties) List(key string, def []string) []string {
	v := p.String(key, "")
	if v == "" {
		return def
	}
	return splitList(v)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
