package logger

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"sync"
)

const redacted = "[REDACTED]"

// Keys containing one of these substrings are replaced outright.
var redactKeyParts = []string{"password", "secret", "token", "authorization", "cookie", "api_key", "apikey", "dsn"}

// Keys containing one of these substrings keep a stable, salted hash so a
// single author can be followed across log lines without exposing the id.
var hashKeyParts = []string{"author_id", "user_id"}

type redactionConfig struct {
	enabled bool
	salt    string
}

var (
	redactionOnce sync.Once
	redaction     redactionConfig
)

func currentRedaction() redactionConfig {
	redactionOnce.Do(func() {
		switch strings.ToLower(strings.TrimSpace(os.Getenv("LOG_REDACTION_ENABLED"))) {
		case "0", "false", "no", "off":
			redaction.enabled = false
		default:
			redaction.enabled = true
		}
		redaction.salt = strings.TrimSpace(os.Getenv("LOG_HASH_SALT"))
	})
	return redaction
}

func sanitizeKVs(kv []interface{}) []interface{} {
	cfg := currentRedaction()
	if len(kv) == 0 || !cfg.enabled {
		return kv
	}
	out := make([]interface{}, 0, len(kv))
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, kv[i], cfg.value(keyOf(kv[i]), kv[i+1]))
	}
	if len(kv)%2 == 1 {
		out = append(out, kv[len(kv)-1])
	}
	return out
}

func sanitizeValue(key string, val interface{}) interface{} {
	return currentRedaction().value(strings.ToLower(key), val)
}

func (c redactionConfig) value(key string, val interface{}) interface{} {
	switch {
	case key != "" && containsAny(key, redactKeyParts):
		return redacted
	case key != "" && containsAny(key, hashKeyParts):
		return c.hash(val)
	}
	switch v := val.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for k, inner := range v {
			out[k] = c.value(strings.ToLower(k), inner)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, inner := range v {
			out[i] = c.value("", inner)
		}
		return out
	}
	return val
}

func (c redactionConfig) hash(val interface{}) string {
	raw := fmt.Sprint(val)
	if val == nil || raw == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(c.salt + raw))
	return "hash:" + hex.EncodeToString(sum[:6])
}

func keyOf(k interface{}) string {
	s, ok := k.(string)
	if !ok {
		s = fmt.Sprint(k)
	}
	return strings.ToLower(strings.TrimSpace(s))
}

func containsAny(s string, parts []string) bool {
	for _, p := range parts {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}
