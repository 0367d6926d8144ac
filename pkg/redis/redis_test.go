package redis

import "testing"

func TestNewRejectsMalformedURL(t *testing.T) {
	cfg := &Config{URL: "not-a-redis-url"}
	if _, err := cfg.New(); err == nil {
		t.Fatal("expected error for malformed URL")
	}
}
