package security

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestAlerter(t *testing.T) (*AuditAlerter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	alerter := NewAuditAlerter(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "test:alerts")
	fixed := time.Date(2026, 3, 1, 12, 0, 30, 0, time.UTC)
	alerter.now = func() time.Time { return fixed }
	return alerter, mr
}

func TestAuditAlerterTriggersAtThreshold(t *testing.T) {
	alerter, _ := newTestAlerter(t)
	ctx := context.Background()
	for i := 1; i <= 10; i++ {
		result, err := alerter.Observe(ctx, "reader.login", "fail", "203.0.113.9")
		if err != nil {
			t.Fatalf("observe: %v", err)
		}
		if result.Triggered != (i == 10) {
			t.Fatalf("attempt %d: triggered=%v count=%d", i, result.Triggered, result.Count)
		}
	}
	other, err := alerter.Observe(ctx, "reader.login", "fail", "203.0.113.10")
	if err != nil || other.Count != 1 {
		t.Fatalf("expected separate counter per ip, got %+v err=%v", other, err)
	}
}

func TestAuditAlerterIgnoresUnknownRules(t *testing.T) {
	alerter, mr := newTestAlerter(t)
	for _, tc := range [][2]string{
		{"reader.login", "success"},
		{"reader.custom", "fail"},
	} {
		result, err := alerter.Observe(context.Background(), tc[0], tc[1], "::1")
		if err != nil || result.Triggered || result.Count != 0 {
			t.Fatalf("%v: unexpected result %+v err=%v", tc, result, err)
		}
	}
	if keys := mr.Keys(); len(keys) != 0 {
		t.Fatalf("expected no counters, got %v", keys)
	}
}

func TestAuditAlerterWindowExpires(t *testing.T) {
	alerter, mr := newTestAlerter(t)
	ctx := context.Background()
	if _, err := alerter.Observe(ctx, "reader.signup", "rate_limited", "198.51.100.1"); err != nil {
		t.Fatalf("observe: %v", err)
	}
	keys := mr.Keys()
	if len(keys) != 1 {
		t.Fatalf("expected one counter, got %v", keys)
	}
	if ttl := mr.TTL(keys[0]); ttl <= 0 || ttl > time.Minute {
		t.Fatalf("unexpected ttl %v", ttl)
	}
}

func TestNilAlerter(t *testing.T) {
	var alerter *AuditAlerter
	if NewAuditAlerter(nil, "") != nil {
		t.Fatalf("expected nil alerter without a client")
	}
	result, err := alerter.Observe(context.Background(), "reader.login", "fail", "::1")
	if err != nil || result.Triggered {
		t.Fatalf("unexpected result %+v err=%v", result, err)
	}
}
