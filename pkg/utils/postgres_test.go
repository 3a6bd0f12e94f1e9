package utils

import (
	"testing"
	"time"
)

func TestPoolDefaults(t *testing.T) {
	c := PostgresPoolConfig{}.withDefaults()
	if c.MaxOpenConns != 20 {
		t.Fatalf("expected 20 max open conns, got %d", c.MaxOpenConns)
	}
	if c.MaxIdleConns != 10 {
		t.Fatalf("expected 10 max idle conns, got %d", c.MaxIdleConns)
	}
	if c.PingTimeout != 5*time.Second {
		t.Fatalf("expected 5s ping timeout, got %s", c.PingTimeout)
	}
}

func TestPoolDefaults_ExplicitValuesKept(t *testing.T) {
	c := PostgresPoolConfig{MaxOpenConns: 3, MaxIdleConns: 2, PingTimeout: time.Second}.withDefaults()
	if c.MaxOpenConns != 3 || c.MaxIdleConns != 2 || c.PingTimeout != time.Second {
		t.Fatalf("explicit values must survive defaulting: %+v", c)
	}
}
