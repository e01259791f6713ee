package redis

import (
	"fmt"
	"testing"

	"github.com/enzosv/mediumcrawler/pkg/config"
)

func TestIsNilError(t *testing.T) {
	if !IsNilError(ErrNil) {
		t.Error("ErrNil should be a nil error")
	}
	if !IsNilError(fmt.Errorf("get popular: %w", ErrNil)) {
		t.Error("wrapped ErrNil should be a nil error")
	}
	if IsNilError(fmt.Errorf("connection refused")) {
		t.Error("other errors are not nil errors")
	}
}

func TestKeyPrefix(t *testing.T) {
	c := &Client{prefix: "mediumcrawler:"}
	if got := c.key("popular:claps=1"); got != "mediumcrawler:popular:claps=1" {
		t.Errorf("key = %q", got)
	}
}

func TestNewClientUnreachable(t *testing.T) {
	_, err := NewClient(config.RedisConfig{Addr: "127.0.0.1:1", PoolSize: 1})
	if err == nil {
		t.Fatal("expected an error for an unreachable server")
	}
}
