// Package redisstore keeps nonce, circuit, and inbound claim state in Redis
// so several fulfillment replicas share it.
package redisstore

import (
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

const defaultPrefix = "fulfillment"

type Config struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// NewClient opens a single node client for cfg.
func NewClient(cfg Config) (*redis.Client, error) {
	if strings.TrimSpace(cfg.Addr) == "" {
		return nil, fmt.Errorf("redisstore: addr is required")
	}
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}), nil
}

type keyspace struct {
	prefix string
}

func newKeyspace(prefix string) keyspace {
	prefix = strings.Trim(strings.TrimSpace(prefix), ":")
	if prefix == "" {
		prefix = defaultPrefix
	}
	return keyspace{prefix: prefix}
}

func (k keyspace) key(kind string, parts ...string) string {
	segments := append([]string{k.prefix, kind}, parts...)
	return strings.Join(segments, ":")
}
