package admin

import (
	"fmt"
	"os"
)

// DefaultRedisPort is the port assumed when no Redis URL is configured.
const DefaultRedisPort = 6379

// dockerEnvFile exists inside Docker containers.
var dockerEnvFile = "/.dockerenv"

// RedisHost returns the hostname that reaches a Redis published on the host.
// Inside a container that is host.docker.internal, otherwise localhost.
func RedisHost() string {
	if _, err := os.Stat(dockerEnvFile); err == nil {
		return "host.docker.internal"
	}
	return "localhost"
}

// ResolveRedisURL picks the Redis URL for the admin channel: an explicit value first,
// then $REDIS_URL, then the default port on RedisHost.
func ResolveRedisURL(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if url := os.Getenv("REDIS_URL"); url != "" {
		return url
	}
	return fmt.Sprintf("redis://%s:%d", RedisHost(), DefaultRedisPort)
}
