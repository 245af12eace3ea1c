// Package redis connects to Redis with github.com/redis/go-redis/v9 using an
// env-tagged Config and exposes a readiness probe. The job runner uses the
// client to hold short-lived run locks.
package redis
