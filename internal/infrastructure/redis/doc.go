// Package redis connects to the Redis instance that mirrors device
// snapshots for other services on the site.
//
// The hub owns the key layout (see hub.RedisStore); this package only
// manages the connection and its health.
package redis
