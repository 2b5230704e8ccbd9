package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisKeyPrefix prefixes every mirrored snapshot key.
const RedisKeyPrefix = "device:state:"

// saveScript writes ARGV[1] to KEYS[1] unless the stored snapshot already
// has a version of at least ARGV[2]. ARGV[3] is the TTL in milliseconds,
// zero for none. It returns 1 when the value was written.
var saveScript = redis.NewScript(`
local current = redis.call('GET', KEYS[1])
if current then
	local ok, doc = pcall(cjson.decode, current)
	if ok and type(doc) == 'table' and tonumber(doc.version) and tonumber(doc.version) >= tonumber(ARGV[2]) then
		return 0
	end
end
if tonumber(ARGV[3]) > 0 then
	redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[3])
else
	redis.call('SET', KEYS[1], ARGV[1])
end
return 1
`)

// RedisStore mirrors snapshots as JSON values under device:state:<id> so
// other services can read current device state without calling the API.
type RedisStore struct {
	client redis.Cmdable
	ttl    time.Duration
}

// NewRedisStore creates a store over client. A zero ttl keeps keys until the
// device is unregistered.
func NewRedisStore(client redis.Cmdable, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

// RedisKey returns the key a device's snapshot is stored under.
func RedisKey(deviceID string) string {
	return RedisKeyPrefix + deviceID
}

// Save implements SnapshotStore. A snapshot older than the stored one is
// ignored, so racing writers never move the mirror backwards.
func (s *RedisStore) Save(ctx context.Context, snap *Snapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encoding snapshot %s: %w", snap.DeviceID, err)
	}
	keys := []string{RedisKey(snap.DeviceID)}
	if err := saveScript.Run(ctx, s.client, keys, payload, snap.Version, s.ttl.Milliseconds()).Err(); err != nil {
		return fmt.Errorf("redis save %s: %w", snap.DeviceID, err)
	}
	return nil
}

// Delete implements SnapshotStore.
func (s *RedisStore) Delete(ctx context.Context, deviceID string) error {
	if err := s.client.Del(ctx, RedisKey(deviceID)).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", deviceID, err)
	}
	return nil
}

// Prune removes mirrored snapshots whose device is not in keep, returning
// the removed IDs. Used at startup so devices dropped from configuration do
// not linger in Redis.
func (s *RedisStore) Prune(ctx context.Context, keep []string) ([]string, error) {
	keepSet := make(map[string]struct{}, len(keep))
	for _, id := range keep {
		keepSet[id] = struct{}{}
	}

	var removed []string
	iter := s.client.Scan(ctx, 0, RedisKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		id := strings.TrimPrefix(iter.Val(), RedisKeyPrefix)
		if _, ok := keepSet[id]; ok {
			continue
		}
		if err := s.client.Del(ctx, iter.Val()).Err(); err != nil {
			return removed, fmt.Errorf("redis del %s: %w", id, err)
		}
		removed = append(removed, id)
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("redis scan: %w", err)
	}
	return removed, nil
}

// MultiStore writes to several stores, continuing past failures.
type MultiStore []SnapshotStore

// Save implements SnapshotStore.
func (m MultiStore) Save(ctx context.Context, snap *Snapshot) error {
	var firstErr error
	for _, s := range m {
		if err := s.Save(ctx, snap); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Delete implements SnapshotStore.
func (m MultiStore) Delete(ctx context.Context, deviceID string) error {
	var firstErr error
	for _, s := range m {
		if err := s.Delete(ctx, deviceID); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
