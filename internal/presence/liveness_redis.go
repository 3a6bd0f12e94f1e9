package presence

import (
	"context"
	"fmt"
	"time"

	"telehealth-platform/pkg/utils"

	"github.com/redis/go-redis/v9"
)

// RedisLiveness is the production LivenessStore. Each participant gets one
// key with a PX TTL equal to the grace period; the Lua create-or-refresh in
// pkg/utils makes the offline -> online detection atomic.
type RedisLiveness struct {
	rdb   *redis.Client
	clock func() time.Time
}

func NewRedisLiveness(rdb *redis.Client) *RedisLiveness {
	return &RedisLiveness{rdb: rdb, clock: time.Now}
}

func livenessKey(sessionID, userID string) string {
	return fmt.Sprintf("presence:%s:%s", sessionID, userID)
}

func (r *RedisLiveness) Touch(ctx context.Context, sessionID, userID string, ttl time.Duration) (bool, error) {
	return utils.PresenceTouch(ctx, r.rdb, livenessKey(sessionID, userID), ttl, r.clock())
}

func (r *RedisLiveness) Clear(ctx context.Context, sessionID, userID string) (bool, error) {
	return utils.PresenceClear(ctx, r.rdb, livenessKey(sessionID, userID))
}

func (r *RedisLiveness) Alive(ctx context.Context, sessionID, userID string) (bool, error) {
	return utils.PresenceAlive(ctx, r.rdb, livenessKey(sessionID, userID))
}
