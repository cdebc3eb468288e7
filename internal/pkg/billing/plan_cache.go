package billing

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/ManuelReschke/NewsDesk/app/models"
	"github.com/redis/go-redis/v9"
)

const activePlansKey = "billing:plans:active"

// PlanCache caches the active plan catalogue. Get reports a miss with
// (nil, false, nil).
type PlanCache interface {
	Get(ctx context.Context) ([]models.Plan, bool, error)
	Set(ctx context.Context, plans []models.Plan) error
	Invalidate(ctx context.Context) error
}

type redisPlanCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisPlanCache stores the catalogue as one JSON value with a TTL.
func NewRedisPlanCache(client *redis.Client, ttl time.Duration) PlanCache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &redisPlanCache{client: client, ttl: ttl}
}

func (c *redisPlanCache) Get(ctx context.Context) ([]models.Plan, bool, error) {
	raw, err := c.client.Get(ctx, activePlansKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var plans []models.Plan
	if err := json.Unmarshal(raw, &plans); err != nil {
		// Treat a corrupt entry as a miss; the next Set overwrites it.
		return nil, false, nil
	}
	return plans, true, nil
}

func (c *redisPlanCache) Set(ctx context.Context, plans []models.Plan) error {
	if plans == nil {
		plans = []models.Plan{}
	}
	raw, err := json.Marshal(plans)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, activePlansKey, raw, c.ttl).Err()
}

func (c *redisPlanCache) Invalidate(ctx context.Context) error {
	return c.client.Del(ctx, activePlansKey).Err()
}
