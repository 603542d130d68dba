// Package redis implements the reminder gateway on Redis. Deferred reminders
// live in a sorted set scored by fire time; due reminders are pushed onto an
// outbox list and published on a channel for live consumers.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"herdcore/pkg/domain"
)

var _ domain.NotificationGateway = (*Gateway)(nil)

// Gateway stores and dispatches reminders in Redis.
type Gateway struct {
	client *goredis.Client
	prefix string
}

// New returns a gateway using keys under prefix (default "herdcore").
func New(client *goredis.Client, prefix string) *Gateway {
	if prefix == "" {
		prefix = "herdcore"
	}
	return &Gateway{client: client, prefix: prefix}
}

// ScheduledKey is the sorted set of deferred reminder IDs.
func (g *Gateway) ScheduledKey() string { return g.prefix + ":reminders:scheduled" }

// PayloadKey is the hash of reminder ID to JSON payload.
func (g *Gateway) PayloadKey() string { return g.prefix + ":reminders:payload" }

// OutboxKey is the list due reminders are pushed onto.
func (g *Gateway) OutboxKey() string { return g.prefix + ":reminders:outbox" }

// Channel is the pub/sub channel due reminders are published on.
func (g *Gateway) Channel() string { return g.prefix + ":reminders:due" }

// ScheduleNotification stores the reminder until fireAt. Scheduling the same
// reminder ID twice replaces the earlier entry.
func (g *Gateway) ScheduleNotification(ctx context.Context, reminder domain.Reminder, fireAt time.Time) error {
	reminder.FireAt = fireAt.UTC()
	payload, err := json.Marshal(reminder)
	if err != nil {
		return fmt.Errorf("encode reminder: %w", err)
	}
	_, err = g.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.HSet(ctx, g.PayloadKey(), reminder.ID, payload)
		pipe.ZAdd(ctx, g.ScheduledKey(), goredis.Z{Score: float64(reminder.FireAt.Unix()), Member: reminder.ID})
		return nil
	})
	return err
}

// NotifyNow pushes the reminder onto the outbox and publishes it.
func (g *Gateway) NotifyNow(ctx context.Context, reminder domain.Reminder) error {
	payload, err := json.Marshal(reminder)
	if err != nil {
		return fmt.Errorf("encode reminder: %w", err)
	}
	_, err = g.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.LPush(ctx, g.OutboxKey(), payload)
		pipe.Publish(ctx, g.Channel(), payload)
		return nil
	})
	return err
}

// Pending lists deferred reminders ordered by fire time.
func (g *Gateway) Pending(ctx context.Context) ([]domain.Reminder, error) {
	ids, err := g.client.ZRange(ctx, g.ScheduledKey(), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	return g.load(ctx, ids)
}

// Outbox returns up to limit delivered reminders, newest first.
func (g *Gateway) Outbox(ctx context.Context, limit int64) ([]domain.Reminder, error) {
	if limit <= 0 {
		return nil, nil
	}
	raw, err := g.client.LRange(ctx, g.OutboxKey(), 0, limit-1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]domain.Reminder, 0, len(raw))
	for _, item := range raw {
		var r domain.Reminder
		if err := json.Unmarshal([]byte(item), &r); err != nil {
			return nil, fmt.Errorf("decode outbox entry: %w", err)
		}
		out = append(out, r)
	}
	return out, nil
}

// deliverScript moves one due reminder from the schedule to the outbox.
// LPUSH is the first write, so a failing push leaves the reminder scheduled.
// Returns 1 when delivered, 0 when another dispatcher got there first and -1
// when the payload was missing.
var deliverScript = goredis.NewScript(`
if not redis.call('ZSCORE', KEYS[1], ARGV[1]) then
	return 0
end
local payload = redis.call('HGET', KEYS[2], ARGV[1])
if not payload then
	redis.call('ZREM', KEYS[1], ARGV[1])
	return -1
end
redis.call('LPUSH', KEYS[3], payload)
redis.call('ZREM', KEYS[1], ARGV[1])
redis.call('HDEL', KEYS[2], ARGV[1])
redis.call('PUBLISH', ARGV[2], payload)
return 1
`)

// DispatchDue moves every reminder due at or before now to the outbox and
// returns how many were dispatched. Each reminder moves in one server-side
// script, so concurrent dispatchers never deliver it twice and a failed
// delivery keeps it scheduled for the next pass.
func (g *Gateway) DispatchDue(ctx context.Context, now time.Time) (int, error) {
	ids, err := g.client.ZRangeByScore(ctx, g.ScheduledKey(), &goredis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.UTC().Unix(), 10),
	}).Result()
	if err != nil {
		return 0, err
	}
	keys := []string{g.ScheduledKey(), g.PayloadKey(), g.OutboxKey()}
	dispatched := 0
	var errs []error
	for _, id := range ids {
		n, err := deliverScript.Run(ctx, g.client, keys, id, g.Channel()).Int()
		if err != nil {
			errs = append(errs, fmt.Errorf("deliver reminder %s: %w", id, err))
			continue
		}
		if n == 1 {
			dispatched++
		}
	}
	return dispatched, errors.Join(errs...)
}

func (g *Gateway) load(ctx context.Context, ids []string) ([]domain.Reminder, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	values, err := g.client.HMGet(ctx, g.PayloadKey(), ids...).Result()
	if err != nil {
		return nil, err
	}
	out := make([]domain.Reminder, 0, len(values))
	for i, v := range values {
		s, ok := v.(string)
		if !ok {
			continue
		}
		var r domain.Reminder
		if err := json.Unmarshal([]byte(s), &r); err != nil {
			return nil, fmt.Errorf("decode reminder %s: %w", ids[i], err)
		}
		out = append(out, r)
	}
	return out, nil
}
