package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/txmail/internal/domain"
	"github.com/ignite/txmail/internal/service/sending"
)

// ErrDailyQuotaExhausted is returned once the transport's daily quota is used.
// The dispatcher treats it as transient, so messages wait for the next day.
var ErrDailyQuotaExhausted = errors.New("transport daily quota exhausted")

// Lua script for an atomic per-second and per-day check-and-increment.
const sendQuotaLuaScript = `
local secondKey = KEYS[1]
local dailyKey = KEYS[2]
local secondLimit = tonumber(ARGV[1])
local dailyLimit = tonumber(ARGV[2])

local secCurrent = tonumber(redis.call("GET", secondKey) or "0")
local dayCurrent = tonumber(redis.call("GET", dailyKey) or "0")

if secondLimit > 0 and secCurrent + 1 > secondLimit then
    return 1
end
if dailyLimit > 0 and dayCurrent + 1 > dailyLimit then
    return 2
end

if redis.call("INCR", secondKey) == 1 then
    redis.call("EXPIRE", secondKey, 2)
end
if redis.call("INCR", dailyKey) == 1 then
    redis.call("EXPIRE", dailyKey, 90000)
end
return 0
`

// SendQuota caps the send rate of one transport across every worker process.
type SendQuota struct {
	redis     *redis.Client
	script    *redis.Script
	name      string
	perSecond int
	daily     int
	now       func() time.Time
}

// NewSendQuota creates a quota for the named transport.
func NewSendQuota(redisClient *redis.Client, name string, perSecond, daily int) *SendQuota {
	return &SendQuota{
		redis:     redisClient,
		script:    redis.NewScript(sendQuotaLuaScript),
		name:      name,
		perSecond: perSecond,
		daily:     daily,
		now:       time.Now,
	}
}

// Acquire blocks until one send fits under the per-second limit. It fails
// fast when the daily quota is exhausted.
func (q *SendQuota) Acquire(ctx context.Context) error {
	for {
		now := q.now().UTC()
		keys := []string{
			fmt.Sprintf("txmail:quota:%s:sec:%d", q.name, now.Unix()),
			fmt.Sprintf("txmail:quota:%s:day:%s", q.name, now.Format("2006-01-02")),
		}
		denied, err := q.script.Run(ctx, q.redis, keys, q.perSecond, q.daily).Int()
		if err != nil {
			return fmt.Errorf("send quota: %w", err)
		}
		switch denied {
		case 0:
			return nil
		case 2:
			return ErrDailyQuotaExhausted
		}
		wait := time.Until(now.Truncate(time.Second).Add(time.Second))
		if wait <= 0 {
			wait = 10 * time.Millisecond
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// QuotaSender applies a SendQuota in front of another sender.
type QuotaSender struct {
	next  sending.Sender
	quota *SendQuota
}

// NewQuotaSender wraps next with quota.
func NewQuotaSender(next sending.Sender, quota *SendQuota) *QuotaSender {
	return &QuotaSender{next: next, quota: quota}
}

func (s *QuotaSender) Send(ctx context.Context, env *domain.Envelope) (*domain.SendResult, error) {
	if err := s.quota.Acquire(ctx); err != nil {
		return nil, err
	}
	return s.next.Send(ctx, env)
}
