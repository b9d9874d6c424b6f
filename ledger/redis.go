package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/ruteri/treasury-vault/interfaces"
)

const defaultRedisPrefix = "treasury"

// reserveScript atomically checks the headroom and records the reservation.
// KEYS[1] usage hash, KEYS[2] reservation hash. ARGV: limit, amount, account, date.
var reserveScript = redis.NewScript(`
local reserved = tonumber(redis.call('HGET', KEYS[1], 'reserved') or '0')
local committed = tonumber(redis.call('HGET', KEYS[1], 'committed') or '0')
local limit = tonumber(ARGV[1])
local amount = tonumber(ARGV[2])
if amount > limit - committed - reserved then
  return {0, committed, reserved}
end
redis.call('HINCRBY', KEYS[1], 'reserved', amount)
redis.call('HSET', KEYS[2], 'usage', KEYS[1], 'amount', ARGV[2], 'account', ARGV[3], 'date', ARGV[4])
return {1, committed, reserved + amount}
`)

// settleScript consumes a reservation exactly once.
// KEYS[1] reservation hash. ARGV[1] is "commit" or "release".
var settleScript = redis.NewScript(`
local usage = redis.call('HGET', KEYS[1], 'usage')
if not usage then
  return 0
end
local amount = tonumber(redis.call('HGET', KEYS[1], 'amount'))
redis.call('DEL', KEYS[1])
if redis.call('EXISTS', usage) == 0 then
  return 1
end
redis.call('HINCRBY', usage, 'reserved', -amount)
if ARGV[1] == 'commit' then
  redis.call('HINCRBY', usage, 'committed', amount)
end
return 1
`)

// RedisLedger keeps usage in Redis so several server processes share one ceiling.
// Check-and-increment runs as a Lua script, which Redis executes atomically.
type RedisLedger struct {
	client *redis.Client
	limits LimitSource
	prefix string
	log    *slog.Logger
}

// NewRedisLedger connects to redisURL (redis://[:password@]host:port/db) and pings the server.
func NewRedisLedger(ctx context.Context, redisURL string, limits LimitSource, log *slog.Logger) (*RedisLedger, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisLedgerWithClient(client, limits, log), nil
}

// NewRedisLedgerWithClient creates a ledger on an existing client, keys prefixed with "treasury".
func NewRedisLedgerWithClient(client *redis.Client, limits LimitSource, log *slog.Logger) *RedisLedger {
	return &RedisLedger{client: client, limits: limits, prefix: defaultRedisPrefix, log: log}
}

func (l *RedisLedger) usageKey(account interfaces.AccountID, date string) string {
	return fmt.Sprintf("%s:usage:%s:%s", l.prefix, account, date)
}

func (l *RedisLedger) reservationKey(token string) string {
	return fmt.Sprintf("%s:reservation:%s", l.prefix, token)
}

func (l *RedisLedger) TryReserve(ctx context.Context, account interfaces.AccountID, amount int64, date string) (interfaces.Reservation, error) {
	limit := l.limits.DailyLimit(account)
	if err := validateReserve(account, amount, limit, date); err != nil {
		return interfaces.Reservation{}, err
	}
	token := newToken()

	reply, err := reserveScript.Run(ctx, l.client,
		[]string{l.usageKey(account, date), l.reservationKey(token)},
		limit, amount, account.String(), date,
	).Slice()
	if err != nil {
		return interfaces.Reservation{}, fmt.Errorf("reserve script: %w", err)
	}
	result := make([]int64, 0, len(reply))
	for _, v := range reply {
		n, ok := v.(int64)
		if !ok {
			return interfaces.Reservation{}, fmt.Errorf("reserve script: unexpected reply %v", reply)
		}
		result = append(result, n)
	}
	if len(result) != 3 {
		return interfaces.Reservation{}, fmt.Errorf("reserve script: unexpected reply %v", reply)
	}

	if result[0] == 0 {
		return interfaces.Reservation{}, limitError(account, date, limit, result[1], result[2], amount)
	}

	return interfaces.Reservation{Token: token, AccountID: account, Date: date, Amount: amount}, nil
}

func (l *RedisLedger) Commit(ctx context.Context, token string) error {
	return l.settle(ctx, token, "commit")
}

func (l *RedisLedger) Release(ctx context.Context, token string) error {
	return l.settle(ctx, token, "release")
}

func (l *RedisLedger) settle(ctx context.Context, token, mode string) error {
	if token == "" || strings.ContainsAny(token, ":*") {
		return interfaces.ErrInvalidToken
	}

	ok, err := settleScript.Run(ctx, l.client, []string{l.reservationKey(token)}, mode).Int64()
	if err != nil {
		return fmt.Errorf("settle script: %w", err)
	}
	if ok == 0 {
		return interfaces.ErrInvalidToken
	}
	return nil
}

func (l *RedisLedger) Usage(ctx context.Context, account interfaces.AccountID, date string) (interfaces.DailyUsage, error) {
	usage := interfaces.DailyUsage{AccountID: account, Date: date, Limit: l.limits.DailyLimit(account)}

	values, err := l.client.HMGet(ctx, l.usageKey(account, date), "reserved", "committed").Result()
	if err != nil {
		return interfaces.DailyUsage{}, fmt.Errorf("read usage: %w", err)
	}
	usage.Reserved = parseRedisInt(values[0])
	usage.Committed = parseRedisInt(values[1])
	return usage, nil
}

// Prune deletes usage hashes and reservations dated before the given day.
func (l *RedisLedger) Prune(ctx context.Context, before string) (int, error) {
	if _, err := interfaces.ParseDateKey(before); err != nil {
		return 0, err
	}

	pruned := 0
	iter := l.client.Scan(ctx, 0, l.prefix+":usage:*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		date := key[strings.LastIndex(key, ":")+1:]
		if date >= before {
			continue
		}
		if err := l.client.Del(ctx, key).Err(); err != nil {
			return pruned, fmt.Errorf("prune usage: %w", err)
		}
		pruned++
	}
	if err := iter.Err(); err != nil {
		return pruned, fmt.Errorf("scan usage: %w", err)
	}

	iter = l.client.Scan(ctx, 0, l.prefix+":reservation:*", 100).Iterator()
	for iter.Next(ctx) {
		date, err := l.client.HGet(ctx, iter.Val(), "date").Result()
		if err != nil && err != redis.Nil {
			return pruned, fmt.Errorf("read reservation: %w", err)
		}
		if date != "" && date < before {
			l.client.Del(ctx, iter.Val())
		}
	}
	if err := iter.Err(); err != nil {
		return pruned, fmt.Errorf("scan reservations: %w", err)
	}

	l.log.Debug("Pruned Redis usage records", slog.Int("records", pruned), slog.String("before", before))
	return pruned, nil
}

// Close closes the Redis client.
func (l *RedisLedger) Close() error {
	return l.client.Close()
}

func parseRedisInt(v interface{}) int64 {
	s, ok := v.(string)
	if !ok {
		return 0
	}
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}
