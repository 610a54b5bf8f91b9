package nonce

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"

	dErrors "voicepassport/pkg/domain-errors"
)

// seedScript raises the stored next-nonce to the ledger's pending count
// without ever lowering it, so a persisted value from a previous process
// survives a restart (allocated-but-unconfirmed nonces stay accounted for).
const seedScript = `
local cur = tonumber(redis.call('GET', KEYS[1]) or '-1')
local seed = tonumber(ARGV[1])
if cur < seed then
  redis.call('SET', KEYS[1], seed)
end
return redis.call('GET', KEYS[1])
`

// returnScript decrements only when the returned nonce is still the most
// recently allocated one.
const returnScript = `
local cur = tonumber(redis.call('GET', KEYS[1]) or '0')
if cur == tonumber(ARGV[1]) + 1 then
  redis.call('DECR', KEYS[1])
end
return 0
`

// Redis is a cross-process allocator backed by a Redis counter. INCR is
// atomic, so concurrent allocators on different hosts still produce each
// nonce exactly once.
type Redis struct {
	client redis.Cmdable
	key    string
}

// NewRedis seeds the shared counter from max(ledger pending count,
// persisted value) and returns the allocator.
func NewRedis(ctx context.Context, client redis.Cmdable, reader PendingNonceReader, account common.Address) (*Redis, error) {
	seed, err := reader.PendingNonceAt(ctx, account)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeTransient, "read pending nonce")
	}
	key := fmt.Sprintf("voicepassport:nonce:%s", account.Hex())
	if err := redis.NewScript(seedScript).Run(ctx, client, []string{key}, seed).Err(); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeTransient, "seed nonce counter")
	}
	return &Redis{client: client, key: key}, nil
}

func (r *Redis) Next(ctx context.Context) (uint64, error) {
	v, err := r.client.Incr(ctx, r.key).Result()
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeTransient, "allocate nonce")
	}
	// INCR returns the new next-nonce; the allocated one precedes it.
	return uint64(v - 1), nil
}

func (r *Redis) Return(ctx context.Context, nonce uint64) error {
	if err := redis.NewScript(returnScript).Run(ctx, r.client, []string{r.key}, nonce).Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTransient, "return nonce")
	}
	return nil
}
