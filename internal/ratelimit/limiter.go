package ratelimit

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"
)

// =============================================================================
// 🚦 按身份的令牌桶限流器
// =============================================================================

// ErrInvalidConfig is returned by New when rate or burst is not positive.
var ErrInvalidConfig = errors.New("ratelimit: rate and burst must be positive")

// Config 限流器配置
type Config struct {
	// 每秒补充的令牌数
	Rate float64 `yaml:"rps" json:"rps"`

	// 桶容量
	Burst int `yaml:"burst" json:"burst"`

	// 分片数量，按 identity 的 xxhash 取模
	Shards int `yaml:"shards" json:"shards"`

	// 所有分片合计最多跟踪的 identity 数
	MaxIdentities int `yaml:"max_identities" json:"max_identities"`
}

// DefaultConfig 返回默认限流配置
func DefaultConfig() Config {
	return Config{
		Rate:          3,
		Burst:         6,
		Shards:        16,
		MaxIdentities: 10000,
	}
}

// Decision is the outcome of one admission check.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// Limiter admits or rejects requests per identity. Buckets live in a fixed
// number of LRU shards, so an identity that has been idle long enough to be
// evicted comes back with a full bucket.
type Limiter struct {
	limit  rate.Limit
	burst  int
	shards []*lru.Cache[string, *rate.Limiter]
	now    func() time.Time
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock overrides the time source. Tests use it to step time manually.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		l.now = now
	}
}

// New creates a limiter.
func New(cfg Config, opts ...Option) (*Limiter, error) {
	if cfg.Rate <= 0 || cfg.Burst <= 0 {
		return nil, fmt.Errorf("%w: rate=%v burst=%d", ErrInvalidConfig, cfg.Rate, cfg.Burst)
	}

	defaults := DefaultConfig()
	if cfg.Shards <= 0 {
		cfg.Shards = defaults.Shards
	}
	if cfg.MaxIdentities <= 0 {
		cfg.MaxIdentities = defaults.MaxIdentities
	}
	perShard := int(math.Ceil(float64(cfg.MaxIdentities) / float64(cfg.Shards)))
	if perShard < 1 {
		perShard = 1
	}

	l := &Limiter{
		limit:  rate.Limit(cfg.Rate),
		burst:  cfg.Burst,
		shards: make([]*lru.Cache[string, *rate.Limiter], cfg.Shards),
		now:    time.Now,
	}
	for i := range l.shards {
		shard, err := lru.New[string, *rate.Limiter](perShard)
		if err != nil {
			return nil, fmt.Errorf("create shard %d: %w", i, err)
		}
		l.shards[i] = shard
	}

	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Admit consumes one token from identity's bucket if one is available.
func (l *Limiter) Admit(identity string) bool {
	return l.Decide(identity).Allowed
}

// Decide is Admit plus the bookkeeping needed for rate-limit response headers.
func (l *Limiter) Decide(identity string) Decision {
	now := l.now()
	bucket := l.bucket(identity)

	if bucket.AllowN(now, 1) {
		return Decision{
			Allowed:   true,
			Remaining: int(bucket.TokensAt(now)),
		}
	}

	missing := 1 - bucket.TokensAt(now)
	if missing < 0 {
		missing = 0
	}
	return Decision{
		Allowed:    false,
		RetryAfter: time.Duration(missing / float64(l.limit) * float64(time.Second)),
	}
}

// Burst returns the bucket capacity.
func (l *Limiter) Burst() int {
	return l.burst
}

// Len returns the number of identities currently tracked.
func (l *Limiter) Len() int {
	n := 0
	for _, shard := range l.shards {
		n += shard.Len()
	}
	return n
}

func (l *Limiter) bucket(identity string) *rate.Limiter {
	shard := l.shards[xxhash.Sum64String(identity)%uint64(len(l.shards))]

	if b, ok := shard.Get(identity); ok {
		return b
	}

	// PeekOrAdd keeps the bucket created by whichever caller won the race.
	fresh := rate.NewLimiter(l.limit, l.burst)
	if prev, ok, _ := shard.PeekOrAdd(identity, fresh); ok {
		return prev
	}
	return fresh
}
