// Пакет ratelimit — ограничение частоты запросов по ключу (адрес клиента).
//
// Каждый ключ получает token bucket на limit запросов за window. Исчерпав
// его, ключ блокируется на block: все запросы в это время отклоняются,
// даже если bucket успел пополниться. Состояние ключей хранится в LRU
// ограниченного размера и забывается после простоя.
package ratelimit

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"
)

// DefaultMaxKeys — число одновременно отслеживаемых ключей.
const DefaultMaxKeys = 10000

// Decision — результат проверки.
type Decision struct {
	// Allowed — запрос пропускается
	Allowed bool
	// RetryAfter — через сколько повторить (для отклонённых)
	RetryAfter time.Duration
}

type keyState struct {
	limiter      *rate.Limiter
	blockedUntil time.Time
}

// Limiter — потокобезопасный лимитер по ключу.
type Limiter struct {
	limit  int
	window time.Duration
	block  time.Duration
	now    func() time.Time

	mu   sync.Mutex
	keys *expirable.LRU[string, *keyState]
}

// Option — опция Limiter.
type Option func(*Limiter)

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// New создаёт лимитер: limit запросов за window, блокировка на block.
func New(limit int, window, block time.Duration, maxKeys int, opts ...Option) *Limiter {
	if maxKeys <= 0 {
		maxKeys = DefaultMaxKeys
	}
	l := &Limiter{
		limit:  limit,
		window: window,
		block:  block,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	// Ключ без запросов дольше окна и блокировки ничем не отличается от нового
	l.keys = expirable.NewLRU[string, *keyState](maxKeys, nil, window+block)
	return l
}

// Allow проверяет и учитывает запрос с ключом key.
func (l *Limiter) Allow(key string) Decision {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	st, ok := l.keys.Get(key)
	if !ok {
		st = &keyState{
			limiter: rate.NewLimiter(rate.Limit(float64(l.limit)/l.window.Seconds()), l.limit),
		}
	}
	// Add обновляет TTL записи
	defer l.keys.Add(key, st)

	if now.Before(st.blockedUntil) {
		return Decision{RetryAfter: st.blockedUntil.Sub(now)}
	}
	if st.limiter.AllowN(now, 1) {
		return Decision{Allowed: true}
	}

	st.blockedUntil = now.Add(l.block)
	retry := l.block
	if retry <= 0 {
		r := st.limiter.ReserveN(now, 1)
		retry = r.DelayFrom(now)
		r.CancelAt(now)
	}
	return Decision{RetryAfter: retry}
}

// Tracked — число отслеживаемых ключей.
func (l *Limiter) Tracked() int {
	return l.keys.Len()
}
