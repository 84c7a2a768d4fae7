package server

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

type RateLimitConfig struct {
	GlobalRPS     float64
	GlobalBurst   int
	LoginLimit    int
	LoginWindow   time.Duration
	RedisAddr     string
	RedisPassword string
	RedisTimeout  time.Duration
}

const (
	defaultLoginLimit  = 10
	defaultLoginWindow = 5 * time.Minute
)

// rateLimiter throttles login attempts per client address with a fixed
// window, optionally backed by Redis so the window is shared across
// replicas. A coarse global token bucket shields the whole server.
type rateLimiter struct {
	global      *tokenBucket
	loginLimit  int
	loginWindow time.Duration
	loginMu     sync.Mutex
	loginSeen   map[string]*loginWindowState
	store       attemptStore
}

type loginWindowState struct {
	count       int
	windowStart time.Time
	lastSeen    time.Time
}

type attemptStore interface {
	Allow(key string, limit int, window time.Duration) (bool, time.Duration, error)
}

func newRateLimiter(cfg RateLimitConfig) *rateLimiter {
	rl := &rateLimiter{
		loginLimit:  cfg.LoginLimit,
		loginWindow: cfg.LoginWindow,
		loginSeen:   make(map[string]*loginWindowState),
	}
	if cfg.GlobalRPS > 0 {
		burst := cfg.GlobalBurst
		if burst <= 0 {
			burst = int(cfg.GlobalRPS)
			if burst < 1 {
				burst = 1
			}
		}
		rl.global = newTokenBucket(cfg.GlobalRPS, burst)
	}
	if rl.loginLimit <= 0 {
		rl.loginLimit = defaultLoginLimit
	}
	if rl.loginWindow <= 0 {
		rl.loginWindow = defaultLoginWindow
	}
	if cfg.RedisAddr != "" {
		timeout := cfg.RedisTimeout
		if timeout <= 0 {
			timeout = 2 * time.Second
		}
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		rl.store = &redisAttemptStore{client: client, timeout: timeout}
	}
	return rl
}

func (r *rateLimiter) AllowRequest() bool {
	if r == nil || r.global == nil {
		return true
	}
	return r.global.Allow()
}

// AllowLogin counts one login attempt for the key. Every attempt counts,
// successful or not; the window resets once it elapses.
func (r *rateLimiter) AllowLogin(key string) (bool, time.Duration, error) {
	if r == nil || r.loginLimit <= 0 {
		return true, 0, nil
	}
	if key == "" {
		key = "unknown"
	}
	if r.store != nil {
		return r.store.Allow(fmt.Sprintf("mediavault:login:%s", key), r.loginLimit, r.loginWindow)
	}

	now := time.Now()
	r.loginMu.Lock()
	defer r.loginMu.Unlock()

	state, exists := r.loginSeen[key]
	if !exists || now.Sub(state.windowStart) >= r.loginWindow {
		state = &loginWindowState{windowStart: now}
		r.loginSeen[key] = state
	}
	state.lastSeen = now
	state.count++
	r.cleanupLocked(now)

	if state.count <= r.loginLimit {
		return true, 0, nil
	}
	retryAfter := r.loginWindow - now.Sub(state.windowStart)
	if retryAfter < time.Second {
		retryAfter = time.Second
	}
	return false, retryAfter, nil
}

func (r *rateLimiter) cleanupLocked(now time.Time) {
	if len(r.loginSeen) == 0 {
		return
	}
	cutoff := now.Add(-2 * r.loginWindow)
	for key, state := range r.loginSeen {
		if state.lastSeen.Before(cutoff) {
			delete(r.loginSeen, key)
		}
	}
}

type redisAttemptStore struct {
	client  *redis.Client
	timeout time.Duration
}

// Allow implements the fixed window with INCR plus a TTL set on the first
// attempt in the window.
func (s *redisAttemptStore) Allow(key string, limit int, window time.Duration) (bool, time.Duration, error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	count, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return false, 0, err
	}
	if count == 1 {
		if err := s.client.Expire(ctx, key, window).Err(); err != nil {
			return false, 0, err
		}
	}
	if count <= int64(limit) {
		return true, 0, nil
	}
	ttl, err := s.client.TTL(ctx, key).Result()
	if err != nil {
		return false, 0, err
	}
	if ttl < 0 {
		return false, window, nil
	}
	return false, ttl, nil
}

type tokenBucket struct {
	mu        sync.Mutex
	rate      float64
	capacity  float64
	tokens    float64
	lastCheck time.Time
}

func newTokenBucket(rate float64, burst int) *tokenBucket {
	if rate <= 0 {
		rate = 1
	}
	if burst <= 0 {
		burst = 1
	}
	now := time.Now()
	return &tokenBucket{
		rate:      rate,
		capacity:  float64(burst),
		tokens:    float64(burst),
		lastCheck: now,
	}
}

func (tb *tokenBucket) Allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	now := time.Now()
	elapsed := now.Sub(tb.lastCheck).Seconds()
	tb.lastCheck = now
	tb.tokens += elapsed * tb.rate
	if tb.tokens > tb.capacity {
		tb.tokens = tb.capacity
	}
	if tb.tokens < 1 {
		return false
	}
	tb.tokens -= 1
	return true
}
