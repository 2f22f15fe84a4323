// Package ratelimit enforces the three per-identity token buckets: auth,
// messaging, and general. Buckets are backed by a shared
// ulule/limiter store (Redis when available, in-process memory otherwise)
// so that limits hold across a multi-instance deployment.
package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lairchat/server/internal/v1/apperr"
	"github.com/lairchat/server/internal/v1/auth"
	"github.com/lairchat/server/internal/v1/config"
	"github.com/lairchat/server/internal/v1/logging"
	"github.com/lairchat/server/internal/v1/metrics"
	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"
	"go.uber.org/zap"
)

// Bucket names a rate-limit bucket; used as the metrics label and the
// middleware selector.
type Bucket string

const (
	BucketAuth      Bucket = "auth"
	BucketMessaging Bucket = "messaging"
	BucketGeneral   Bucket = "general"
)

// RateLimiter holds the three bucket limiters and their shared store.
type RateLimiter struct {
	auth      *limiter.Limiter
	messaging *limiter.Limiter
	general   *limiter.Limiter
	store     limiter.Store
}

// NewRateLimiter builds a RateLimiter from configured rates. When
// redisClient is nil the limiter falls back to an in-process memory store,
// suitable for a single-instance deployment or tests.
func NewRateLimiter(cfg *config.Config, redisClient *redis.Client) (*RateLimiter, error) {
	authRate, err := limiter.NewRateFromFormatted(cfg.RateLimitAuth)
	if err != nil {
		return nil, fmt.Errorf("invalid auth rate: %w", err)
	}
	messagingRate, err := limiter.NewRateFromFormatted(cfg.RateLimitMessaging)
	if err != nil {
		return nil, fmt.Errorf("invalid messaging rate: %w", err)
	}
	generalRate, err := limiter.NewRateFromFormatted(cfg.RateLimitGeneral)
	if err != nil {
		return nil, fmt.Errorf("invalid general rate: %w", err)
	}

	var store limiter.Store
	if redisClient != nil {
		s, err := sredis.NewStoreWithOptions(redisClient, limiter.StoreOptions{
			Prefix: "lairchat:limiter:",
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create redis store: %w", err)
		}
		store = s
		logging.Info(context.Background(), "rate limiter using redis store")
	} else {
		store = memory.NewStore()
		logging.Warn(context.Background(), "rate limiter using in-process memory store (no redis configured)")
	}

	return &RateLimiter{
		auth:      limiter.New(store, authRate),
		messaging: limiter.New(store, messagingRate),
		general:   limiter.New(store, generalRate),
		store:     store,
	}, nil
}

func (rl *RateLimiter) limiterFor(bucket Bucket) *limiter.Limiter {
	switch bucket {
	case BucketAuth:
		return rl.auth
	case BucketMessaging:
		return rl.messaging
	default:
		return rl.general
	}
}

// identity returns the key a request is metered under: the caller's user id
// when authenticated, else their client IP.
func identity(c *gin.Context) string {
	if claims, ok := c.Get("claims"); ok {
		if cl, ok := claims.(*auth.Claims); ok {
			return "user:" + cl.Subject
		}
	}
	return "ip:" + c.ClientIP()
}

// Middleware returns a gin middleware enforcing the named bucket, keyed by
// authenticated user id or client IP. On store failure it fails open: an
// unreachable rate limiter must never block chat traffic.
func (rl *RateLimiter) Middleware(bucket Bucket) gin.HandlerFunc {
	l := rl.limiterFor(bucket)
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		key := identity(c)

		lctx, err := l.Get(ctx, key)
		if err != nil {
			logging.Error(ctx, "rate limiter store failed", zap.String("bucket", string(bucket)), zap.Error(err))
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.FormatInt(lctx.Limit, 10))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(lctx.Remaining, 10))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(lctx.Reset, 10))

		if lctx.Reached {
			metrics.RateLimitExceeded.WithLabelValues(string(bucket)).Inc()
			retryAfter := lctx.Reset - time.Now().Unix()
			if retryAfter < 1 {
				retryAfter = 1
			}
			c.Header("Retry-After", strconv.FormatInt(retryAfter, 10))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       gin.H{"code": string(apperr.CodeRateLimited), "message": "rate limit exceeded"},
				"retry_after": retryAfter,
			})
			return
		}

		metrics.RateLimitRequests.WithLabelValues(string(bucket)).Inc()
		c.Next()
	}
}

// CheckWebSocket applies the general bucket to a WebSocket upgrade request,
// keyed by client IP since the connection may not be authenticated yet.
func (rl *RateLimiter) CheckWebSocket(ctx context.Context, clientIP string) error {
	lctx, err := rl.general.Get(ctx, "ip:"+clientIP)
	if err != nil {
		logging.Error(ctx, "ws rate limiter store failed", zap.Error(err))
		return nil
	}
	if lctx.Reached {
		metrics.RateLimitExceeded.WithLabelValues(string(BucketGeneral)).Inc()
		return fmt.Errorf("rate limit exceeded for %s", clientIP)
	}
	metrics.RateLimitRequests.WithLabelValues(string(BucketGeneral)).Inc()
	return nil
}

// CheckMessaging applies the messaging bucket to a single user's outbound
// message where no HTTP request/gin context exists. The WebSocket adapter
// calls it for send_message; the framed adapter does not call it.
func (rl *RateLimiter) CheckMessaging(ctx context.Context, userID string) error {
	lctx, err := rl.messaging.Get(ctx, "user:"+userID)
	if err != nil {
		logging.Error(ctx, "messaging rate limiter store failed", zap.Error(err))
		return nil
	}
	if lctx.Reached {
		metrics.RateLimitExceeded.WithLabelValues(string(BucketMessaging)).Inc()
		return fmt.Errorf("rate limit exceeded for user %s", userID)
	}
	metrics.RateLimitRequests.WithLabelValues(string(BucketMessaging)).Inc()
	return nil
}
