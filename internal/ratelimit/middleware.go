package ratelimit

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"visitorpass/internal/platform/config"
	dErrors "visitorpass/pkg/domain-errors"
	"visitorpass/pkg/platform/httputil"
	"visitorpass/pkg/platform/middleware/metadata"
	"visitorpass/pkg/requestcontext"
)

// Store counts requests per key.
type Store interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (*Result, error)
}

// LimitsFromConfig maps per-minute budgets to classes. Zero leaves a class
// unlimited.
func LimitsFromConfig(cfg config.RateLimitConfig) map[Class]Limit {
	limits := make(map[Class]Limit, 3)
	for class, n := range map[Class]int{
		ClassRegister: cfg.RegisterPerMinute,
		ClassScan:     cfg.ScanPerMinute,
		ClassWebhook:  cfg.WebhookPerMinute,
	} {
		if n > 0 {
			limits[class] = Limit{Requests: n, Window: time.Minute}
		}
	}
	return limits
}

type Middleware struct {
	store    Store
	limits   map[Class]Limit
	logger   *slog.Logger
	disabled bool
	rejected *prometheus.CounterVec
}

type Option func(*Middleware)

// WithDisabled disables rate limiting entirely.
func WithDisabled(disabled bool) Option {
	return func(m *Middleware) {
		m.disabled = disabled
	}
}

// WithRegisterer counts rejected requests per class.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(m *Middleware) {
		m.rejected = promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "visitorpass_rate_limited_total",
			Help: "Requests refused by the rate limiter, by endpoint class",
		}, []string{"class"})
	}
}

func New(store Store, limits map[Class]Limit, logger *slog.Logger, opts ...Option) *Middleware {
	m := &Middleware{
		store:  store,
		limits: limits,
		logger: logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.disabled {
		logger.Info("rate limiting disabled")
	}
	return m
}

// RateLimit limits class per client IP. Store errors let the request through.
func (m *Middleware) RateLimit(class Class) func(http.Handler) http.Handler {
	limit, ok := m.limits[class]
	return func(next http.Handler) http.Handler {
		if m.disabled || !ok {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			ip := requestcontext.ClientIP(ctx)
			if ip == "" {
				ip = metadata.ClientIPFromRequest(r)
			}

			result, err := m.store.Allow(ctx, string(class)+":"+ip, limit.Requests, limit.Window)
			if err != nil {
				m.logger.ErrorContext(ctx, "failed to check rate limit",
					"request_id", requestcontext.RequestID(ctx),
					"class", class,
					"error", err,
				)
				next.ServeHTTP(w, r)
				return
			}

			addRateLimitHeaders(w, result)
			if !result.Allowed {
				if m.rejected != nil {
					m.rejected.WithLabelValues(string(class)).Inc()
				}
				m.logger.WarnContext(ctx, "rate limit exceeded",
					"request_id", requestcontext.RequestID(ctx),
					"class", class,
					"retry_after", result.RetryAfter,
				)
				w.Header().Set("Retry-After", strconv.Itoa(result.RetryAfter))
				httputil.WriteError(w, dErrors.New(dErrors.CodeRateLimited, "Too many requests. Please try again later."))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func addRateLimitHeaders(w http.ResponseWriter, result *Result) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))
}
