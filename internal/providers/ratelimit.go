package providers

import (
	"context"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"gopkg.in/yaml.v3"
)

// rateConfig mirrors the rate_limits block of the providers yaml file.
type rateConfig struct {
	RateLimits struct {
		DefaultRPM        int `yaml:"default_rpm"`
		EndpointOverrides map[string]struct {
			RPM int `yaml:"rpm"`
		} `yaml:"endpoint_overrides"`
	} `yaml:"rate_limits"`
}

// RateLimits holds per-endpoint request limiters. A nil *RateLimits is
// valid and imposes no limit.
type RateLimits struct {
	mu       sync.Mutex
	cfg      rateConfig
	limiters map[string]*rate.Limiter
	logger   *zap.Logger
}

// LoadRateLimits reads limiter configuration from a yaml file. A missing
// file is not an error; it yields unlimited endpoints.
func LoadRateLimits(path string, logger *zap.Logger) (*RateLimits, error) {
	rl := &RateLimits{
		limiters: make(map[string]*rate.Limiter),
		logger:   logger,
	}
	if path == "" {
		return rl, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Info("No rate limit config found, endpoints unlimited", zap.String("path", path))
			return rl, nil
		}
		return nil, err
	}
	if err := yaml.Unmarshal(data, &rl.cfg); err != nil {
		return nil, err
	}
	logger.Info("Loaded provider rate limits",
		zap.String("path", path),
		zap.Int("default_rpm", rl.cfg.RateLimits.DefaultRPM),
		zap.Int("overrides", len(rl.cfg.RateLimits.EndpointOverrides)),
	)
	return rl, nil
}

// Reload re-reads limiter configuration from the yaml file and resets
// all per-endpoint limiters so new rates take effect immediately.
func (r *RateLimits) Reload(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var cfg rateConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return err
	}

	r.mu.Lock()
	r.cfg = cfg
	r.limiters = make(map[string]*rate.Limiter)
	r.mu.Unlock()

	r.logger.Info("Reloaded provider rate limits",
		zap.String("path", path),
		zap.Int("default_rpm", cfg.RateLimits.DefaultRPM),
	)
	return nil
}

// Wait blocks until the endpoint's limiter admits a request or ctx is
// cancelled.
func (r *RateLimits) Wait(ctx context.Context, endpointID string) error {
	if r == nil {
		return nil
	}
	lim := r.limiterFor(endpointID)
	if lim == nil {
		return nil
	}
	return lim.Wait(ctx)
}

func (r *RateLimits) limiterFor(endpointID string) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()

	if lim, ok := r.limiters[endpointID]; ok {
		return lim
	}

	rpm := r.cfg.RateLimits.DefaultRPM
	if o, ok := r.cfg.RateLimits.EndpointOverrides[endpointID]; ok && o.RPM > 0 {
		rpm = o.RPM
	}
	if rpm <= 0 {
		r.limiters[endpointID] = nil
		return nil
	}
	lim := rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), 1)
	r.limiters[endpointID] = lim
	return lim
}
