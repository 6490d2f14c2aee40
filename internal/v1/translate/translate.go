// Package translate calls the external translation provider through a
// circuit breaker and caches results in two read-through tiers: a bounded
// in-memory LRU and a Redis TTL cache shared across instances.
package translate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/veilchat/backend/go/internal/v1/logging"
	"github.com/veilchat/backend/go/internal/v1/metrics"
)

// ErrDisabled is returned when translation is turned off by config.
var ErrDisabled = errors.New("translation disabled")

// ErrTooLong is returned when the input exceeds the provider budget.
var ErrTooLong = errors.New("input too long")

const providerTimeout = 10 * time.Second

// Service is the translation client.
type Service struct {
	enabled       bool
	url           string
	maxInputChars int
	httpClient    *http.Client
	cb            *gobreaker.CircuitBreaker
	cache         *tieredCache
}

// NewService builds the translation client. rdb may be nil; the external
// cache tier is then skipped.
func NewService(enabled bool, url string, maxInputChars int, rdb *redis.Client) *Service {
	st := gobreaker.Settings{
		Name:        "translation",
		MaxRequests: 3,
		Interval:    1 * time.Minute,
		Timeout:     30 * time.Second,
		OnStateChange: func(name string, from, to gobreaker.State) {
			var stateVal float64
			switch to {
			case gobreaker.StateClosed:
				stateVal = 0
			case gobreaker.StateOpen:
				stateVal = 1
			case gobreaker.StateHalfOpen:
				stateVal = 2
			}
			metrics.CircuitBreakerState.WithLabelValues("translation").Set(stateVal)
		},
	}
	return &Service{
		enabled:       enabled,
		url:           url,
		maxInputChars: maxInputChars,
		httpClient:    &http.Client{Timeout: providerTimeout},
		cb:            gobreaker.NewCircuitBreaker(st),
		cache:         newTieredCache(rdb),
	}
}

// Enabled reports whether the provider is configured and turned on.
func (s *Service) Enabled() bool {
	return s.enabled && s.url != ""
}

type providerRequest struct {
	Text   string `json:"text"`
	Source string `json:"source,omitempty"`
	Target string `json:"target"`
}

type providerResponse struct {
	TranslatedText string `json:"translatedText"`
}

// Translate returns text in the target language, consulting both cache
// tiers before the provider. The caller's ctx bounds the provider call.
func (s *Service) Translate(ctx context.Context, text, source, target string) (string, error) {
	if !s.Enabled() {
		return "", ErrDisabled
	}
	if s.maxInputChars > 0 && len(text) > s.maxInputChars {
		return "", ErrTooLong
	}

	if v, ok := s.cache.get(ctx, text, target); ok {
		return v, nil
	}

	out, err := s.cb.Execute(func() (interface{}, error) {
		return s.callProvider(ctx, text, source, target)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState {
			metrics.CircuitBreakerFailures.WithLabelValues("translation").Inc()
		}
		metrics.TranslationRequests.WithLabelValues("error").Inc()
		return "", err
	}
	metrics.TranslationRequests.WithLabelValues("ok").Inc()

	translated := out.(string)
	s.cache.put(ctx, text, target, translated)
	return translated, nil
}

func (s *Service) callProvider(ctx context.Context, text, source, target string) (string, error) {
	body, err := json.Marshal(providerRequest{Text: text, Source: source, Target: target})
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, providerTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("translation provider returned %d", resp.StatusCode)
	}

	var pr providerResponse
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		return "", fmt.Errorf("decoding provider response: %w", err)
	}
	return pr.TranslatedText, nil
}

// FanOut translates text into every target language, dropping targets that
// fail. Raw provider errors never reach the message pipeline.
func (s *Service) FanOut(ctx context.Context, text, source string, targets []string) map[string]string {
	out := make(map[string]string, len(targets))
	for _, target := range targets {
		if target == "" || target == source {
			continue
		}
		translated, err := s.Translate(ctx, text, source, target)
		if err != nil {
			if !errors.Is(err, ErrDisabled) {
				logging.Warn(ctx, "Dropping translation target",
					zap.String("target", target), zap.Error(err))
			}
			continue
		}
		out[target] = translated
	}
	return out
}
