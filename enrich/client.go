/*
Package enrich attaches third-party company attributes to employer EINs.

PURPOSE:
  Maps an EIN to {industry, revenue, headcount} via an upstream
  collaborator that is allowed to be unreliable. The client absorbs
  upstream failure entirely: bounded retries with linear backoff, then
  an all-null default profile. Callers never see an error.

CACHE:
  One cache per Client, one Client per run. For a given EIN at most one
  upstream attempt sequence happens per run; every later lookup is a
  cache hit. The cache map is mutex-guarded so the client stays correct
  if callers fan enrichment out across goroutines.

DETERMINISM:
  The upstream's failure behavior and the backoff wait are both
  injectable (FaultSource, Sleeper) so tests can script exact
  success/failure sequences instead of relying on randomness.

SEE ALSO:
  - etl/run.go: enriches the distinct EINs of each incremental batch
*/
package enrich

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/warp/benefits-pipeline/record"
)

// ErrUpstreamUnavailable is what the simulated upstream returns on a
// failed attempt. Real upstreams would wrap transport errors instead.
var ErrUpstreamUnavailable = errors.New("upstream temporarily unavailable")

// Upstream resolves an EIN to a company profile. Implementations may
// fail transiently; the Client owns retry policy.
type Upstream interface {
	Fetch(ctx context.Context, ein string) (record.CompanyProfile, error)
}

// Sleeper waits for the given duration, honoring context cancellation.
// Injectable so tests do not spend wall-clock time on backoff.
type Sleeper func(ctx context.Context, d time.Duration) error

func defaultSleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Client is the enrichment client. Construct one per run with NewClient.
type Client struct {
	upstream Upstream
	sleep    Sleeper
	attempts int
	baseWait time.Duration
	log      zerolog.Logger

	mu    sync.Mutex
	cache map[string]record.CompanyProfile
}

// Option tweaks Client construction.
type Option func(*Client)

// WithSleeper replaces the backoff wait implementation.
func WithSleeper(s Sleeper) Option { return func(c *Client) { c.sleep = s } }

// WithAttempts overrides the retry bound.
func WithAttempts(n int) Option { return func(c *Client) { c.attempts = n } }

// WithLogger attaches a logger for attempt/outcome detail.
func WithLogger(l zerolog.Logger) Option { return func(c *Client) { c.log = l } }

// NewClient builds a Client with a fresh cache. Defaults: 3 attempts,
// 500ms base wait, real sleeping, no-op logger.
func NewClient(upstream Upstream, opts ...Option) *Client {
	c := &Client{
		upstream: upstream,
		sleep:    defaultSleep,
		attempts: 3,
		baseWait: 500 * time.Millisecond,
		log:      zerolog.Nop(),
		cache:    make(map[string]record.CompanyProfile),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Enrich resolves the EIN to a profile. Behavior:
//
//  1. Cache hit: cached value, no upstream call.
//  2. Cache miss: up to attempts upstream calls, waiting
//     baseWait*attempt after each failure (0.5s, 1.0s, 1.5s).
//  3. First success caches and returns the upstream payload.
//  4. Exhaustion caches and returns the all-null default profile.
//
// Upstream failure is absorbed here; the only error a caller can see
// is context cancellation during a backoff wait.
func (c *Client) Enrich(ctx context.Context, ein string) (record.CompanyProfile, error) {
	c.mu.Lock()
	if p, ok := c.cache[ein]; ok {
		c.mu.Unlock()
		c.log.Debug().Str("ein", ein).Msg("enrichment cache hit")
		return p, nil
	}
	c.mu.Unlock()

	for attempt := 1; attempt <= c.attempts; attempt++ {
		p, err := c.upstream.Fetch(ctx, ein)
		if err == nil {
			c.log.Info().Str("ein", ein).Int("attempt", attempt).Msg("enrichment succeeded")
			c.store(ein, p)
			return p, nil
		}

		wait := time.Duration(attempt) * c.baseWait
		c.log.Warn().
			Str("ein", ein).
			Int("attempt", attempt).
			Dur("backoff", wait).
			Err(err).
			Msg("enrichment attempt failed")
		if err := c.sleep(ctx, wait); err != nil {
			return record.CompanyProfile{}, err
		}
	}

	c.log.Error().Str("ein", ein).Int("attempts", c.attempts).Msg("enrichment exhausted retries, using defaults")
	def := record.CompanyProfile{}
	c.store(ein, def)
	return def, nil
}

func (c *Client) store(ein string, p record.CompanyProfile) {
	c.mu.Lock()
	c.cache[ein] = p
	c.mu.Unlock()
}

// =============================================================================
// SIMULATED UPSTREAM
// =============================================================================

// FaultSource decides whether the next upstream attempt fails.
type FaultSource interface {
	Fail() bool
}

// RandomFaults fails with a fixed probability. The default source for
// a production-shaped run of the simulator.
type RandomFaults struct {
	Rate float64
	rng  *rand.Rand
}

// NewRandomFaults seeds a fault source with the given failure rate.
func NewRandomFaults(rate float64, seed int64) *RandomFaults {
	return &RandomFaults{Rate: rate, rng: rand.New(rand.NewSource(seed))}
}

func (r *RandomFaults) Fail() bool { return r.rng.Float64() < r.Rate }

// ScriptedFaults replays a fixed fail/succeed sequence, then always
// succeeds. For tests.
type ScriptedFaults struct {
	Script []bool
	next   int
}

func (s *ScriptedFaults) Fail() bool {
	if s.next >= len(s.Script) {
		return false
	}
	v := s.Script[s.next]
	s.next++
	return v
}

// CannedUpstream serves one fixed payload for every EIN, standing in
// for a real enrichment service. Its reliability comes from Faults.
type CannedUpstream struct {
	Payload record.CompanyProfile
	Faults  FaultSource

	// Calls counts Fetch invocations, for cache-property assertions.
	Calls int
}

func (u *CannedUpstream) Fetch(_ context.Context, _ string) (record.CompanyProfile, error) {
	u.Calls++
	if u.Faults != nil && u.Faults.Fail() {
		return record.CompanyProfile{}, ErrUpstreamUnavailable
	}
	return u.Payload, nil
}

// payloadFile is the canned-response file shape (api_mock style).
type payloadFile struct {
	SampleResponse struct {
		Industry  *string `json:"industry"`
		Revenue   *int64  `json:"revenue"`
		Headcount *int64  `json:"headcount"`
	} `json:"sample_response"`
}

// LoadPayload reads the canned enrichment payload file.
func LoadPayload(path string) (record.CompanyProfile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return record.CompanyProfile{}, fmt.Errorf("failed to read enrichment payload: %w", err)
	}
	var f payloadFile
	if err := json.Unmarshal(data, &f); err != nil {
		return record.CompanyProfile{}, fmt.Errorf("failed to parse enrichment payload: %w", err)
	}
	return record.CompanyProfile{
		Industry:  f.SampleResponse.Industry,
		Revenue:   f.SampleResponse.Revenue,
		Headcount: f.SampleResponse.Headcount,
	}, nil
}
