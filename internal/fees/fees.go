package fees

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/decred/slog"

	"stampbuy/internal/logging"
)

const recommendedPath = "/api/v1/fees/recommended"

// Recommended holds fee rates in sat/vB keyed by confirmation target.
type Recommended struct {
	FastestFee  int64 `json:"fastestFee"`
	HalfHourFee int64 `json:"halfHourFee"`
	HourFee     int64 `json:"hourFee"`
	EconomyFee  int64 `json:"economyFee"`
	MinimumFee  int64 `json:"minimumFee"`
}

// Source fetches the current recommendation.
type Source interface {
	Recommended(ctx context.Context) (Recommended, error)
}

// HTTPSource reads a mempool.space compatible fee endpoint.
type HTTPSource struct {
	client  *http.Client
	baseURL string
}

func NewHTTPSource(baseURL string, timeout time.Duration) *HTTPSource {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPSource{
		client:  &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

func (s *HTTPSource) Recommended(ctx context.Context) (Recommended, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+recommendedPath, nil)
	if err != nil {
		return Recommended{}, fmt.Errorf("create request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return Recommended{}, fmt.Errorf("fetch fees: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Recommended{}, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	var rec Recommended
	if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
		return Recommended{}, fmt.Errorf("decode fees: %w", err)
	}
	if rec.FastestFee <= 0 {
		return Recommended{}, fmt.Errorf("invalid fastest fee %d", rec.FastestFee)
	}
	return rec, nil
}

// Poller keeps the latest recommendation from a Source.
type Poller struct {
	src      Source
	interval time.Duration
	log      slog.Logger

	mu      sync.RWMutex
	latest  Recommended
	fetched time.Time
}

func NewPoller(src Source, interval time.Duration, log slog.Logger) *Poller {
	return &Poller{
		src:      src,
		interval: interval,
		log:      logging.OrDisabled(log),
	}
}

// Run refreshes immediately and then on every tick until ctx is done. Fetch
// failures keep the previous value.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.refresh(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.refresh(ctx)
		}
	}
}

func (p *Poller) refresh(ctx context.Context) {
	rec, err := p.src.Recommended(ctx)
	if err != nil {
		if ctx.Err() == nil {
			p.log.Warnf("Fee refresh failed: %v", err)
		}
		return
	}
	p.mu.Lock()
	p.latest = rec
	p.fetched = time.Now()
	p.mu.Unlock()
	p.log.Debugf("Recommended fee is %d sat/vB", rec.FastestFee)
}

// Latest returns the most recent recommendation and when it was fetched.
// ok is false until the first successful fetch.
func (p *Poller) Latest() (rec Recommended, fetched time.Time, ok bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.latest, p.fetched, !p.fetched.IsZero()
}

// RecommendedRate is the rate new purchases default to.
func (p *Poller) RecommendedRate() (int64, bool) {
	rec, _, ok := p.Latest()
	if !ok {
		return 0, false
	}
	return rec.FastestFee, true
}
