package fees

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPSourceRecommended(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/fees/recommended", r.URL.Path)
		_, _ = w.Write([]byte(`{"fastestFee":21,"halfHourFee":15,"hourFee":9,"economyFee":4,"minimumFee":1}`))
	}))
	defer srv.Close()

	rec, err := NewHTTPSource(srv.URL, time.Second).Recommended(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Recommended{FastestFee: 21, HalfHourFee: 15, HourFee: 9, EconomyFee: 4, MinimumFee: 1}, rec)
}

func TestHTTPSourceErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewHTTPSource(srv.URL, time.Second).Recommended(context.Background())
	require.Error(t, err)
}

type stubSource struct {
	mu    sync.Mutex
	calls int
	recs  []Recommended
	errs  []error
}

func (s *stubSource) Recommended(context.Context) (Recommended, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.calls
	s.calls++
	if idx < len(s.errs) && s.errs[idx] != nil {
		return Recommended{}, s.errs[idx]
	}
	if idx < len(s.recs) {
		return s.recs[idx], nil
	}
	return s.recs[len(s.recs)-1], nil
}

func (s *stubSource) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func TestPollerKeepsLastGoodValue(t *testing.T) {
	src := &stubSource{
		recs: []Recommended{{FastestFee: 30}, {}, {FastestFee: 12}},
		errs: []error{nil, errors.New("mempool down")},
	}
	p := NewPoller(src, time.Hour, nil)

	_, ok := p.RecommendedRate()
	require.False(t, ok)

	ctx := context.Background()
	p.refresh(ctx)
	rate, ok := p.RecommendedRate()
	require.True(t, ok)
	require.Equal(t, int64(30), rate)

	p.refresh(ctx)
	rate, _ = p.RecommendedRate()
	require.Equal(t, int64(30), rate)

	p.refresh(ctx)
	rate, _ = p.RecommendedRate()
	require.Equal(t, int64(12), rate)
}

func TestPollerRunStopsOnCancel(t *testing.T) {
	src := &stubSource{recs: []Recommended{{FastestFee: 8}}}
	p := NewPoller(src, 5*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	require.Eventually(t, func() bool { return src.callCount() >= 2 }, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("poller did not stop")
	}

	rate, ok := p.RecommendedRate()
	require.True(t, ok)
	require.Equal(t, int64(8), rate)
}
