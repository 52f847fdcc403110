package ingest_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/billingsync/pkg/billingevent"
	"github.com/dmitrymomot/billingsync/pkg/clock"
	"github.com/dmitrymomot/billingsync/pkg/ingest"
	"github.com/dmitrymomot/billingsync/pkg/ledger"
	"github.com/dmitrymomot/billingsync/pkg/lifecycle"
	"github.com/dmitrymomot/billingsync/pkg/logger"
	"github.com/dmitrymomot/billingsync/pkg/metrics"
	"github.com/dmitrymomot/billingsync/pkg/plan"
	"github.com/dmitrymomot/billingsync/pkg/subscription"
	"github.com/dmitrymomot/billingsync/pkg/sweeper"
)

const secret = "whsec_test"

var t0 = time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC)

// flakyStore fails every upsert while down is set.
type flakyStore struct {
	*subscription.MemoryStore
	down atomic.Bool
}

func (f *flakyStore) Upsert(ctx context.Context, rec *subscription.Record) error {
	if f.down.Load() {
		return errors.New("connection refused")
	}
	return f.MemoryStore.Upsert(ctx, rec)
}

// brokenLedgerStore cannot insert.
type brokenLedgerStore struct {
	*ledger.MemoryStore
}

func (brokenLedgerStore) Insert(context.Context, ledger.Record) error {
	return errors.New("too many connections")
}

type secretFunc func(ctx context.Context) (string, error)

func (f secretFunc) Secret(ctx context.Context) (string, error) { return f(ctx) }

type pipeline struct {
	subs    *flakyStore
	ledger  *ledger.Ledger
	clock   *clock.Manual
	metrics *metrics.Metrics
	router  chi.Router
	applier *lifecycle.Dispatcher
}

type pipelineOpts struct {
	secrets     billingevent.SecretSource
	ledgerStore ledger.Store
	cfg         ingest.Config
}

func newPipeline(t *testing.T, o pipelineOpts) *pipeline {
	t.Helper()
	if o.secrets == nil {
		o.secrets = billingevent.StaticSecret(secret)
	}
	if o.ledgerStore == nil {
		o.ledgerStore = ledger.NewMemoryStore()
	}

	clk := clock.NewManual(t0)
	p := &pipeline{
		subs:    &flakyStore{MemoryStore: subscription.NewMemoryStore()},
		clock:   clk,
		metrics: metrics.New(prometheus.NewRegistry()),
		router:  chi.NewRouter(),
	}
	p.ledger = ledger.New(o.ledgerStore, ledger.WithClock(clk), ledger.WithLogger(logger.Noop()))
	p.applier = lifecycle.New(p.subs, plan.NewResolver(plan.DefaultCatalog()),
		lifecycle.WithClock(clk),
		lifecycle.WithLogger(logger.Noop()),
	)

	proc := ingest.NewProcessor(billingevent.NewParser(o.secrets), p.ledger, p.applier,
		ingest.WithConfig(o.cfg),
		ingest.WithObserver(p.metrics),
		ingest.WithLogger(logger.Noop()),
	)
	proc.Register(p.router)
	return p
}

func delivery(id, typ, userID, productID string, at time.Time) []byte {
	return []byte(fmt.Sprintf(`{"api_version":"1.0","event":{"id":%q,"type":%q,"app_user_id":%q,"product_id":%q,"event_timestamp_ms":%d,"period_type":"NORMAL","store":"APP_STORE"}}`,
		id, typ, userID, productID, at.UnixMilli()))
}

type reply struct {
	Code    int
	Status  string `json:"status"`
	EventID string `json:"event_id"`
	Error   string `json:"error"`
}

func (p *pipeline) post(t *testing.T, body []byte, token string) reply {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/billing", bytes.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	p.router.ServeHTTP(rec, req)

	var r reply
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &r))
	r.Code = rec.Code
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	return r
}

func TestHandler_Processed(t *testing.T) {
	t.Parallel()

	p := newPipeline(t, pipelineOpts{})
	r := p.post(t, delivery("evt_1", "INITIAL_PURCHASE", "u1", "premium_monthly", t0), secret)

	assert.Equal(t, http.StatusOK, r.Code)
	assert.Equal(t, "processed", r.Status)
	assert.Equal(t, "evt_1", r.EventID)

	rec, err := p.ledger.Get(context.Background(), "evt_1")
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusCompleted, rec.Status)
	assert.Equal(t, "initial_purchase", rec.EventType)

	sub, err := p.subs.Get(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, plan.TierPremium, sub.Plan)
	assert.Equal(t, subscription.StatusActive, sub.Status)
	assert.True(t, sub.AutoRenew)

	assert.Equal(t, float64(1), testutil.ToFloat64(p.metrics.Deliveries.WithLabelValues("initial_purchase", "processed")))
}

func TestHandler_ReplayIsIdempotent(t *testing.T) {
	t.Parallel()

	p := newPipeline(t, pipelineOpts{})
	body := delivery("evt_1", "renewal", "u1", "pro_monthly", t0)

	first := p.post(t, body, secret)
	require.Equal(t, "processed", first.Status)
	once, err := p.subs.Get(context.Background(), "u1")
	require.NoError(t, err)

	p.clock.Advance(time.Minute)
	second := p.post(t, body, secret)
	assert.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, "duplicate", second.Status)

	twice, err := p.subs.Get(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, once, twice)
}

func TestHandler_DerivedIDDeduplicates(t *testing.T) {
	t.Parallel()

	p := newPipeline(t, pipelineOpts{})
	body := []byte(fmt.Sprintf(`{"event":{"type":"cancellation","app_user_id":"u1","event_timestamp_ms":%d}}`, t0.UnixMilli()))

	first := p.post(t, body, secret)
	second := p.post(t, body, secret)
	assert.Equal(t, "processed", first.Status)
	assert.Equal(t, "duplicate", second.Status)
	assert.Equal(t, first.EventID, second.EventID)
	assert.True(t, strings.HasPrefix(first.EventID, "derived_"))
}

func TestHandler_ConcurrentDeliveries(t *testing.T) {
	t.Parallel()

	p := newPipeline(t, pipelineOpts{})
	body := delivery("evt_1", "initial_purchase", "u1", "premium_monthly", t0)

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		counts = map[string]int{}
	)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req := httptest.NewRequest(http.MethodPost, "/webhooks/billing", bytes.NewReader(body))
			req.Header.Set("Authorization", "Bearer "+secret)
			rec := httptest.NewRecorder()
			p.router.ServeHTTP(rec, req)

			var r reply
			if assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &r)) {
				mu.Lock()
				counts[r.Status]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, counts["processed"])
	assert.Equal(t, 7, counts["duplicate"])
}

func TestHandler_TransitionFailureIsAcknowledged(t *testing.T) {
	t.Parallel()

	p := newPipeline(t, pipelineOpts{})
	p.subs.down.Store(true)

	r := p.post(t, delivery("evt_1", "initial_purchase", "u1", "premium_monthly", t0), secret)
	assert.Equal(t, http.StatusOK, r.Code)
	assert.Equal(t, "failed", r.Status)
	assert.Contains(t, r.Error, "connection refused")

	rec, err := p.ledger.Get(context.Background(), "evt_1")
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusFailed, rec.Status)
	assert.Equal(t, 1, rec.RetryCount)

	// redelivery is a duplicate; recovery belongs to the sweeper
	again := p.post(t, delivery("evt_1", "initial_purchase", "u1", "premium_monthly", t0), secret)
	assert.Equal(t, "duplicate", again.Status)

	p.subs.down.Store(false)
	p.clock.Advance(2 * time.Minute)
	s := sweeper.New(p.ledger, p.applier, sweeper.DefaultConfig(), sweeper.WithLogger(logger.Noop()))
	rep, err := s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Completed)

	rec, err = p.ledger.Get(context.Background(), "evt_1")
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusCompleted, rec.Status)

	sub, err := p.subs.Get(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, plan.TierPremium, sub.Plan)
}

func TestHandler_UnknownTypeIgnored(t *testing.T) {
	t.Parallel()

	p := newPipeline(t, pipelineOpts{})
	r := p.post(t, delivery("evt_1", "REFUND_REVERSED", "u1", "", t0), secret)
	assert.Equal(t, http.StatusOK, r.Code)
	assert.Equal(t, "ignored", r.Status)

	rec, err := p.ledger.Get(context.Background(), "evt_1")
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusCompleted, rec.Status)
	assert.Equal(t, "refund_reversed", rec.EventType)
}

func TestHandler_Rejections(t *testing.T) {
	t.Parallel()

	valid := delivery("evt_1", "renewal", "u1", "premium_monthly", t0)

	tests := []struct {
		name  string
		opts  pipelineOpts
		body  []byte
		token string
		code  int
	}{
		{name: "missing token", body: valid, code: http.StatusUnauthorized},
		{name: "wrong token", body: valid, token: "nope", code: http.StatusUnauthorized},
		{name: "malformed json", body: []byte(`{"event":`), token: secret, code: http.StatusBadRequest},
		{name: "missing type", body: []byte(`{"event":{"id":"e","app_user_id":"u1"}}`), token: secret, code: http.StatusBadRequest},
		{name: "missing subject", body: []byte(`{"event":{"id":"e","type":"renewal"}}`), token: secret, code: http.StatusBadRequest},
		{
			name:  "body too large",
			opts:  pipelineOpts{cfg: ingest.Config{MaxBodyBytes: 64}},
			body:  valid,
			token: secret,
			code:  http.StatusRequestEntityTooLarge,
		},
		{
			name: "secret unavailable",
			opts: pipelineOpts{secrets: secretFunc(func(context.Context) (string, error) {
				return "", errors.New("redis timeout")
			})},
			body:  valid,
			token: secret,
			code:  http.StatusServiceUnavailable,
		},
		{
			name:  "claim storage error",
			opts:  pipelineOpts{ledgerStore: brokenLedgerStore{ledger.NewMemoryStore()}},
			body:  valid,
			token: secret,
			code:  http.StatusServiceUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p := newPipeline(t, tt.opts)
			r := p.post(t, tt.body, tt.token)
			assert.Equal(t, tt.code, r.Code)
			assert.NotEmpty(t, r.Error)
			assert.Empty(t, r.Status)

			_, err := p.subs.Get(context.Background(), "u1")
			assert.ErrorIs(t, err, subscription.ErrNotFound)
		})
	}
}

func TestHandler_EmptySecretDisablesAuth(t *testing.T) {
	t.Parallel()

	p := newPipeline(t, pipelineOpts{secrets: billingevent.StaticSecret("")})
	r := p.post(t, delivery("evt_1", "renewal", "u1", "premium_monthly", t0), "")
	assert.Equal(t, http.StatusOK, r.Code)
	assert.Equal(t, "processed", r.Status)
}
