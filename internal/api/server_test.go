package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hypogate/adapters/memory"
	"hypogate/domain/core"
	"hypogate/domain/gate"
	"hypogate/domain/hypothesis"
	"hypogate/domain/outcome"
	gatesvc "hypogate/internal/gate"
	"hypogate/internal/ledger"
	"hypogate/internal/locks"
	"hypogate/internal/metrics"
	"hypogate/internal/registry"
)

var activated = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

type stubStats struct {
	st  gate.Statistics
	err error
}

func (s stubStats) Compute(ctx context.Context, h hypothesis.Hypothesis, outcomes []outcome.Outcome) (gate.Statistics, error) {
	return s.st, s.err
}

type harness struct {
	server  *httptest.Server
	metrics *metrics.Registry
}

func newHarness(t *testing.T, stats gatesvc.StatisticsProvider, cfg Config) *harness {
	t.Helper()
	store := memory.NewStore()
	clock := core.NewFixedClock(activated.Add(60 * 24 * time.Hour))
	m := metrics.NewRegistry()
	logger := zerolog.Nop()

	g, err := gatesvc.New(gatesvc.Deps{
		Registry:   store,
		Ledger:     store,
		Store:      store,
		Locker:     locks.NewKeyedMutex(),
		Statistics: stats,
		Clock:      clock,
		Metrics:    m,
		Logger:     logger,
	}, gatesvc.Config{Thresholds: gate.DefaultThresholds()})
	require.NoError(t, err)

	srv := NewServer(Deps{
		Registry: registry.NewService(store, clock, logger),
		Ledger:   ledger.NewService(store, store, clock, m, logger),
		Gate:     g,
		Store:    store,
		Metrics:  m,
		Logger:   logger,
	}, cfg)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &harness{server: ts, metrics: m}
}

func (h *harness) do(t *testing.T, method, path string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, h.server.URL+path, &buf)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	}
	return resp, out
}

func (h *harness) register(t *testing.T, universe []string) {
	t.Helper()
	resp, _ := h.do(t, http.MethodPost, "/api/cohorts", map[string]any{"id": "c1", "name": "crypto perps", "prior_trials": 4})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp, body := h.do(t, http.MethodPost, "/api/hypotheses", map[string]any{
		"id":                "h1",
		"cohort_id":         "c1",
		"name":              "funding squeeze",
		"direction":         "LONG",
		"evaluation_window": "4h",
		"minimum_sample":    30,
		"success_criterion": map[string]any{"kind": "WINDOW_RETURN"},
		"asset_universe":    universe,
		"status":            "CANDIDATE",
		"activated_at":      activated,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, body)
}

func outcomeBody(i int, win bool) map[string]any {
	end := "98"
	if win {
		end = "102"
	}
	return map[string]any{
		"trigger_at":       activated.Add(time.Duration(i) * 3 * time.Hour),
		"entry_price":      "100",
		"mfe_price":        "105",
		"mae_price":        "95",
		"window_end_price": end,
	}
}

func (h *harness) seed(t *testing.T, n, wins int) {
	t.Helper()
	for i := 0; i < n; i++ {
		resp, body := h.do(t, http.MethodPost, "/api/hypotheses/h1/outcomes", outcomeBody(i, i < wins))
		require.Equal(t, http.StatusCreated, resp.StatusCode, body)
	}
}

var generous = Config{IntakeRateLimit: 10000, IntakeBurst: 10000}

func passingStats() stubStats {
	return stubStats{st: gate.Statistics{DeflatedSharpe: 0.9, PBO: 0.2, FamilyRisk: 0.05, TrialCount: 5}}
}

func TestEvaluatePassFlow(t *testing.T) {
	h := newHarness(t, passingStats(), generous)
	h.register(t, []string{"BTC", "ETH"})
	h.seed(t, 30, 20)

	resp, body := h.do(t, http.MethodGet, "/api/hypotheses/h1/outcomes", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 30, body["count"])

	resp, body = h.do(t, http.MethodPost, "/api/hypotheses/h1/evaluate", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.Equal(t, string(gate.StatePassed), body["state"])

	resp, body = h.do(t, http.MethodGet, "/api/hypotheses/h1/eligibility", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, body["is_eligible"])
	latest := body["latest"].(map[string]any)
	assert.Equal(t, string(gate.ModeShadow), latest["mode"])
	assert.EqualValues(t, 1, latest["version"])
	for _, blocked := range latest["gates"].(map[string]any) {
		assert.Equal(t, true, blocked)
	}

	resp, body = h.do(t, http.MethodGet, "/api/hypotheses/h1/audits", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["audits"], 1)

	resp, body = h.do(t, http.MethodPost, "/api/hypotheses/h1/evaluate", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "CONFLICT", body["code"])
}

func TestEvaluateBelowSample(t *testing.T) {
	h := newHarness(t, passingStats(), generous)
	h.register(t, []string{"BTC"})
	h.seed(t, 10, 10)

	resp, body := h.do(t, http.MethodPost, "/api/hypotheses/h1/evaluate", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, string(gate.StatePendingSample), body["state"])

	resp, _ = h.do(t, http.MethodGet, "/api/hypotheses/h1/eligibility", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestEvaluateDeferredReturnsAccepted(t *testing.T) {
	h := newHarness(t, stubStats{err: fmt.Errorf("deflated sharpe: %w", core.ErrInsufficientTrials)}, generous)
	h.register(t, []string{"BTC"})
	h.seed(t, 30, 20)

	resp, body := h.do(t, http.MethodPost, "/api/hypotheses/h1/evaluate", nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "DEFERRED", body["code"])
	assert.Equal(t, string(gate.StateEvaluating), body["state"])
}

func TestRecordOutcomeErrors(t *testing.T) {
	h := newHarness(t, passingStats(), generous)
	h.register(t, []string{"BTC"})
	h.seed(t, 1, 1)

	resp, body := h.do(t, http.MethodPost, "/api/hypotheses/h1/outcomes", outcomeBody(0, true))
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "DUPLICATE", body["code"])

	early := outcomeBody(0, true)
	early["trigger_at"] = activated.Add(-time.Hour)
	resp, _ = h.do(t, http.MethodPost, "/api/hypotheses/h1/outcomes", early)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	resp, _ = h.do(t, http.MethodPost, "/api/hypotheses/missing/outcomes", outcomeBody(1, true))
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body = h.do(t, http.MethodPost, "/api/hypotheses/h1/outcomes", map[string]any{"bogus": 1})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "INVALID_INPUT", body["code"])
}

func TestRegisterHypothesisTwiceConflicts(t *testing.T) {
	h := newHarness(t, passingStats(), generous)
	h.register(t, []string{"BTC"})
	h.seed(t, 1, 1)

	resp, body := h.do(t, http.MethodPost, "/api/hypotheses", map[string]any{
		"id":                "h1",
		"cohort_id":         "c1",
		"name":              "funding squeeze v2",
		"direction":         "SHORT",
		"evaluation_window": "1h",
		"minimum_sample":    2,
		"success_criterion": map[string]any{"kind": "WINDOW_RETURN"},
		"asset_universe":    []string{"ETH"},
		"status":            "CANDIDATE",
		"activated_at":      activated.Add(30 * 24 * time.Hour),
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "DUPLICATE", body["code"])

	resp, _ = h.do(t, http.MethodPost, "/api/hypotheses/h1/outcomes", outcomeBody(1, true))
	assert.Equal(t, http.StatusCreated, resp.StatusCode, "original activation still applies")
}

func TestStateOfUnknownHypothesis(t *testing.T) {
	h := newHarness(t, passingStats(), generous)
	resp, body := h.do(t, http.MethodGet, "/api/hypotheses/nope/state", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "NOT_FOUND", body["code"])
}

func TestIntakeRateLimited(t *testing.T) {
	h := newHarness(t, passingStats(), Config{IntakeRateLimit: 0.001, IntakeBurst: 1})
	h.register(t, []string{"BTC"})

	resp, _ := h.do(t, http.MethodPost, "/api/hypotheses/h1/outcomes", outcomeBody(0, true))
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	resp, body := h.do(t, http.MethodPost, "/api/hypotheses/h1/outcomes", outcomeBody(1, true))
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "RATE_LIMITED", body["code"])

	resp, _ = h.do(t, http.MethodGet, "/api/hypotheses/h1/outcomes", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHealthAndMetrics(t *testing.T) {
	h := newHarness(t, passingStats(), generous)
	h.register(t, []string{"BTC"})
	h.seed(t, 2, 1)

	resp, body := h.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])

	resp, err := http.Get(h.server.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "hypogate_outcomes_recorded_total 2")
}
