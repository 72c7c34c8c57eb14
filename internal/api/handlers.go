package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"hypogate/domain/core"
	"hypogate/domain/gate"
	"hypogate/domain/hypothesis"
	"hypogate/domain/outcome"
	apperrors "hypogate/internal/errors"
	gatesvc "hypogate/internal/gate"
)

type errorBody struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	appErr := apperrors.FromDomain(err)
	status := apperrors.HTTPStatus(appErr.Code)
	if status >= http.StatusInternalServerError {
		s.logger.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	}
	writeJSON(w, status, errorBody{Code: appErr.Code, Error: err.Error()})
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return apperrors.InvalidInput(fmt.Sprintf("invalid request body: %v", err))
	}
	return nil
}

func hypothesisID(r *http.Request) (core.HypothesisID, error) {
	id, err := core.ParseHypothesisID(chi.URLParam(r, "id"))
	if err != nil {
		return "", apperrors.InvalidInput(err.Error())
	}
	return id, nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		if err := s.health(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type cohortRequest struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	AssetClass  string `json:"asset_class"`
	Regime      string `json:"regime"`
	PriorTrials int    `json:"prior_trials"`
}

func (s *Server) handleRegisterCohort(w http.ResponseWriter, r *http.Request) {
	var req cohortRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	c, err := s.registry.RegisterCohort(r.Context(), hypothesis.Cohort{
		ID:          core.CohortID(req.ID),
		Name:        req.Name,
		AssetClass:  req.AssetClass,
		Regime:      req.Regime,
		PriorTrials: req.PriorTrials,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

type hypothesisRequest struct {
	ID               string                      `json:"id"`
	CohortID         string                      `json:"cohort_id"`
	Name             string                      `json:"name"`
	AssetClassFilter string                      `json:"asset_class_filter"`
	RegimeFilter     string                      `json:"regime_filter"`
	TriggerCondition string                      `json:"trigger_condition"`
	Direction        string                      `json:"direction"`
	EvaluationWindow string                      `json:"evaluation_window"`
	MinimumSample    int                         `json:"minimum_sample"`
	SuccessCriterion hypothesis.SuccessCriterion `json:"success_criterion"`
	AssetUniverse    []string                    `json:"asset_universe"`
	Status           string                      `json:"status"`
	ActivatedAt      time.Time                   `json:"activated_at"`
}

func (s *Server) handleRegisterHypothesis(w http.ResponseWriter, r *http.Request) {
	var req hypothesisRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	window, err := time.ParseDuration(req.EvaluationWindow)
	if err != nil {
		s.writeError(w, r, apperrors.InvalidInput(fmt.Sprintf("evaluation_window: %v", err)))
		return
	}
	h, err := s.registry.RegisterHypothesis(r.Context(), hypothesis.Hypothesis{
		ID:               core.HypothesisID(req.ID),
		CohortID:         core.CohortID(req.CohortID),
		Name:             req.Name,
		AssetClassFilter: req.AssetClassFilter,
		RegimeFilter:     req.RegimeFilter,
		TriggerCondition: req.TriggerCondition,
		Direction:        hypothesis.Direction(req.Direction),
		EvaluationWindow: window,
		MinimumSample:    req.MinimumSample,
		SuccessCriterion: req.SuccessCriterion,
		AssetUniverse:    req.AssetUniverse,
		Status:           hypothesis.Status(req.Status),
		ActivatedAt:      req.ActivatedAt.UTC(),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, h)
}

type outcomeRequest struct {
	TriggerAt      time.Time       `json:"trigger_at"`
	EntryPrice     decimal.Decimal `json:"entry_price"`
	MFEPrice       decimal.Decimal `json:"mfe_price"`
	MAEPrice       decimal.Decimal `json:"mae_price"`
	WindowEndPrice decimal.Decimal `json:"window_end_price"`
}

func (s *Server) handleRecordOutcome(w http.ResponseWriter, r *http.Request) {
	id, err := hypothesisID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req outcomeRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	outcomeID, err := s.ledger.RecordOutcome(r.Context(), outcome.Input{
		HypothesisID:   id,
		TriggerAt:      req.TriggerAt,
		EntryPrice:     req.EntryPrice,
		MFEPrice:       req.MFEPrice,
		MAEPrice:       req.MAEPrice,
		WindowEndPrice: req.WindowEndPrice,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": outcomeID.String()})
}

// parseRange reads optional recorded_from / recorded_to RFC3339 query parameters
func parseRange(r *http.Request) (from, to time.Time, err error) {
	q := r.URL.Query()
	if v := q.Get("recorded_from"); v != "" {
		if from, err = time.Parse(time.RFC3339Nano, v); err != nil {
			return from, to, apperrors.InvalidInput("recorded_from must be RFC3339")
		}
	}
	if v := q.Get("recorded_to"); v != "" {
		if to, err = time.Parse(time.RFC3339Nano, v); err != nil {
			return from, to, apperrors.InvalidInput("recorded_to must be RFC3339")
		}
	}
	return from, to, nil
}

func (s *Server) handleListOutcomes(w http.ResponseWriter, r *http.Request) {
	id, err := hypothesisID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	from, to, err := parseRange(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	outcomes, err := s.ledger.ListOutcomesRecordedBetween(r.Context(), id, from, to)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"hypothesis_id": id, "count": len(outcomes), "outcomes": outcomes})
}

func (s *Server) handleListAudits(w http.ResponseWriter, r *http.Request) {
	id, err := hypothesisID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if _, err := s.registry.Get(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	audits, err := s.store.ListAudits(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"hypothesis_id": id, "audits": audits})
}

type eligibilityResponse struct {
	HypothesisID core.HypothesisID       `json:"hypothesis_id"`
	IsEligible   bool                    `json:"is_eligible"`
	Latest       *gate.EligibilityEntry  `json:"latest"`
	Versions     []gate.EligibilityEntry `json:"versions"`
}

func (s *Server) handleEligibility(w http.ResponseWriter, r *http.Request) {
	id, err := hypothesisID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if _, err := s.registry.Get(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	latest, err := s.store.LatestEligibility(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	versions, err := s.store.ListEligibilityVersions(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, eligibilityResponse{
		HypothesisID: id,
		IsEligible:   latest.IsEligible(),
		Latest:       latest,
		Versions:     versions,
	})
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	id, err := hypothesisID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	st, err := s.gate.State(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

type evaluateResponse struct {
	gatesvc.EvaluationResult
	Code  string `json:"code,omitempty"`
	Error string `json:"error,omitempty"`
}

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	id, err := hypothesisID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.gate.Evaluate(r.Context(), id)
	if err == nil {
		writeJSON(w, http.StatusOK, res)
		return
	}
	appErr := apperrors.FromDomain(err)
	if appErr.Code == apperrors.CodeDeferred || errors.Is(err, core.ErrMissingAssetUniverse) {
		// The evaluation left a durable state; report it alongside the reason.
		writeJSON(w, apperrors.HTTPStatus(appErr.Code), evaluateResponse{Code: appErr.Code, Error: err.Error(), EvaluationResult: res})
		return
	}
	s.writeError(w, r, err)
}
