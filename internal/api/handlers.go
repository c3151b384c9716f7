package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/disease-intake-server/internal/domain"
	"github.com/disease-intake-server/internal/encoder"
	"github.com/disease-intake-server/internal/lifecycle"
	"github.com/disease-intake-server/internal/ranking"
	"github.com/disease-intake-server/pkg/predictor"
	"github.com/gin-gonic/gin"
)

var errBadRequest = errors.New("malformed request")

var errStorage = errors.New("history storage failure")

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
	maxBatchPatients    = 100
)

// sessionView is the JSON shape of a session. Chart is present once a
// result is shown.
type sessionView struct {
	ID string `json:"id"`
	lifecycle.Snapshot
	Chart *ranking.Chart `json:"chart,omitempty"`
}

func (s *Server) view(ctrl *lifecycle.Controller) sessionView {
	snap := ctrl.Snapshot()
	v := sessionView{ID: ctrl.ID(), Snapshot: snap}
	if snap.Result != nil {
		chart := ranking.Rank(snap.Result, s.deps.Ranking)
		v.Chart = &chart
	}
	return v
}

func (s *Server) session(c *gin.Context) (*lifecycle.Controller, bool) {
	ctrl, err := s.deps.Sessions.Get(c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return nil, false
	}
	return ctrl, true
}

func (s *Server) handleCreateSession(c *gin.Context) {
	ctrl := s.deps.Sessions.Create()
	c.JSON(http.StatusCreated, s.view(ctrl))
}

func (s *Server) handleGetSession(c *gin.Context) {
	ctrl, ok := s.session(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, s.view(ctrl))
}

func (s *Server) handleDeleteSession(c *gin.Context) {
	if err := s.deps.Sessions.Delete(c.Param("id")); err != nil {
		s.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type demographicBody struct {
	Value string `json:"value" binding:"required"`
}

func (s *Server) handleSetDemographic(c *gin.Context) {
	ctrl, ok := s.session(c)
	if !ok {
		return
	}
	var body demographicBody
	if err := c.ShouldBindJSON(&body); err != nil {
		s.respondError(c, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	if err := ctrl.SetDemographic(c.Param("attribute"), body.Value); err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.view(ctrl))
}

type symptomBody struct {
	Present *bool `json:"present" binding:"required"`
}

func (s *Server) handleSetSymptom(c *gin.Context) {
	ctrl, ok := s.session(c)
	if !ok {
		return
	}
	var body symptomBody
	if err := c.ShouldBindJSON(&body); err != nil {
		s.respondError(c, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	if err := ctrl.SetSymptom(c.Param("symptom"), *body.Present); err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.view(ctrl))
}

func (s *Server) handleToggleSymptom(c *gin.Context) {
	ctrl, ok := s.session(c)
	if !ok {
		return
	}
	if _, err := ctrl.Toggle(c.Param("symptom")); err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.view(ctrl))
}

// handleSubmit starts a prediction. By default it answers 202 with the
// pending session; with ?wait=true it blocks until the service answers.
func (s *Server) handleSubmit(c *gin.Context) {
	ctrl, ok := s.session(c)
	if !ok {
		return
	}

	if wait, _ := strconv.ParseBool(c.Query("wait")); wait {
		if _, err := ctrl.Submit(c.Request.Context()); err != nil {
			s.respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, s.view(ctrl))
		return
	}

	// The request outlives this handler; the outcome is read from the
	// session or the events stream.
	if _, err := ctrl.Start(context.WithoutCancel(c.Request.Context())); err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, s.view(ctrl))
}

func (s *Server) handleReset(c *gin.Context) {
	ctrl, ok := s.session(c)
	if !ok {
		return
	}
	ctrl.Reset()
	c.JSON(http.StatusOK, s.view(ctrl))
}

func (s *Server) handleBack(c *gin.Context) {
	ctrl, ok := s.session(c)
	if !ok {
		return
	}
	if err := ctrl.Back(); err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.view(ctrl))
}

func (s *Server) handleDismiss(c *gin.Context) {
	ctrl, ok := s.session(c)
	if !ok {
		return
	}
	if err := ctrl.Dismiss(); err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.view(ctrl))
}

// handleChart returns the ranked chart, or a text rendering with ?format=text.
func (s *Server) handleChart(c *gin.Context) {
	ctrl, ok := s.session(c)
	if !ok {
		return
	}
	v := s.view(ctrl)
	if v.Chart == nil {
		s.respondError(c, errNoResult)
		return
	}

	if c.Query("format") == "text" {
		c.Header("Content-Type", "text/plain; charset=utf-8")
		c.Status(http.StatusOK)
		if err := ranking.RenderText(c.Writer, *v.Chart, 40); err != nil {
			s.log.WithError(err).Warn("Failed to render chart")
		}
		return
	}
	c.JSON(http.StatusOK, v.Chart)
}

type batchPatient struct {
	Demographics map[string]string `json:"demographics"`
	Symptoms     []string          `json:"symptoms"`
}

type batchBody struct {
	Patients []batchPatient `json:"patients" binding:"required"`
}

type batchPrediction struct {
	predictor.PredictionResult
	Chart ranking.Chart `json:"chart"`
}

// handlePredictBatch validates every patient before sending anything, so one
// bad record fails the whole batch with 422 and no network call.
func (s *Server) handlePredictBatch(c *gin.Context) {
	var body batchBody
	if err := c.ShouldBindJSON(&body); err != nil {
		s.respondError(c, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	if len(body.Patients) == 0 || len(body.Patients) > maxBatchPatients {
		s.respondError(c, domain.ValidationErrors{domain.NewValidationError(
			"patients", fmt.Sprintf("must hold between 1 and %d records", maxBatchPatients), len(body.Patients))})
		return
	}

	tax := s.deps.Schema.Taxonomy()
	reqs := make([]encoder.Request, 0, len(body.Patients))
	var invalid domain.ValidationErrors
	for i, p := range body.Patients {
		record, err := s.deps.Schema.FromSelected(p.Demographics, p.Symptoms)
		if err != nil {
			invalid = append(invalid, prefixed(i, err)...)
			continue
		}
		req, err := encoder.Encode(tax, record)
		if err != nil {
			s.respondError(c, err)
			return
		}
		reqs = append(reqs, req)
	}
	if len(invalid) > 0 {
		s.respondError(c, invalid)
		return
	}

	result, err := s.deps.Predictor.PredictBatch(c.Request.Context(), reqs)
	if err != nil {
		s.respondError(c, err)
		return
	}

	out := make([]batchPrediction, len(result.Predictions))
	for i := range result.Predictions {
		out[i] = batchPrediction{
			PredictionResult: result.Predictions[i],
			Chart:            ranking.Rank(&result.Predictions[i], s.deps.Ranking),
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"predictions":    out,
		"total_patients": result.TotalPatients,
	})
}

func prefixed(index int, err error) domain.ValidationErrors {
	var verrs domain.ValidationErrors
	if !errors.As(err, &verrs) {
		return domain.ValidationErrors{domain.NewValidationError(fmt.Sprintf("patients[%d]", index), err.Error(), nil)}
	}
	out := make(domain.ValidationErrors, len(verrs))
	for i, v := range verrs {
		out[i] = domain.NewValidationError(fmt.Sprintf("patients[%d].%s", index, v.Field), v.Message, v.Value)
	}
	return out
}

func (s *Server) handleListHistory(c *gin.Context) {
	if s.deps.History == nil {
		s.respondError(c, errHistoryDisabled)
		return
	}
	limit := queryInt(c, "limit", defaultHistoryLimit)
	if limit <= 0 || limit > maxHistoryLimit {
		limit = defaultHistoryLimit
	}
	offset := queryInt(c, "offset", 0)
	if offset < 0 {
		offset = 0
	}

	ctx := c.Request.Context()
	entries, err := s.deps.History.List(ctx, limit, offset)
	if err != nil {
		s.respondError(c, fmt.Errorf("%w: listing history: %v", errStorage, err))
		return
	}
	total, err := s.deps.History.Count(ctx)
	if err != nil {
		s.respondError(c, fmt.Errorf("%w: counting history: %v", errStorage, err))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"entries": entries,
		"total":   total,
		"limit":   limit,
		"offset":  offset,
	})
}

func (s *Server) handleExportHistory(c *gin.Context) {
	if s.deps.History == nil {
		s.respondError(c, errHistoryDisabled)
		return
	}
	c.Header("Content-Type", "application/json")
	c.Header("Content-Disposition", `attachment; filename="prediction-history.json"`)
	c.Status(http.StatusOK)
	if err := s.deps.History.ExportJSON(c.Request.Context(), c.Writer); err != nil {
		s.log.WithError(err).Error("History export failed")
	}
}

func queryInt(c *gin.Context, key string, fallback int) int {
	raw := c.Query(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}
