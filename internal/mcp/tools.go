package mcp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"

	"github.com/disease-intake-server/internal/domain"
	"github.com/disease-intake-server/internal/encoder"
	"github.com/disease-intake-server/internal/history"
	"github.com/disease-intake-server/internal/intake"
	"github.com/disease-intake-server/internal/ranking"
	"github.com/disease-intake-server/internal/taxonomy"
	"github.com/disease-intake-server/pkg/predictor"
)

const (
	toolListSymptoms      = "list_symptoms"
	toolPredictDisease    = "predict_disease"
	toolModelInfo         = "model_info"
	toolServiceHealth     = "service_health"
	toolRecentPredictions = "recent_predictions"

	// mcpSessionID tags history entries recorded by tool calls.
	mcpSessionID = "mcp"

	chartWidth          = 30
	defaultRecentLimit  = 10
	maxRecentPrediction = 100
)

// ListSymptomsParams defines parameters for list_symptoms tool
type ListSymptomsParams struct {
	Group string `json:"group,omitempty" jsonschema:"optional symptom group id, e.g. respiratory"`
}

// PredictDiseaseParams defines parameters for predict_disease tool
type PredictDiseaseParams struct {
	Demographics map[string]string `json:"demographics,omitempty" jsonschema:"age_band, gender, setting, region and season values"`
	Symptoms     []string          `json:"symptoms,omitempty" jsonschema:"keys of the symptoms that are present"`
}

// PredictDiseaseResult defines the result structure for predict_disease tool
type PredictDiseaseResult struct {
	Prediction *predictor.PredictionResult `json:"prediction"`
	Chart      ranking.Chart               `json:"chart"`
	Selected   []string                    `json:"selected_symptoms"`
	HistoryID  string                      `json:"history_id,omitempty"`
}

// ModelInfoParams defines parameters for model_info tool
type ModelInfoParams struct{}

// ModelInfoResult defines the result structure for model_info tool
type ModelInfoResult struct {
	Model      *predictor.ModelInfo  `json:"model"`
	Categories *predictor.Categories `json:"categories"`
	// Features the model expects that the intake catalog lacks, and the reverse.
	MissingFromCatalog []string `json:"missing_from_catalog,omitempty"`
	UnknownToModel     []string `json:"unknown_to_model,omitempty"`
}

// ServiceHealthParams defines parameters for service_health tool
type ServiceHealthParams struct{}

// RecentPredictionsParams defines parameters for recent_predictions tool
type RecentPredictionsParams struct {
	Limit int `json:"limit,omitempty" jsonschema:"number of entries, default 10"`
}

// breakerReporter is implemented by predictor.ResilientClient.
type breakerReporter interface {
	GetCircuitBreakerStates() map[string]string
}

func (s *Server) handleListSymptoms(ctx context.Context, req *mcp.CallToolRequest, params ListSymptomsParams) (*mcp.CallToolResult, any, error) {
	s.logger.WithField("tool", toolListSymptoms).Debug("Tool invoked")

	def := s.schema.Describe()
	if params.Group != "" {
		var groups []taxonomy.Group
		for _, g := range def.Groups {
			if string(g.ID) == params.Group {
				groups = append(groups, g)
			}
		}
		if len(groups) == 0 {
			return s.createErrorResult("Unknown symptom group", fmt.Errorf("%q is not a group", params.Group)), nil, nil
		}
		def.Groups = groups
	}

	var b strings.Builder
	b.WriteString("Demographics (all required):\n")
	for _, a := range def.Attributes {
		fmt.Fprintf(&b, "  %s: %s (default %s)\n", a.Key, strings.Join(a.Values(), " | "), a.Default)
	}
	b.WriteString("Symptoms (list the present ones):\n")
	for _, g := range def.Groups {
		keys := make([]string, len(g.Fields))
		for i, f := range g.Fields {
			keys[i] = f.Key
		}
		fmt.Fprintf(&b, "  %s (%d): %s\n", g.Title, len(g.Fields), strings.Join(keys, ", "))
	}

	return textResult(b.String()), def, nil
}

func (s *Server) handlePredictDisease(ctx context.Context, req *mcp.CallToolRequest, params PredictDiseaseParams) (*mcp.CallToolResult, any, error) {
	log := s.logger.WithField("tool", toolPredictDisease)

	record, err := s.schema.FromSelected(params.Demographics, params.Symptoms)
	if err != nil {
		log.WithError(err).Debug("Rejected invalid intake")
		return s.createErrorResult("Invalid intake", err), validationDetail(err), nil
	}
	wire, err := encoder.Encode(s.schema.Taxonomy(), record)
	if err != nil {
		log.WithError(err).Error("Validated record failed to encode")
		return s.createErrorResult("Intake could not be encoded", err), nil, nil
	}

	result, err := s.svc.Predict(ctx, wire)
	if err != nil {
		log.WithError(err).Warn("Prediction request failed")
		return s.createErrorResult("Prediction service request failed", err), nil, nil
	}

	out := PredictDiseaseResult{
		Prediction: result,
		Chart:      ranking.Rank(result, s.ranking),
		Selected:   selected(record, s.schema.Taxonomy()),
	}
	out.HistoryID = s.record(ctx, wire, result)

	log.WithFields(logrus.Fields{
		"predicted":      result.PredictedDisease,
		"selected_count": len(out.Selected),
	}).Info("Prediction completed")

	var text bytes.Buffer
	if err := ranking.RenderText(&text, out.Chart, chartWidth); err != nil {
		return nil, nil, fmt.Errorf("rendering chart: %w", err)
	}
	return textResult(text.String()), out, nil
}

// record saves a succeeded prediction; a storage failure never fails the tool.
func (s *Server) record(ctx context.Context, wire encoder.Request, result *predictor.PredictionResult) string {
	if s.history == nil {
		return ""
	}
	entry, err := history.NewEntry(mcpSessionID, wire, result)
	if err == nil {
		err = s.history.Save(ctx, entry)
	}
	if err != nil {
		s.logger.WithError(err).Warn("Failed to save prediction history")
		return ""
	}
	return entry.ID
}

func (s *Server) handleModelInfo(ctx context.Context, req *mcp.CallToolRequest, params ModelInfoParams) (*mcp.CallToolResult, any, error) {
	s.logger.WithField("tool", toolModelInfo).Debug("Tool invoked")

	info, err := s.svc.ModelInfo(ctx)
	if err != nil {
		return s.createErrorResult("Model info unavailable", err), nil, nil
	}
	cats, err := s.svc.Categories(ctx)
	if err != nil {
		return s.createErrorResult("Disease categories unavailable", err), nil, nil
	}

	out := ModelInfoResult{Model: info, Categories: cats}
	out.MissingFromCatalog, out.UnknownToModel = featureDrift(s.schema.Taxonomy(), info.Features)

	var b strings.Builder
	fmt.Fprintf(&b, "%s (accuracy %s): %s\n", info.ModelType, info.Accuracy, info.Description)
	fmt.Fprintf(&b, "Categories (%d): %s\n", cats.TotalDiseases, strings.Join(cats.Diseases, ", "))
	fmt.Fprintf(&b, "Features: %d\n", len(info.Features))
	if len(out.MissingFromCatalog) > 0 || len(out.UnknownToModel) > 0 {
		fmt.Fprintf(&b, "Catalog drift: model-only %v, catalog-only %v\n", out.MissingFromCatalog, out.UnknownToModel)
	}
	return textResult(b.String()), out, nil
}

func (s *Server) handleServiceHealth(ctx context.Context, req *mcp.CallToolRequest, params ServiceHealthParams) (*mcp.CallToolResult, any, error) {
	s.logger.WithField("tool", toolServiceHealth).Debug("Tool invoked")

	out := map[string]any{}
	if br, ok := s.svc.(breakerReporter); ok {
		out["circuit_breakers"] = br.GetCircuitBreakerStates()
	}

	status, err := s.svc.Health(ctx)
	if err != nil {
		out["status"] = "unreachable"
		out["error"] = err.Error()
		return s.createErrorResult("Prediction service is unreachable", err), out, nil
	}
	out["status"] = status.Status
	out["service"] = status

	text := fmt.Sprintf("Prediction service %s, model loaded: %t, version %s", status.Status, status.ModelLoaded, status.Version)
	return textResult(text), out, nil
}

func (s *Server) handleRecentPredictions(ctx context.Context, req *mcp.CallToolRequest, params RecentPredictionsParams) (*mcp.CallToolResult, any, error) {
	limit := params.Limit
	if limit <= 0 || limit > maxRecentPrediction {
		limit = defaultRecentLimit
	}
	entries, err := s.history.List(ctx, limit, 0)
	if err != nil {
		return s.createErrorResult("History unavailable", err), nil, nil
	}
	if entries == nil {
		entries = []*history.Entry{}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d recent predictions\n", len(entries))
	for _, e := range entries {
		fmt.Fprintf(&b, "  %s  %s  %s\n", e.CreatedAt.Format("2006-01-02 15:04"), ranking.Label(e.PredictedDisease), ranking.PercentText(e.Confidence))
	}
	return textResult(b.String()), map[string]any{"entries": entries}, nil
}

func selected(r intake.Record, tax *taxonomy.Taxonomy) []string {
	out := []string{}
	for _, key := range tax.FieldKeys() {
		if r.Symptoms[key] {
			out = append(out, key)
		}
	}
	return out
}

func validationDetail(err error) any {
	var verrs domain.ValidationErrors
	if errors.As(err, &verrs) {
		return map[string]any{"fields": verrs.ByField()}
	}
	return nil
}

// featureDrift compares the model's feature list against the wire keys of
// the catalog. Both results are nil when the model reports no features.
func featureDrift(tax *taxonomy.Taxonomy, features []string) (modelOnly, catalogOnly []string) {
	if len(features) == 0 {
		return nil, nil
	}
	catalog := map[string]bool{}
	for _, a := range tax.Attributes() {
		catalog[a.Key] = true
	}
	for _, k := range tax.FieldKeys() {
		catalog[k] = true
	}
	model := make(map[string]bool, len(features))
	for _, f := range features {
		model[f] = true
		if !catalog[f] {
			modelOnly = append(modelOnly, f)
		}
	}
	for _, a := range tax.Attributes() {
		if !model[a.Key] {
			catalogOnly = append(catalogOnly, a.Key)
		}
	}
	for _, k := range tax.FieldKeys() {
		if !model[k] {
			catalogOnly = append(catalogOnly, k)
		}
	}
	return modelOnly, catalogOnly
}
