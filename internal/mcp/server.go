// Package mcp exposes disease prediction as MCP tools.
package mcp

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"

	"github.com/disease-intake-server/internal/encoder"
	"github.com/disease-intake-server/internal/history"
	"github.com/disease-intake-server/internal/intake"
	"github.com/disease-intake-server/internal/ranking"
	"github.com/disease-intake-server/pkg/predictor"
)

const (
	serverName    = "disease-intake-server"
	serverVersion = "v0.1.0"
)

// Service is the prediction surface the tools call.
type Service interface {
	Predict(ctx context.Context, req encoder.Request) (*predictor.PredictionResult, error)
	Health(ctx context.Context) (*predictor.HealthStatus, error)
	Categories(ctx context.Context) (*predictor.Categories, error)
	ModelInfo(ctx context.Context) (*predictor.ModelInfo, error)
}

// Dependencies wires the tools. History may be nil.
type Dependencies struct {
	Schema  *intake.Schema
	Service Service
	History history.Store
	Ranking ranking.Options
	Logger  *logrus.Logger
}

// Server is the MCP tool server.
type Server struct {
	mcpServer *mcp.Server
	schema    *intake.Schema
	svc       Service
	history   history.Store
	ranking   ranking.Options
	logger    *logrus.Logger
}

// NewServer creates the MCP server and registers its tools.
func NewServer(deps Dependencies) (*Server, error) {
	if deps.Schema == nil || deps.Service == nil {
		return nil, fmt.Errorf("schema and service are required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = logrus.New()
	}

	s := &Server{
		mcpServer: mcp.NewServer(&mcp.Implementation{Name: serverName, Version: serverVersion}, nil),
		schema:    deps.Schema,
		svc:       deps.Service,
		history:   deps.History,
		ranking:   deps.Ranking,
		logger:    logger,
	}
	s.registerTools()
	return s, nil
}

// Run serves the MCP protocol over transport until ctx ends or the client
// disconnects.
func (s *Server) Run(ctx context.Context, transport mcp.Transport) error {
	s.logger.Info("MCP server running")
	if err := s.mcpServer.Run(ctx, transport); err != nil {
		return fmt.Errorf("MCP server failed: %w", err)
	}
	return nil
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        toolListSymptoms,
		Description: "List the intake form: demographic attributes with their allowed values and the symptom checklist grouped by body system.",
	}, s.handleListSymptoms)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name: toolPredictDisease,
		Description: "Predict the most likely disease from demographics and present symptoms. " +
			"All five demographic attributes are required; symptoms not listed are treated as absent.",
	}, s.handlePredictDisease)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        toolModelInfo,
		Description: "Describe the prediction model and the disease categories it can return.",
	}, s.handleModelInfo)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        toolServiceHealth,
		Description: "Check whether the prediction service is reachable and its model is loaded.",
	}, s.handleServiceHealth)

	registered := 4
	if s.history != nil {
		mcp.AddTool(s.mcpServer, &mcp.Tool{
			Name:        toolRecentPredictions,
			Description: "List recent predictions recorded by this server, newest first.",
		}, s.handleRecentPredictions)
		registered++
	}

	s.logger.WithField("tool_count", registered).Info("Registered MCP tools")
}

// createErrorResult creates a standardized error result for tool calls
func (s *Server) createErrorResult(message string, err error) *mcp.CallToolResult {
	errorText := fmt.Sprintf("Error: %s", message)
	if err != nil {
		errorText += fmt.Sprintf(" - %v", err)
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: errorText},
		},
		IsError: true,
	}
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}
}
