package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/adcontextprotocol/salesagent/internal/api"
	"github.com/adcontextprotocol/salesagent/internal/app"
	"github.com/adcontextprotocol/salesagent/internal/config"
	"github.com/adcontextprotocol/salesagent/internal/mediabuy"
	"github.com/adcontextprotocol/salesagent/internal/models"
	"github.com/adcontextprotocol/salesagent/internal/observability"
	"github.com/adcontextprotocol/salesagent/internal/tenant"
)

// UpdateMediaBuyInput is the update_media_buy tool payload.
type UpdateMediaBuyInput struct {
	MediaBuyID string                   `json:"media_buy_id" validate:"required"`
	Packages   []mediabuy.PackageUpdate `json:"packages" validate:"required,min=1,dive"`
}

// MediaBuyInput names one media buy.
type MediaBuyInput struct {
	MediaBuyID string `json:"media_buy_id" validate:"required"`
}

// WorkflowInput names one workflow run.
type WorkflowInput struct {
	RunID string `json:"run_id" validate:"required"`
}

// salesAgent serves the media buy tools for the tenant identified by the
// process environment. The tenant is resolved on every call.
type salesAgent struct {
	resolver  api.TenantResolver
	mediaBuys api.MediaBuys
	workflows api.Workflows
	signals   tenant.Request
	validate  *validator.Validate
	logger    *zap.Logger
}

func (s *salesAgent) tenantContext(ctx context.Context) (*models.TenantContext, error) {
	return s.resolver.Resolve(ctx, s.signals)
}

// CreateMediaBuy implements the create_media_buy task.
func (s *salesAgent) CreateMediaBuy(ctx context.Context, req *mcp.CallToolRequest, input mediabuy.CreateRequest) (*mcp.CallToolResult, any, error) {
	if err := s.validate.Struct(&input); err != nil {
		return errorResult(fmt.Errorf("invalid create_media_buy request: %w", err)), nil, nil
	}
	tc, err := s.tenantContext(ctx)
	if err != nil {
		return errorResult(err), nil, nil
	}
	resp, err := s.mediaBuys.Create(ctx, tc, input)
	if resp == nil {
		return errorResult(err), nil, nil
	}
	if err != nil {
		s.logger.Warn("media buy workflow incomplete",
			zap.String("tenant_id", tc.TenantID),
			zap.String("media_buy_id", resp.MediaBuyID),
			zap.Error(err))
	}
	return jsonResult(resp, err != nil), nil, nil
}

// UpdateMediaBuy implements the update_media_buy task.
func (s *salesAgent) UpdateMediaBuy(ctx context.Context, req *mcp.CallToolRequest, input UpdateMediaBuyInput) (*mcp.CallToolResult, any, error) {
	if err := s.validate.Struct(&input); err != nil {
		return errorResult(fmt.Errorf("invalid update_media_buy request: %w", err)), nil, nil
	}
	tc, err := s.tenantContext(ctx)
	if err != nil {
		return errorResult(err), nil, nil
	}
	resp, err := s.mediaBuys.Update(ctx, tc, input.MediaBuyID, mediabuy.UpdateRequest{Packages: input.Packages})
	if err != nil {
		return errorResult(err), nil, nil
	}
	return jsonResult(resp, false), nil, nil
}

// GetMediaBuyStatus returns the media buy with its latest workflow run.
func (s *salesAgent) GetMediaBuyStatus(ctx context.Context, req *mcp.CallToolRequest, input MediaBuyInput) (*mcp.CallToolResult, any, error) {
	if err := s.validate.Struct(&input); err != nil {
		return errorResult(err), nil, nil
	}
	tc, err := s.tenantContext(ctx)
	if err != nil {
		return errorResult(err), nil, nil
	}
	resp, err := s.mediaBuys.Status(ctx, tc, input.MediaBuyID)
	if err != nil {
		return errorResult(err), nil, nil
	}
	return jsonResult(resp, false), nil, nil
}

// GetWorkflow returns a workflow run.
func (s *salesAgent) GetWorkflow(ctx context.Context, req *mcp.CallToolRequest, input WorkflowInput) (*mcp.CallToolResult, any, error) {
	if err := s.validate.Struct(&input); err != nil {
		return errorResult(err), nil, nil
	}
	tc, err := s.tenantContext(ctx)
	if err != nil {
		return errorResult(err), nil, nil
	}
	run, err := s.workflows.Get(ctx, tc, input.RunID)
	if err != nil {
		return errorResult(err), nil, nil
	}
	return jsonResult(run, false), nil, nil
}

// ResumeWorkflow re-runs a failed creation workflow.
func (s *salesAgent) ResumeWorkflow(ctx context.Context, req *mcp.CallToolRequest, input WorkflowInput) (*mcp.CallToolResult, any, error) {
	if err := s.validate.Struct(&input); err != nil {
		return errorResult(err), nil, nil
	}
	tc, err := s.tenantContext(ctx)
	if err != nil {
		return errorResult(err), nil, nil
	}
	resp, err := s.mediaBuys.Resume(ctx, tc, input.RunID)
	if resp == nil {
		return errorResult(err), nil, nil
	}
	return jsonResult(resp, err != nil), nil, nil
}

func jsonResult(v any, isError bool) *mcp.CallToolResult {
	b, err := json.Marshal(v)
	if err != nil {
		return errorResult(err)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(b)}},
		IsError: isError,
	}
}

func errorResult(err error) *mcp.CallToolResult {
	res := jsonResult(map[string]*mediabuy.ItemError{"error": mediabuy.ItemErrorFor(err)}, true)
	res.IsError = true
	return res
}

var targetingSchema = map[string]interface{}{
	"type": "object",
	"properties": map[string]interface{}{
		"include": map[string]interface{}{
			"type":                 "object",
			"additionalProperties": map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}},
			"description":          "Values to target, keyed by targeting key",
		},
		"exclude": map[string]interface{}{
			"type":                 "object",
			"additionalProperties": map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}},
			"description":          "Values to exclude, keyed by targeting key",
		},
		"operator": map[string]interface{}{
			"type":        "string",
			"enum":        []string{"AND", "OR"},
			"description": "How different keys combine (optional, defaults to AND)",
		},
	},
}

var creativeIDsSchema = map[string]interface{}{
	"type":  "array",
	"items": map[string]interface{}{"type": "string"},
}

func newServer(agent *salesAgent) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    "salesagent",
		Version: "1.0.0",
	}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "create_media_buy",
		Description: "Create a media buy: binds targeting keys, creates the ad server order and applies line item targeting per package",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"buyer_ref":         map[string]interface{}{"type": "string", "description": "Buyer's reference for the campaign"},
				"campaign_name":     map[string]interface{}{"type": "string", "description": "Campaign name used in order naming"},
				"promoted_offering": map[string]interface{}{"type": "string", "description": "Product or service being promoted"},
				"start_time":        map[string]interface{}{"type": "string", "format": "date-time", "description": "Flight start"},
				"end_time":          map[string]interface{}{"type": "string", "format": "date-time", "description": "Flight end"},
				"packages": map[string]interface{}{
					"type": "array",
					"items": map[string]interface{}{
						"type": "object",
						"properties": map[string]interface{}{
							"package_id":   map[string]interface{}{"type": "string"},
							"product_name": map[string]interface{}{"type": "string"},
							"targeting":    targetingSchema,
							"dimensions": map[string]interface{}{
								"type":                 "object",
								"additionalProperties": creativeIDsSchema,
								"description":          "Non key-value targeting such as geo, keyed by dimension",
							},
							"creative_ids": creativeIDsSchema,
						},
						"required": []string{"package_id"},
					},
				},
			},
			"required": []string{"start_time", "end_time", "packages"},
		},
	}, agent.CreateMediaBuy)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "update_media_buy",
		Description: "Replace the creative assignments of packages in a media buy; packages succeed or fail independently",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"media_buy_id": map[string]interface{}{"type": "string"},
				"packages": map[string]interface{}{
					"type": "array",
					"items": map[string]interface{}{
						"type": "object",
						"properties": map[string]interface{}{
							"package_id":   map[string]interface{}{"type": "string"},
							"creative_ids": creativeIDsSchema,
						},
						"required": []string{"package_id", "creative_ids"},
					},
				},
			},
			"required": []string{"media_buy_id", "packages"},
		},
	}, agent.UpdateMediaBuy)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_media_buy_status",
		Description: "Return a media buy and the progress of its latest workflow",
		InputSchema: map[string]interface{}{
			"type":       "object",
			"properties": map[string]interface{}{"media_buy_id": map[string]interface{}{"type": "string"}},
			"required":   []string{"media_buy_id"},
		},
	}, agent.GetMediaBuyStatus)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_workflow",
		Description: "Poll a workflow run and its steps",
		InputSchema: map[string]interface{}{
			"type":       "object",
			"properties": map[string]interface{}{"run_id": map[string]interface{}{"type": "string"}},
			"required":   []string{"run_id"},
		},
	}, agent.GetWorkflow)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "resume_workflow",
		Description: "Resume a failed media buy workflow from its first incomplete step",
		InputSchema: map[string]interface{}{
			"type":       "object",
			"properties": map[string]interface{}{"run_id": map[string]interface{}{"type": "string"}},
			"required":   []string{"run_id"},
		},
	}, agent.ResumeWorkflow)

	return server
}

// signalsFromEnv reads the tenant signals an MCP client passes through the
// environment instead of HTTP headers.
func signalsFromEnv() tenant.Request {
	return tenant.Request{
		VirtualHost:  os.Getenv("ADCP_VIRTUAL_HOST"),
		Host:         os.Getenv("ADCP_HOST"),
		TenantHeader: os.Getenv("ADCP_TENANT"),
		Credential:   os.Getenv("ADCP_AUTH_TOKEN"),
	}
}

func main() {
	cfg := config.Load()

	// stdout carries the protocol, so logs go to stderr
	logger, err := observability.InitStderrLogger(cfg.ServiceName + "-mcp")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	a, err := app.New(ctx, cfg, logger, observability.NewNoOpRegistry())
	if err != nil {
		logger.Fatal("Failed to initialize", zap.Error(err))
	}
	defer a.Close()

	agent := &salesAgent{
		resolver:  a.Resolver,
		mediaBuys: a.MediaBuys,
		workflows: a.Tracker,
		signals:   signalsFromEnv(),
		validate:  validator.New(),
		logger:    logger,
	}
	server := newServer(agent)

	var logBuffer bytes.Buffer
	transport := &mcp.LoggingTransport{
		Transport: &mcp.StdioTransport{},
		Writer:    &logBuffer,
	}

	logger.Info("MCP server running via stdio", zap.String("store", cfg.StoreDriver))

	if err := server.Run(ctx, transport); err != nil {
		logger.Error("Server error", zap.Error(err), zap.String("mcp_logs", logBuffer.String()))
		a.Close()
		os.Exit(1)
	}
}
