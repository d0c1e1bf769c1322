// Package service exposes the gateway operations to the transport
// layer. It orchestrates the safety gate, retry executor, budget
// governor and telemetry hub around provider calls.
package service

import (
	"context"
	"errors"
	"strings"

	"VerseGate/internal/biz"
	"VerseGate/internal/model"
	"VerseGate/pkg/provider"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/wire"
)

// ProviderSet is service providers.
var ProviderSet = wire.NewSet(
	NewGatewayService,
)

// Circuit keys, one per upstream capability. Embeddings and vector
// search share the provider but break independently of chat.
const (
	circuitChat       = "llm-chat"
	circuitEmbeddings = "llm-embeddings"
	circuitVector     = "vector-query"
)

// defaultMaxOutputTokens sizes the pre-call cost estimate when the
// request does not cap its output.
const defaultMaxOutputTokens = 1024

// GatewayService is the resilience and governance facade in front of
// the LLM provider.
type GatewayService struct {
	safety *biz.SafetyGate
	budget *biz.BudgetGovernor
	retry  *biz.RetryExecutor
	hub    *biz.TelemetryHub
	client *provider.Client
	logger *log.Helper
}

// errNoEmbedding guards the two-leg search pipeline.
var errNoEmbedding = errors.New("embeddings response contained no vectors")

// NewGatewayService creates the gateway facade.
func NewGatewayService(
	safety *biz.SafetyGate,
	budget *biz.BudgetGovernor,
	retry *biz.RetryExecutor,
	hub *biz.TelemetryHub,
	client *provider.Client,
	logger log.Logger,
) *GatewayService {
	return &GatewayService{
		safety: safety,
		budget: budget,
		retry:  retry,
		hub:    hub,
		client: client,
		logger: log.NewHelper(logger),
	}
}

// ChatRequest is a governed chat completion request.
type ChatRequest struct {
	UserID    string                 `json:"user_id"`
	Model     string                 `json:"model"`
	Messages  []provider.ChatMessage `json:"messages"`
	MaxTokens int                    `json:"max_tokens,omitempty"`
}

// ChatResponse is a governed chat completion result. Throttled reports
// that the budget governor has denied further usage; the completed call
// itself is never clawed back.
type ChatResponse struct {
	ID        string         `json:"id"`
	Model     string         `json:"model"`
	Content   string         `json:"content"`
	Usage     provider.Usage `json:"usage"`
	CostUSD   float64        `json:"cost_usd"`
	Throttled bool           `json:"throttled"`
}

// ChatCompletion runs the full governance pipeline around one chat
// call: safety gate, circuit-broken retry, cost settlement.
func (s *GatewayService) ChatCompletion(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	if req == nil || len(req.Messages) == 0 {
		return nil, &biz.InvalidInputError{Field: "messages", Reason: "must be a non-empty array"}
	}
	if req.Model == "" {
		return nil, &biz.InvalidInputError{Field: "model", Reason: "must be a non-empty string"}
	}

	userContent := collectUserContent(req.Messages)
	if userContent == "" {
		return nil, &biz.InvalidInputError{Field: "messages", Reason: "must contain at least one user message"}
	}

	verdict, err := s.safety.Evaluate(ctx, userContent, req.UserID)
	if err != nil {
		return nil, err
	}
	if verdict.Flagged {
		return nil, &biz.ModerationBlockedError{Verdict: verdict}
	}
	if !s.safety.IsDomainAppropriate(userContent) {
		return nil, &biz.ModerationBlockedError{Verdict: &model.ModerationVerdict{
			Flagged:     true,
			Categories:  []model.ModerationCategory{model.CategorySensitiveTopic},
			Explanation: "this topic is outside what the assistant can responsibly answer",
		}}
	}

	// Pre-call sizing: a rough estimate recorded up front; the ledger is
	// settled with the provider's actual usage after the call.
	maxOut := req.MaxTokens
	if maxOut <= 0 {
		maxOut = defaultMaxOutputTokens
	}
	estimatedCost := biz.Cost(req.Model, int(biz.EstimateTokens(userContent, 0)), maxOut)
	s.hub.RecordMetric(ctx, "estimated_cost_usd", estimatedCost, map[string]string{"op": circuitChat}, req.UserID)

	var resp *provider.ChatResponse
	err = s.hub.WithMonitoring(ctx, circuitChat, func(ctx context.Context) error {
		var execErr error
		resp, execErr = biz.Execute(ctx, s.retry, func(ctx context.Context) (*provider.ChatResponse, error) {
			return s.client.ChatCompletion(ctx, &provider.ChatRequest{
				Model:     req.Model,
				Messages:  req.Messages,
				MaxTokens: req.MaxTokens,
			})
		}, s.retry.DefaultPolicy(), circuitChat)
		return execErr
	}, req.UserID)
	if err != nil {
		return nil, err
	}

	cost := biz.Cost(resp.Model, resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
	authorized, err := s.budget.RecordCostAndAuthorize(ctx, cost, req.UserID)
	if err != nil {
		// Ledger input errors are logged, not surfaced: the provider call
		// already succeeded and the user should get their answer.
		s.logger.Warnw("msg", "failed to settle cost", "error", err)
		authorized = true
	}
	s.hub.RecordMetric(ctx, "cost_usd", cost, map[string]string{"op": circuitChat}, req.UserID)

	out := &ChatResponse{
		ID:        resp.ID,
		Model:     resp.Model,
		Usage:     resp.Usage,
		CostUSD:   cost,
		Throttled: !authorized,
	}
	if len(resp.Choices) > 0 {
		out.Content = resp.Choices[0].Message.Content
	}
	return out, nil
}

// EmbeddingsRequest is a governed embeddings request.
type EmbeddingsRequest struct {
	UserID string   `json:"user_id"`
	Model  string   `json:"model"`
	Input  []string `json:"input"`
}

// EmbeddingsResponse is a governed embeddings result.
type EmbeddingsResponse struct {
	Model      string      `json:"model"`
	Embeddings [][]float64 `json:"embeddings"`
	CostUSD    float64     `json:"cost_usd"`
	Throttled  bool        `json:"throttled"`
}

// CreateEmbeddings runs a governed embeddings call. Embeddings inputs
// skip the safety gate: they are indexed, not echoed back to users.
func (s *GatewayService) CreateEmbeddings(ctx context.Context, req *EmbeddingsRequest) (*EmbeddingsResponse, error) {
	if req == nil || len(req.Input) == 0 {
		return nil, &biz.InvalidInputError{Field: "input", Reason: "must be a non-empty array"}
	}
	if req.Model == "" {
		return nil, &biz.InvalidInputError{Field: "model", Reason: "must be a non-empty string"}
	}

	var resp *provider.EmbeddingsResponse
	err := s.hub.WithMonitoring(ctx, circuitEmbeddings, func(ctx context.Context) error {
		var execErr error
		resp, execErr = biz.Execute(ctx, s.retry, func(ctx context.Context) (*provider.EmbeddingsResponse, error) {
			return s.client.Embeddings(ctx, req.Model, req.Input)
		}, s.retry.DefaultPolicy(), circuitEmbeddings)
		return execErr
	}, req.UserID)
	if err != nil {
		return nil, err
	}

	cost := biz.Cost(resp.Model, resp.Usage.PromptTokens, 0)
	authorized, err := s.budget.RecordCostAndAuthorize(ctx, cost, req.UserID)
	if err != nil {
		s.logger.Warnw("msg", "failed to settle cost", "error", err)
		authorized = true
	}
	s.hub.RecordMetric(ctx, "cost_usd", cost, map[string]string{"op": circuitEmbeddings}, req.UserID)

	out := &EmbeddingsResponse{
		Model:     resp.Model,
		CostUSD:   cost,
		Throttled: !authorized,
	}
	for _, d := range resp.Data {
		out.Embeddings = append(out.Embeddings, d.Embedding)
	}
	return out, nil
}

// SearchRequest is a governed semantic search request.
type SearchRequest struct {
	UserID string `json:"user_id"`
	Query  string `json:"query"`
	TopK   int    `json:"top_k,omitempty"`
}

// SearchResponse is a governed semantic search result.
type SearchResponse struct {
	Matches []provider.VectorMatch `json:"matches"`
	CostUSD float64                `json:"cost_usd"`
}

// SearchVectors embeds the query and runs a vector search, each leg
// behind its own circuit.
func (s *GatewayService) SearchVectors(ctx context.Context, req *SearchRequest) (*SearchResponse, error) {
	if req == nil || req.Query == "" {
		return nil, &biz.InvalidInputError{Field: "query", Reason: "must be a non-empty string"}
	}

	verdict, err := s.safety.Evaluate(ctx, req.Query, req.UserID)
	if err != nil {
		return nil, err
	}
	if verdict.Flagged {
		return nil, &biz.ModerationBlockedError{Verdict: verdict}
	}

	topK := req.TopK
	if topK <= 0 {
		topK = 5
	}

	embeddings, err := s.CreateEmbeddings(ctx, &EmbeddingsRequest{
		UserID: req.UserID,
		Model:  "text-embedding-3-small",
		Input:  []string{req.Query},
	})
	if err != nil {
		return nil, err
	}
	if len(embeddings.Embeddings) == 0 {
		return nil, &biz.RetryExhaustedError{Attempts: 1, Err: errNoEmbedding}
	}

	var matches []provider.VectorMatch
	err = s.hub.WithMonitoring(ctx, circuitVector, func(ctx context.Context) error {
		var execErr error
		matches, execErr = biz.Execute(ctx, s.retry, func(ctx context.Context) ([]provider.VectorMatch, error) {
			return s.client.VectorQuery(ctx, embeddings.Embeddings[0], topK)
		}, s.retry.DefaultPolicy(), circuitVector)
		return execErr
	}, req.UserID)
	if err != nil {
		return nil, err
	}

	return &SearchResponse{
		Matches: matches,
		CostUSD: embeddings.CostUSD,
	}, nil
}

// ModerateRequest asks for a standalone safety verdict.
type ModerateRequest struct {
	UserID  string `json:"user_id"`
	Content string `json:"content"`
}

// Moderate runs the safety gate without calling the chat endpoint.
func (s *GatewayService) Moderate(ctx context.Context, req *ModerateRequest) (*model.ModerationVerdict, error) {
	if req == nil {
		return nil, &biz.InvalidInputError{Field: "content", Reason: "must be a non-empty string"}
	}
	return s.safety.Evaluate(ctx, req.Content, req.UserID)
}

// BudgetUsage returns the dashboard budget snapshot.
func (s *GatewayService) BudgetUsage(ctx context.Context) (*model.BudgetUsage, error) {
	return s.budget.Usage(ctx)
}

// CircuitStatus returns the snapshot for one circuit key.
func (s *GatewayService) CircuitStatus(ctx context.Context, key string) (*model.CircuitSnapshot, error) {
	if key == "" {
		return nil, &biz.InvalidInputError{Field: "key", Reason: "must be a non-empty string"}
	}
	return s.retry.Status(ctx, key)
}

// ResetCircuit clears the breaker state for one circuit key.
func (s *GatewayService) ResetCircuit(ctx context.Context, key string) error {
	if key == "" {
		return &biz.InvalidInputError{Field: "key", Reason: "must be a non-empty string"}
	}
	s.logger.Infow("msg", "circuit reset requested", "circuit_key", key)
	return s.retry.Reset(ctx, key)
}

// Dashboard returns the aggregate ops view.
func (s *GatewayService) Dashboard(ctx context.Context) (*model.DashboardData, error) {
	return s.hub.GetDashboardData(ctx)
}

// Performance returns aggregate stats for a query window.
func (s *GatewayService) Performance(ctx context.Context, window string) (*model.PerformanceSnapshot, error) {
	return s.hub.GetPerformanceMetrics(ctx, window)
}

// RecentAlerts returns up to limit alerts, newest first.
func (s *GatewayService) RecentAlerts(ctx context.Context, limit int) ([]*model.Alert, error) {
	return s.hub.GetRecentAlerts(ctx, limit)
}

// HealthChecks runs one dependency check cycle.
func (s *GatewayService) HealthChecks(ctx context.Context) []*model.HealthCheckResult {
	return s.hub.PerformHealthChecks(ctx)
}

// collectUserContent joins user-authored turns for moderation. System
// and assistant turns are the application's own text.
func collectUserContent(messages []provider.ChatMessage) string {
	var parts []string
	for _, m := range messages {
		if m.Role == "user" && m.Content != "" {
			parts = append(parts, m.Content)
		}
	}
	return strings.Join(parts, "\n")
}
