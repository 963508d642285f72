// Package apiserver exposes the gateway's HTTP surface: the analyze
// endpoint that funnels requests through admission control and the
// content cache, plus diagnostics for both.
package apiserver

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/factgate/factgate/pkg/cache"
	"github.com/factgate/factgate/pkg/clientid"
	"github.com/factgate/factgate/pkg/config"
	"github.com/factgate/factgate/pkg/observability/logging"
	"github.com/factgate/factgate/pkg/ratelimit"
	"github.com/factgate/factgate/pkg/upstream"
)

// GatewayAPIServer wires the admission gate, the content cache and the
// upstream provider behind the HTTP API.
type GatewayAPIServer struct {
	cfg      *config.GatewayConfig
	cache    *cache.ContentCache
	resolver *ratelimit.Resolver
	limiter  *ratelimit.TierLimiter
	provider upstream.Provider
}

// New creates the API server. The limiter is passed separately from the
// resolver because the status endpoint reads tier usage directly.
func New(cfg *config.GatewayConfig, contentCache *cache.ContentCache, resolver *ratelimit.Resolver, limiter *ratelimit.TierLimiter, provider upstream.Provider) *GatewayAPIServer {
	return &GatewayAPIServer{
		cfg:      cfg,
		cache:    contentCache,
		resolver: resolver,
		limiter:  limiter,
		provider: provider,
	}
}

// NewHTTPServer wraps the routes in an http.Server with sane timeouts.
func (s *GatewayAPIServer) NewHTTPServer(port int) *http.Server {
	return &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      s.setupRoutes(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// setupRoutes configures all API routes
func (s *GatewayAPIServer) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// Health check endpoint
	mux.HandleFunc("GET /health", s.handleHealth)

	// Analysis endpoint: admission → cache → upstream
	mux.HandleFunc("POST /v1/analyze", s.handleAnalyze)

	// Diagnostics endpoints
	mux.HandleFunc("GET /v1/cache", s.handleCacheDiagnostics)
	mux.HandleFunc("GET /v1/ratelimit/status", s.handleRateLimitStatus)

	return mux
}

// handleHealth handles health check requests
func (s *GatewayAPIServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status": "healthy", "service": "factgate"}`))
}

type analyzeAttachment struct {
	Kind string `json:"kind"`           // "image" or "audio"
	Data string `json:"data,omitempty"` // base64-encoded payload
}

type analyzeRequest struct {
	Model       string              `json:"model"`
	Content     string              `json:"content"`
	Attachments []analyzeAttachment `json:"attachments,omitempty"`
}

type analyzeResponse struct {
	RequestID string `json:"request_id"`
	Model     string `json:"model"`
	Result    string `json:"result"`
	Cached    bool   `json:"cached"`
}

// handleAnalyze is the request path the two protective layers guard:
// admission first (a rejection never touches cache or upstream), then
// the cache, and only on a miss the upstream provider.
func (s *GatewayAPIServer) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	requestID := uuid.NewString()

	var req analyzeRequest
	if err := s.parseJSONRequest(r, &req); err != nil {
		s.writeErrorResponse(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if req.Model == "" {
		s.writeErrorResponse(w, http.StatusBadRequest, "invalid_request", "model is required")
		return
	}

	client := clientid.FromRequest(r)

	decision, err := s.resolver.Check(ratelimit.Context{ClientID: client, Model: req.Model})
	if err != nil {
		// fail-closed resolver error: reject without tier detail
		s.setRateLimitHeaders(w, decision)
		s.writeErrorResponse(w, http.StatusTooManyRequests, "rate_limit_error", "admission check failed")
		return
	}
	s.setRateLimitHeaders(w, decision)

	if !decision.Allowed {
		w.Header().Set("Retry-After", strconv.Itoa(decision.RetryAfterSeconds()))
		s.writeJSONResponse(w, http.StatusTooManyRequests, map[string]interface{}{
			"error": map[string]interface{}{
				"code":                "rate_limit_exceeded",
				"message":             fmt.Sprintf("rate limit exceeded for model %q", req.Model),
				"limit_type":          decision.Tier,
				"retry_after_seconds": decision.RetryAfterSeconds(),
			},
		})
		return
	}

	attachments := decodeAttachments(requestID, req.Attachments)

	if value, ok := s.cache.Fetch(req.Content, attachments...); ok {
		w.Header().Set("X-Cache", "HIT")
		s.writeJSONResponse(w, http.StatusOK, analyzeResponse{
			RequestID: requestID,
			Model:     req.Model,
			Result:    string(value),
			Cached:    true,
		})
		return
	}
	w.Header().Set("X-Cache", "MISS")

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.Upstream.Timeout())
	defer cancel()

	result, err := s.provider.Analyze(ctx, req.Model, req.Content)
	if err != nil {
		logging.Errorf("Upstream analyze failed (request_id=%s, model=%s): %v", requestID, req.Model, err)
		s.writeErrorResponse(w, http.StatusBadGateway, "upstream_error", "inference request failed")
		return
	}

	s.cache.Store(req.Content, result, attachments...)

	s.writeJSONResponse(w, http.StatusOK, analyzeResponse{
		RequestID: requestID,
		Model:     req.Model,
		Result:    string(result),
		Cached:    false,
	})
}

// decodeAttachments converts base64 payloads into cache attachments.
// A payload that fails to decode is dropped: the request then keys as if
// the attachment were absent rather than failing outright.
func decodeAttachments(requestID string, in []analyzeAttachment) []cache.Attachment {
	if len(in) == 0 {
		return nil
	}
	out := make([]cache.Attachment, 0, len(in))
	for _, a := range in {
		data, err := base64.StdEncoding.DecodeString(a.Data)
		if err != nil {
			logging.Warnf("Dropping undecodable %s attachment (request_id=%s): %v", a.Kind, requestID, err)
			continue
		}
		out = append(out, cache.Attachment{Kind: a.Kind, Data: data})
	}
	return out
}

// setRateLimitHeaders populates the standard quota headers from a
// decision.
func (s *GatewayAPIServer) setRateLimitHeaders(w http.ResponseWriter, d *ratelimit.Decision) {
	if d == nil {
		return
	}
	w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(d.Limit, 10))
	w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(d.Remaining, 10))
	if !d.ResetAt.IsZero() {
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
	}
}

// handleCacheDiagnostics serves ?action=stats|clear|reset-stats.
func (s *GatewayAPIServer) handleCacheDiagnostics(w http.ResponseWriter, r *http.Request) {
	action := r.URL.Query().Get("action")
	switch action {
	case "", "stats":
		s.writeJSONResponse(w, http.StatusOK, s.cache.Stats())
	case "clear":
		s.cache.Clear()
		logging.Infof("Cache cleared via diagnostics endpoint")
		s.writeJSONResponse(w, http.StatusOK, map[string]string{"status": "cleared"})
	case "reset-stats":
		s.cache.ResetStats()
		s.writeJSONResponse(w, http.StatusOK, map[string]string{"status": "stats-reset"})
	default:
		s.writeErrorResponse(w, http.StatusBadRequest, "invalid_action", fmt.Sprintf("unknown action %q", action))
	}
}

// handleRateLimitStatus reports current usage for the calling client and
// the requested model. Reading status never consumes quota.
func (s *GatewayAPIServer) handleRateLimitStatus(w http.ResponseWriter, r *http.Request) {
	model := r.URL.Query().Get("model")
	if model == "" {
		s.writeErrorResponse(w, http.StatusBadRequest, "invalid_request", "model query parameter is required")
		return
	}

	client := clientid.FromRequest(r)
	s.writeJSONResponse(w, http.StatusOK, s.limiter.Status(client, model))
}

// Helper methods for JSON handling
func (s *GatewayAPIServer) parseJSONRequest(r *http.Request, v interface{}) error {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return fmt.Errorf("failed to read request body: %w", err)
	}
	defer r.Body.Close()

	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("failed to parse JSON: %w", err)
	}

	return nil
}

func (s *GatewayAPIServer) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		logging.Errorf("Failed to encode JSON response: %v", err)
	}
}

func (s *GatewayAPIServer) writeErrorResponse(w http.ResponseWriter, statusCode int, errorCode, message string) {
	errorResponse := map[string]interface{}{
		"error": map[string]interface{}{
			"code":      errorCode,
			"message":   message,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		},
	}

	s.writeJSONResponse(w, statusCode, errorResponse)
}
