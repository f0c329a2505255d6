package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/lexitau/lexitau-engine/pkg/apperrors"
	"github.com/lexitau/lexitau-engine/pkg/auth"
	"github.com/lexitau/lexitau-engine/pkg/logging"
	"github.com/lexitau/lexitau-engine/pkg/rewrite"
	"github.com/lexitau/lexitau-engine/pkg/serialize"
	"github.com/lexitau/lexitau-engine/pkg/services"
)

// AnalysisRequestBody is the JSON body for both analysis endpoints.
// The tenant identity never comes from the body; it is read from the token.
type AnalysisRequestBody struct {
	SQL      string         `json:"sql,omitempty"`
	Question string         `json:"question,omitempty"`
	Params   map[string]any `json:"params,omitempty"`
	Trace    bool           `json:"trace,omitempty"`
}

// AnalysisResponse is the JSON response of both analysis endpoints.
type AnalysisResponse struct {
	SQL         string   `json:"sql"`
	Columns     []string `json:"columns"`
	Rows        [][]any  `json:"rows"`
	RowCount    int      `json:"row_count"`
	Truncated   bool     `json:"truncated"`
	ExecutionMS int64    `json:"execution_ms"`

	TraceID         string                 `json:"trace_id,omitempty"`
	GuardFlags      []string               `json:"guard_flags,omitempty"`
	Metadata        *rewrite.Metadata      `json:"metadata,omitempty"`
	ColumnMeta      []serialize.ColumnMeta `json:"column_meta,omitempty"`
	LinkedFields    any                    `json:"linked_fields,omitempty"`
	ContextPreviews any                    `json:"context_previews,omitempty"`
}

// AnalysisHandler handles SQL and question analysis requests.
type AnalysisHandler struct {
	analysisService services.AnalysisService
	logger          *zap.Logger
}

// NewAnalysisHandler creates a new analysis handler.
func NewAnalysisHandler(analysisService services.AnalysisService, logger *zap.Logger) *AnalysisHandler {
	return &AnalysisHandler{
		analysisService: analysisService,
		logger:          logger,
	}
}

// RegisterRoutes registers the analysis handler's routes on the given mux.
func (h *AnalysisHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware) {
	mux.HandleFunc("POST /api/analysis/sql", authMiddleware.RequireAuth(h.AnalyzeSQL))
	mux.HandleFunc("POST /api/analysis/question", authMiddleware.RequireAuth(h.AnalyzeQuestion))
}

// AnalyzeSQL handles POST /api/analysis/sql.
// Runs client SQL through the guard pipeline and executes it tenant-scoped.
func (h *AnalysisHandler) AnalyzeSQL(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeRequest(w, r)
	if !ok {
		return
	}
	if strings.TrimSpace(req.SQL) == "" {
		h.writeError(w, http.StatusUnprocessableEntity, "missing_sql", "sql is required")
		return
	}

	result, err := h.analysisService.AnalyzeSQL(r.Context(), req)
	if err != nil {
		h.writeAnalysisError(w, r, err)
		return
	}

	h.writeResult(w, result)
}

// AnalyzeQuestion handles POST /api/analysis/question.
// Links a natural-language question to SQL, then executes it through the
// same pipeline as AnalyzeSQL.
func (h *AnalysisHandler) AnalyzeQuestion(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeRequest(w, r)
	if !ok {
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		h.writeError(w, http.StatusUnprocessableEntity, "missing_question", "question is required")
		return
	}

	result, err := h.analysisService.AnalyzeQuestion(r.Context(), req)
	if err != nil {
		h.writeAnalysisError(w, r, err)
		return
	}

	h.writeResult(w, result)
}

// decodeRequest parses the body and resolves the tenant identity from the
// token claims. Returns false after writing an error response.
func (h *AnalysisHandler) decodeRequest(w http.ResponseWriter, r *http.Request) (*services.AnalysisRequest, bool) {
	businessID, err := auth.RequireBusinessIDFromContext(r.Context())
	if err != nil {
		h.writeError(w, http.StatusUnauthorized, "unauthorized", "Authentication required")
		return nil, false
	}

	var body AnalysisRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_body", "Request body must be valid JSON")
		return nil, false
	}

	return &services.AnalysisRequest{
		SQL:        body.SQL,
		Question:   body.Question,
		Params:     body.Params,
		Trace:      body.Trace,
		BusinessID: businessID,
		ClientIP:   r.RemoteAddr,
	}, true
}

func (h *AnalysisHandler) writeResult(w http.ResponseWriter, result *services.AnalysisResult) {
	resp := AnalysisResponse{
		SQL:         result.SQL,
		Columns:     result.Columns,
		Rows:        result.Rows,
		RowCount:    result.RowCount,
		Truncated:   result.Truncated,
		ExecutionMS: result.ExecutionMS,
	}
	if result.Metadata != nil || result.GuardFlags != nil || result.ColumnMeta != nil {
		resp.TraceID = result.TraceID
		resp.GuardFlags = result.GuardFlags
		resp.Metadata = result.Metadata
		resp.ColumnMeta = result.ColumnMeta
	}
	if len(result.LinkedFields) > 0 {
		resp.LinkedFields = result.LinkedFields
	}
	if len(result.ContextPreviews) > 0 {
		resp.ContextPreviews = result.ContextPreviews
	}

	if err := WriteJSON(w, http.StatusOK, resp); err != nil {
		h.logger.Error("Failed to write analysis response", zap.Error(err))
	}
}

// writeAnalysisError maps pipeline errors onto HTTP status codes: guard
// and tenant violations are 403, timeouts 408, database failures 500.
func (h *AnalysisHandler) writeAnalysisError(w http.ResponseWriter, r *http.Request, err error) {
	if ge, ok := apperrors.IsGuardError(err); ok {
		h.writeError(w, http.StatusForbidden, "sql_rejected", ge.Reason)
		return
	}
	if errors.Is(err, apperrors.ErrTenantMismatch) {
		h.writeError(w, http.StatusForbidden, "tenant_mismatch", "business_id is bound from the token and cannot be supplied")
		return
	}
	if errors.Is(err, apperrors.ErrForbidden) {
		h.writeError(w, http.StatusForbidden, "forbidden", "Request rejected")
		return
	}
	if errors.Is(err, apperrors.ErrQueryTimeout) {
		h.writeError(w, http.StatusRequestTimeout, "query_timeout", "Query exceeded the configured timeout")
		return
	}

	var ee *apperrors.ExecutionError
	if errors.As(err, &ee) {
		h.logger.Warn("Query execution failed",
			zap.String("path", r.URL.Path),
			zap.String("error", logging.SanitizeError(ee)))
		h.writeError(w, http.StatusInternalServerError, "execution_error", "Query execution failed")
		return
	}

	h.logger.Error("Analysis failed",
		zap.String("path", r.URL.Path),
		zap.String("error", logging.SanitizeError(err)))
	h.writeError(w, http.StatusInternalServerError, "internal_error", "Analysis failed")
}

func (h *AnalysisHandler) writeError(w http.ResponseWriter, status int, code, message string) {
	if err := ErrorResponse(w, status, code, message); err != nil {
		h.logger.Error("Failed to write error response", zap.Error(err))
	}
}
