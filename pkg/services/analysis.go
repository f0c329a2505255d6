// Package services ties the SQL guard pipeline and the schema-linking
// orchestrator together behind the HTTP layer.
package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lexitau/lexitau-engine/pkg/apperrors"
	"github.com/lexitau/lexitau-engine/pkg/audit"
	"github.com/lexitau/lexitau-engine/pkg/config"
	"github.com/lexitau/lexitau-engine/pkg/executor"
	"github.com/lexitau/lexitau-engine/pkg/guard"
	"github.com/lexitau/lexitau-engine/pkg/linking"
	"github.com/lexitau/lexitau-engine/pkg/logging"
	"github.com/lexitau/lexitau-engine/pkg/rewrite"
	"github.com/lexitau/lexitau-engine/pkg/serialize"
	sqlcheck "github.com/lexitau/lexitau-engine/pkg/sql"
	"github.com/lexitau/lexitau-engine/pkg/sqlast"
	"github.com/lexitau/lexitau-engine/pkg/tenantscope"
)

// AnalysisRequest carries one analysis call. BusinessID always comes from
// the authenticated token; a business_id in Params is rejected.
type AnalysisRequest struct {
	SQL      string
	Question string
	Params   map[string]any
	Trace    bool

	BusinessID int64
	ClientIP   string
}

// AnalysisResult is the serialized outcome of one executed statement.
// SQL is the final guarded statement in named-parameter form, without the
// trace comment the executor saw.
type AnalysisResult struct {
	SQL         string
	Columns     []string
	Rows        [][]any
	RowCount    int
	Truncated   bool
	ExecutionMS int64

	TraceID      string
	GuardFlags   []string
	Metadata     *rewrite.Metadata
	ColumnMeta   []serialize.ColumnMeta
	LinkedFields []linking.Field
	// ContextPreviews carries per-variant schema context summaries when
	// the request came through AnalyzeQuestion with tracing on.
	ContextPreviews []linking.VariantPreview
}

// AnalysisService validates, rewrites, tenant-scopes and executes SQL.
type AnalysisService interface {
	// AnalyzeSQL runs client-supplied SQL through the guard pipeline and
	// executes it. Policy violations surface as *apperrors.GuardError,
	// timeouts as apperrors.ErrQueryTimeout and database failures as
	// *apperrors.ExecutionError.
	AnalyzeSQL(ctx context.Context, req *AnalysisRequest) (*AnalysisResult, error)

	// AnalyzeQuestion links a natural-language question to SQL via the
	// schema-linking orchestrator, then runs the linked SQL through the
	// same pipeline as AnalyzeSQL.
	AnalyzeQuestion(ctx context.Context, req *AnalysisRequest) (*AnalysisResult, error)
}

type analysisService struct {
	validator    guard.Validator
	rewriter     rewrite.Rewriter
	enforcer     tenantscope.Enforcer
	exec         executor.Executor
	orchestrator *linking.Orchestrator
	auditor      *audit.SecurityAuditor
	cfg          *config.GuardConfig
	logger       *zap.Logger
}

// NewAnalysisService wires the full pipeline. The orchestrator may be nil
// when the deployment has no LLM configured; AnalyzeQuestion then fails.
func NewAnalysisService(
	validator guard.Validator,
	rewriter rewrite.Rewriter,
	enforcer tenantscope.Enforcer,
	exec executor.Executor,
	orchestrator *linking.Orchestrator,
	auditor *audit.SecurityAuditor,
	cfg *config.GuardConfig,
	logger *zap.Logger,
) AnalysisService {
	return &analysisService{
		validator:    validator,
		rewriter:     rewriter,
		enforcer:     enforcer,
		exec:         exec,
		orchestrator: orchestrator,
		auditor:      auditor,
		cfg:          cfg,
		logger:       logger.Named("analysis-service"),
	}
}

func (s *analysisService) AnalyzeSQL(ctx context.Context, req *AnalysisRequest) (*AnalysisResult, error) {
	traceID := uuid.NewString()
	return s.analyze(ctx, req, traceID, nil)
}

func (s *analysisService) AnalyzeQuestion(ctx context.Context, req *AnalysisRequest) (*AnalysisResult, error) {
	if s.orchestrator == nil {
		return nil, fmt.Errorf("schema linking is not configured")
	}

	traceID := uuid.NewString()

	linked, err := s.orchestrator.Link(ctx, req.Question)
	if err != nil {
		return nil, fmt.Errorf("schema linking: %w", err)
	}

	s.logger.Debug("question linked",
		zap.String("trace_id", traceID),
		zap.Int("linked_fields", len(linked.Fields)),
		zap.String("sql", logging.SanitizeQuery(linked.SQL)))

	sqlReq := *req
	sqlReq.SQL = linked.SQL
	return s.analyze(ctx, &sqlReq, traceID, linked)
}

// analyze is the shared pipeline: parameter screening, guard, rewrite,
// tenant scoping, execution, serialization. linked is non-nil only for
// question analysis.
func (s *analysisService) analyze(ctx context.Context, req *AnalysisRequest, traceID string, linked *linking.Result) (*AnalysisResult, error) {
	if err := s.screenParams(ctx, req, traceID); err != nil {
		return nil, err
	}

	parsed, params, err := guard.ParseSQL(req.SQL)
	if err != nil {
		s.auditGuardError(ctx, req, traceID, err)
		return nil, err
	}

	if err := s.validator.Validate(parsed, req.SQL); err != nil {
		s.auditGuardError(ctx, req, traceID, err)
		return nil, err
	}

	outcome := s.rewriter.Rewrite(ctx, parsed)

	positional, err := sqlast.Deparse(parsed)
	if err != nil {
		return nil, fmt.Errorf("deparse rewritten statement: %w", err)
	}
	named := params.ToNamed(positional)

	// Enforce is a no-op on SQL whose scope predicates the guard already
	// accepted, but the rewrite stage touched the tree since then.
	finalSQL := s.enforcer.Enforce(named)

	values := make(map[string]any, len(req.Params)+1)
	for k, v := range req.Params {
		values[k] = v
	}
	values[s.cfg.TenantParam] = req.BusinessID

	execSQL := traceComment(traceID, req.BusinessID) + finalSQL

	res, err := s.exec.Run(ctx, execSQL, values, executor.Options{
		TimeoutS: s.cfg.DefaultTimeoutS,
		WorkMem:  s.cfg.WorkMem,
		RowLimit: s.cfg.DefaultRowLimit,
	})
	if err != nil {
		return nil, err
	}

	out := &AnalysisResult{
		SQL:         finalSQL,
		Columns:     res.Columns,
		Rows:        serialize.Rows(res.Rows, res.FieldDescriptions),
		RowCount:    res.RowCount,
		Truncated:   res.Truncated,
		ExecutionMS: res.ExecutionMS,
		TraceID:     traceID,
	}
	if linked != nil {
		out.LinkedFields = linked.Fields
	}

	if req.Trace {
		out.GuardFlags = outcome.Flags
		out.Metadata = &outcome.Metadata
		out.ColumnMeta = serialize.ColumnsMeta(res.Columns, res.Rows, res.FieldDescriptions)
		if linked != nil {
			out.ContextPreviews = linked.Previews
		}
	}

	s.logger.Info("analysis executed",
		zap.String("trace_id", traceID),
		zap.Int64("business_id", req.BusinessID),
		zap.Int("row_count", out.RowCount),
		zap.Bool("truncated", out.Truncated),
		zap.Int64("execution_ms", out.ExecutionMS),
		zap.String("sql", logging.SanitizeQuery(finalSQL)))

	return out, nil
}

// screenParams rejects tenant override attempts and injection-flavored
// parameter values before any SQL is parsed.
func (s *analysisService) screenParams(ctx context.Context, req *AnalysisRequest, traceID string) error {
	if raw, ok := req.Params[s.cfg.TenantParam]; ok {
		s.auditor.LogTenantOverrideAttempt(ctx, req.BusinessID, traceID, fmt.Sprintf("%v", raw), req.ClientIP)
		return fmt.Errorf("%s is bound from the token: %w", s.cfg.TenantParam, apperrors.ErrTenantMismatch)
	}

	for _, check := range sqlcheck.CheckAllParameters(req.Params) {
		if !check.IsSQLi {
			continue
		}
		s.auditor.LogInjectionAttempt(ctx, req.BusinessID, traceID, audit.SQLInjectionDetails{
			ParamName:   check.ParamName,
			ParamValue:  fmt.Sprintf("%v", check.ParamValue),
			Fingerprint: check.Fingerprint,
		}, req.ClientIP)
		return fmt.Errorf("parameter %q rejected: %w", check.ParamName, apperrors.ErrForbidden)
	}

	return nil
}

func (s *analysisService) auditGuardError(ctx context.Context, req *AnalysisRequest, traceID string, err error) {
	if ge, ok := apperrors.IsGuardError(err); ok {
		s.auditor.LogGuardRejection(ctx, req.BusinessID, traceID, ge.Reason, req.ClientIP)
	}
}

// traceComment prefixes the executed statement so the trace ID shows up in
// pg_stat_activity and server logs. The response carries the SQL without it.
func traceComment(traceID string, businessID int64) string {
	return fmt.Sprintf("/* analysis trace_id=%s business_id=%d */\n", traceID, businessID)
}
