// Package catalog reads live column metadata from information_schema and
// applies the wildcard-expansion exclusion policy.
package catalog

import (
	"context"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/lexitau/lexitau-engine/pkg/config"
)

// Column is one live table column in physical order.
type Column struct {
	Name     string `json:"name"`
	DataType string `json:"data_type"`
}

// Querier is the subset of a pgx pool the accessor needs.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Accessor fetches filtered column lists for tables, applying the exclusion
// policy to everything it returns.
type Accessor interface {
	// FilteredColumns returns the table's columns surviving the exclusion
	// policy, plus the per-bucket exclusion record. A missing table or a
	// failed lookup yields an empty column list, never an error.
	FilteredColumns(ctx context.Context, schema, table string) ([]Column, Exclusions)

	// RawColumns returns the table's full column list in physical order,
	// with no exclusions applied. Lookup failures yield an empty list.
	RawColumns(ctx context.Context, schema, table string) []Column
}

type accessor struct {
	db     Querier
	policy *ExclusionPolicy
	logger *zap.Logger
}

// NewAccessor creates a catalog accessor with the exclusion policy compiled
// from guard configuration.
func NewAccessor(db Querier, cfg *config.GuardConfig, logger *zap.Logger) (Accessor, error) {
	policy, err := CompileExclusionPolicy(cfg)
	if err != nil {
		return nil, err
	}
	return &accessor{
		db:     db,
		policy: policy,
		logger: logger,
	}, nil
}

const columnsQuery = `
	SELECT column_name, data_type
	FROM information_schema.columns
	WHERE table_schema = $1 AND table_name = $2
	ORDER BY ordinal_position`

func (a *accessor) RawColumns(ctx context.Context, schema, table string) []Column {
	rows, err := a.db.Query(ctx, columnsQuery, schema, table)
	if err != nil {
		a.logger.Warn("column lookup failed",
			zap.String("schema", schema),
			zap.String("table", table),
			zap.Error(err))
		return nil
	}
	defer rows.Close()

	var columns []Column
	for rows.Next() {
		var col Column
		if err := rows.Scan(&col.Name, &col.DataType); err != nil {
			a.logger.Warn("column scan failed",
				zap.String("schema", schema),
				zap.String("table", table),
				zap.Error(err))
			return nil
		}
		columns = append(columns, col)
	}
	if err := rows.Err(); err != nil {
		a.logger.Warn("column iteration failed",
			zap.String("schema", schema),
			zap.String("table", table),
			zap.Error(err))
		return nil
	}
	return columns
}

func (a *accessor) FilteredColumns(ctx context.Context, schema, table string) ([]Column, Exclusions) {
	columns := a.RawColumns(ctx, schema, table)
	return a.policy.Apply(schema, table, columns)
}
