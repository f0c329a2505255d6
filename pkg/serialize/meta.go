package serialize

import (
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
)

// ColumnMeta describes one result column for client introspection.
type ColumnMeta struct {
	Name         string `json:"name"`
	DBType       string `json:"db_type"`
	ValueType    string `json:"value_type"`
	Nullable     bool   `json:"nullable"`
	SerializedAs string `json:"serialized_as"`
}

// Rows serializes a materialized result set cell by cell, using the
// driver's field descriptions to distinguish date-only columns from
// timestamps. fields may be nil.
func Rows(rows [][]any, fields []pgconn.FieldDescription) [][]any {
	dateCol := make([]bool, len(fields))
	for i, fd := range fields {
		dateCol[i] = fd.DataTypeOID == pgtype.DateOID
	}

	out := make([][]any, len(rows))
	for ri, row := range rows {
		serialized := make([]any, len(row))
		for ci, cell := range row {
			if ci < len(dateCol) && dateCol[ci] {
				serialized[ci] = DateCell(cell)
			} else {
				serialized[ci] = Cell(cell)
			}
		}
		out[ri] = serialized
	}
	return out
}

// ColumnsMeta derives per-column metadata from the driver description and
// the materialized (unserialized) rows. Type resolution failures degrade to
// "unknown" rather than erroring; rows shorter than the column list count
// as implicit nulls for the missing trailing columns.
func ColumnsMeta(columns []string, rows [][]any, fields []pgconn.FieldDescription) []ColumnMeta {
	meta := make([]ColumnMeta, len(columns))
	for i, name := range columns {
		dbType := "unknown"
		isDate := false
		if i < len(fields) {
			if resolved := typeNameFromOID(fields[i].DataTypeOID); resolved != "" {
				dbType = resolved
			}
			isDate = fields[i].DataTypeOID == pgtype.DateOID
		}

		valueType, nullable := scanColumn(rows, i)

		serializedAs := ""
		if first := firstNonNull(rows, i); first != nil {
			if isDate {
				serializedAs = typeLabel(DateCell(first))
			} else {
				serializedAs = typeLabel(Cell(first))
			}
		}

		meta[i] = ColumnMeta{
			Name:         name,
			DBType:       dbType,
			ValueType:    valueType,
			Nullable:     nullable,
			SerializedAs: serializedAs,
		}
	}
	return meta
}

// scanColumn finds the runtime type of the first non-null value in a column
// and whether any null (explicit or implicit via a short row) occurs.
func scanColumn(rows [][]any, col int) (valueType string, nullable bool) {
	for _, row := range rows {
		if col >= len(row) {
			nullable = true
			continue
		}
		v := row[col]
		if v == nil {
			nullable = true
			continue
		}
		if valueType == "" {
			valueType = typeLabel(v)
		}
	}
	return valueType, nullable
}

func firstNonNull(rows [][]any, col int) any {
	for _, row := range rows {
		if col < len(row) && row[col] != nil {
			return row[col]
		}
	}
	return nil
}

// typeLabel names a runtime value's type for metadata purposes.
func typeLabel(v any) string {
	switch v.(type) {
	case nil:
		return ""
	case string:
		return "str"
	case bool:
		return "bool"
	case int, int16, int32, int64, uint64:
		return "int"
	case float32, float64:
		return "float"
	case []any:
		return "list"
	case map[string]any:
		return "map"
	case pgtype.Numeric:
		return "numeric"
	default:
		return strings.TrimPrefix(fmt.Sprintf("%T", v), "*")
	}
}

// typeNameFromOID maps common PostgreSQL type OIDs to type names. Unknown
// OIDs return "" and degrade to "unknown" in metadata.
func typeNameFromOID(oid uint32) string {
	switch oid {
	case pgtype.BoolOID:
		return "bool"
	case pgtype.ByteaOID:
		return "bytea"
	case pgtype.Int8OID:
		return "int8"
	case pgtype.Int2OID:
		return "int2"
	case pgtype.Int4OID:
		return "int4"
	case pgtype.TextOID:
		return "text"
	case pgtype.JSONOID:
		return "json"
	case pgtype.JSONBOID:
		return "jsonb"
	case pgtype.Float4OID:
		return "float4"
	case pgtype.Float8OID:
		return "float8"
	case pgtype.BPCharOID:
		return "bpchar"
	case pgtype.VarcharOID:
		return "varchar"
	case pgtype.DateOID:
		return "date"
	case pgtype.TimeOID:
		return "time"
	case pgtype.TimestampOID:
		return "timestamp"
	case pgtype.TimestamptzOID:
		return "timestamptz"
	case pgtype.IntervalOID:
		return "interval"
	case pgtype.NumericOID:
		return "numeric"
	case pgtype.UUIDOID:
		return "uuid"
	case pgtype.TextArrayOID:
		return "text[]"
	case pgtype.Int4ArrayOID:
		return "int4[]"
	case pgtype.Int8ArrayOID:
		return "int8[]"
	default:
		return ""
	}
}
