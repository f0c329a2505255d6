package serialize

import (
	"math/big"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCell_IntegerBoundary(t *testing.T) {
	// 2^53-1 is the last exactly-representable JS integer.
	assert.Equal(t, int64(9007199254740991), Cell(int64(9007199254740991)))
	assert.Equal(t, "9007199254740992", Cell(int64(9007199254740992)))
	assert.Equal(t, int64(-9007199254740991), Cell(int64(-9007199254740991)))
	assert.Equal(t, "-9007199254740992", Cell(int64(-9007199254740992)))
	assert.Equal(t, int64(42), Cell(int64(42)))
}

func TestCell_Timestamp(t *testing.T) {
	ts := time.Date(2023, 12, 25, 15, 30, 45, 123456000, time.UTC)
	assert.Equal(t, "2023-12-25T15:30:45.123456Z", Cell(ts))

	// Whole seconds render without a fractional part.
	ts = time.Date(2023, 12, 25, 15, 30, 45, 0, time.UTC)
	assert.Equal(t, "2023-12-25T15:30:45Z", Cell(ts))
}

func TestDateCell(t *testing.T) {
	d := time.Date(2023, 12, 25, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, "2023-12-25", DateCell(d))

	// Non-time values fall through to the normal mapping.
	assert.Equal(t, "9007199254740992", DateCell(int64(9007199254740992)))
}

func TestCell_Numeric(t *testing.T) {
	num := func(digits string, exp int32) pgtype.Numeric {
		i, ok := new(big.Int).SetString(digits, 10)
		require.True(t, ok)
		return pgtype.Numeric{Int: i, Exp: exp, Valid: true}
	}

	tests := []struct {
		name string
		in   pgtype.Numeric
		want any
	}{
		{name: "two decimal places", in: num("12345", -2), want: "123.45"},
		{name: "negative", in: num("-12345", -2), want: "-123.45"},
		{name: "integral", in: num("42", 0), want: "42"},
		{name: "positive exponent", in: num("5", 3), want: "5000"},
		{name: "leading zero fraction", in: num("5", -3), want: "0.005"},
		{name: "null", in: pgtype.Numeric{}, want: nil},
		{name: "nan", in: pgtype.Numeric{NaN: true, Valid: true}, want: "NaN"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Cell(tt.in))
		})
	}
}

func TestCell_UUID(t *testing.T) {
	id := uuid.MustParse("a0eebc99-9c0b-4ef8-bb6d-6bb9bd380a11")
	assert.Equal(t, "a0eebc99-9c0b-4ef8-bb6d-6bb9bd380a11", Cell(id))
	assert.Equal(t, "a0eebc99-9c0b-4ef8-bb6d-6bb9bd380a11", Cell([16]byte(id)))
}

func TestCell_Passthrough(t *testing.T) {
	assert.Nil(t, Cell(nil))
	assert.Equal(t, "hello", Cell("hello"))
	assert.Equal(t, true, Cell(true))
	assert.Equal(t, 3.14, Cell(3.14))
	m := map[string]any{"k": "v"}
	assert.Equal(t, m, Cell(m))
}

func TestCell_SliceShape(t *testing.T) {
	assert.Equal(t, []any{"a", "b"}, Cell([]any{"a", "b"}))
	assert.Equal(t, []any{"a", "b"}, Cell([]string{"a", "b"}))
}

func TestCell_ByteaPlaceholder(t *testing.T) {
	assert.Equal(t, "<bytea 3 bytes>", Cell([]byte{0x1, 0x2, 0x3}))
	assert.Equal(t, "<bytea 0 bytes>", Cell([]byte{}))
}

func TestRows_UsesFieldOIDsForDates(t *testing.T) {
	fields := []pgconn.FieldDescription{
		{Name: "issued_on", DataTypeOID: pgtype.DateOID},
		{Name: "created_at", DataTypeOID: pgtype.TimestampOID},
	}
	d := time.Date(2023, 12, 25, 0, 0, 0, 0, time.UTC)
	ts := time.Date(2023, 12, 25, 15, 30, 45, 0, time.UTC)

	got := Rows([][]any{{d, ts}}, fields)

	require.Len(t, got, 1)
	assert.Equal(t, "2023-12-25", got[0][0])
	assert.Equal(t, "2023-12-25T15:30:45Z", got[0][1])
}

func TestColumnsMeta(t *testing.T) {
	fields := []pgconn.FieldDescription{
		{Name: "id", DataTypeOID: pgtype.Int8OID},
		{Name: "total", DataTypeOID: pgtype.NumericOID},
		{Name: "status", DataTypeOID: pgtype.TextOID},
	}
	total := pgtype.Numeric{Int: big.NewInt(12345), Exp: -2, Valid: true}
	rows := [][]any{
		{int64(1), total, nil},
		{int64(2), nil, "paid"},
	}

	meta := ColumnsMeta([]string{"id", "total", "status"}, rows, fields)

	require.Len(t, meta, 3)

	assert.Equal(t, "id", meta[0].Name)
	assert.Equal(t, "int8", meta[0].DBType)
	assert.Equal(t, "int", meta[0].ValueType)
	assert.False(t, meta[0].Nullable)
	assert.Equal(t, "int", meta[0].SerializedAs)

	// Decimals serialize to strings and the metadata replays that.
	assert.Equal(t, "numeric", meta[1].DBType)
	assert.Equal(t, "numeric", meta[1].ValueType)
	assert.True(t, meta[1].Nullable)
	assert.Equal(t, "str", meta[1].SerializedAs)

	assert.Equal(t, "text", meta[2].DBType)
	assert.True(t, meta[2].Nullable)
}

func TestColumnsMeta_OversizedIntDemotedToString(t *testing.T) {
	fields := []pgconn.FieldDescription{{Name: "big", DataTypeOID: pgtype.Int8OID}}
	rows := [][]any{{int64(9007199254740992)}}

	meta := ColumnsMeta([]string{"big"}, rows, fields)

	assert.Equal(t, "int", meta[0].ValueType)
	assert.Equal(t, "str", meta[0].SerializedAs)
}

func TestColumnsMeta_ShortRowsCountAsNull(t *testing.T) {
	fields := []pgconn.FieldDescription{
		{Name: "a", DataTypeOID: pgtype.TextOID},
		{Name: "b", DataTypeOID: pgtype.TextOID},
	}
	rows := [][]any{
		{"x", "y"},
		{"x"}, // short row: b is implicitly null
	}

	meta := ColumnsMeta([]string{"a", "b"}, rows, fields)

	assert.False(t, meta[0].Nullable)
	assert.True(t, meta[1].Nullable)
}

func TestColumnsMeta_UnknownOIDDegrades(t *testing.T) {
	fields := []pgconn.FieldDescription{{Name: "odd", DataTypeOID: 99999}}
	meta := ColumnsMeta([]string{"odd"}, [][]any{{"v"}}, fields)
	assert.Equal(t, "unknown", meta[0].DBType)

	// Missing driver description entirely also degrades.
	meta = ColumnsMeta([]string{"odd"}, [][]any{{"v"}}, nil)
	assert.Equal(t, "unknown", meta[0].DBType)
}

func TestColumnsMeta_EmptyRows(t *testing.T) {
	fields := []pgconn.FieldDescription{{Name: "a", DataTypeOID: pgtype.TextOID}}
	meta := ColumnsMeta([]string{"a"}, nil, fields)

	assert.Equal(t, "", meta[0].ValueType)
	assert.Equal(t, "", meta[0].SerializedAs)
	assert.False(t, meta[0].Nullable)
}
