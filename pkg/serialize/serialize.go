// Package serialize converts raw database cells into JSON-safe values and
// derives per-column metadata for client introspection.
package serialize

import (
	"fmt"
	"reflect"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

// MaxSafeInteger is the largest integer JavaScript can represent exactly
// (2^53 - 1). Anything larger is serialized as a string.
const MaxSafeInteger = int64(1)<<53 - 1

// Cell converts one raw cell into a JSON-safe value:
// decimals and oversized integers become strings (never floats), timestamps
// become ISO-8601 with a literal Z suffix, UUIDs become strings, bytea
// collapses to a length placeholder, slices keep only their top-level shape,
// everything else passes through unchanged.
func Cell(v any) any {
	switch val := v.(type) {
	case nil:
		return nil
	case pgtype.Numeric:
		return numericString(val)
	case int64:
		return clampInt(val)
	case int:
		return clampInt(int64(val))
	case int32:
		return val
	case int16:
		return val
	case uint64:
		if val > uint64(MaxSafeInteger) {
			return strconv.FormatUint(val, 10)
		}
		return val
	case time.Time:
		return Timestamp(val)
	case uuid.UUID:
		return val.String()
	case [16]byte:
		return uuid.UUID(val).String()
	case []byte:
		// Raw bytea never goes to the client, only its size.
		return fmt.Sprintf("<bytea %d bytes>", len(val))
	case []any:
		return val
	default:
		// Other slice kinds keep list shape without element conversion.
		rv := reflect.ValueOf(v)
		if rv.Kind() == reflect.Slice && rv.Type().Elem().Kind() != reflect.Uint8 {
			out := make([]any, rv.Len())
			for i := 0; i < rv.Len(); i++ {
				out[i] = rv.Index(i).Interface()
			}
			return out
		}
		return v
	}
}

// DateCell is Cell for columns the driver declares as date-only: a
// time.Time renders as YYYY-MM-DD instead of a full timestamp.
func DateCell(v any) any {
	if t, ok := v.(time.Time); ok {
		return t.Format("2006-01-02")
	}
	return Cell(v)
}

// Timestamp renders a timestamp as ISO-8601 with a literal Z appended.
// No timezone conversion happens; stored values are assumed UTC already.
func Timestamp(t time.Time) string {
	s := t.Format("2006-01-02T15:04:05")
	if ns := t.Nanosecond(); ns != 0 {
		s += "." + pad6(ns/1000)
	}
	return s + "Z"
}

func pad6(micros int) string {
	s := strconv.Itoa(micros)
	for len(s) < 6 {
		s = "0" + s
	}
	return s
}

func clampInt(v int64) any {
	if v > MaxSafeInteger || v < -MaxSafeInteger {
		return strconv.FormatInt(v, 10)
	}
	return v
}

// numericString renders a pgtype.Numeric exactly, without float conversion.
func numericString(n pgtype.Numeric) any {
	if !n.Valid {
		return nil
	}
	if n.NaN {
		return "NaN"
	}
	if n.InfinityModifier == pgtype.Infinity {
		return "Infinity"
	}
	if n.InfinityModifier == pgtype.NegativeInfinity {
		return "-Infinity"
	}

	digits := n.Int.String()
	neg := false
	if len(digits) > 0 && digits[0] == '-' {
		neg = true
		digits = digits[1:]
	}

	var s string
	switch {
	case n.Exp >= 0:
		s = digits
		for i := int32(0); i < n.Exp; i++ {
			s += "0"
		}
	default:
		scale := int(-n.Exp)
		for len(digits) <= scale {
			digits = "0" + digits
		}
		point := len(digits) - scale
		s = digits[:point] + "." + digits[point:]
	}

	if neg {
		s = "-" + s
	}
	return s
}
