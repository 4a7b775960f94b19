package source

import (
	"database/sql/driver"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// normalizePostgresValue converts pgx-decoded values into JSON-ready Go
// values.
func normalizePostgresValue(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case [16]byte:
		// uuid columns decode to raw bytes
		return uuid.UUID(t).String()
	case []byte:
		return FormatBytea(t)
	case driver.Valuer:
		// pgtype values such as numeric render themselves
		out, err := t.Value()
		if err != nil {
			return v
		}
		if s, ok := out.(string); ok && looksNumeric(s) {
			return json.Number(s)
		}
		return out
	default:
		return v
	}
}

// normalizeMSSQLValue handles SQL Server driver quirks per column type.
func normalizeMSSQLValue(val any, colType string) any {
	if val == nil {
		return nil
	}

	switch colType {
	case "binary", "varbinary", "image", "timestamp", "rowversion":
		if v, ok := val.([]byte); ok {
			if len(v) == 0 {
				return nil
			}
			return FormatBytea(v)
		}
	case "uniqueidentifier":
		switch v := val.(type) {
		case []byte:
			if len(v) == 16 {
				return formatGUID(v)
			}
			return string(v)
		case string:
			return v
		}
	case "decimal", "numeric", "money", "smallmoney":
		// Decimals arrive as their textual bytes; keep them numbers in JSON
		if v, ok := val.([]byte); ok {
			return json.Number(string(v))
		}
	case "bit":
		switch v := val.(type) {
		case bool:
			return v
		case int64:
			return v != 0
		}
	case "datetime", "datetime2", "smalldatetime", "datetimeoffset":
		if v, ok := val.(time.Time); ok {
			// SQL Server sentinel dates below year 1 have no JSON form
			if v.Year() < 1 {
				return nil
			}
			return v
		}
	}

	return val
}

// FormatBytea renders binary data in PostgreSQL hex format, which the
// sink accepts for bytea columns.
func FormatBytea(data []byte) string {
	return "\\x" + hex.EncodeToString(data)
}

// formatGUID converts SQL Server GUID bytes to a UUID string. The first
// three groups are stored little-endian and need reversing.
func formatGUID(b []byte) string {
	if len(b) != 16 {
		return hex.EncodeToString(b)
	}
	return fmt.Sprintf("%02x%02x%02x%02x-%02x%02x-%02x%02x-%02x%02x-%02x%02x%02x%02x%02x%02x",
		b[3], b[2], b[1], b[0],
		b[5], b[4],
		b[7], b[6],
		b[8], b[9],
		b[10], b[11], b[12], b[13], b[14], b[15])
}

func looksNumeric(s string) bool {
	if s == "" {
		return false
	}
	_, err := strconv.ParseFloat(s, 64)
	return err == nil
}
