package pipeline

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/johndauphine/pg-rest-mirror/internal/source"
)

// Key tuples are encoded as type-tagged parts joined by an ASCII unit
// separator. The tag keeps 1 and "1" apart; the escaper keeps the
// separator and the null marker out of string content.
const (
	keySep  = "\x1f"
	keyNull = "\x00"
)

var keyEscaper = strings.NewReplacer(`\`, `\\`, keySep, `\u001f`, keyNull, `\u0000`)

// KeySet holds the encoded key tuple of every row delivered for a table.
type KeySet map[string]struct{}

func (s KeySet) Add(key string) { s[key] = struct{}{} }

func (s KeySet) Contains(key string) bool {
	_, ok := s[key]
	return ok
}

func (s KeySet) Len() int { return len(s) }

// EncodeKey builds the canonical encoding of one key tuple. Values taken
// from source rows and values decoded from sink JSON must encode
// identically, so every numeric Go type shares the "n:" form and sink
// responses are decoded with json.Number.
func EncodeKey(values []any) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = encodeKeyPart(v)
	}
	return strings.Join(parts, keySep)
}

func encodeKeyPart(v any) string {
	switch t := v.(type) {
	case nil:
		return keyNull
	case string:
		return "s:" + keyEscaper.Replace(t)
	case json.Number:
		return "n:" + canonicalNumber(t)
	case bool:
		return "b:" + strconv.FormatBool(t)
	case int64:
		return "n:" + strconv.FormatInt(t, 10)
	case int:
		return "n:" + strconv.Itoa(t)
	case int32:
		return "n:" + strconv.FormatInt(int64(t), 10)
	case int16:
		return "n:" + strconv.FormatInt(int64(t), 10)
	case uint64:
		return "n:" + strconv.FormatUint(t, 10)
	case float64:
		return "n:" + strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return "n:" + strconv.FormatFloat(float64(t), 'f', -1, 32)
	case time.Time:
		return "t:" + t.UTC().Format(time.RFC3339Nano)
	case []byte:
		return "s:" + keyEscaper.Replace(source.FormatBytea(t))
	default:
		return "s:" + keyEscaper.Replace(fmt.Sprintf("%v", t))
	}
}

// canonicalNumber strips the scientific notation a JSON number may carry
// so that 1e2 from one side matches 100 from the other. Plain decimal
// forms pass through untouched, keeping numeric scale ("12.50") intact.
func canonicalNumber(n json.Number) string {
	s := n.String()
	if !strings.ContainsAny(s, "eE") {
		return s
	}
	f, err := n.Float64()
	if err != nil {
		return s
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// keyIndexes maps key column names to their positions in the query
// output. A key column the query does not return fails the table.
func keyIndexes(columns, keyColumns []string) ([]int, error) {
	idx := make([]int, len(keyColumns))
	for i, key := range keyColumns {
		found := -1
		for j, col := range columns {
			if col == key {
				found = j
				break
			}
		}
		if found < 0 {
			return nil, fmt.Errorf("key column %q not returned by query (columns: %s)", key, strings.Join(columns, ", "))
		}
		idx[i] = found
	}
	return idx, nil
}

// KeyFromRow encodes the key tuple of one extracted row.
func KeyFromRow(row []any, keyIdx []int) string {
	values := make([]any, len(keyIdx))
	for i, j := range keyIdx {
		values[i] = row[j]
	}
	return EncodeKey(values)
}

// KeyFromRecord encodes the key tuple of one sink record. A key column
// missing from the record encodes as NULL, matching PostgREST's JSON
// null for nullable columns.
func KeyFromRecord(record map[string]any, keyColumns []string) string {
	values := make([]any, len(keyColumns))
	for i, col := range keyColumns {
		values[i] = record[col]
	}
	return EncodeKey(values)
}
