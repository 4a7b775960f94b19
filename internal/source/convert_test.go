package source

import (
	"database/sql/driver"
	"encoding/json"
	"reflect"
	"testing"
	"time"
)

type fakeValuer struct {
	s string
}

func (f fakeValuer) Value() (driver.Value, error) {
	return f.s, nil
}

func TestNormalizePostgresValue(t *testing.T) {
	uuidBytes := [16]byte{0x12, 0x34, 0x56, 0x78, 0x9a, 0xbc, 0xde, 0xf0,
		0x11, 0x22, 0x33, 0x44, 0x55, 0x66, 0x77, 0x88}

	ts := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		in   any
		want any
	}{
		{"nil", nil, nil},
		{"string passthrough", "hello", "hello"},
		{"int passthrough", int64(42), int64(42)},
		{"bool passthrough", true, true},
		{"time passthrough", ts, ts},
		{"uuid bytes", uuidBytes, "12345678-9abc-def0-1122-334455667788"},
		{"bytea", []byte{0xde, 0xad}, "\\xdead"},
		{"numeric valuer", fakeValuer{"12.50"}, json.Number("12.50")},
		{"text valuer", fakeValuer{"interval-ish"}, "interval-ish"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := normalizePostgresValue(tt.in)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("normalizePostgresValue(%v) = %#v, want %#v", tt.in, got, tt.want)
			}
		})
	}
}

func TestNormalizeMSSQLValue(t *testing.T) {
	guid := []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08,
		0x09, 0x0a, 0x0b, 0x0c, 0x0d, 0x0e, 0x0f, 0x10}

	tests := []struct {
		name    string
		val     any
		colType string
		want    any
	}{
		{"nil stays nil", nil, "int", nil},
		{"varbinary to hex", []byte{0xca, 0xfe}, "varbinary", "\\xcafe"},
		{"empty varbinary to nil", []byte{}, "varbinary", nil},
		{"guid reorders bytes", guid, "uniqueidentifier", "04030201-0605-0807-090a-0b0c0d0e0f10"},
		{"guid as string", "ABCD", "uniqueidentifier", "ABCD"},
		{"decimal bytes to number", []byte("123.45"), "decimal", json.Number("123.45")},
		{"money bytes to number", []byte("99.99"), "money", json.Number("99.99")},
		{"bit from int64", int64(1), "bit", true},
		{"bit zero", int64(0), "bit", false},
		{"int passthrough", int64(7), "int", int64(7)},
		{"nvarchar passthrough", "text", "nvarchar", "text"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := normalizeMSSQLValue(tt.val, tt.colType)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("normalizeMSSQLValue(%v, %q) = %#v, want %#v", tt.val, tt.colType, got, tt.want)
			}
		})
	}
}

func TestNormalizeMSSQLValueSentinelDate(t *testing.T) {
	early := time.Date(0, 1, 1, 0, 0, 0, 0, time.UTC)
	if got := normalizeMSSQLValue(early, "datetime"); got != nil {
		t.Errorf("expected nil for year-zero datetime, got %v", got)
	}

	ok := time.Date(1753, 1, 1, 0, 0, 0, 0, time.UTC)
	if got := normalizeMSSQLValue(ok, "datetime"); got != ok {
		t.Errorf("expected passthrough for valid datetime, got %v", got)
	}
}

func TestLooksNumeric(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"123", true},
		{"12.50", true},
		{"-0.5", true},
		{"1e6", true},
		{"", false},
		{"abc", false},
		{"12.3.4", false},
	}

	for _, tt := range tests {
		if got := looksNumeric(tt.in); got != tt.want {
			t.Errorf("looksNumeric(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
