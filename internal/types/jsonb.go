package types

import (
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// Compile-time interface assertions.
// These ensure all JSONB types implement both sql.Scanner and driver.Valuer,
// catching any method signature drift at compile time rather than at runtime.
// Scan is on pointer receivers; Value is on value receivers.
var (
	_ sql.Scanner   = (*RawPayload)(nil)
	_ driver.Valuer = RawPayload(nil)
	_ sql.Scanner   = (*LinkageMeta)(nil)
	_ driver.Valuer = LinkageMeta{}
)

// scanJSONB is a generic helper that scans a JSONB database value into a Go pointer.
// It handles nil values, []byte, and string representations from different database drivers.
func scanJSONB(dest interface{}, value interface{}) error {
	if value == nil {
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("jsonb: unsupported scan type %T", value)
	}
	return json.Unmarshal(data, dest)
}

// ---------------------------------------------------------------------------
// RawPayload
// ---------------------------------------------------------------------------

// RawPayload stores a verified provider payload verbatim on the transaction
// row (the ipn column) for audit and replay. The bytes are always valid JSON
// by the time they reach storage; the verifier rejects anything else.
type RawPayload json.RawMessage

// Scan implements the sql.Scanner interface for reading JSONB from the database.
func (rp *RawPayload) Scan(value interface{}) error {
	if value == nil {
		*rp = nil
		return nil
	}
	switch v := value.(type) {
	case []byte:
		buf := make([]byte, len(v))
		copy(buf, v)
		*rp = buf
		return nil
	case string:
		*rp = RawPayload(v)
		return nil
	default:
		return fmt.Errorf("jsonb: unsupported scan type %T", value)
	}
}

// Value implements the driver.Valuer interface for writing JSONB to the database.
// Empty payloads are stored as NULL rather than an empty (invalid) JSON document.
func (rp RawPayload) Value() (driver.Value, error) {
	if len(rp) == 0 {
		return nil, nil
	}
	return []byte(rp), nil
}

// MarshalJSON passes the stored bytes through unchanged.
func (rp RawPayload) MarshalJSON() ([]byte, error) {
	if len(rp) == 0 {
		return []byte("null"), nil
	}
	return rp, nil
}

// UnmarshalJSON stores a copy of the incoming bytes.
func (rp *RawPayload) UnmarshalJSON(data []byte) error {
	buf := make([]byte, len(data))
	copy(buf, data)
	*rp = buf
	return nil
}

// ---------------------------------------------------------------------------
// LinkageMeta
// ---------------------------------------------------------------------------

// Scan implements the sql.Scanner interface for reading JSONB from the database.
func (m *LinkageMeta) Scan(value interface{}) error {
	if value == nil {
		*m = LinkageMeta{}
		return nil
	}
	return scanJSONB(m, value)
}

// Value implements the driver.Valuer interface for writing JSONB to the database.
func (m LinkageMeta) Value() (driver.Value, error) {
	if m.IsEmpty() {
		return nil, nil
	}
	return json.Marshal(m)
}
