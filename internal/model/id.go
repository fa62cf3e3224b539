package model

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ID is an opaque backend identifier. The exam backend hands out both
// numeric and string keys, and each is sent back in the JSON form it
// arrived in. An ID built from a Go string that looks like an integer
// encodes as a JSON number.
type ID string

// quotedMark prefixes integer-looking ids that arrived as JSON strings so
// they are encoded as strings again. It never appears in String.
const quotedMark = "\x00"

// StringID returns an ID that always encodes as a JSON string.
func StringID(s string) ID {
	if isCanonicalInt(s) {
		return ID(quotedMark + s)
	}
	return ID(s)
}

// String returns the textual form of the identifier.
func (id ID) String() string { return strings.TrimPrefix(string(id), quotedMark) }

// Equal reports whether two identifiers have the same text, whatever
// JSON form they arrived in.
func (id ID) Equal(other ID) bool { return id.String() == other.String() }

// IsZero reports whether the identifier is empty.
func (id ID) IsZero() bool { return id == "" }

// MarshalJSON implements json.Marshaler.
func (id ID) MarshalJSON() ([]byte, error) {
	if isCanonicalInt(string(id)) {
		return []byte(id), nil
	}
	return json.Marshal(id.String())
}

// UnmarshalJSON implements json.Unmarshaler. Accepts strings, numbers and null.
func (id *ID) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = StringID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("id must be a string or a number: %w", err)
	}
	*id = ID(n.String())
	return nil
}

// isCanonicalInt matches -?(0|[1-9][0-9]*), the form JSON numbers take
// when a backend serializes an integer key.
func isCanonicalInt(s string) bool {
	if s == "" {
		return false
	}
	if s[0] == '-' {
		s = s[1:]
	}
	if s == "" || len(s) > 18 {
		return false
	}
	if s[0] == '0' {
		return len(s) == 1
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
