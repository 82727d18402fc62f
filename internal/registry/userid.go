package registry

import (
	"bytes"
	"encoding/json"
	"strings"
)

// UserID is the caller-supplied identifier of a participant. It is opaque:
// any JSON value is kept in compact form and encoded back exactly as
// received, so a numeric id stays a number on the way out.
//
// The zero value is an absent id.
type UserID struct {
	raw string
}

// StringUserID returns the UserID for a JSON string value s.
func StringUserID(s string) UserID {
	b, err := json.Marshal(s)
	if err != nil {
		return UserID{}
	}
	return UserID{raw: string(b)}
}

// IsZero reports whether the id is absent, null or the empty string.
func (id UserID) IsZero() bool {
	return id.raw == "" || id.raw == `""`
}

// String returns the text of a string id, or the compact JSON of any other
// value.
func (id UserID) String() string {
	if strings.HasPrefix(id.raw, `"`) {
		var s string
		if err := json.Unmarshal([]byte(id.raw), &s); err == nil {
			return s
		}
	}
	return id.raw
}

func (id UserID) MarshalJSON() ([]byte, error) {
	if id.raw == "" {
		return []byte("null"), nil
	}
	return []byte(id.raw), nil
}

func (id *UserID) UnmarshalJSON(b []byte) error {
	var buf bytes.Buffer
	if err := json.Compact(&buf, b); err != nil {
		return err
	}
	if buf.String() == "null" {
		*id = UserID{}
		return nil
	}
	*id = UserID{raw: buf.String()}
	return nil
}
