package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
)

const maxBodyBytes = 1 << 20

// decodeJSON reads a JSON object body into dst. An empty body decodes as
// {}. On failure it writes the 400 and returns false.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(dst)
	if err == nil || errors.Is(err, io.EOF) {
		return true
	}
	writeError(w, http.StatusBadRequest, "invalid JSON body")
	return false
}

// The request fields below accept whatever loosely typed clients send and
// record whether the key was present at all.

// optString is a string field. Numbers are taken verbatim; null and other
// types leave Value nil.
type optString struct {
	Set   bool
	Value *string
}

func (o *optString) UnmarshalJSON(data []byte) error {
	o.Set = true
	o.Value = nil
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0 || data[0] == 'n':
	case data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		o.Value = &s
	case data[0] == '-' || (data[0] >= '0' && data[0] <= '9'):
		s := string(data)
		o.Value = &s
	}
	return nil
}

// String returns the value or "".
func (o optString) String() string {
	if o.Value == nil {
		return ""
	}
	return *o.Value
}

// optNumber is a numeric field given as a JSON number or a numeric string.
// Valid is false when the value could not be read as a finite number.
type optNumber struct {
	Set   bool
	Valid bool
	Value float64
}

func (o *optNumber) UnmarshalJSON(data []byte) error {
	o.Set = true
	o.Valid = false
	o.Value = 0
	data = bytes.TrimSpace(data)
	raw := string(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		raw = strings.TrimSpace(s)
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	o.Valid = true
	o.Value = f
	return nil
}

// Float returns the value, or 0 when absent or unreadable.
func (o optNumber) Float() float64 {
	if !o.Valid {
		return 0
	}
	return o.Value
}

// Ptr returns nil when absent or unreadable.
func (o optNumber) Ptr() *float64 {
	if !o.Valid {
		return nil
	}
	v := o.Value
	return &v
}

// optBool follows truthiness: true, a non-zero number, a non-empty string,
// array or object.
type optBool struct {
	Set   bool
	Value bool
}

func (o *optBool) UnmarshalJSON(data []byte) error {
	o.Set = true
	o.Value = false
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil
	}
	switch data[0] {
	case 't':
		o.Value = true
	case 'f', 'n':
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		o.Value = s != ""
	case '[':
		var v []json.RawMessage
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		o.Value = len(v) > 0
	case '{':
		var v map[string]json.RawMessage
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		o.Value = len(v) > 0
	default:
		f, err := strconv.ParseFloat(string(data), 64)
		o.Value = err == nil && f != 0
	}
	return nil
}
