package mirror

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Record is one mirrored object as received from the server. Numbers are
// kept as json.Number so integer and float values stay distinguishable.
type Record map[string]any

// DecodeRecord parses a raw record. Nodes wrapped as {"data": {...}} are
// unwrapped.
func DecodeRecord(raw json.RawMessage) (Record, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var node map[string]any
	if err := dec.Decode(&node); err != nil {
		return nil, fmt.Errorf("decoding record: %w", err)
	}
	if node == nil {
		return nil, fmt.Errorf("decoding record: not an object")
	}
	if inner, ok := node["data"].(map[string]any); ok {
		return Record(inner), nil
	}
	return Record(node), nil
}

// Clone returns a shallow copy.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Merge returns a copy of r with every field of delta applied on top.
func (r Record) Merge(delta Record) Record {
	out := r.Clone()
	for k, v := range delta {
		out[k] = v
	}
	return out
}

// Float reads a numeric field. Numeric strings are accepted.
func (r Record) Float(key string) (float64, bool) {
	var f float64
	switch v := r[key].(type) {
	case json.Number:
		n, err := v.Float64()
		if err != nil {
			return 0, false
		}
		f = n
	case float64:
		f = v
	case float32:
		f = float64(v)
	case int:
		f = float64(v)
	case int64:
		f = float64(v)
	case string:
		n, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, false
		}
		f = n
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// String reads a string field. Numbers are rendered in their wire form.
func (r Record) String(key string) string {
	switch v := r[key].(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	default:
		return ""
	}
}

// Position returns the three coordinate axes when all are numeric.
func (r Record) Position() (x, y, z float64, ok bool) {
	var okX, okY, okZ bool
	x, okX = r.Float("x")
	y, okY = r.Float("y")
	z, okZ = r.Float("z")
	return x, y, z, okX && okY && okZ
}

// Dimension returns the raw dimension tag.
func (r Record) Dimension() string {
	return strings.TrimSpace(r.String("dimension"))
}

// Health returns the health field when present and numeric.
func (r Record) Health() (float64, bool) {
	return r.Float("health")
}

// Name returns the best human-readable name carried by the record itself.
func (r Record) Name(id string) string {
	for _, key := range []string{"playerName", "name", "playerUUID"} {
		if s := strings.TrimSpace(r.String(key)); s != "" {
			return s
		}
	}
	return id
}
