package mirror

import (
	"bytes"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"math"
	"sort"
	"strconv"
	"strings"
)

// digestLength is the number of hex characters kept from the SHA-1 sum.
const digestLength = 16

// DigestScopes are the scopes the server publishes hashes for.
var DigestScopes = []Scope{ScopePlayers, ScopeEntities, ScopeWaypoints}

// Digest hashes a scope map the same way the server does: one line per
// record, sorted by id, "json(id):canonical(record)", joined by newlines.
func Digest(recs map[string]Record) string {
	ids := make([]string, 0, len(recs))
	for id := range recs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	lines := make([]string, 0, len(ids))
	for _, id := range ids {
		lines = append(lines, jsonString(id)+":"+Canonical(map[string]any(recs[id])))
	}

	sum := sha1.Sum([]byte(strings.Join(lines, "\n")))
	return hex.EncodeToString(sum[:])[:digestLength]
}

// Canonical renders a decoded JSON value deterministically: sorted object
// keys, floats rounded to six decimals with trailing zeros stripped.
func Canonical(v any) string {
	switch val := v.(type) {
	case nil:
		return "null"
	case bool:
		if val {
			return "true"
		}
		return "false"
	case json.Number:
		s := val.String()
		if strings.ContainsAny(s, ".eE") {
			f, err := val.Float64()
			if err != nil {
				return jsonString(s)
			}
			return canonicalNumber(f)
		}
		return s
	case float64:
		return canonicalNumber(val)
	case float32:
		return canonicalNumber(float64(val))
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case string:
		return jsonString(val)
	case Record:
		return Canonical(map[string]any(val))
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		items := make([]string, 0, len(keys))
		for _, k := range keys {
			items = append(items, jsonString(k)+":"+Canonical(val[k]))
		}
		return "{" + strings.Join(items, ",") + "}"
	case []any:
		items := make([]string, 0, len(val))
		for _, item := range val {
			items = append(items, Canonical(item))
		}
		return "[" + strings.Join(items, ",") + "]"
	default:
		data, err := json.Marshal(val)
		if err != nil {
			return "null"
		}
		return string(data)
	}
}

func canonicalNumber(f float64) string {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return "null"
	}
	text := strconv.FormatFloat(f, 'f', 6, 64)
	text = strings.TrimRight(text, "0")
	text = strings.TrimSuffix(text, ".")
	if text == "" || text == "-0" {
		return "0"
	}
	return text
}

func jsonString(s string) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return `""`
	}
	return strings.TrimSuffix(buf.String(), "\n")
}

// Digests computes the local hash of every digest scope.
func (m *Mirror) Digests() map[Scope]string {
	out := make(map[Scope]string, len(DigestScopes))
	for _, s := range DigestScopes {
		out[s] = Digest(m.scopes[s])
	}
	return out
}

// VerifyDigest compares server hashes with local ones and returns the
// scopes that differ. Scopes the server did not hash are not compared.
func (m *Mirror) VerifyDigest(hashes map[string]string) []Scope {
	var mismatched []Scope
	local := m.Digests()
	for _, s := range DigestScopes {
		remote, ok := hashes[string(s)]
		if !ok {
			continue
		}
		if remote != local[s] {
			mismatched = append(mismatched, s)
		}
	}
	return mismatched
}
