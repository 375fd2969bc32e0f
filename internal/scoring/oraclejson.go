package scoring

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/dlegrain/EVAL-COSEP/internal/domain"
	"github.com/dlegrain/EVAL-COSEP/pkg/textx"
)

// CommentMaxRunes bounds every oracle comment copied into a result.
const CommentMaxRunes = 140

// ExtractJSONObject returns the first balanced top-level JSON object found in
// raw. Braces inside string literals are ignored, markdown fences are dropped
// and trailing commas before a closing bracket are removed.
func ExtractJSONObject(raw string) (string, bool) {
	s := stripCodeFences(raw)
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inString, escaped := false, false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return dropTrailingCommas(s[start : i+1]), true
			}
		}
	}
	return "", false
}

func stripCodeFences(s string) string {
	if !strings.Contains(s, "```") {
		return s
	}
	lines := strings.Split(s, "\n")
	kept := lines[:0]
	for _, l := range lines {
		if strings.HasPrefix(strings.TrimSpace(l), "```") {
			continue
		}
		kept = append(kept, l)
	}
	return strings.Join(kept, "\n")
}

// dropTrailingCommas removes commas directly followed (modulo whitespace) by
// a closing brace or bracket, outside string literals.
func dropTrailingCommas(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inString, escaped := false, false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			b.WriteByte(c)
			continue
		}
		if c == '"' {
			inString = true
		}
		if c == ',' {
			j := i + 1
			for j < len(s) && (s[j] == ' ' || s[j] == '\n' || s[j] == '\r' || s[j] == '\t') {
				j++
			}
			if j < len(s) && (s[j] == '}' || s[j] == ']') {
				continue
			}
		}
		b.WriteByte(c)
	}
	return b.String()
}

// decodeOracleObject extracts the first JSON object from raw and decodes it
// into v. Both a missing object and an undecodable one are ErrOracleMalformed.
func decodeOracleObject(raw string, v any) error {
	obj, ok := ExtractJSONObject(raw)
	if !ok {
		return fmt.Errorf("no JSON object in oracle output: %w", domain.ErrOracleMalformed)
	}
	if err := json.Unmarshal([]byte(obj), v); err != nil {
		return fmt.Errorf("decode oracle output: %v: %w", err, domain.ErrOracleMalformed)
	}
	return nil
}

// decodeOracleItems extracts the first JSON object from raw and decodes the
// array held by the first of keys that yields at least one item. Elements that
// do not decode as T are skipped and a non-array value counts as empty. Only a
// missing or unparseable object is ErrOracleMalformed.
func decodeOracleItems[T any](raw string, keys ...string) ([]T, error) {
	obj, ok := ExtractJSONObject(raw)
	if !ok {
		return nil, fmt.Errorf("no JSON object in oracle output: %w", domain.ErrOracleMalformed)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(obj), &fields); err != nil {
		return nil, fmt.Errorf("decode oracle output: %v: %w", err, domain.ErrOracleMalformed)
	}
	for _, key := range keys {
		var elems []json.RawMessage
		if err := json.Unmarshal(fields[key], &elems); err != nil {
			continue
		}
		items := make([]T, 0, len(elems))
		for _, e := range elems {
			var it T
			if err := json.Unmarshal(e, &it); err != nil {
				continue
			}
			items = append(items, it)
		}
		if len(items) > 0 {
			return items, nil
		}
	}
	return nil, nil
}

// flexScore accepts a JSON number, a numeric string ("85", "85%", "85/100")
// or null. Anything else decodes as an invalid score.
type flexScore struct {
	Value float64
	Valid bool
}

func (f *flexScore) UnmarshalJSON(b []byte) error {
	*f = flexScore{}
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return nil
		}
		s = strings.TrimSpace(s)
		if i := strings.IndexByte(s, '/'); i >= 0 {
			s = s[:i]
		}
		s = strings.TrimSpace(strings.TrimSuffix(s, "%"))
		s = strings.Replace(s, ",", ".", 1)
		if v, err := strconv.ParseFloat(s, 64); err == nil && !math.IsNaN(v) && !math.IsInf(v, 0) {
			*f = flexScore{Value: v, Valid: true}
		}
		return nil
	}
	var v float64
	if err := json.Unmarshal(b, &v); err == nil {
		*f = flexScore{Value: v, Valid: true}
	}
	return nil
}

// Percent clamps the score to an integer in [0,100]. Invalid scores are 0.
func (f flexScore) Percent() float64 {
	if !f.Valid {
		return 0
	}
	return math.Round(clamp(f.Value, 0, 100))
}

// flexString coerces any JSON scalar to text. Objects and arrays keep their
// compact JSON encoding; null is empty.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case len(b) == 0 || bytes.Equal(b, []byte("null")):
		*f = ""
	case b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
	case b[0] == '{' || b[0] == '[':
		var buf bytes.Buffer
		if err := json.Compact(&buf, b); err != nil {
			return err
		}
		*f = flexString(buf.String())
	default:
		*f = flexString(b)
	}
	return nil
}

func (f flexString) String() string { return string(f) }

func truncateComment(s string) string {
	return textx.Truncate(strings.TrimSpace(s), CommentMaxRunes)
}
