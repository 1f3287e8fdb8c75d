package policy

import (
	"encoding/json"
	"regexp"
)

const redactedMark = "[REDACTED]"

// Redactor masks text matching the policy's forbidden secret patterns.
// It is applied to error messages and provenance artifacts at persistence
// time so secrets never reach durable storage.
type Redactor struct {
	patterns []*regexp.Regexp
}

// NewRedactor builds a redactor from the policy's compiled secret patterns.
func NewRedactor(policy *SafetyPolicy) *Redactor {
	return &Redactor{patterns: policy.SecretPatterns()}
}

// Mask replaces every secret match in s with the redaction mark.
func (r *Redactor) Mask(s string) string {
	for _, re := range r.patterns {
		s = re.ReplaceAllString(s, redactedMark)
	}
	return s
}

// MaskSlice masks every element of a string slice in place and returns it.
func (r *Redactor) MaskSlice(ss []string) []string {
	for i := range ss {
		ss[i] = r.Mask(ss[i])
	}
	return ss
}

// MaskJSON serializes v, masks every string value, and returns the
// redacted JSON bytes. Used for stage artifacts whose nested fields may
// carry log excerpts.
func (r *Redactor) MaskJSON(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var decoded interface{}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, err
	}
	return json.Marshal(r.maskValue(decoded))
}

func (r *Redactor) maskValue(v interface{}) interface{} {
	switch t := v.(type) {
	case string:
		return r.Mask(t)
	case map[string]interface{}:
		for k, val := range t {
			t[k] = r.maskValue(val)
		}
		return t
	case []interface{}:
		for i, val := range t {
			t[i] = r.maskValue(val)
		}
		return t
	default:
		return v
	}
}
