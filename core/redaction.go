package core

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

const RedactedValue = "***REDACTED***"

// DefaultRedactFields is the deny-list applied to every persisted vendor payload.
var DefaultRedactFields = []string{"ssn", "dob", "taxId", "accountNumber", "routingNumber"}

var logRedactionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),
	regexp.MustCompile(`\b\d{4}-\d{4}-\d{4}-\d{4}\b`),
	regexp.MustCompile(`\b\d{16}\b`),
}

// Redactor masks deny-listed keys at any depth. Keys match case-insensitively
// with separators ignored, so taxId, tax_id and TAX-ID are the same field.
type Redactor struct {
	fields map[string]struct{}
}

func NewRedactor(extra ...string) Redactor {
	fields := make(map[string]struct{}, len(DefaultRedactFields)+len(extra))
	for _, field := range DefaultRedactFields {
		fields[normalizeRedactKey(field)] = struct{}{}
	}
	for _, field := range extra {
		if key := normalizeRedactKey(field); key != "" {
			fields[key] = struct{}{}
		}
	}
	return Redactor{fields: fields}
}

// With returns a redactor that also masks the given fields.
func (r Redactor) With(extra ...string) Redactor {
	fields := make(map[string]struct{}, len(r.fields)+len(extra))
	for key := range r.fields {
		fields[key] = struct{}{}
	}
	for _, field := range extra {
		if key := normalizeRedactKey(field); key != "" {
			fields[key] = struct{}{}
		}
	}
	return Redactor{fields: fields}
}

func (r Redactor) Map(source map[string]any) map[string]any {
	if len(source) == 0 {
		return map[string]any{}
	}
	return r.redactMap(source)
}

func (r Redactor) redactMap(source map[string]any) map[string]any {
	target := make(map[string]any, len(source))
	for key, value := range source {
		if r.shouldRedact(key) {
			target[key] = RedactedValue
			continue
		}
		target[key] = r.redactValue(value)
	}
	return target
}

func (r Redactor) redactValue(value any) any {
	switch typed := value.(type) {
	case map[string]any:
		return r.redactMap(typed)
	case []any:
		out := make([]any, len(typed))
		for i := range typed {
			out[i] = r.redactValue(typed[i])
		}
		return out
	case []map[string]any:
		out := make([]any, len(typed))
		for i := range typed {
			out[i] = r.redactMap(typed[i])
		}
		return out
	default:
		return value
	}
}

func (r Redactor) shouldRedact(key string) bool {
	normalized := normalizeRedactKey(key)
	if normalized == "" {
		return false
	}
	if _, ok := r.fields[normalized]; ok {
		return true
	}
	return isSecretKey(normalized)
}

func isSecretKey(key string) bool {
	for _, token := range []string{"password", "secret", "authorization", "apikey", "accesskey", "signature"} {
		if strings.Contains(key, token) {
			return true
		}
	}
	return false
}

func normalizeRedactKey(key string) string {
	key = strings.ToLower(strings.TrimSpace(key))
	key = strings.ReplaceAll(key, "_", "")
	key = strings.ReplaceAll(key, "-", "")
	return key
}

// RedactPayload converts any JSON-serializable payload into a redacted map.
// Non-object payloads are wrapped under "value".
func RedactPayload(payload any, extra ...string) (map[string]any, error) {
	asMap, err := ToMap(payload)
	if err != nil {
		return nil, err
	}
	return NewRedactor(extra...).Map(asMap), nil
}

// ToMap normalizes a payload into a generic map through its JSON form.
func ToMap(payload any) (map[string]any, error) {
	switch typed := payload.(type) {
	case nil:
		return map[string]any{}, nil
	case map[string]any:
		return typed, nil
	case json.RawMessage:
		return decodeMap(typed)
	case []byte:
		return decodeMap(typed)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("core: encode payload: %w", err)
	}
	return decodeMap(raw)
}

func decodeMap(raw []byte) (map[string]any, error) {
	if len(strings.TrimSpace(string(raw))) == 0 {
		return map[string]any{}, nil
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("core: decode payload: %w", err)
	}
	if asMap, ok := decoded.(map[string]any); ok {
		return asMap, nil
	}
	return map[string]any{"value": decoded}, nil
}

// RedactLogLine masks SSN and card number patterns in free-form text.
func RedactLogLine(line string) string {
	for _, pattern := range logRedactionPatterns {
		line = pattern.ReplaceAllString(line, RedactedValue)
	}
	return line
}
