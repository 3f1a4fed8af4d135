// Copyright 2025 Certen Protocol
//
// Package redact provides pattern-driven sanitization of captured call
// arguments, results, and errors before they are persisted or anchored.
package redact

import (
	"fmt"
	"reflect"
	"regexp"
	"sort"
)

// Pattern is a single named redaction rule applied to every string value
// encountered during a walk.
type Pattern struct {
	Name string
	re   *regexp.Regexp
}

// DefaultToken is substituted for any matched span when a Pattern or
// Redactor does not specify its own replacement.
const DefaultToken = "[REDACTED]"

// CircularToken replaces a value already seen earlier on the same walk.
const CircularToken = "[CIRCULAR]"

// builtinPatterns mirrors the built-in set named in the data model: SSNs,
// card PANs, API-key-shaped tokens, email addresses, bearer/JWT tokens,
// and 0x-prefixed 32-byte private keys.
var builtinPatterns = []Pattern{
	{Name: "ssn", re: regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)},
	{Name: "credit_card", re: regexp.MustCompile(`\b(?:4\d{3}|5[1-5]\d{2}|3[47]\d{2}|6011)[ -]?\d{4}[ -]?\d{4}[ -]?\d{1,4}\b`)},
	{Name: "api_key", re: regexp.MustCompile(`(?i)\b(?:sk-[a-z0-9]{16,}|api[_-]?key[=:]\s*[a-z0-9-_]{16,})\b`)},
	{Name: "email", re: regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)},
	{Name: "bearer_jwt", re: regexp.MustCompile(`(?i)\b(?:bearer\s+)?eyJ[a-zA-Z0-9_-]+\.[a-zA-Z0-9_-]+\.[a-zA-Z0-9_-]+\b`)},
	{Name: "private_key", re: regexp.MustCompile(`\b0x[0-9a-fA-F]{64}\b`)},
}

// Config controls which patterns a Redactor applies and what token is
// substituted for a match.
type Config struct {
	Patterns    []Pattern
	Token       string
	UseBuiltins bool
}

// DefaultConfig returns a Config with every built-in pattern enabled.
func DefaultConfig() Config {
	return Config{UseBuiltins: true, Token: DefaultToken}
}

// Redactor walks arbitrary values and substitutes matches of its
// configured patterns.
type Redactor struct {
	patterns []Pattern
	token    string
}

// New builds a Redactor from cfg. Patterns are combined in definition
// order: built-ins first (if enabled), then cfg.Patterns.
func New(cfg Config) *Redactor {
	token := cfg.Token
	if token == "" {
		token = DefaultToken
	}
	var patterns []Pattern
	if cfg.UseBuiltins {
		patterns = append(patterns, builtinPatterns...)
	}
	patterns = append(patterns, cfg.Patterns...)
	return &Redactor{patterns: patterns, token: token}
}

// NewPattern compiles a custom named pattern for use in Config.Patterns.
func NewPattern(name, expr string) (Pattern, error) {
	re, err := regexp.Compile(expr)
	if err != nil {
		return Pattern{}, err
	}
	return Pattern{Name: name, re: re}, nil
}

// Redact returns a sanitized copy of v. Maps, slices, arrays, and structs
// are walked recursively; every string leaf is passed through every
// configured pattern. The original value is never mutated.
func (r *Redactor) Redact(v any) any {
	return r.walk(v, map[uintptr]bool{})
}

func (r *Redactor) walk(v any, seen map[uintptr]bool) any {
	if v == nil {
		return nil
	}
	switch vv := v.(type) {
	case string:
		return r.redactString(vv)
	case map[string]any:
		if ptr := mapPointer(vv); ptr != 0 {
			if seen[ptr] {
				return CircularToken
			}
			seen[ptr] = true
		}
		keys := make([]string, 0, len(vv))
		for k := range vv {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make(map[string]any, len(vv))
		for _, k := range keys {
			out[k] = r.walk(vv[k], seen)
		}
		return out
	case []any:
		rv := reflect.ValueOf(vv)
		ptr := rv.Pointer()
		if ptr != 0 {
			if seen[ptr] {
				return CircularToken
			}
			seen[ptr] = true
		}
		out := make([]any, len(vv))
		for i, item := range vv {
			out[i] = r.walk(item, seen)
		}
		return out
	default:
		return r.walkReflect(reflect.ValueOf(v), seen)
	}
}

func (r *Redactor) walkReflect(rv reflect.Value, seen map[uintptr]bool) any {
	switch rv.Kind() {
	case reflect.String:
		return r.redactString(rv.String())
	case reflect.Map:
		if rv.IsNil() {
			return nil
		}
		ptr := rv.Pointer()
		if seen[ptr] {
			return CircularToken
		}
		seen[ptr] = true
		keys := make([]string, 0, rv.Len())
		keyByStr := map[string]reflect.Value{}
		for _, k := range rv.MapKeys() {
			s := fmtKey(k)
			keys = append(keys, s)
			keyByStr[s] = k
		}
		sort.Strings(keys)
		out := make(map[string]any, len(keys))
		for _, k := range keys {
			out[k] = r.walk(rv.MapIndex(keyByStr[k]).Interface(), seen)
		}
		return out
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return nil
		}
		var ptr uintptr
		if rv.Kind() == reflect.Slice {
			ptr = rv.Pointer()
			if ptr != 0 {
				if seen[ptr] {
					return CircularToken
				}
				seen[ptr] = true
			}
		}
		out := make([]any, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			out[i] = r.walk(rv.Index(i).Interface(), seen)
		}
		return out
	case reflect.Ptr:
		if rv.IsNil() {
			return nil
		}
		ptr := rv.Pointer()
		if seen[ptr] {
			return CircularToken
		}
		seen[ptr] = true
		return r.walkReflect(rv.Elem(), seen)
	case reflect.Interface:
		if rv.IsNil() {
			return nil
		}
		return r.walkReflect(rv.Elem(), seen)
	case reflect.Struct:
		out := map[string]any{}
		t := rv.Type()
		for i := 0; i < rv.NumField(); i++ {
			f := t.Field(i)
			if !f.IsExported() {
				continue
			}
			out[f.Name] = r.walk(rv.Field(i).Interface(), seen)
		}
		return out
	default:
		if rv.IsValid() && rv.CanInterface() {
			return rv.Interface()
		}
		return nil
	}
}

func (r *Redactor) redactString(s string) string {
	for _, p := range r.patterns {
		s = p.re.ReplaceAllString(s, r.token)
	}
	return s
}

func mapPointer(m map[string]any) uintptr {
	return reflect.ValueOf(m).Pointer()
}

// fmtKey renders a map key for sort/iteration purposes; non-string keys
// are formatted with fmt.Sprint, so distinct keys keep distinct entries
// in the copy.
func fmtKey(k reflect.Value) string {
	if k.Kind() == reflect.String {
		return k.String()
	}
	return fmt.Sprint(k.Interface())
}
