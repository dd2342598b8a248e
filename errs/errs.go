// Package errs provides structured error types shared across the discovery engine.
package errs

import (
	"sort"
	"strconv"
	"strings"
)

// Code identifies an error category from the engine's error taxonomy (spec §7).
type Code string

const (
	// CodeTransport marks a provider HTTP timeout/5xx/parse failure (kind 1).
	CodeTransport Code = "transport"
	// CodeLockBusy marks a lost race for a bucket's advisory lock (kind 2).
	CodeLockBusy Code = "lock_busy"
	// CodeDBTransient marks a serialization failure, deadlock, or dropped connection (kind 3).
	CodeDBTransient Code = "db_transient"
	// CodeInvariantViolation marks a computed drop that contradicts the stored baseline (kind 4).
	CodeInvariantViolation Code = "invariant_violation"
	// CodePushFatal marks a misconfigured key or invalid device token (kind 5).
	CodePushFatal Code = "push_fatal"
	// CodeRetention marks a single failed prune step (kind 6).
	CodeRetention Code = "retention_failure"
	// CodeInvalid marks invalid configuration or caller input.
	CodeInvalid Code = "invalid_request"
	// CodeNotFound marks a missing resource.
	CodeNotFound Code = "not_found"
	// CodeConflict marks a concurrent mutation conflict.
	CodeConflict Code = "conflict"
)

// CanonicalCode captures provider-agnostic failure categories.
type CanonicalCode string

const (
	// CanonicalUnknown captures uncategorized failures.
	CanonicalUnknown CanonicalCode = "unknown"
	// CanonicalBucketMissing indicates the referenced bucket does not exist.
	CanonicalBucketMissing CanonicalCode = "bucket_missing"
	// CanonicalSlotMissing indicates the referenced slot has no projection row.
	CanonicalSlotMissing CanonicalCode = "slot_missing"
	// CanonicalProviderUnsupported indicates no adapter is registered for the requested id.
	CanonicalProviderUnsupported CanonicalCode = "provider_unsupported"
)

// E captures structured error information produced across the engine.
type E struct {
	Provider  string
	Component string
	Code      Code
	Canonical CanonicalCode
	Message   string
	Fields    map[string]string

	cause error
}

// Option configures an error envelope.
type Option func(*E)

// New constructs an error envelope tagged with the owning component and error code.
func New(component string, code Code, opts ...Option) *E {
	e := &E{
		Provider:  "",
		Component: strings.TrimSpace(component),
		Code:      code,
		Canonical: CanonicalUnknown,
		Message:   "",
		Fields:    nil,
		cause:     nil,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// WithMessage attaches a human-readable message to the error.
func WithMessage(message string) Option {
	trimmed := strings.TrimSpace(message)
	return func(e *E) { e.Message = trimmed }
}

// WithProvider records which booking provider the failure originated from, if any.
func WithProvider(provider string) Option {
	trimmed := strings.TrimSpace(provider)
	return func(e *E) { e.Provider = trimmed }
}

// WithCause sets the underlying cause error.
func WithCause(err error) Option {
	return func(e *E) { e.cause = err }
}

// WithCanonicalCode sets the canonical error code describing the failure category.
func WithCanonicalCode(code CanonicalCode) Option {
	trimmed := strings.TrimSpace(string(code))
	return func(e *E) {
		if trimmed == "" {
			e.Canonical = CanonicalUnknown
			return
		}
		e.Canonical = CanonicalCode(trimmed)
	}
}

// WithField attaches a single structured field (e.g. bucket_id, slot_id, run_id) for log correlation.
func WithField(key, value string) Option {
	return func(e *E) {
		trimmedKey := strings.TrimSpace(key)
		if trimmedKey == "" {
			return
		}
		if e.Fields == nil {
			e.Fields = make(map[string]string, 1)
		}
		e.Fields[trimmedKey] = value
	}
}

// WithFields merges the provided structured fields into the error envelope.
func WithFields(fields map[string]string) Option {
	return func(e *E) {
		if len(fields) == 0 {
			return
		}
		if e.Fields == nil {
			e.Fields = make(map[string]string, len(fields))
		}
		for k, v := range fields {
			key := strings.TrimSpace(k)
			if key == "" {
				continue
			}
			e.Fields[key] = v
		}
	}
}

func (e *E) Error() string {
	if e == nil {
		return "<nil>"
	}
	var parts []string

	component := strings.TrimSpace(e.Component)
	if component == "" {
		component = "engine"
	}
	parts = append(parts, "component="+component)

	code := strings.TrimSpace(string(e.Code))
	if code == "" {
		code = "unknown"
	}
	parts = append(parts, "code="+code)

	if cc := strings.TrimSpace(string(e.Canonical)); cc != "" && cc != string(CanonicalUnknown) {
		parts = append(parts, "canonical="+cc)
	}
	if e.Provider != "" {
		parts = append(parts, "provider="+e.Provider)
	}
	if e.Message != "" {
		parts = append(parts, "message="+strconv.Quote(e.Message))
	}
	if len(e.Fields) > 0 {
		keys := make([]string, 0, len(e.Fields))
		for k := range e.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		pairs := make([]string, 0, len(keys))
		for _, k := range keys {
			pairs = append(pairs, k+"="+strconv.Quote(e.Fields[k]))
		}
		parts = append(parts, "fields="+strings.Join(pairs, ","))
	}
	if e.cause != nil {
		parts = append(parts, "cause="+strconv.Quote(e.cause.Error()))
	}

	return strings.Join(parts, " ")
}

func (e *E) Unwrap() error { return e.cause }

// IsLockBusy reports whether err is (or wraps) an advisory-lock-contention error.
func IsLockBusy(err error) bool {
	var e *E
	if !asE(err, &e) {
		return false
	}
	return e.Code == CodeLockBusy
}

// IsTransport reports whether err is (or wraps) a provider transport failure.
func IsTransport(err error) bool {
	var e *E
	if !asE(err, &e) {
		return false
	}
	return e.Code == CodeTransport
}

func asE(err error, target **E) bool {
	for err != nil {
		if e, ok := err.(*E); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
