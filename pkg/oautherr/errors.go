// Package oautherr implements the error taxonomy shared by every layer of
// the module. It is kept separate from pkg/oauth and internal/verifier so
// that both can construct these errors without importing each other.
package oautherr

import (
	"errors"
	"fmt"
)

// Kind is a sentinel error identifying one class of the taxonomy. Callers
// use errors.Is(err, oautherr.KindNetwork) etc. rather than type assertions.
type Kind struct{ name string }

func (k Kind) Error() string { return k.name }

// Sentinel kinds realizing the taxonomy.
var (
	KindConfig        = Kind{"config_error"}
	KindNetwork       = Kind{"network_error"}
	KindHTTP          = Kind{"http_error"}
	KindProtocol      = Kind{"protocol_error"}
	KindTokenExchange = Kind{"token_exchange_error"}
	KindAuthentication = Kind{"authentication_error"}
)

// DomainError is the concrete Go type behind every class in the taxonomy.
// It carries the operation that failed, the sentinel Kind, an optional
// wrapped cause, and free-form context for diagnostics.
type DomainError struct {
	Op      string
	Kind    Kind
	Err     error
	Context map[string]any
}

// New constructs a DomainError.
func New(op string, kind Kind, err error) *DomainError {
	return &DomainError{Op: op, Kind: kind, Err: err}
}

// WithContext attaches a key/value pair and returns the receiver for
// chaining.
func (e *DomainError) WithContext(key string, value any) *DomainError {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

// Unwrap exposes the wrapped cause to errors.Is/errors.As.
func (e *DomainError) Unwrap() error { return e.Err }

// Is reports whether target is the DomainError's Kind, or matches along the
// wrapped error chain.
func (e *DomainError) Is(target error) bool {
	if k, ok := target.(Kind); ok {
		return e.Kind == k
	}
	return errors.Is(e.Err, target)
}

// Retriable reports whether this error's class is retriable per §7/§8.
func (e *DomainError) Retriable() bool {
	switch e.Kind {
	case KindNetwork:
		return true
	case KindHTTP:
		status, _ := e.Context["status"].(int)
		switch status {
		case 408, 425, 429, 500, 502, 503, 504:
			return true
		}
		return false
	default:
		return false
	}
}

// Config builds a non-retriable ConfigError.
func Config(op string, err error) *DomainError { return New(op, KindConfig, err) }

// Network builds a retriable NetworkError.
func Network(op string, err error) *DomainError { return New(op, KindNetwork, err) }

// HTTP builds an HttpError carrying the response status code.
func HTTP(op string, status int, err error) *DomainError {
	return New(op, KindHTTP, err).WithContext("status", status)
}

// Protocol builds a ProtocolError from an RFC 6749 error response body.
func Protocol(op, code, description, uri string) *DomainError {
	return New(op, KindProtocol, fmt.Errorf("%s", code)).
		WithContext("error", code).
		WithContext("error_description", description).
		WithContext("error_uri", uri)
}

// TokenExchange builds a TokenExchangeError, a specialization of
// ProtocolError that additionally records the resource/audience that the
// failed exchange targeted.
func TokenExchange(op, code, description, resource string) *DomainError {
	e := New(op, KindTokenExchange, fmt.Errorf("%s", code)).
		WithContext("error", code).
		WithContext("error_description", description)
	if resource != "" {
		e.WithContext("resource", resource)
	}
	return e
}

// Authentication builds an AuthenticationError — the verifier rejected a
// presented token.
func Authentication(op, code, description string) *DomainError {
	return New(op, KindAuthentication, fmt.Errorf("%s", code)).
		WithContext("error", code).
		WithContext("error_description", description)
}

// ProtocolCode extracts the RFC 6749 "error" code from a DomainError whose
// Kind is KindProtocol, KindTokenExchange or KindAuthentication, or the
// empty string if absent.
func ProtocolCode(err error) string {
	var de *DomainError
	if !errors.As(err, &de) {
		return ""
	}
	code, _ := de.Context["error"].(string)
	return code
}

// OAuthError renders an RFC 6749 JSON error body and an RFC 6750
// WWW-Authenticate challenge for the same failure.
type OAuthError struct {
	ErrorCode        string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
	ErrorURI         string `json:"error_uri,omitempty"`
	Scope            string `json:"scope,omitempty"`
	ResourceMetadata string `json:"-"`
	Realm            string `json:"-"`
}

func (e *OAuthError) Error() string {
	if e.ErrorDescription != "" {
		return fmt.Sprintf("%s: %s", e.ErrorCode, e.ErrorDescription)
	}
	return e.ErrorCode
}

// WWWAuthenticateHeader builds the value of a WWW-Authenticate response
// header per RFC 6750 §3. When ErrorCode is empty (the "missing token"
// case per §4.3) only the Bearer scheme and realm/resource_metadata are
// emitted, matching the spec's "error omitted with status 401 for missing
// token" rule.
func (e *OAuthError) WWWAuthenticateHeader() string {
	parts := []string{"Bearer"}
	add := func(key, value string) {
		if value == "" {
			return
		}
		parts = append(parts, fmt.Sprintf(`%s="%s"`, key, escapeQuotes(value)))
	}
	add("realm", e.Realm)
	add("error", e.ErrorCode)
	add("error_description", e.ErrorDescription)
	add("error_uri", e.ErrorURI)
	add("scope", e.Scope)
	add("resource_metadata", e.ResourceMetadata)
	if len(parts) == 1 {
		return parts[0]
	}
	return parts[0] + " " + joinComma(parts[1:])
}

func escapeQuotes(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '"' {
			out = append(out, '\\', '"')
			continue
		}
		out = append(out, s[i])
	}
	return string(out)
}

func joinComma(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += ", "
		}
		out += p
	}
	return out
}
