// Package credential defines the client-credentials request accepted by the
// relay, and its decoding and validation from inbound request bodies.
package credential

import (
	"fmt"
	"net/http"
)

// DefaultProvider is used for key namespacing when a request does not name
// its provider.
const DefaultProvider = "auth0"

// ContentType is the encoding used for the grant request sent upstream.
type ContentType int

const (
	ContentTypeJSON ContentType = iota
	ContentTypeForm
)

// ParseContentType accepts both the short names and the MIME types. An empty
// value yields the JSON default.
func ParseContentType(s string) (ContentType, error) {
	switch s {
	case "", "json", "application/json":
		return ContentTypeJSON, nil
	case "form", "application/x-www-form-urlencoded":
		return ContentTypeForm, nil
	}
	return ContentTypeJSON, fmt.Errorf("unsupported content_type %q", s)
}

// MIMEType is the value sent in the upstream Content-Type header.
func (c ContentType) MIMEType() string {
	if c == ContentTypeForm {
		return "application/x-www-form-urlencoded"
	}
	return "application/json"
}

func (c ContentType) String() string {
	if c == ContentTypeForm {
		return "form"
	}
	return "json"
}

// GrantKind identifies which of audience or scope a Grant carries.
type GrantKind int

const (
	GrantAudience GrantKind = iota + 1
	GrantScope
)

// Grant holds exactly one of an audience or a scope. The zero value is not
// valid: construct with Audience or Scope.
type Grant struct {
	kind  GrantKind
	value string
}

func Audience(v string) Grant { return Grant{kind: GrantAudience, value: v} }
func Scope(v string) Grant    { return Grant{kind: GrantScope, value: v} }

func (g Grant) Kind() GrantKind { return g.kind }
func (g Grant) Value() string   { return g.value }

// Field is the wire field name for this grant: "audience" or "scope".
func (g Grant) Field() string {
	switch g.kind {
	case GrantAudience:
		return "audience"
	case GrantScope:
		return "scope"
	}
	return ""
}

// Request is a validated client-credentials request. ClientSecret is
// sensitive and must not be logged.
type Request struct {
	ClientID         string
	ClientSecret     string
	GrantType        string
	Grant            Grant
	AuthorizationURL string
	Provider         string
	ForceRefresh     bool
	ContentType      ContentType
}

// ValidationError is returned when an inbound payload cannot be accepted.
type ValidationError struct {
	Message string
}

func (e ValidationError) Error() string {
	return e.Message
}

func (e ValidationError) Status() (int, string) {
	return http.StatusBadRequest, e.Message
}
