// Package audit records one structured log line per inbound request,
// describing the token request and how it was served.
package audit

import (
	"context"
	"fmt"
	"net"
	"net/http"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type key struct{}

var logKey = key{}

// Level is the level at which audit entries are written.
const Level = zerolog.InfoLevel

// Outcomes of a token request.
const (
	OutcomeHit     = "hit"
	OutcomeMiss    = "miss"
	OutcomeForced  = "forced"
	OutcomeFailure = "failure"
)

// Entry is the audit record for a single request. Credentials are never
// recorded: the cache key contains a digest of the secret, not the secret.
type Entry struct {
	Method    string
	Path      string
	Status    int
	SourceIP  string
	UserAgent string

	ClientID    string
	Provider    string
	GrantType   string
	Audience    string
	Scope       string
	CacheKey    string
	Outcome     string
	CacheError  string
	ExpirySecs  int64
	ForceIgnore bool

	UpstreamStatus int

	Error string
}

// MarshalZerologObject groups the entry into request, token and upstream
// dictionaries, eliding dictionaries with no content.
func (e *Entry) MarshalZerologObject(event *zerolog.Event) {
	event.Dict("request", zerolog.Dict().
		Str("method", e.Method).
		Str("path", e.Path).
		Int("status", e.Status).
		Str("sourceIP", e.SourceIP).
		Str("userAgent", e.UserAgent),
	)

	token := NewOptionalEvent(nil).
		Str("clientId", e.ClientID).
		Str("provider", e.Provider).
		Str("grantType", e.GrantType).
		Str("audience", e.Audience).
		Str("scope", e.Scope).
		Str("cacheKey", e.CacheKey).
		Str("outcome", e.Outcome).
		Str("cacheError", e.CacheError).
		Int64("expiresIn", e.ExpirySecs).
		Bool("forceIgnored", e.ForceIgnore)
	token.Set(event, "token")

	NewOptionalEvent(nil).
		Int("status", e.UpstreamStatus).
		Set(event, "upstream")

	if e.Error != "" {
		event.Str("error", e.Error)
	}
}

// Begin populates the request details of the entry.
func (e *Entry) Begin(r *http.Request) {
	e.Method = r.Method
	e.Path = r.URL.Path
	e.UserAgent = r.UserAgent()

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	e.SourceIP = host
}

// End returns a function that writes the entry to the log. Any panic in
// progress is recorded against the entry and re-raised.
func (e *Entry) End(ctx context.Context) func() {
	return func() {
		r := recover()
		if r != nil {
			if e.Error != "" {
				e.Error += "; "
			}
			e.Error += fmt.Sprintf("panic: %v", r)
			if e.Status == 0 {
				e.Status = http.StatusInternalServerError
			}
		}

		if e.Status == 0 {
			e.Status = http.StatusOK
		}

		log.Ctx(ctx).WithLevel(Level).EmbedObject(e).Msg("audit_event")

		if r != nil {
			panic(r)
		}
	}
}

// Middleware creates an audit entry for each request, and writes it when the
// request completes.
func Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, entry := Context(r.Context())

			entry.Begin(r)
			defer entry.End(ctx)()

			sw := &statusWriter{ResponseWriter: w, entry: entry}
			next.ServeHTTP(sw, r.WithContext(ctx))
		})
	}
}

// Log returns the audit entry for the current request. When the context has
// no entry, a detached one is returned so callers never need to nil check.
func Log(ctx context.Context) *Entry {
	_, e := Context(ctx)
	return e
}

// Context returns ctx with an audit entry attached, creating the entry when
// it is not already present.
func Context(ctx context.Context) (context.Context, *Entry) {
	if e, ok := ctx.Value(logKey).(*Entry); ok {
		return ctx, e
	}

	e := &Entry{}
	return context.WithValue(ctx, logKey, e), e
}

type statusWriter struct {
	http.ResponseWriter
	entry   *Entry
	written bool
}

func (w *statusWriter) WriteHeader(statusCode int) {
	if !w.written {
		w.entry.Status = statusCode
		w.written = true
	}
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if !w.written {
		w.entry.Status = http.StatusOK
		w.written = true
	}
	return w.ResponseWriter.Write(b)
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
