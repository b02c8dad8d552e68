package main

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/rs/zerolog/log"
	"github.com/tokenrelay/token-relay/internal/audit"
	"github.com/tokenrelay/token-relay/internal/credential"
	"github.com/tokenrelay/token-relay/internal/upstream"
	"github.com/tokenrelay/token-relay/internal/vendor"
)

// HTTPStatuser provides HTTP status information for errors
type HTTPStatuser interface {
	Status() (int, string)
}

func handlePostToken(tokenVendor vendor.TokenVendor) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		ctx := r.Context()

		body, err := io.ReadAll(r.Body)
		if err != nil {
			var maxBytesErr *http.MaxBytesError
			if errors.As(err, &maxBytesErr) {
				writeTextError(w, http.StatusRequestEntityTooLarge, "Request body too large.")
				return
			}
			log.Ctx(ctx).Info().Err(err).Msg("failed to read request body")
			requestError(w, http.StatusBadRequest)
			return
		}

		req, err := credential.Decode(r.Header.Get("Content-Type"), body)
		if err != nil {
			status, message := errorStatus(err)
			audit.Log(ctx).Error = message
			log.Ctx(ctx).Info().Msgf("invalid token request: %v", err)
			writeTextError(w, status, message)
			return
		}

		result := tokenVendor(ctx, req)
		if err, failed := result.Failed(); failed {
			status, message := errorStatus(err)
			log.Ctx(ctx).Info().Msgf("token creation failed: %v", err)
			writeError(w, status, errorContentType(err), message)
			return
		}

		token, _ := result.Token()

		marshalledResponse, err := json.Marshal(token)
		if err != nil {
			requestError(w, http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_, err = w.Write(marshalledResponse)
		if err != nil {
			// record failure to log: trying to respond to the client at this
			// point will likely fail
			log.Ctx(ctx).Info().Msgf("failed to write response: %v", err)
			return
		}
	})
}

func handleHealthCheck() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
}

func maxRequestSize(limit int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.MaxBytesHandler(next, limit)
	}
}

// errorStatus extracts HTTP status code and message from an error.
// Returns (StatusInternalServerError, StatusText) for errors that don't implement HTTPStatuser.
func errorStatus(err error) (int, string) {
	var statuser HTTPStatuser
	if errors.As(err, &statuser) {
		return statuser.Status()
	}
	return http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError)
}

// errorContentType is the content type of a relayed authorization server
// body, or text/plain for errors raised here.
func errorContentType(err error) string {
	var upstreamErr *upstream.UpstreamError
	if errors.As(err, &upstreamErr) && upstreamErr.ContentType != "" {
		return upstreamErr.ContentType
	}

	var unknownErr *upstream.UnknownResponseError
	if errors.As(err, &unknownErr) && unknownErr.ContentType != "" {
		return unknownErr.ContentType
	}

	return "text/plain; charset=utf-8"
}

func writeError(w http.ResponseWriter, statusCode int, contentType string, message string) {
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(statusCode)
	_, _ = io.WriteString(w, message)
}

func writeTextError(w http.ResponseWriter, statusCode int, message string) {
	writeError(w, statusCode, "text/plain; charset=utf-8", message)
}

func requestError(w http.ResponseWriter, statusCode int) {
	http.Error(w, http.StatusText(statusCode), statusCode)
}

// drainRequestBody drains the request body by reading and discarding the contents.
// This is useful to ensure the request body is fully consumed, which is important
// for connection reuse in HTTP/1 clients.
func drainRequestBody(r *http.Request) {
	if r.Body != nil {
		// 5kb max: after this we'll assume the client is broken or malicious
		// and close the connection
		_, _ = io.CopyN(io.Discard, r.Body, 5*1024)
	}
}
