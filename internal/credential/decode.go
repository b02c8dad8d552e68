package credential

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/url"
	"strconv"
	"strings"
)

// ErrEmptyBody is the validation failure for a request without a body.
var ErrEmptyBody = ValidationError{Message: "Empty body."}

const validationPrefix = "Payload validation error: "

// payload is the wire shape of an inbound request. Pointers distinguish an
// absent field from an empty one.
type payload struct {
	ClientID     *string  `json:"client_id"`
	ClientSecret *string  `json:"client_secret"`
	GrantType    *string  `json:"grant_type"`
	Audience     *string  `json:"audience"`
	Scope        *string  `json:"scope"`
	AuthURL      *string  `json:"auth0_url"`
	FreshToken   flexBool `json:"fresh_token"`
	Provider     *string  `json:"provider"`
	ContentType  *string  `json:"content_type"`
}

var formFields = map[string]bool{
	"client_id":     true,
	"client_secret": true,
	"grant_type":    true,
	"audience":      true,
	"scope":         true,
	"auth0_url":     true,
	"fresh_token":   true,
	"provider":      true,
	"content_type":  true,
}

// Decode parses and validates an inbound body. The contentType is the raw
// request Content-Type header: form encoded bodies are parsed as such,
// anything else (including a missing or malformed header) is treated as JSON.
// All failures are ValidationError values.
func Decode(contentType string, body []byte) (Request, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return Request{}, ErrEmptyBody
	}

	var (
		p   payload
		err error
	)
	if isForm(contentType) {
		p, err = decodeForm(body)
	} else {
		p, err = decodeJSON(body)
	}
	if err != nil {
		return Request{}, ValidationError{Message: validationPrefix + err.Error()}
	}

	return p.validate()
}

func isForm(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	return err == nil && mediaType == "application/x-www-form-urlencoded"
}

func decodeJSON(body []byte) (payload, error) {
	var p payload

	dec := json.NewDecoder(bytes.NewReader(body))
	// unknown fields are rejected so that typos (e.g. "audiance") fail loudly
	// rather than silently producing a request with neither audience nor scope
	dec.DisallowUnknownFields()

	if err := dec.Decode(&p); err != nil {
		return p, fmt.Errorf("malformed JSON: %w", err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return p, errors.New("malformed JSON: unexpected data after object")
	}

	return p, nil
}

func decodeForm(body []byte) (payload, error) {
	var p payload

	values, err := url.ParseQuery(string(body))
	if err != nil {
		return p, fmt.Errorf("malformed form body: %w", err)
	}

	for k := range values {
		if !formFields[k] {
			return p, fmt.Errorf("%q is not allowed", k)
		}
	}

	get := func(k string) *string {
		if !values.Has(k) {
			return nil
		}
		v := values.Get(k)
		return &v
	}

	p.ClientID = get("client_id")
	p.ClientSecret = get("client_secret")
	p.GrantType = get("grant_type")
	p.Audience = get("audience")
	p.Scope = get("scope")
	p.AuthURL = get("auth0_url")
	p.Provider = get("provider")
	p.ContentType = get("content_type")

	if v := get("fresh_token"); v != nil {
		b, err := strconv.ParseBool(*v)
		if err != nil {
			return p, fmt.Errorf("fresh_token must be a boolean")
		}
		p.FreshToken = flexBool(b)
	}

	return p, nil
}

func (p payload) validate() (Request, error) {
	var problems []string

	required := func(name string, v *string) string {
		if v == nil {
			problems = append(problems, name+" is required")
			return ""
		}
		if *v == "" {
			problems = append(problems, name+" is not allowed to be empty")
		}
		return *v
	}

	req := Request{
		ClientID:         required("client_id", p.ClientID),
		GrantType:        required("grant_type", p.GrantType),
		ClientSecret:     required("client_secret", p.ClientSecret),
		AuthorizationURL: required("auth0_url", p.AuthURL),
		ForceRefresh:     bool(p.FreshToken),
		Provider:         DefaultProvider,
	}

	switch {
	case p.Audience != nil && p.Scope != nil:
		problems = append(problems, "exactly one of audience or scope is allowed, both were supplied")
	case p.Audience == nil && p.Scope == nil:
		problems = append(problems, "exactly one of audience or scope is required")
	case p.Audience != nil:
		req.Grant = Audience(required("audience", p.Audience))
	default:
		req.Grant = Scope(required("scope", p.Scope))
	}

	if req.AuthorizationURL != "" {
		if u, err := url.Parse(req.AuthorizationURL); err != nil || !u.IsAbs() || u.Host == "" {
			problems = append(problems, "auth0_url must be an absolute URL")
		}
	}

	if p.Provider != nil {
		req.Provider = required("provider", p.Provider)
	}

	if p.ContentType != nil {
		ct, err := ParseContentType(*p.ContentType)
		if err != nil {
			problems = append(problems, "content_type must be one of json, form, application/json, application/x-www-form-urlencoded")
		}
		req.ContentType = ct
	}

	if len(problems) > 0 {
		return Request{}, ValidationError{Message: validationPrefix + strings.Join(problems, "; ")}
	}

	return req, nil
}

// flexBool accepts a JSON boolean or the strings "true" and "false".
type flexBool bool

func (b *flexBool) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*b = false
		return nil
	}

	var v bool
	if err := json.Unmarshal(data, &v); err == nil {
		*b = flexBool(v)
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return errors.New("fresh_token must be a boolean")
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		return errors.New("fresh_token must be a boolean")
	}
	*b = flexBool(v)
	return nil
}
