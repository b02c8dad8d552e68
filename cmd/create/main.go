// This command is only used for local testing: it mints a signed access token
// of the kind an authorization server issues for the client-credentials grant,
// for a local mock authorization server to return to the relay.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/lestrrat-go/jwx/v3/jwa"
	"github.com/lestrrat-go/jwx/v3/jwk"
	"github.com/lestrrat-go/jwx/v3/jwt"
	"github.com/sethvargo/go-envconfig"
)

type Config struct {
	Audience     string `env:"UTIL_AUDIENCE, default=https://api.local.testing"`
	ClientID     string `env:"UTIL_CLIENT_ID, default=test-client"`
	Issuer       string `env:"UTIL_ISSUER, default=https://local.testing/"`
	Scope        string `env:"UTIL_SCOPE"`
	LifetimeSecs int    `env:"UTIL_LIFETIME_SECS, default=3600"`
	KeyFile      string `env:"UTIL_KEY_FILE, default=.development/keys/jwk-sig-testing-priv.json"`

	// ResponseJSON writes a token endpoint response rather than the bare token.
	ResponseJSON bool `env:"UTIL_RESPONSE_JSON, default=false"`
}

func main() {
	cfg := Config{}
	err := envconfig.Process(context.Background(), &cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error reading config: %v\n", err)
		os.Exit(1)
	}

	key, err := loadKey(cfg.KeyFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading signing key: %v\n", err)
		os.Exit(1)
	}

	lifetime := time.Duration(cfg.LifetimeSecs) * time.Second

	token, err := accessToken(cfg, time.Now().UTC(), lifetime)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error building token: %v\n", err)
		os.Exit(1)
	}

	signed, err := jwt.Sign(token, jwt.WithKey(jwa.RS256(), key))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error signing token: %v\n", err)
		os.Exit(1)
	}

	if !cfg.ResponseJSON {
		fmt.Printf("%s", signed)
		return
	}

	err = json.NewEncoder(os.Stdout).Encode(map[string]any{
		"access_token": string(signed),
		"expires_in":   cfg.LifetimeSecs,
		"token_type":   "Bearer",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "error writing response: %v\n", err)
		os.Exit(1)
	}
}

func loadKey(path string) (jwk.Key, error) {
	keyBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	return jwk.ParseKey(keyBytes)
}

// accessToken builds the claims of a client-credentials access token issued
// at now.
func accessToken(cfg Config, now time.Time, lifetime time.Duration) (jwt.Token, error) {
	builder := jwt.NewBuilder().
		Issuer(cfg.Issuer).
		Subject(cfg.ClientID+"@clients").
		Audience([]string{cfg.Audience}).
		IssuedAt(now).
		NotBefore(now.Add(-1*time.Minute)).
		Expiration(now.Add(lifetime)).
		Claim("azp", cfg.ClientID).
		Claim("gty", "client-credentials")

	if cfg.Scope != "" {
		builder = builder.Claim("scope", cfg.Scope)
	}

	return builder.Build()
}
