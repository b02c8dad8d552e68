// Package server runs the HTTP server and releases process resources when it
// stops.
package server

import (
	"context"
	"io"

	"github.com/rs/zerolog/log"
)

type hook struct {
	name string
	fn   func(context.Context) error
}

// ShutdownHooks are run in registration order once the server has stopped
// accepting requests. A failing hook is logged and does not prevent later
// hooks from running.
type ShutdownHooks struct {
	hooks []hook
}

// AddContext registers a hook that receives the shutdown context, which
// carries the remaining shutdown deadline. Nil hooks are ignored.
func (s *ShutdownHooks) AddContext(name string, fn func(context.Context) error) {
	if fn == nil {
		log.Warn().Str("hook", name).Msg("attempted to add nil shutdown hook; ignoring")
		return
	}

	log.Debug().Str("hook", name).Msg("adding shutdown hook")
	s.hooks = append(s.hooks, hook{name: name, fn: fn})
}

// AddClose registers closer, typically a store or client connection. Nil
// closers are ignored.
func (s *ShutdownHooks) AddClose(name string, closer io.Closer) {
	if closer == nil {
		log.Warn().Str("hook", name).Msg("attempted to add nil shutdown hook; ignoring")
		return
	}

	s.AddContext(name, func(context.Context) error {
		return closer.Close()
	})
}

// Execute runs the registered hooks.
func (s *ShutdownHooks) Execute(ctx context.Context) {
	l := log.Ctx(ctx)
	for _, h := range s.hooks {
		hookLog := l.With().Str("hook", h.name).Logger()

		hookLog.Info().Msg("shutdown started")
		if err := h.fn(ctx); err != nil {
			hookLog.Warn().Err(err).Msg("shutdown failed")
		} else {
			hookLog.Info().Msg("shutdown complete")
		}
	}
}
