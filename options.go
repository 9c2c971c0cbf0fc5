package bitquill

import (
	"log/slog"
	"time"

	"github.com/ciphernom/bitquill/internal/config"
)

// Option configures an App.
type Option func(*resolvedOptions)

// resolvedOptions holds all extension points after applying defaults.
// Unexported — callers use the With* functions.
type resolvedOptions struct {
	cfg          *config.Config
	logger       *slog.Logger
	title        string
	author       string
	modulus      []byte
	freshModulus bool
	clockYield   time.Duration
}

// WithConfig replaces the entire configuration (normally loaded from
// BITQUILL_* environment variables by the CLI).
func WithConfig(cfg config.Config) Option {
	return func(o *resolvedOptions) { o.cfg = &cfg }
}

// WithLogger sets the structured logger for the App.
// If not set, the default slog logger is used.
func WithLogger(logger *slog.Logger) Option {
	return func(o *resolvedOptions) { o.logger = logger }
}

// WithTitle sets the document title.
func WithTitle(title string) Option {
	return func(o *resolvedOptions) { o.title = title }
}

// WithAuthor overrides the document author (default: the local username).
func WithAuthor(author string) Option {
	return func(o *resolvedOptions) { o.author = author }
}

// WithModulus uses the given serialized RSA modulus instead of the built-in
// RSA-2048 challenge modulus.
func WithModulus(raw []byte) Option {
	return func(o *resolvedOptions) { o.modulus = append([]byte(nil), raw...) }
}

// WithFreshModulus generates a new private RSA modulus at startup instead of
// using the published RSA-2048 challenge modulus. Generation takes a few
// seconds at the default 2048 bits.
func WithFreshModulus() Option {
	return func(o *resolvedOptions) { o.freshModulus = true }
}

// WithClockYield overrides the cooperative pause between clock ticks.
// Intended for tests; the default 10ms is right for interactive use.
func WithClockYield(d time.Duration) Option {
	return func(o *resolvedOptions) { o.clockYield = d }
}
