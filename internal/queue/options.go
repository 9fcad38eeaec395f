package queue

import (
	"net/http"
	"time"

	"echoes/internal/infra"
)

// Options configures a Client.
type Options struct {
	HTTPClient *http.Client
	Logger     *infra.Logger
	// PollInterval, when positive, overrides every descriptor's interval.
	PollInterval time.Duration
	MaxBodyBytes int64
}

// Option mutates Options.
type Option func(o *Options)

// NewOptions applies opts over the defaults.
func NewOptions(opts ...Option) *Options {
	o := &Options{
		MaxBodyBytes: 8 << 20,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func WithHTTPClient(h *http.Client) Option {
	return func(o *Options) {
		o.HTTPClient = h
	}
}

func WithLogger(l *infra.Logger) Option {
	return func(o *Options) {
		o.Logger = l
	}
}

func WithPollInterval(d time.Duration) Option {
	return func(o *Options) {
		o.PollInterval = d
	}
}

func WithMaxBodyBytes(n int64) Option {
	return func(o *Options) {
		o.MaxBodyBytes = n
	}
}
