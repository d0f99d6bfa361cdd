package parser

import "github.com/rs/zerolog"

// Option configures a reader.
type Option func(*options)

type options struct {
	logger zerolog.Logger
	name   string
}

func newOptions(opts []Option) options {
	o := options{logger: zerolog.Nop(), name: "<stream>"}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithLogger sets the logger used for diagnostics such as truncated records.
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithName labels diagnostics with a file name. Open* set it to the path.
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}
