package repository

import "github.com/okian/neurogame/pkg/logger"

// Option applies a configuration option to a store.
type Option func(*options)

type options struct {
	logger       logger.Logger
	maxOpenConns int
}

func newOptions(opts []Option) *options {
	o := &options{maxOpenConns: 8}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *options) log() logger.Logger {
	if o.logger == nil {
		return logger.Get().Named("store")
	}
	return o.logger
}

// WithLogger sets a custom logger for the store.
func WithLogger(l logger.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMaxOpenConns bounds the SQL connection pool.
func WithMaxOpenConns(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxOpenConns = n
		}
	}
}
