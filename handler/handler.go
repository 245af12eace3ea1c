package handler

import (
	"errors"
	"net/http"

	"github.com/dmitrymomot/opshub/pkg/binder"
)

// HandlerFunc handles a request bound into R.
type HandlerFunc[R any] func(ctx Context, req R) Response

// Response renders itself to the writer.
type Response interface {
	Render(w http.ResponseWriter, r *http.Request) error
}

// Bind parses part of a request into v.
type Bind func(r *http.Request, v any) error

// ErrorHandler writes a response for binding and rendering errors.
type ErrorHandler func(ctx Context, err error)

// Decorator wraps a HandlerFunc. The first decorator is the outermost.
type Decorator[R any] func(HandlerFunc[R]) HandlerFunc[R]

type WrapOption[R any] func(*wrapConfig[R])

type wrapConfig[R any] struct {
	binders      []Bind
	errorHandler ErrorHandler
	decorators   []Decorator[R]
}

// WithBinders applies binders in order. Binders returning
// binder.ErrBinderNotApplicable are skipped.
func WithBinders[R any](binders ...Bind) WrapOption[R] {
	return func(c *wrapConfig[R]) {
		c.binders = append(c.binders, binders...)
	}
}

func WithErrorHandler[R any](h ErrorHandler) WrapOption[R] {
	return func(c *wrapConfig[R]) {
		if h != nil {
			c.errorHandler = h
		}
	}
}

func WithDecorators[R any](decorators ...Decorator[R]) WrapOption[R] {
	return func(c *wrapConfig[R]) {
		c.decorators = append(c.decorators, decorators...)
	}
}

// DefaultErrorHandler renders err with the JSON envelope.
func DefaultErrorHandler(ctx Context, err error) {
	_ = JSONError(err).Render(ctx.ResponseWriter(), ctx.Request())
}

// Wrap converts a typed handler into an http.HandlerFunc.
func Wrap[R any](h HandlerFunc[R], opts ...WrapOption[R]) http.HandlerFunc {
	cfg := &wrapConfig[R]{errorHandler: DefaultErrorHandler}
	for _, opt := range opts {
		opt(cfg)
	}

	final := h
	for i := len(cfg.decorators) - 1; i >= 0; i-- {
		final = cfg.decorators[i](final)
	}

	return func(w http.ResponseWriter, r *http.Request) {
		ctx := NewContext(w, r)

		var req R
		for _, bind := range cfg.binders {
			if err := bind(r, &req); err != nil {
				if errors.Is(err, binder.ErrBinderNotApplicable) {
					continue
				}
				cfg.errorHandler(ctx, bindError(err))
				return
			}
		}

		resp := final(ctx, req)
		if resp == nil {
			cfg.errorHandler(ctx, ErrNilResponse)
			return
		}
		if err := resp.Render(w, r); err != nil {
			cfg.errorHandler(ctx, err)
		}
	}
}

// bindError maps binder failures to client errors.
func bindError(err error) error {
	switch {
	case errors.Is(err, binder.ErrUnsupportedMediaType), errors.Is(err, binder.ErrMissingContentType):
		return ErrUnsupportedMedia.WithMessage(err.Error())
	default:
		return ErrBadRequest.WithMessage(err.Error())
	}
}
