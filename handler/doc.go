// Package handler turns typed request handlers into http.HandlerFunc.
//
// A handler receives a Context and a request value populated by binders,
// and returns a Response that renders itself:
//
//	h := func(ctx handler.Context, req RaiseRequest) handler.Response {
//		n, err := engine.Raise(ctx, req)
//		if err != nil {
//			return handler.JSONError(err)
//		}
//		return handler.JSON(n, handler.WithJSONStatus(http.StatusCreated))
//	}
//	r.Post("/notifications", handler.Wrap(h, handler.WithBinders[RaiseRequest](binder.JSON())))
//
// Errors from binders and renderers go through the configured ErrorHandler.
// JSON responses use a single envelope: {"data": ..., "meta": ..., "error": ...}.
// HTTPError and ValidationError values carry their status code into the
// envelope; anything else is reported as a 500.
package handler
