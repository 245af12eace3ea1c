// Package binder populates request structs from HTTP requests.
//
// Each binder handles one source and one struct tag:
//
//	type ListInboxRequest struct {
//		Inbox  string `query:"inbox"`
//		Limit  int    `query:"limit"`
//		ID     string `path:"id"`
//	}
//
//	handler.Wrap(h, handler.WithBinders[ListInboxRequest](
//		binder.Query(),
//		binder.Path(chi.URLParam),
//	))
//
// JSON decodes the body strictly (unknown fields are rejected). It reports
// ErrBinderNotApplicable for body-less requests so it can sit next to the
// query binder on endpoints that accept both.
//
// Fields whose type implements encoding.TextUnmarshaler are decoded through
// it, so domain enums can be bound from query strings directly.
package binder
