package notifications

import (
	"github.com/go-chi/chi/v5"

	"github.com/dmitrymomot/opshub/handler"
	"github.com/dmitrymomot/opshub/pkg/binder"
	"github.com/dmitrymomot/opshub/pkg/notifications"
)

type ListInboxRequest struct {
	Inbox    string `query:"inbox"`
	Unread   bool   `query:"unread"`
	Archived bool   `query:"archived"`
	Search   string `query:"q"`
	RefKind  string `query:"ref_kind"`
	RefID    string `query:"ref_id"`
	Thread   string `query:"thread"`
	Sort     string `query:"sort"`
	Limit    int    `query:"limit"`
	Offset   int    `query:"offset"`
}

func (req ListInboxRequest) options() (notifications.ListOptions, error) {
	opts := notifications.ListOptions{
		Inbox:           req.Inbox,
		OnlyUnread:      req.Unread,
		IncludeArchived: req.Archived,
		Search:          req.Search,
		ThreadKey:       req.Thread,
		Sort:            notifications.SortOrder(req.Sort),
		Limit:           req.Limit,
		Offset:          req.Offset,
	}
	v := handler.NewValidationError()
	switch opts.Sort {
	case "", notifications.SortNewest, notifications.SortOldest, notifications.SortImportance:
	default:
		v.Add("sort", "must be one of newest, oldest, importance")
	}
	if (req.RefKind == "") != (req.RefID == "") {
		v.Add("ref_kind", "ref_kind and ref_id go together")
	}
	if req.RefKind != "" && req.RefID != "" {
		opts.Ref = &notifications.EntityRef{Kind: notifications.RefKind(req.RefKind), ID: req.RefID}
	}
	return opts, v.Err()
}

type InboxActionRequest struct {
	ID       string `path:"id" json:"-"`
	Action   string `path:"action" json:"-"`
	PinOrder int    `json:"pin_order"`
}

type MarkAllReadRequest struct {
	Inbox string `query:"inbox"`
}

func (m *Module) mountInbox(r chi.Router) {
	r.Get("/inbox/counts", handler.Wrap(m.inboxCounts))
	r.Get("/inbox", handler.Wrap(m.listInbox,
		handler.WithBinders[ListInboxRequest](binder.Query()),
	))
	r.Post("/inbox/read-all", handler.Wrap(m.markAllRead,
		handler.WithBinders[MarkAllReadRequest](binder.Query()),
	))
	r.Post("/inbox/{id}/{action}", handler.Wrap(m.inboxAction,
		handler.WithBinders[InboxActionRequest](binder.Path(chi.URLParam), binder.JSON()),
	))
}

func (m *Module) inboxCounts(ctx handler.Context, _ struct{}) handler.Response {
	counts, err := m.deps.Inbox.Counts(ctx, userID(ctx))
	if err != nil {
		return m.fail(ctx, err)
	}
	return handler.JSON(counts)
}

func (m *Module) listInbox(ctx handler.Context, req ListInboxRequest) handler.Response {
	opts, err := req.options()
	if err != nil {
		return handler.JSONError(err)
	}
	page, err := m.deps.Inbox.List(ctx, userID(ctx), opts)
	if err != nil {
		return m.fail(ctx, err)
	}
	return handler.JSON(page.Items, handler.WithJSONMeta(map[string]any{
		"total":  page.Total,
		"limit":  page.Limit,
		"offset": page.Offset,
	}))
}

func (m *Module) inboxAction(ctx handler.Context, req InboxActionRequest) handler.Response {
	rec, err := m.deps.Inbox.Apply(ctx, userID(ctx), req.ID, notifications.RecipientAction(req.Action), req.PinOrder)
	if err != nil {
		return m.fail(ctx, err)
	}
	return handler.JSON(rec)
}

func (m *Module) markAllRead(ctx handler.Context, req MarkAllReadRequest) handler.Response {
	n, err := m.deps.Inbox.MarkAllRead(ctx, userID(ctx), req.Inbox)
	if err != nil {
		return m.fail(ctx, err)
	}
	return handler.JSON(map[string]int{"updated": n})
}
