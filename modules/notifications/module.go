package notifications

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/dmitrymomot/opshub/handler"
	"github.com/dmitrymomot/opshub/pkg/logger"
	"github.com/dmitrymomot/opshub/pkg/notifications"
)

const DefaultUserHeader = "X-User-ID"

var userIDKey = handler.NewContextKey("user_id")

// Deps are the services behind the routes.
type Deps struct {
	Engine      *notifications.Engine
	Tracker     *notifications.Tracker
	Inbox       *notifications.InboxService
	Preferences *notifications.PreferenceService
	Devices     notifications.DeviceStore
	Deliveries  notifications.DeliveryStore
	Recipients  notifications.InboxStore
}

type Module struct {
	deps         Deps
	userHeader   string
	webhookToken string
	logger       *slog.Logger
}

type Option func(*Module)

// WithUserHeader changes the header carrying the authenticated user ID.
func WithUserHeader(name string) Option {
	return func(m *Module) {
		if name != "" {
			m.userHeader = name
		}
	}
}

// WithWebhookToken requires provider callbacks to present token in the
// X-Webhook-Token header.
func WithWebhookToken(token string) Option {
	return func(m *Module) { m.webhookToken = token }
}

func WithLogger(l *slog.Logger) Option {
	return func(m *Module) {
		if l != nil {
			m.logger = l
		}
	}
}

func New(deps Deps, opts ...Option) *Module {
	m := &Module{
		deps:       deps,
		userHeader: DefaultUserHeader,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With(logger.Component("notifications.http"))
	return m
}

// Handle returns the module router.
func (m *Module) Handle() http.Handler {
	r := chi.NewRouter()

	r.Get("/t/{token}.gif", m.pixel)

	r.Group(func(r chi.Router) {
		r.Use(m.requireWebhookToken)
		m.mountCallbacks(r)
	})

	r.Group(func(r chi.Router) {
		r.Use(m.requireUser)
		m.mountRaise(r)
		m.mountPreferences(r)
		m.mountInbox(r)
		m.mountDevices(r)
		m.mountDiagnostics(r)
	})

	return r
}

func (m *Module) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := strings.TrimSpace(r.Header.Get(m.userHeader))
		if userID == "" {
			_ = handler.JSONError(handler.ErrUnauthorized).Render(w, r)
			return
		}
		ctx := context.WithValue(r.Context(), userIDKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m *Module) requireWebhookToken(next http.Handler) http.Handler {
	if m.webhookToken == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := r.Header.Get("X-Webhook-Token")
		if subtle.ConstantTimeCompare([]byte(got), []byte(m.webhookToken)) != 1 {
			_ = handler.JSONError(handler.ErrUnauthorized).Render(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func userID(ctx context.Context) string {
	return handler.ContextValue[string](ctx, userIDKey)
}

// fail maps domain errors onto HTTP errors and logs server-side failures.
func (m *Module) fail(ctx handler.Context, err error) handler.Response {
	switch {
	case errors.Is(err, notifications.ErrNotificationNotFound),
		errors.Is(err, notifications.ErrRecipientNotFound),
		errors.Is(err, notifications.ErrDeliveryNotFound):
		return handler.JSONError(handler.ErrNotFound.WithMessage(err.Error()))
	case errors.Is(err, notifications.ErrUnknownType),
		errors.Is(err, notifications.ErrUnknownInbox),
		errors.Is(err, notifications.ErrUnknownChannel),
		errors.Is(err, notifications.ErrNoRecipients),
		errors.Is(err, notifications.ErrInvalidPayload),
		errors.Is(err, notifications.ErrInvalidAction):
		return handler.JSONError(handler.ErrUnprocessableEntity.WithMessage(err.Error()))
	}

	var httpErr handler.HTTPError
	var valErr handler.ValidationError
	if errors.As(err, &httpErr) || errors.As(err, &valErr) {
		return handler.JSONError(err)
	}

	m.logger.ErrorContext(ctx, "request failed",
		slog.String("path", ctx.Request().URL.Path),
		logger.Error(err),
	)
	return handler.JSONError(err)
}
