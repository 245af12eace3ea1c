package notifications

import (
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dmitrymomot/opshub/handler"
	"github.com/dmitrymomot/opshub/pkg/binder"
	"github.com/dmitrymomot/opshub/pkg/notifications"
)

var platforms = []string{"android", "ios", "web"}

type RegisterDeviceRequest struct {
	Token    string `json:"token"`
	Platform string `json:"platform"`
}

type RevokeDeviceRequest struct {
	Token string `path:"token"`
}

func (m *Module) mountDevices(r chi.Router) {
	r.Post("/devices", handler.Wrap(m.registerDevice,
		handler.WithBinders[RegisterDeviceRequest](binder.JSON()),
	))
	r.Delete("/devices/{token}", handler.Wrap(m.revokeDevice,
		handler.WithBinders[RevokeDeviceRequest](binder.Path(chi.URLParam)),
	))
}

func (m *Module) registerDevice(ctx handler.Context, req RegisterDeviceRequest) handler.Response {
	req.Token = strings.TrimSpace(req.Token)
	req.Platform = strings.ToLower(strings.TrimSpace(req.Platform))

	v := handler.NewValidationError()
	if req.Token == "" {
		v.Add("token", "token is required")
	}
	if !slices.Contains(platforms, req.Platform) {
		v.Add("platform", "must be one of android, ios, web")
	}
	if err := v.Err(); err != nil {
		return handler.JSONError(err)
	}

	d := notifications.DeviceToken{
		Token:     req.Token,
		UserID:    userID(ctx),
		Platform:  req.Platform,
		CreatedAt: time.Now(),
	}
	if err := m.deps.Devices.RegisterDevice(ctx, d); err != nil {
		return m.fail(ctx, err)
	}
	return handler.JSON(d, handler.WithJSONStatus(http.StatusCreated))
}

// revokeDevice only revokes tokens owned by the caller.
func (m *Module) revokeDevice(ctx handler.Context, req RevokeDeviceRequest) handler.Response {
	devices, err := m.deps.Devices.ListActiveDevices(ctx, userID(ctx))
	if err != nil {
		return m.fail(ctx, err)
	}
	owned := slices.ContainsFunc(devices, func(d notifications.DeviceToken) bool { return d.Token == req.Token })
	if !owned {
		return handler.JSONError(handler.ErrNotFound)
	}
	if err := m.deps.Devices.RevokeDevice(ctx, req.Token, time.Now()); err != nil {
		return m.fail(ctx, err)
	}
	return handler.Empty()
}
