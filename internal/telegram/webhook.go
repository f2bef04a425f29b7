package telegram

import (
	"context"
	"crypto/subtle"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
)

// SecretHeader carries the secret_token given to setWebhook.
const SecretHeader = "X-Telegram-Bot-Api-Secret-Token"

func (c *Client) SetWebhook(ctx context.Context, url, secret string) error {
	payload := map[string]any{
		"url":             url,
		"allowed_updates": AllowedUpdates,
	}
	if secret != "" {
		payload["secret_token"] = secret
	}
	return c.do(ctx, "setWebhook", payload, nil)
}

// DeleteWebhook switches the bot back to getUpdates.
func (c *Client) DeleteWebhook(ctx context.Context) error {
	return c.do(ctx, "deleteWebhook", map[string]any{"drop_pending_updates": false}, nil)
}

// Webhook receives updates pushed by Telegram and hands them to sink.
type Webhook struct {
	secret string
	sink   func(Update)
	log    *zap.Logger
}

func NewWebhook(secret string, sink func(Update), log *zap.Logger) *Webhook {
	if log == nil {
		log = zap.NewNop()
	}
	return &Webhook{secret: secret, sink: sink, log: log}
}

// RegisterRoutes mounts the update endpoint at path and a health check at
// /healthz.
func (h *Webhook) RegisterRoutes(e *echo.Echo, path string) {
	e.POST(path, h.Receive)
	e.GET("/healthz", h.Health)
}

// NewServer builds an echo server serving h at path.
func NewServer(h *Webhook, path string) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	h.RegisterRoutes(e, path)
	return e
}

func (h *Webhook) Receive(c echo.Context) error {
	if h.secret != "" {
		got := c.Request().Header.Get(SecretHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(h.secret)) != 1 {
			h.log.Warn("webhook secret mismatch", zap.String("remote", c.RealIP()))
			return c.NoContent(http.StatusUnauthorized)
		}
	}

	var u Update
	if err := c.Bind(&u); err != nil {
		h.log.Warn("webhook bad payload", zap.Error(err))
		return c.NoContent(http.StatusBadRequest)
	}
	h.sink(u)
	return c.NoContent(http.StatusOK)
}

func (h *Webhook) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}
