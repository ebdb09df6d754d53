// internal/controller/settings_controller.go
package controller

import (
	"context"
	"net/http"

	"github.com/unclebandit/newsletter-service/internal/httputil"
	"github.com/unclebandit/newsletter-service/internal/service"
)

// ProviderChecker verifies the configured Postmark account.
type ProviderChecker interface {
	TestConnection(ctx context.Context) error
	SendTestEmail(ctx context.Context, address string) (string, error)
}

var _ ProviderChecker = (*service.NewsletterService)(nil)

type SettingsController struct {
	Provider ProviderChecker
}

func (c *SettingsController) TestConnection(w http.ResponseWriter, r *http.Request) {
	if err := c.Provider.TestConnection(r.Context()); err != nil {
		httputil.ServiceError(w, err)
		return
	}
	httputil.OK(w, map[string]interface{}{
		"success": true,
		"message": "Connection to Postmark successful",
	})
}

func (c *SettingsController) SendTestEmail(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email string `json:"email"`
	}
	if !httputil.Decode(w, r, &body) {
		return
	}

	messageID, err := c.Provider.SendTestEmail(r.Context(), body.Email)
	if err != nil {
		httputil.ServiceError(w, err)
		return
	}
	httputil.OK(w, map[string]interface{}{
		"success":    true,
		"message_id": messageID,
	})
}
