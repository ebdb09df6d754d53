// internal/controller/newsletter_controller.go
package controller

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/unclebandit/newsletter-service/internal/httputil"
	"github.com/unclebandit/newsletter-service/internal/model"
	"github.com/unclebandit/newsletter-service/internal/service"
)

type NewsletterManager interface {
	CreateNewsletter(ctx context.Context, subject, htmlBody string, scheduledAt *time.Time) (*model.Newsletter, error)
	ListNewsletters(ctx context.Context, page, pageSize int, status string) ([]*model.Newsletter, service.Pagination, error)
	GetNewsletterDetails(ctx context.Context, id int) (*service.NewsletterDetails, error)
}

// DispatchRunner starts, inspects and cancels dispatch runs.
type DispatchRunner interface {
	StartNewsletter(ctx context.Context, newsletterID int) (service.DispatchResult, error)
	Cancel() bool
	Status() (current, last *service.DispatchResult)
}

var (
	_ NewsletterManager = (*service.NewsletterService)(nil)
	_ DispatchRunner    = (*service.Dispatcher)(nil)
)

type NewsletterController struct {
	Newsletters NewsletterManager
	Dispatcher  DispatchRunner
}

func (c *NewsletterController) CreateNewsletter(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Subject     string     `json:"subject"`
		HTMLBody    string     `json:"html_body"`
		ScheduledAt *time.Time `json:"scheduled_at"`
	}
	if !httputil.Decode(w, r, &body) {
		return
	}

	newsletter, err := c.Newsletters.CreateNewsletter(r.Context(), body.Subject, body.HTMLBody, body.ScheduledAt)
	if err != nil {
		httputil.ServiceError(w, err)
		return
	}

	httputil.Created(w, newsletter)
}

func (c *NewsletterController) ListNewsletters(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	status := r.URL.Query().Get("status")

	newsletters, pagination, err := c.Newsletters.ListNewsletters(r.Context(), page, pageSize, status)
	if err != nil {
		httputil.ServiceError(w, err)
		return
	}

	httputil.OK(w, map[string]interface{}{
		"data":       newsletters,
		"pagination": pagination,
	})
}

func (c *NewsletterController) GetNewsletterDetails(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.IntParam(chi.URLParam(r, "id"))
	if !ok {
		httputil.BadRequest(w, "invalid newsletter id")
		return
	}

	details, err := c.Newsletters.GetNewsletterDetails(r.Context(), id)
	if err != nil {
		httputil.ServiceError(w, err)
		return
	}

	httputil.OK(w, details)
}

// SendNewsletter starts a dispatch run in the background and answers 202.
// A run already in flight answers 409; the request is not queued.
func (c *NewsletterController) SendNewsletter(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.IntParam(chi.URLParam(r, "id"))
	if !ok {
		httputil.BadRequest(w, "invalid newsletter id")
		return
	}

	started, err := c.Dispatcher.StartNewsletter(r.Context(), id)
	if err != nil {
		httputil.ServiceError(w, err)
		return
	}

	httputil.Accepted(w, started)
}
