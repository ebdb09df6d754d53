// internal/handler/stats_handler.go
package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/unclebandit/newsletter-service/internal/httputil"
	"github.com/unclebandit/newsletter-service/internal/model"
	"github.com/unclebandit/newsletter-service/internal/service"
)

type StatsReader interface {
	Dashboard(ctx context.Context) model.DashboardStats
	Customer(ctx context.Context, customerID int) (model.CustomerStats, bool)
}

type SubscriberLister interface {
	ListSubscribers(ctx context.Context, page, pageSize int) ([]model.Recipient, service.Pagination, error)
}

var (
	_ StatsReader      = (*service.StatsService)(nil)
	_ SubscriberLister = (*service.NewsletterService)(nil)
)

// StatsHandler serves the dashboard counters and the subscriber listing.
// Counter reads never fail; a storage problem yields zeros with degraded set.
type StatsHandler struct {
	Stats       StatsReader
	Subscribers SubscriberLister
}

func (h *StatsHandler) GetDashboard(w http.ResponseWriter, r *http.Request) {
	httputil.OK(w, h.Stats.Dashboard(r.Context()))
}

func (h *StatsHandler) GetCustomerStats(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.IntParam(chi.URLParam(r, "id"))
	if !ok {
		httputil.BadRequest(w, "invalid customer id")
		return
	}

	stats, degraded := h.Stats.Customer(r.Context(), id)
	httputil.OK(w, map[string]interface{}{
		"data":     stats,
		"degraded": degraded,
	})
}

func (h *StatsHandler) ListSubscribers(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))

	subscribers, pagination, err := h.Subscribers.ListSubscribers(r.Context(), page, pageSize)
	if err != nil {
		httputil.ServiceError(w, err)
		return
	}

	httputil.OK(w, map[string]interface{}{
		"data":       subscribers,
		"pagination": pagination,
	})
}
