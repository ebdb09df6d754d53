package handler_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/unclebandit/newsletter-service/internal/errors"
	"github.com/unclebandit/newsletter-service/internal/handler"
	"github.com/unclebandit/newsletter-service/internal/model"
	"github.com/unclebandit/newsletter-service/internal/service"
)

type stubProcessor struct {
	body   []byte
	result service.WebhookResult
	err    error
}

func (s *stubProcessor) Process(ctx context.Context, body []byte) (service.WebhookResult, error) {
	s.body = body
	return s.result, s.err
}

func postWebhook(h *handler.WebhookHandler, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/postmark", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.HandlePostmark(rec, req)
	return rec
}

func TestHandlePostmark_OK(t *testing.T) {
	proc := &stubProcessor{result: service.WebhookResult{Received: 1, Applied: 1}}
	h := &handler.WebhookHandler{Service: proc}

	payload := `{"RecordType":"Bounce","Type":"SoftBounce","MessageID":"m1","Email":"a@example.com"}`
	rec := postWebhook(h, payload)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, payload, string(proc.body))

	var got service.WebhookResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, 1, got.Applied)
}

func TestHandlePostmark_ValidationIs400(t *testing.T) {
	h := &handler.WebhookHandler{Service: &stubProcessor{err: appErrors.NewValidationError("Email", "missing")}}

	rec := postWebhook(h, `{"RecordType":"Bounce"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "missing")
}

func TestHandlePostmark_StorageIs500(t *testing.T) {
	h := &handler.WebhookHandler{Service: &stubProcessor{err: appErrors.NewStorageError("apply event", errors.New("deadlock"))}}

	rec := postWebhook(h, `{}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "deadlock")
}

func TestHandlePostmark_BodyTooLarge(t *testing.T) {
	proc := &stubProcessor{}
	h := &handler.WebhookHandler{Service: proc, MaxBytes: 16}

	rec := postWebhook(h, strings.Repeat("x", 64))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Nil(t, proc.body)
}

type stubStats struct {
	dashboard model.DashboardStats
	customer  model.CustomerStats
	degraded  bool
	gotID     int
}

func (s *stubStats) Dashboard(ctx context.Context) model.DashboardStats { return s.dashboard }

func (s *stubStats) Customer(ctx context.Context, id int) (model.CustomerStats, bool) {
	s.gotID = id
	return s.customer, s.degraded
}

type stubSubscribers struct {
	page, pageSize int
	err            error
}

func (s *stubSubscribers) ListSubscribers(ctx context.Context, page, pageSize int) ([]model.Recipient, service.Pagination, error) {
	s.page, s.pageSize = page, pageSize
	if s.err != nil {
		return nil, service.Pagination{}, s.err
	}
	return []model.Recipient{{CustomerID: 1, Email: "a@example.com"}}, service.NewPagination(page, pageSize, 1), nil
}

func statsRouter(h *handler.StatsHandler) http.Handler {
	r := chi.NewRouter()
	r.Get("/stats", h.GetDashboard)
	r.Get("/customers/{id}/stats", h.GetCustomerStats)
	r.Get("/subscribers", h.ListSubscribers)
	return r
}

func TestGetDashboard(t *testing.T) {
	stats := &stubStats{dashboard: model.DashboardStats{TotalSubscribers: 10, TotalSent: 7, TotalBounced: 2, AutoUnsubscribed: 1}}
	router := statsRouter(&handler.StatsHandler{Stats: stats})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stats", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var got model.DashboardStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, stats.dashboard, got)
}

func TestGetCustomerStats(t *testing.T) {
	stats := &stubStats{customer: model.CustomerStats{CustomerID: 5, TotalSent: 3, TotalBounced: 1}}
	router := statsRouter(&handler.StatsHandler{Stats: stats})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/customers/5/stats", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5, stats.gotID)

	var got struct {
		Data     model.CustomerStats `json:"data"`
		Degraded bool                `json:"degraded"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, 3, got.Data.TotalSent)
	assert.False(t, got.Degraded)
}

func TestGetCustomerStats_InvalidID(t *testing.T) {
	router := statsRouter(&handler.StatsHandler{Stats: &stubStats{}})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/customers/abc/stats", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListSubscribers(t *testing.T) {
	subs := &stubSubscribers{}
	router := statsRouter(&handler.StatsHandler{Subscribers: subs})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/subscribers?page=2&page_size=50", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, subs.page)
	assert.Equal(t, 50, subs.pageSize)

	var got struct {
		Data       []model.Recipient  `json:"data"`
		Pagination service.Pagination `json:"pagination"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got.Data, 1)
	assert.Equal(t, 1, got.Pagination.TotalCount)
}

func TestListSubscribers_StorageError(t *testing.T) {
	subs := &stubSubscribers{err: appErrors.NewStorageError("list subscribers", errors.New("down"))}
	router := statsRouter(&handler.StatsHandler{Subscribers: subs})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/subscribers", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
