package postmark

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/unclebandit/newsletter-service/internal/errors"
	"github.com/unclebandit/newsletter-service/internal/model"
)

func TestSend_Success(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/email", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "tok", r.Header.Get("X-Postmark-Server-Token"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"To":"a@shop.test","MessageID":"b7bc2f4a-e38e","ErrorCode":0,"Message":"OK"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", "tok", nil)
	id, err := c.Send(context.Background(), model.OutboundEmail{
		From:          FormatFrom("Shop", "news@shop.test"),
		To:            "a@shop.test",
		Subject:       "Hello",
		HTMLBody:      "<p>hi</p>",
		TrackOpens:    true,
		TrackLinks:    true,
		MessageStream: "broadcast",
	})
	require.NoError(t, err)
	assert.Equal(t, "b7bc2f4a-e38e", id)
	assert.Equal(t, "Shop <news@shop.test>", got["From"])
	assert.Equal(t, "HtmlAndText", got["TrackLinks"])
	assert.Equal(t, true, got["TrackOpens"])
	assert.Equal(t, "broadcast", got["MessageStream"])
}

func TestSend_TrackLinksOmittedWhenDisabled(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(`{"MessageID":"x","ErrorCode":0}`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "tok", nil).Send(context.Background(), model.OutboundEmail{To: "a@shop.test"})
	require.NoError(t, err)
	_, present := got["TrackLinks"]
	assert.False(t, present)
}

func TestSend_AcceptedWithoutMessageIDIsNotRetried(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Write([]byte(`{"ErrorCode":0,"Message":"OK"}`))
	}))
	defer srv.Close()

	id, err := NewClient(srv.URL, "tok", nil).Send(context.Background(), model.OutboundEmail{To: "a@shop.test"})
	require.NoError(t, err)
	assert.Empty(t, id)
	assert.Equal(t, 1, calls)
}

func TestSend_ErrorClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   appErrors.TransportKind
	}{
		{"bad token", http.StatusUnauthorized, `{"ErrorCode":10,"Message":"Bad or missing API token"}`, appErrors.TransportCritical},
		{"inactive recipient", http.StatusUnprocessableEntity, `{"ErrorCode":406,"Message":"You tried to send to a recipient that has been marked as inactive."}`, appErrors.TransportPermanent},
		{"invalid address", http.StatusUnprocessableEntity, `{"ErrorCode":300,"Message":"Invalid 'To' address"}`, appErrors.TransportPermanent},
		{"stream missing", http.StatusUnprocessableEntity, `{"ErrorCode":1235,"Message":"The message stream does not exist"}`, appErrors.TransportCritical},
		{"rate limited", http.StatusTooManyRequests, ``, appErrors.TransportTransient},
		{"server error", http.StatusServiceUnavailable, `<html>down</html>`, appErrors.TransportTransient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := NewClient(srv.URL, "tok", nil).Send(context.Background(), model.OutboundEmail{To: "a@shop.test"})
			te, ok := appErrors.AsTransport(err)
			require.True(t, ok, "expected transport error, got %v", err)
			assert.Equal(t, tt.want, te.Kind)
			assert.Equal(t, tt.status, te.StatusCode)
		})
	}
}

func TestSend_TimeoutIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := NewClient(srv.URL, "tok", nil).Send(ctx, model.OutboundEmail{To: "a@shop.test"})
	te, ok := appErrors.AsTransport(err)
	require.True(t, ok)
	assert.True(t, te.Retryable())
}

func TestTestConnection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/server", r.URL.Path)
		if r.Header.Get("X-Postmark-Server-Token") != "good" {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"ErrorCode":10,"Message":"Bad or missing API token"}`))
			return
		}
		w.Write([]byte(`{"ID":1,"Name":"Shop"}`))
	}))
	defer srv.Close()

	assert.NoError(t, NewClient(srv.URL, "good", nil).TestConnection(context.Background()))

	err := NewClient(srv.URL, "bad", nil).TestConnection(context.Background())
	te, ok := appErrors.AsTransport(err)
	require.True(t, ok)
	assert.Equal(t, appErrors.TransportCritical, te.Kind)
	assert.Contains(t, te.Message, "Bad or missing")
}

func TestFormatFrom(t *testing.T) {
	assert.Equal(t, "news@shop.test", FormatFrom("", "news@shop.test"))
	assert.Equal(t, "Shop <news@shop.test>", FormatFrom("Shop", "news@shop.test"))
}
