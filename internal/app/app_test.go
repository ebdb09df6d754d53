package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unclebandit/newsletter-service/internal/config"
	"github.com/unclebandit/newsletter-service/internal/postmark"
)

func TestNew_WiresEveryComponent(t *testing.T) {
	conn, _, err := sqlmock.New()
	require.NoError(t, err)
	defer conn.Close()

	cfg := config.Default()
	cfg.Database.TablePrefix = "shop_"

	a, err := New(cfg, conn, nil)
	require.NoError(t, err)

	assert.Equal(t, "shop_postmark_bounces", a.Bounces.Tables.Bounces)
	assert.Same(t, a.Ledger, a.Webhook.Ledger)
	assert.NotNil(t, a.Dispatcher.NewLock)
	assert.NotNil(t, a.Newsletters.NewMailer)
	assert.IsType(t, &postmark.Client{}, a.Dispatcher.NewMailer("token"))

	rec := httptest.NewRecorder()
	a.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestNew_RejectsBadPrefix(t *testing.T) {
	conn, _, err := sqlmock.New()
	require.NoError(t, err)
	defer conn.Close()

	cfg := config.Default()
	cfg.Database.TablePrefix = "ps_; DROP TABLE x"

	_, err = New(cfg, conn, nil)
	assert.Error(t, err)
}

func TestConnectRedis(t *testing.T) {
	client, err := ConnectRedis(context.Background(), config.RedisConfig{})
	require.NoError(t, err)
	assert.Nil(t, client)

	mr := miniredis.RunT(t)
	client, err = ConnectRedis(context.Background(), config.RedisConfig{URL: "redis://" + mr.Addr()})
	require.NoError(t, err)
	require.NotNil(t, client)
	client.Close()

	_, err = ConnectRedis(context.Background(), config.RedisConfig{URL: "://bad"})
	assert.Error(t, err)
}
