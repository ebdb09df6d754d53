package service_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/unclebandit/newsletter-service/internal/model"
	"github.com/unclebandit/newsletter-service/internal/service"
)

func TestStatsService_Dashboard(t *testing.T) {
	ctx := context.Background()
	bounces := NewMockBounceRepo()
	bounces.put(model.BounceRecord{Email: "bob@example.com", Classification: model.EventHardBounce, Unsubscribed: true})
	bounces.put(model.BounceRecord{Email: "cy@example.com", Classification: model.EventSoftBounce, SoftBounceCount: 1})

	log := &MockDeliveryLog{}
	for _, status := range []string{model.DeliverySent, model.DeliveryDelivered, model.DeliveryBounced, model.DeliveryFailed, model.DeliveryQueued} {
		log.Create(ctx, &model.DeliveryLogEntry{Status: status})
	}

	svc := &service.StatsService{
		Recipients:  &MockRecipientRepo{recipients: threeRecipients(), bounces: bounces},
		DeliveryLog: log,
		Bounces:     bounces,
	}

	stats := svc.Dashboard(ctx)
	assert.Equal(t, model.DashboardStats{
		TotalSubscribers: 2,
		TotalSent:        2,
		TotalBounced:     1,
		AutoUnsubscribed: 1,
	}, stats)
}

func TestStatsService_DegradesOnReadError(t *testing.T) {
	bounces := NewMockBounceRepo()
	bounces.fail = errDB
	svc := &service.StatsService{
		Recipients:  &MockRecipientRepo{recipients: threeRecipients()},
		DeliveryLog: &MockDeliveryLog{},
		Bounces:     bounces,
	}

	stats := svc.Dashboard(context.Background())
	assert.True(t, stats.Degraded)
	assert.Zero(t, stats.TotalSubscribers)
	assert.Zero(t, stats.TotalSent)
}

func TestStatsService_Customer(t *testing.T) {
	ctx := context.Background()
	log := &MockDeliveryLog{}
	log.Create(ctx, &model.DeliveryLogEntry{CustomerID: 7, Status: model.DeliverySent})
	log.Create(ctx, &model.DeliveryLogEntry{CustomerID: 7, Status: model.DeliveryBounced})
	log.Create(ctx, &model.DeliveryLogEntry{CustomerID: 8, Status: model.DeliverySent})

	svc := &service.StatsService{DeliveryLog: log}
	stats, degraded := svc.Customer(ctx, 7)
	assert.False(t, degraded)
	assert.Equal(t, model.CustomerStats{CustomerID: 7, TotalSent: 2, TotalBounced: 1}, stats)

	log.fail = errDB
	stats, degraded = svc.Customer(ctx, 7)
	assert.True(t, degraded)
	assert.Equal(t, 7, stats.CustomerID)
}
