package service_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/unclebandit/newsletter-service/internal/errors"
	"github.com/unclebandit/newsletter-service/internal/model"
	"github.com/unclebandit/newsletter-service/internal/policy"
	"github.com/unclebandit/newsletter-service/internal/service"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func soft(email, msgID string, at time.Time) model.BounceEvent {
	return model.BounceEvent{Email: email, Type: model.EventSoftBounce, MessageID: msgID, OccurredAt: at}
}

func TestBounceLedger_SoftThresholdTwoScenario(t *testing.T) {
	ledger := service.NewBounceLedger(NewMockBounceRepo(), 8)
	cfg := policy.Config{AutoUnsubscribeSoft: true, SoftBounceThreshold: 2}
	ctx := context.Background()

	rec, applied, err := ledger.RecordEvent(ctx, soft("a@example.com", "m1", t0), cfg)
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, 1, rec.SoftBounceCount)
	assert.False(t, rec.Unsubscribed)

	rec, _, err = ledger.RecordEvent(ctx, soft("a@example.com", "m2", t0.Add(time.Hour)), cfg)
	require.NoError(t, err)
	assert.Equal(t, 2, rec.SoftBounceCount)
	assert.True(t, rec.Unsubscribed)

	rec, applied, err = ledger.RecordEvent(ctx, soft("a@example.com", "m2", t0.Add(time.Hour)), cfg)
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, 2, rec.SoftBounceCount)
	assert.True(t, rec.Unsubscribed)
}

func TestBounceLedger_ThresholdThree(t *testing.T) {
	ledger := service.NewBounceLedger(NewMockBounceRepo(), 8)
	cfg := policy.Config{AutoUnsubscribeSoft: true, SoftBounceThreshold: 3}
	ctx := context.Background()

	for i := 1; i <= 2; i++ {
		_, _, err := ledger.RecordEvent(ctx, soft("b@example.com", fmt.Sprintf("m%d", i), t0), cfg)
		require.NoError(t, err)
	}
	unsub, err := ledger.IsUnsubscribed(ctx, "b@example.com")
	require.NoError(t, err)
	assert.False(t, unsub)

	_, _, err = ledger.RecordEvent(ctx, soft("b@example.com", "m3", t0), cfg)
	require.NoError(t, err)
	unsub, err = ledger.IsUnsubscribed(ctx, "B@Example.com")
	require.NoError(t, err)
	assert.True(t, unsub)
}

func TestBounceLedger_HardBounceIgnoresSoftCount(t *testing.T) {
	ledger := service.NewBounceLedger(NewMockBounceRepo(), 8)
	cfg := policy.Config{AutoUnsubscribeHard: true, AutoUnsubscribeSoft: true, SoftBounceThreshold: 5}
	ctx := context.Background()

	_, _, err := ledger.RecordEvent(ctx, soft("c@example.com", "m1", t0), cfg)
	require.NoError(t, err)

	rec, _, err := ledger.RecordEvent(ctx, model.BounceEvent{Email: "c@example.com", Type: model.EventHardBounce, MessageID: "m2", OccurredAt: t0}, cfg)
	require.NoError(t, err)
	assert.True(t, rec.Unsubscribed)
	assert.Equal(t, 1, rec.SoftBounceCount)
	assert.Equal(t, model.EventHardBounce, rec.Classification)
}

func TestBounceLedger_UnsubscribedNeverReverts(t *testing.T) {
	ledger := service.NewBounceLedger(NewMockBounceRepo(), 8)
	ctx := context.Background()

	_, _, err := ledger.RecordEvent(ctx, model.BounceEvent{Email: "d@example.com", Type: model.EventSpamComplaint, MessageID: "m1", OccurredAt: t0},
		policy.Config{AutoUnsubscribeHard: true})
	require.NoError(t, err)

	// even with every unsubscribe flag off, later events keep the flag
	off := policy.Config{}
	for i, typ := range []model.EventType{model.EventTransient, model.EventSoftBounce, model.EventHardBounce} {
		rec, _, err := ledger.RecordEvent(ctx, model.BounceEvent{Email: "d@example.com", Type: typ, MessageID: fmt.Sprintf("n%d", i), OccurredAt: t0}, off)
		require.NoError(t, err)
		assert.True(t, rec.Unsubscribed, typ)
	}
}

func TestBounceLedger_KeepsNewestEventAsLast(t *testing.T) {
	ledger := service.NewBounceLedger(NewMockBounceRepo(), 8)
	ctx := context.Background()
	cfg := policy.Config{SoftBounceThreshold: 3}

	_, _, err := ledger.RecordEvent(ctx, soft("e@example.com", "late", t0.Add(time.Hour)), cfg)
	require.NoError(t, err)
	rec, _, err := ledger.RecordEvent(ctx, soft("e@example.com", "early", t0), cfg)
	require.NoError(t, err)

	assert.Equal(t, 2, rec.SoftBounceCount)
	assert.Equal(t, "late", rec.LastMessageID)
	assert.Equal(t, t0.Add(time.Hour), rec.LastEventAt)
}

func TestBounceLedger_ConcurrentSoftBouncesDoNotLoseUpdates(t *testing.T) {
	ledger := service.NewBounceLedger(NewMockBounceRepo(), 16)
	cfg := policy.Config{AutoUnsubscribeSoft: true, SoftBounceThreshold: 100}
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, err := ledger.RecordEvent(ctx, soft("f@example.com", fmt.Sprintf("m%d", i), t0), cfg)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	rec, err := ledger.Repo.Get(ctx, "f@example.com")
	require.NoError(t, err)
	assert.Equal(t, 40, rec.SoftBounceCount)
}

func TestBounceLedger_StorageErrorIsClassified(t *testing.T) {
	repo := NewMockBounceRepo()
	repo.fail = errDB
	ledger := service.NewBounceLedger(repo, 1)

	_, _, err := ledger.RecordEvent(context.Background(), soft("g@example.com", "m1", t0), policy.Config{})
	assert.True(t, appErrors.IsStorage(err))

	_, err = ledger.Stats(context.Background())
	assert.True(t, appErrors.IsStorage(err))
}
