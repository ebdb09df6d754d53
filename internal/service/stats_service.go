package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/unclebandit/newsletter-service/internal/logger"
	"github.com/unclebandit/newsletter-service/internal/model"
	"github.com/unclebandit/newsletter-service/internal/repository"
)

// StatsService derives dashboard counters. Read failures degrade to zero
// values instead of failing the caller.
type StatsService struct {
	Recipients  repository.RecipientRepositoryInterface
	DeliveryLog repository.DeliveryLogRepositoryInterface
	Bounces     repository.BounceRepositoryInterface
}

func (s *StatsService) Dashboard(ctx context.Context) model.DashboardStats {
	var stats model.DashboardStats

	subscribers, err := s.Recipients.CountEligible(ctx)
	if err != nil {
		return degraded("count subscribers", err)
	}
	counts, err := s.DeliveryLog.CountByStatus(ctx)
	if err != nil {
		return degraded("count delivery log", err)
	}
	ledger, err := s.Bounces.Stats(ctx)
	if err != nil {
		return degraded("ledger stats", err)
	}

	stats.TotalSubscribers = subscribers
	stats.TotalSent = counts[model.DeliverySent] + counts[model.DeliveryDelivered]
	stats.TotalBounced = counts[model.DeliveryBounced]
	stats.AutoUnsubscribed = ledger.TotalAutoUnsubscribed
	return stats
}

// Customer returns per-customer counters, degraded to zeros on read failure.
func (s *StatsService) Customer(ctx context.Context, customerID int) (model.CustomerStats, bool) {
	stats, err := s.DeliveryLog.CustomerStats(ctx, customerID)
	if err != nil {
		logger.L().Warn("customer stats unavailable", zap.Int("customer_id", customerID), zap.Error(err))
		return model.CustomerStats{CustomerID: customerID}, true
	}
	return stats, false
}

func degraded(op string, err error) model.DashboardStats {
	logger.L().Warn("dashboard stats degraded", zap.String("op", op), zap.Error(err))
	return model.DashboardStats{Degraded: true}
}
