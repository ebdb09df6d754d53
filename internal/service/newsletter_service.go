package service

import (
	"context"
	"strings"
	"time"

	"github.com/customeros/mailsherpa/mailvalidate"
	"go.uber.org/zap"

	appErrors "github.com/unclebandit/newsletter-service/internal/errors"
	"github.com/unclebandit/newsletter-service/internal/logger"
	"github.com/unclebandit/newsletter-service/internal/model"
	"github.com/unclebandit/newsletter-service/internal/repository"
)

const (
	testEmailSubject = "Postmark Newsletter Test Email"
	testEmailBody    = "<p>Hello!</p>" +
		"<p>This is a test email sent from the newsletter module configuration.</p>" +
		"<p>If you received this message, your Postmark settings are working correctly.</p>"
)

// Pagination describes one page of a listing.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
	TotalPages int `json:"total_pages"`
}

func NewPagination(page, pageSize, total int) Pagination {
	totalPages := 0
	if pageSize > 0 {
		totalPages = (total + pageSize - 1) / pageSize
	}
	return Pagination{Page: page, PageSize: pageSize, TotalCount: total, TotalPages: totalPages}
}

// NewsletterDetails is a newsletter with its delivery counts.
type NewsletterDetails struct {
	*model.Newsletter
	Stats model.DeliveryCounts `json:"stats"`
}

// NewsletterService covers newsletter CRUD, subscriber listing and the
// settings checks offered to administrators.
type NewsletterService struct {
	Newsletters repository.NewsletterRepositoryInterface
	DeliveryLog repository.DeliveryLogRepositoryInterface
	Recipients  repository.RecipientRepositoryInterface
	Settings    SettingsLoader
	NewMailer   MailerFactory
}

// CreateNewsletter validates and stores a draft, or a scheduled newsletter
// when scheduledAt is set.
func (s *NewsletterService) CreateNewsletter(ctx context.Context, subject, htmlBody string, scheduledAt *time.Time) (*model.Newsletter, error) {
	if strings.TrimSpace(subject) == "" {
		return nil, appErrors.NewValidationError("subject", "is required")
	}
	if strings.TrimSpace(htmlBody) == "" {
		return nil, appErrors.NewValidationError("html_body", "is required")
	}

	n := &model.Newsletter{
		Subject:  subject,
		HTMLBody: htmlBody,
		Status:   model.NewsletterDraft,
	}
	if scheduledAt != nil {
		at := scheduledAt.UTC()
		n.ScheduledAt = &at
		n.Status = model.NewsletterScheduled
	}

	if err := s.Newsletters.Create(ctx, n); err != nil {
		return nil, appErrors.NewStorageError("create newsletter", err)
	}
	logger.L().Info("newsletter created", zap.Int("newsletter_id", n.ID), zap.String("status", n.Status))
	return n, nil
}

// ListNewsletters returns a page of newsletters, optionally filtered by status.
func (s *NewsletterService) ListNewsletters(ctx context.Context, page, pageSize int, status string) ([]*model.Newsletter, Pagination, error) {
	page, pageSize = normalizePage(page, pageSize)
	offset := (page - 1) * pageSize

	newsletters, total, err := s.Newsletters.List(ctx, offset, pageSize, status)
	if err != nil {
		return nil, Pagination{}, appErrors.NewStorageError("list newsletters", err)
	}
	return newsletters, NewPagination(page, pageSize, total), nil
}

// GetNewsletterDetails returns a newsletter with per-status delivery counts.
func (s *NewsletterService) GetNewsletterDetails(ctx context.Context, id int) (*NewsletterDetails, error) {
	n, err := s.Newsletters.GetByID(ctx, id)
	if err != nil {
		return nil, appErrors.NewStorageError("get newsletter", err)
	}
	if n == nil {
		return nil, appErrors.NewNotFound("newsletter", id)
	}

	counts, err := s.DeliveryLog.CountByStatusForNewsletter(ctx, id)
	if err != nil {
		return nil, appErrors.NewStorageError("newsletter delivery stats", err)
	}
	return &NewsletterDetails{Newsletter: n, Stats: counts}, nil
}

// ListSubscribers pages through eligible subscribers ordered by customer id.
func (s *NewsletterService) ListSubscribers(ctx context.Context, page, pageSize int) ([]model.Recipient, Pagination, error) {
	page, pageSize = normalizePage(page, pageSize)
	recipients, total, err := s.Recipients.ListEligible(ctx, (page-1)*pageSize, pageSize)
	if err != nil {
		return nil, Pagination{}, appErrors.NewStorageError("list subscribers", err)
	}
	return recipients, NewPagination(page, pageSize, total), nil
}

// TestConnection checks the configured token against the provider. No retry.
func (s *NewsletterService) TestConnection(ctx context.Context) error {
	settings, err := s.Settings.Load(ctx)
	if err != nil {
		return err
	}
	if settings.APIToken == "" {
		return appErrors.NewConfigurationError(model.SettingAPIToken, "is not set")
	}
	return s.NewMailer(settings.APIToken).TestConnection(ctx)
}

// SendTestEmail sends a fixed message to address using the configured
// stream and tracking flags. No retry and no delivery log row.
func (s *NewsletterService) SendTestEmail(ctx context.Context, address string) (string, error) {
	validation := mailvalidate.ValidateEmailSyntax(address)
	if strings.TrimSpace(address) == "" || !validation.IsValid {
		return "", appErrors.NewValidationError("email", "is not a valid email address")
	}

	settings, err := s.Settings.Load(ctx)
	if err != nil {
		return "", err
	}
	if err := RequireSending(settings); err != nil {
		return "", err
	}
	if settings.FromName == "" {
		return "", appErrors.NewConfigurationError(model.SettingFromName, "is not set")
	}

	messageID, err := s.NewMailer(settings.APIToken).Send(ctx, model.OutboundEmail{
		From:          FormatSender(settings),
		To:            strings.TrimSpace(address),
		Subject:       testEmailSubject,
		HTMLBody:      testEmailBody,
		TrackOpens:    settings.TrackOpens,
		TrackLinks:    settings.TrackLinks,
		MessageStream: settings.MessageStream,
	})
	if err != nil {
		return "", err
	}
	logger.L().Info("test email sent", logger.Email("email", address), zap.String("message_id", messageID))
	return messageID, nil
}

func normalizePage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 200 {
		pageSize = 200
	}
	return page, pageSize
}
