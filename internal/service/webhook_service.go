package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/customeros/mailsherpa/mailvalidate"
	"go.uber.org/zap"

	appErrors "github.com/unclebandit/newsletter-service/internal/errors"
	"github.com/unclebandit/newsletter-service/internal/logger"
	"github.com/unclebandit/newsletter-service/internal/model"
	"github.com/unclebandit/newsletter-service/internal/policy"
	"github.com/unclebandit/newsletter-service/internal/repository"
)

// Postmark record types the receiver acts on.
const (
	RecordBounce        = "Bounce"
	RecordDelivery      = "Delivery"
	RecordSpamComplaint = "SpamComplaint"
)

// bounceTypes maps Postmark bounce Type values to ledger event types.
// Types missing here are acknowledged and ignored.
var bounceTypes = map[string]model.EventType{
	"HardBounce":          model.EventHardBounce,
	"BadEmailAddress":     model.EventHardBounce,
	"ManuallyDeactivated": model.EventHardBounce,
	"SoftBounce":          model.EventSoftBounce,
	"DnsError":            model.EventSoftBounce,
	"Blocked":             model.EventSoftBounce,
	"Transient":           model.EventTransient,
	"AutoResponder":       model.EventTransient,
	"SpamComplaint":       model.EventSpamComplaint,
}

// PostmarkEvent is the subset of a Postmark webhook payload the receiver reads.
type PostmarkEvent struct {
	RecordType  string `json:"RecordType"`
	Type        string `json:"Type"`
	MessageID   string `json:"MessageID"`
	Email       string `json:"Email"`
	Recipient   string `json:"Recipient"`
	BouncedAt   string `json:"BouncedAt"`
	DeliveredAt string `json:"DeliveredAt"`
}

// WebhookResult summarizes one webhook request.
type WebhookResult struct {
	Received   int `json:"received"`
	Applied    int `json:"applied"`
	Duplicates int `json:"duplicates"`
	Ignored    int `json:"ignored"`
}

// SettingsLoader yields the current settings snapshot.
type SettingsLoader interface {
	Load(ctx context.Context) (model.Settings, error)
}

// WebhookService turns provider callbacks into ledger and delivery log updates.
type WebhookService struct {
	Ledger      *BounceLedger
	DeliveryLog repository.DeliveryLogRepositoryInterface
	Settings    SettingsLoader
}

// ParseEvents decodes a single event object or an array of them. Every
// recognized event is validated before any is returned, so a bad event
// rejects the whole request. Unrecognized events come back with an empty Type.
func ParseEvents(body []byte) ([]model.BounceEvent, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, appErrors.NewValidationError("", "empty payload")
	}

	var raw []PostmarkEvent
	if trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &raw); err != nil {
			return nil, appErrors.NewValidationError("", "malformed JSON: "+err.Error())
		}
	} else {
		var single PostmarkEvent
		if err := json.Unmarshal(trimmed, &single); err != nil {
			return nil, appErrors.NewValidationError("", "malformed JSON: "+err.Error())
		}
		raw = []PostmarkEvent{single}
	}

	events := make([]model.BounceEvent, 0, len(raw))
	for i, pe := range raw {
		ev, err := toEvent(pe)
		if err != nil {
			return nil, fmt.Errorf("event %d: %w", i, err)
		}
		events = append(events, ev)
	}
	return events, nil
}

func toEvent(pe PostmarkEvent) (model.BounceEvent, error) {
	if pe.RecordType == "" {
		return model.BounceEvent{}, appErrors.NewValidationError("RecordType", "is required")
	}

	var (
		evType    model.EventType
		email     string
		timestamp string
		tsField   string
	)
	switch pe.RecordType {
	case RecordBounce:
		t, ok := bounceTypes[pe.Type]
		if !ok {
			return model.BounceEvent{ProviderType: pe.Type}, nil
		}
		evType, email, timestamp, tsField = t, pe.Email, pe.BouncedAt, "BouncedAt"
	case RecordSpamComplaint:
		evType, email, timestamp, tsField = model.EventSpamComplaint, pe.Email, pe.BouncedAt, "BouncedAt"
	case RecordDelivery:
		evType, email, timestamp, tsField = model.EventDelivery, pe.Recipient, pe.DeliveredAt, "DeliveredAt"
	default:
		return model.BounceEvent{ProviderType: pe.RecordType}, nil
	}

	if strings.TrimSpace(pe.MessageID) == "" {
		return model.BounceEvent{}, appErrors.NewValidationError("MessageID", "is required")
	}
	if strings.TrimSpace(email) == "" {
		return model.BounceEvent{}, appErrors.NewValidationError("Email", "is required")
	}
	validation := mailvalidate.ValidateEmailSyntax(email)
	if !validation.IsValid {
		return model.BounceEvent{}, appErrors.NewValidationError("Email", "is not a valid email address")
	}
	if timestamp == "" {
		return model.BounceEvent{}, appErrors.NewValidationError(tsField, "is required")
	}
	occurredAt, err := time.Parse(time.RFC3339Nano, timestamp)
	if err != nil {
		return model.BounceEvent{}, appErrors.NewValidationError(tsField, "is not an RFC 3339 timestamp")
	}

	providerType := pe.Type
	if providerType == "" {
		providerType = pe.RecordType
	}
	return model.BounceEvent{
		Email:        NormalizeEmail(email),
		Type:         evType,
		MessageID:    strings.TrimSpace(pe.MessageID),
		OccurredAt:   occurredAt.UTC(),
		ProviderType: providerType,
	}, nil
}

// Process parses body and applies every recognized event. A ValidationError
// means nothing was applied. A StorageError means the provider should redeliver;
// events applied before the failure are deduplicated on redelivery.
func (s *WebhookService) Process(ctx context.Context, body []byte) (WebhookResult, error) {
	events, err := ParseEvents(body)
	if err != nil {
		return WebhookResult{}, err
	}
	result := WebhookResult{Received: len(events)}

	settings, err := s.Settings.Load(ctx)
	if err != nil {
		return result, err
	}
	cfg := policy.FromSettings(settings)

	for _, ev := range events {
		switch {
		case ev.Type == "":
			result.Ignored++
			logger.L().Info("ignoring unrecognized webhook event", zap.String("provider_type", ev.ProviderType))
		case ev.Type == model.EventDelivery:
			if err := s.markDelivery(ctx, ev.MessageID, model.DeliveryDelivered); err != nil {
				return result, err
			}
			result.Applied++
		default:
			_, applied, err := s.Ledger.RecordEvent(ctx, ev, cfg)
			if err != nil {
				return result, err
			}
			if applied {
				result.Applied++
			} else {
				result.Duplicates++
			}
			// also on duplicates: a redelivery may follow a failed log update
			if ev.Type == model.EventHardBounce || ev.Type == model.EventSoftBounce {
				if err := s.markDelivery(ctx, ev.MessageID, model.DeliveryBounced); err != nil {
					return result, err
				}
			}
		}
	}
	return result, nil
}

func (s *WebhookService) markDelivery(ctx context.Context, messageID, status string) error {
	n, err := s.DeliveryLog.MarkByMessageID(ctx, messageID, status)
	if err != nil {
		return appErrors.NewStorageError("update delivery log", err)
	}
	if n > 0 {
		logger.L().Debug("delivery log entry updated", zap.String("message_id", messageID), zap.String("status", status))
	}
	return nil
}
