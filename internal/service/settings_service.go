package service

import (
	"context"
	"strconv"
	"strings"

	"github.com/customeros/mailsherpa/mailvalidate"

	"github.com/unclebandit/newsletter-service/internal/config"
	appErrors "github.com/unclebandit/newsletter-service/internal/errors"
	"github.com/unclebandit/newsletter-service/internal/model"
	"github.com/unclebandit/newsletter-service/internal/repository"
)

// SettingsService reads the POSTMARK_* keys, falling back to process config.
type SettingsService struct {
	Repo     repository.SettingsRepositoryInterface
	Defaults config.PostmarkConfig
}

// Load returns a settings snapshot. Callers pass the snapshot down instead of
// re-reading keys mid-operation.
func (s *SettingsService) Load(ctx context.Context) (model.Settings, error) {
	values, err := s.Repo.GetMany(ctx, model.SettingKeys)
	if err != nil {
		return model.Settings{}, appErrors.NewStorageError("load settings", err)
	}

	d := s.Defaults
	return model.Settings{
		APIToken:            stringSetting(values, model.SettingAPIToken, d.APIToken),
		FromEmail:           stringSetting(values, model.SettingFromEmail, d.FromEmail),
		FromName:            stringSetting(values, model.SettingFromName, d.FromName),
		MessageStream:       stringSetting(values, model.SettingMessageStream, d.MessageStream),
		TrackOpens:          boolSetting(values, model.SettingTrackOpens, d.TrackOpens),
		TrackLinks:          boolSetting(values, model.SettingTrackLinks, d.TrackLinks),
		AutoUnsubscribeHard: boolSetting(values, model.SettingAutoUnsubscribeHard, d.AutoUnsubscribeHard),
		AutoUnsubscribeSoft: boolSetting(values, model.SettingAutoUnsubscribeSoft, d.AutoUnsubscribeSoft),
		SoftBounceThreshold: intSetting(values, model.SettingSoftBounceThreshold, d.SoftBounceThreshold),
	}, nil
}

// Install writes the default value of every key that is not stored yet.
func (s *SettingsService) Install(ctx context.Context) error {
	existing, err := s.Repo.GetMany(ctx, model.SettingKeys)
	if err != nil {
		return appErrors.NewStorageError("install settings", err)
	}
	d := s.Defaults
	defaults := map[string]string{
		model.SettingAPIToken:            d.APIToken,
		model.SettingFromEmail:           d.FromEmail,
		model.SettingFromName:            d.FromName,
		model.SettingMessageStream:       d.MessageStream,
		model.SettingTrackOpens:          formatBool(d.TrackOpens),
		model.SettingTrackLinks:          formatBool(d.TrackLinks),
		model.SettingAutoUnsubscribeHard: formatBool(d.AutoUnsubscribeHard),
		model.SettingAutoUnsubscribeSoft: formatBool(d.AutoUnsubscribeSoft),
		model.SettingSoftBounceThreshold: strconv.Itoa(d.SoftBounceThreshold),
	}
	for _, key := range model.SettingKeys {
		if _, ok := existing[key]; ok {
			continue
		}
		if err := s.Repo.Set(ctx, key, defaults[key]); err != nil {
			return appErrors.NewStorageError("install settings", err)
		}
	}
	return nil
}

// Uninstall removes every key the module owns.
func (s *SettingsService) Uninstall(ctx context.Context) error {
	return appErrors.NewStorageError("uninstall settings", s.Repo.Delete(ctx, model.SettingKeys))
}

// RequireSending checks the settings a dispatch cannot run without.
func RequireSending(s model.Settings) error {
	if s.APIToken == "" {
		return appErrors.NewConfigurationError(model.SettingAPIToken, "is not set")
	}
	if s.FromEmail == "" {
		return appErrors.NewConfigurationError(model.SettingFromEmail, "is not set")
	}
	if !mailvalidate.ValidateEmailSyntax(s.FromEmail).IsValid {
		return appErrors.NewConfigurationError(model.SettingFromEmail, "is not a valid email address")
	}
	return nil
}

func stringSetting(values map[string]string, key, def string) string {
	if v, ok := values[key]; ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func boolSetting(values map[string]string, key string, def bool) bool {
	v, ok := values[key]
	if !ok {
		return def
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return def
}

func intSetting(values map[string]string, key string, def int) int {
	v, ok := values[key]
	if !ok {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return n
}

func formatBool(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
