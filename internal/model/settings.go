// internal/model/settings.go
package model

// Setting keys of the key/value configuration store.
const (
	SettingAPIToken            = "POSTMARK_API_TOKEN"
	SettingFromEmail           = "POSTMARK_FROM_EMAIL"
	SettingFromName            = "POSTMARK_FROM_NAME"
	SettingMessageStream       = "POSTMARK_MESSAGE_STREAM"
	SettingTrackOpens          = "POSTMARK_TRACK_OPENS"
	SettingTrackLinks          = "POSTMARK_TRACK_LINKS"
	SettingAutoUnsubscribeHard = "POSTMARK_AUTO_UNSUBSCRIBE_HARD"
	SettingAutoUnsubscribeSoft = "POSTMARK_AUTO_UNSUBSCRIBE_SOFT"
	SettingSoftBounceThreshold = "POSTMARK_SOFT_BOUNCE_THRESHOLD"
)

// SettingKeys lists every key the module owns, in install order.
var SettingKeys = []string{
	SettingAPIToken,
	SettingFromEmail,
	SettingFromName,
	SettingAutoUnsubscribeHard,
	SettingAutoUnsubscribeSoft,
	SettingSoftBounceThreshold,
	SettingTrackOpens,
	SettingTrackLinks,
	SettingMessageStream,
}

// Settings is a snapshot of the newsletter configuration, read once per
// operation and passed down explicitly.
type Settings struct {
	APIToken            string `json:"-"`
	FromEmail           string `json:"from_email"`
	FromName            string `json:"from_name"`
	MessageStream       string `json:"message_stream"`
	TrackOpens          bool   `json:"track_opens"`
	TrackLinks          bool   `json:"track_links"`
	AutoUnsubscribeHard bool   `json:"auto_unsubscribe_hard"`
	AutoUnsubscribeSoft bool   `json:"auto_unsubscribe_soft"`
	SoftBounceThreshold int    `json:"soft_bounce_threshold"`
}

// OutboundEmail is the input of the mail-sending capability.
type OutboundEmail struct {
	From          string
	To            string
	Subject       string
	HTMLBody      string
	TrackOpens    bool
	TrackLinks    bool
	MessageStream string
}
