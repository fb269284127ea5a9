package domain

import "time"

// CreateCampaignRequest is the wire shape for campaign creation.
type CreateCampaignRequest struct {
	Name                string     `json:"name"`
	Channel             string     `json:"channel"`
	Variants            []string   `json:"variants"`
	PlaceholderFallback string     `json:"placeholder_fallback"`
	Audience            string     `json:"audience"`
	FieldKey            string     `json:"field_key,omitempty"`
	FieldValue          string     `json:"field_value,omitempty"`
	SubmittedFrom       *time.Time `json:"submitted_from,omitempty"`
	SubmittedTo         *time.Time `json:"submitted_to,omitempty"`
	TriggerType         string     `json:"trigger_type"`
	TriggerDelaySec     int64      `json:"trigger_delay_sec,omitempty"`
	Activate            bool       `json:"activate"`
}

type PauseCampaignRequest struct {
	Reason string `json:"reason,omitempty"`
}

// UpdateSettingsRequest overrides the per-channel anti-ban bounds. Enabled
// is a pointer so an absent field keeps the current value.
type UpdateSettingsRequest struct {
	DelayMinSec int64 `json:"delay_min_sec"`
	DelayMaxSec int64 `json:"delay_max_sec"`
	DailyCap    int   `json:"daily_cap"`
	Enabled     *bool `json:"enabled,omitempty"`
}
