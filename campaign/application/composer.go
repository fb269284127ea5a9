package application

import (
	"regexp"
	"strings"

	audienceDomain "github.com/leadpulse/engine/audience/domain"
	"github.com/leadpulse/engine/campaign/domain"
	"github.com/sirupsen/logrus"
)

var placeholderRe = regexp.MustCompile(`\{([a-zA-Z0-9_]+)\}`)

// Composer renders personalized message bodies. Variant selection is
// round-robin scoped per campaign, not per contact: successive sends cycle
// through the whole variant list before any variant repeats, so the channel
// never sees the same text back to back.
type Composer struct{}

func NewComposer() *Composer {
	return &Composer{}
}

// NextVariant returns the rotation slot for the next send and advances the
// campaign's persisted cursor.
func (c *Composer) NextVariant(campaign *domain.Campaign) (int, string) {
	n := len(campaign.Variants)
	if n == 0 {
		return 0, ""
	}
	idx := campaign.NextVariant % n
	campaign.NextVariant = (idx + 1) % n
	return idx, campaign.Variants[idx]
}

// Render substitutes {field} placeholders with the contact's variables.
// A missing field falls back to the campaign's fallback string; an
// unresolved placeholder never reaches the channel verbatim — it renders as
// the fallback (empty by default) and the event is logged.
func (c *Composer) Render(campaign *domain.Campaign, template string, contact audienceDomain.Contact) string {
	return placeholderRe.ReplaceAllStringFunc(template, func(match string) string {
		field := strings.Trim(match, "{}")
		if val, ok := contact.Fields[field]; ok && val != "" {
			return val
		}
		logrus.Debugf("[COMPOSER] Campaign %s: unresolved placeholder {%s} for %s", campaign.ID, field, contact.Identity)
		return campaign.PlaceholderFallback
	})
}

// Compose picks the next variant and renders it for the contact.
func (c *Composer) Compose(campaign *domain.Campaign, contact audienceDomain.Contact) (int, string) {
	idx, template := c.NextVariant(campaign)
	return idx, c.Render(campaign, template, contact)
}
