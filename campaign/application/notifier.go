package application

import (
	"context"

	"github.com/leadpulse/engine/campaign/domain"
	"github.com/sirupsen/logrus"
)

// LogNotifier is the default INotifier: the real notification/dashboard
// layer lives outside this service, so lifecycle events are logged here and
// picked up by whatever consumes the log stream.
type LogNotifier struct{}

func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (n *LogNotifier) CampaignPaused(_ context.Context, c domain.Campaign, reason string) {
	logrus.Warnf("[NOTIFY] Campaign %s (%s) paused: %s", c.ID, c.Name, reason)
}

func (n *LogNotifier) CampaignExhausted(_ context.Context, c domain.Campaign) {
	logrus.Infof("[NOTIFY] Campaign %s (%s) exhausted its audience", c.ID, c.Name)
}
