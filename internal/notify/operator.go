// Package notify delivers out-of-band alerts: operator emails when the
// channel session gives up reconnecting, and realtime reply pushes to the
// owning user's live connections.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/anonzap/anonzap-backend/pkg/logging"
)

const operatorAlertTimeout = 15 * time.Second

// OperatorAlerter emails a human when the session needs manual intervention.
type OperatorAlerter struct {
	sender EmailSender
	to     string
	logger *logging.Logger
}

func NewOperatorAlerter(sender EmailSender, to string, logger *logging.Logger) *OperatorAlerter {
	if logger == nil {
		logger = logging.Default()
	}
	return &OperatorAlerter{sender: sender, to: to, logger: logger}
}

// NotifyReconnectExhausted reports that automatic recovery has stopped. Best
// effort: a failed alert is logged, never propagated, because the session
// controller has nothing useful to do with the error.
func (a *OperatorAlerter) NotifyReconnectExhausted(ctx context.Context, channel string, attempts int) {
	if a == nil || a.sender == nil || a.to == "" {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, operatorAlertTimeout)
	defer cancel()

	msg := EmailMessage{
		To:      a.to,
		Subject: fmt.Sprintf("[anonzap] %s session needs manual intervention", channel),
		Body: fmt.Sprintf(
			"The %s channel session exhausted %d reconnect attempts and stopped retrying.\n\n"+
				"Reconnect it from the admin panel (a new QR scan may be required).",
			channel, attempts),
	}
	if err := a.sender.Send(ctx, msg); err != nil {
		a.logger.Error("notify: operator alert failed", "error", err, "channel", channel)
		return
	}
	a.logger.Info("notify: operator alerted", "channel", channel, "attempts", attempts)
}
