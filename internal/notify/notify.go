// Package notify is the boundary to the mail system. Template rendering
// and delivery live behind the interface; the core only decides when a
// notification goes out. Failures are soft: logged, never rolled into
// the transition that triggered them.
package notify

import (
	"context"
	"log/slog"

	"github.com/leeszaal/deliver-go/internal/domain"
)

type Notifier interface {
	// SendPending tells the reading room a new request needs attention.
	SendPending(ctx context.Context, req domain.Request) error
	// SendOfferReady tells the customer their reproduction offer is ready;
	// confirmURL carries the token-authorized confirmation link.
	SendOfferReady(ctx context.Context, rep *domain.Reproduction, confirmURL string) error
	SendPaymentReminder(ctx context.Context, rep *domain.Reproduction) error
	SendCancelled(ctx context.Context, rep *domain.Reproduction) error
}

// LogNotifier records every notification on the application log. Used
// wherever no mail transport is wired up.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) SendPending(_ context.Context, req domain.Request) error {
	n.logger.Info("notify: request pending",
		"kind", string(req.Kind()),
		"request", req.RequestID(),
	)
	return nil
}

func (n *LogNotifier) SendOfferReady(_ context.Context, rep *domain.Reproduction, confirmURL string) error {
	n.logger.Info("notify: offer ready",
		"reproduction", rep.ID,
		"email", rep.Email,
		"confirm_url", confirmURL,
	)
	return nil
}

func (n *LogNotifier) SendPaymentReminder(_ context.Context, rep *domain.Reproduction) error {
	n.logger.Info("notify: payment reminder", "reproduction", rep.ID, "email", rep.Email)
	return nil
}

func (n *LogNotifier) SendCancelled(_ context.Context, rep *domain.Reproduction) error {
	n.logger.Info("notify: cancelled", "reproduction", rep.ID, "email", rep.Email)
	return nil
}
