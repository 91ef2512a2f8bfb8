package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sahasrahbot/sglbot/telemetry"
)

// DeliveryFailure is one notification that did not reach its recipient.
type DeliveryFailure struct {
	Recipient string
	Role      string
	// Unresolved is set when the participant has no chat account; Err is then nil.
	Unresolved bool
	Err        error
}

func (f DeliveryFailure) Error() string {
	if f.Unresolved {
		return fmt.Sprintf("%s %s could not be resolved", f.Role, f.Recipient)
	}
	return fmt.Sprintf("delivery to %s %s failed: %v", f.Role, f.Recipient, f.Err)
}

// Report collects the outcome of a fan-out; each attempt is independent.
type Report struct {
	Delivered int
	Failures  []DeliveryFailure
}

// Attempt runs send and records its outcome.
func (r *Report) Attempt(recipient, role string, send func() error) {
	if err := send(); err != nil {
		r.Failures = append(r.Failures, DeliveryFailure{Recipient: recipient, Role: role, Err: err})
		telemetry.Inc(telemetry.DeliveryFailures)
		return
	}
	r.Delivered++
}

// Unresolved records a participant without a chat account.
func (r *Report) Unresolved(recipient, role string) {
	r.Failures = append(r.Failures, DeliveryFailure{Recipient: recipient, Role: role, Unresolved: true})
	telemetry.Inc(telemetry.DeliveryFailures)
}

// OK reports whether every attempt succeeded.
func (r *Report) OK() bool { return len(r.Failures) == 0 }

func (r *Report) String() string {
	parts := make([]string, len(r.Failures))
	for i, f := range r.Failures {
		parts[i] = f.Error()
	}
	return fmt.Sprintf("%d delivered, %d failed: %s", r.Delivered, len(r.Failures), strings.Join(parts, "; "))
}

// audit posts a line to the audit channel; a failure here is only logged.
func (o *Orchestrator) audit(ctx context.Context, text string) {
	if o.cfg.AuditChannelID == "" || o.notify == nil {
		return
	}
	if err := o.notify.SendChannel(ctx, o.cfg.AuditChannelID, text); err != nil {
		o.log(ctx).Warn("audit message failed", slog.Any("err", err))
	}
}

func (o *Orchestrator) auditEmbed(ctx context.Context, e Embed) {
	if o.cfg.AuditChannelID == "" || o.notify == nil {
		return
	}
	if err := o.notify.SendEmbed(ctx, o.cfg.AuditChannelID, e); err != nil {
		o.log(ctx).Warn("audit embed failed", slog.Any("err", err))
	}
}

// mention prefixes a ping of the audit mention user when configured.
func (o *Orchestrator) mention(text string) string {
	if o.cfg.AuditMentionUserID == "" {
		return text
	}
	return "<@" + o.cfg.AuditMentionUserID + "> " + text
}
