// Package notify posts best-effort operational notifications to Slack:
// a job the Watchdog had to fail, or an audit export that completed or
// failed.
package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	goslack "github.com/slack-go/slack"
)

// Notifier posts operational events to a single configured Slack channel.
type Notifier struct {
	client  *goslack.Client
	channel string
	logger  *slog.Logger
}

// New creates a Notifier. If botToken is empty the notifier is a no-op
// (every post logs at debug and returns nil), so it's safe to leave
// unconfigured in development.
func New(botToken, channel string, logger *slog.Logger) *Notifier {
	var client *goslack.Client
	if botToken != "" {
		client = goslack.New(botToken)
	}
	return &Notifier{client: client, channel: channel, logger: logger}
}

// IsEnabled reports whether the notifier has a usable client and channel.
func (n *Notifier) IsEnabled() bool {
	return n.client != nil && n.channel != ""
}

// WatchdogJobFailed posts a notification that the OrphanWatchdog failed a
// job, naming the phase that caught it.
func (n *Notifier) WatchdogJobFailed(ctx context.Context, tenantID, jobID uuid.UUID, phase, reason string) error {
	if !n.IsEnabled() {
		n.logger.Debug("notify: slack disabled, skipping watchdog notification",
			"tenant_id", tenantID, "job_id", jobID, "phase", phase)
		return nil
	}

	text := fmt.Sprintf(":warning: Watchdog failed job `%s` (tenant `%s`) in %s: %s", jobID, tenantID, phase, reason)
	_, _, err := n.client.PostMessageContext(ctx, n.channel, goslack.MsgOptionText(text, false))
	if err != nil {
		return fmt.Errorf("notify: posting watchdog notification: %w", err)
	}
	return nil
}

// ExportCompleted posts a notification that an audit export job finished
// successfully.
func (n *Notifier) ExportCompleted(ctx context.Context, tenantID, jobID uuid.UUID, format string, recordCount int64) error {
	if !n.IsEnabled() {
		return nil
	}

	text := fmt.Sprintf(":white_check_mark: Audit export `%s` (tenant `%s`) completed: %d %s rows", jobID, tenantID, recordCount, format)
	_, _, err := n.client.PostMessageContext(ctx, n.channel, goslack.MsgOptionText(text, false))
	if err != nil {
		return fmt.Errorf("notify: posting export-completed notification: %w", err)
	}
	return nil
}

// ExportFailed posts a notification that an audit export job failed.
func (n *Notifier) ExportFailed(ctx context.Context, tenantID, jobID uuid.UUID, reason string) error {
	if !n.IsEnabled() {
		return nil
	}

	text := fmt.Sprintf(":x: Audit export `%s` (tenant `%s`) failed: %s", jobID, tenantID, reason)
	_, _, err := n.client.PostMessageContext(ctx, n.channel, goslack.MsgOptionText(text, false))
	if err != nil {
		return fmt.Errorf("notify: posting export-failed notification: %w", err)
	}
	return nil
}
