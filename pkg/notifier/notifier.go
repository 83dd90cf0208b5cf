// Package notifier provides session notification functionality
package notifier

import (
	"fmt"
	"time"

	"github.com/gen2brain/beeep"

	"github.com/kilnproject/kiln/pkg/logger"
	"github.com/kilnproject/kiln/pkg/types"
)

// SessionNotifier reports session outcomes as desktop notifications
type SessionNotifier struct {
	enabled      bool
	successSound string
	failureSound string
	logger       logger.Logger
}

// Config represents notification configuration
type Config struct {
	Enabled      bool
	SuccessSound string
	FailureSound string
}

// New creates a new session notifier
func New(config Config, log logger.Logger) *SessionNotifier {
	return &SessionNotifier{
		enabled:      config.Enabled,
		successSound: config.SuccessSound,
		failureSound: config.FailureSound,
		logger:       log,
	}
}

// NotifySessionStart notifies that a build session has started
func (n *SessionNotifier) NotifySessionStart(packages int) {
	if !n.enabled {
		return
	}
	n.send("Kiln", fmt.Sprintf("Building %d packages...", packages), "")
}

// NotifySessionDone notifies about the terminal outcome of a session
func (n *SessionNotifier) NotifySessionDone(summary *types.SessionSummary, duration time.Duration) {
	if !n.enabled {
		return
	}

	succeeded, failed, skipped := summary.Counts()
	if summary.Succeeded() {
		n.send("Kiln: build succeeded",
			fmt.Sprintf("%d packages built in %s", succeeded, formatDuration(duration)),
			n.successSound)
		return
	}
	n.send("Kiln: build failed",
		fmt.Sprintf("%d built, %d failed, %d skipped", succeeded, failed, skipped),
		n.failureSound)
}

func (n *SessionNotifier) send(title, message, soundName string) {
	if err := beeep.Notify(title, message, ""); err != nil {
		n.logger.Debug("Failed to send notification", logger.WithField("error", err))
	}
	if soundName != "" {
		if err := beeep.Beep(beeep.DefaultFreq, beeep.DefaultDuration); err != nil {
			n.logger.Debug("Failed to play sound", logger.WithField("error", err))
		}
	}
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
}
