package notify

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// CommandPublisher runs a shell command template for each event, e.g.
// "notify-send 'cohost' '{{.SessionID}} {{.Status}}'". When running inside
// tmux it also flashes a tmux message.
type CommandPublisher struct {
	Command string
}

func (c CommandPublisher) Publish(ctx context.Context, evt Event) error {
	if c.Command != "" {
		cmd := exec.CommandContext(ctx, "sh", "-c", templateEvent(c.Command, evt))
		if out, err := cmd.CombinedOutput(); err != nil {
			return fmt.Errorf("command failed: %v: %s", err, strings.TrimSpace(string(out)))
		}
	}

	if os.Getenv("TMUX") != "" {
		msg := fmt.Sprintf("cohost: session %s %s", evt.SessionID, evt.Status)
		if err := exec.CommandContext(ctx, "tmux", "display-message", msg).Run(); err != nil {
			return fmt.Errorf("tmux display-message: %w", err)
		}
	}
	return nil
}

// templateEvent replaces placeholders in the command template with event values.
func templateEvent(command string, evt Event) string {
	r := strings.NewReplacer(
		"{{.Event}}", evt.Name,
		"{{.SessionID}}", evt.SessionID,
		"{{.Status}}", evt.Status,
		"{{.DurationMs}}", strconv.FormatInt(evt.DurationMs, 10),
		"{{.MessageCount}}", strconv.FormatInt(evt.MessageCount, 10),
		"{{.CompletedAt}}", evt.CompletedAt.UTC().Format(time.RFC3339),
	)
	return r.Replace(command)
}

// summary renders an event as a one-line chat message.
func summary(evt Event) string {
	d := time.Duration(evt.DurationMs) * time.Millisecond
	return fmt.Sprintf("Recording session %s %s after %s (%d transcript messages)",
		evt.SessionID, evt.Status, d.Round(time.Second), evt.MessageCount)
}
