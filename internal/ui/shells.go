package ui

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"

	"github.com/italolelis/tle_downloader/internal/boundary"
	"github.com/italolelis/tle_downloader/internal/notifier"
)

// LogUI writes UI updates to the structured log.
type LogUI struct {
	Logger *slog.Logger
}

func (u *LogUI) ShowProgress(percent int) {
	u.Logger.Debug("download progress", "percent", percent)
}

func (u *LogUI) ShowMessage(text string) {
	u.Logger.Warn(text)
}

func (u *LogUI) ShowNotice(n boundary.Notice) {
	u.Logger.Info("notice raised",
		"kind", n.Kind,
		"text", n.Text,
		"action", n.Action,
		"selection", n.Selection,
		"active_url", n.ActiveURL,
		"resolved_url", n.ResolvedURL,
	)
}

var (
	red    = color.New(color.FgRed).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
)

// ConsoleUI renders a progress bar and coloured messages on a terminal.
type ConsoleUI struct {
	out io.Writer
	bar *progressbar.ProgressBar
}

func NewConsoleUI(out io.Writer) *ConsoleUI {
	return &ConsoleUI{
		out: out,
		bar: progressbar.NewOptions(100,
			progressbar.OptionSetWriter(out),
			progressbar.OptionSetDescription("Downloading TLE"),
			progressbar.OptionShowCount(),
			progressbar.OptionClearOnFinish(),
		),
	}
}

// ShowProgress moves the bar. Zero resets it for the next download.
func (u *ConsoleUI) ShowProgress(percent int) {
	if percent <= 0 {
		u.bar.Reset()

		return
	}

	_ = u.bar.Set(percent)
}

func (u *ConsoleUI) ShowMessage(text string) {
	fmt.Fprintln(u.out, red(text))
}

func (u *ConsoleUI) ShowNotice(n boundary.Notice) {
	fmt.Fprintf(u.out, "%s %s (action: %s)\n", yellow(bold("!")), yellow(n.Text), n.Action)
}

// Multi fans every call out to each shell in order.
type Multi []boundary.UI

func (m Multi) ShowProgress(percent int) {
	for _, u := range m {
		u.ShowProgress(percent)
	}
}

func (m Multi) ShowMessage(text string) {
	for _, u := range m {
		u.ShowMessage(text)
	}
}

func (m Multi) ShowNotice(n boundary.Notice) {
	for _, u := range m {
		u.ShowNotice(n)
	}
}

const notifyTimeout = 10 * time.Second

// Notifying forwards messages to an out-of-band notifier. Delivery runs off
// the foreground loop.
type Notifying struct {
	ctx      context.Context
	notifier notifier.Notifier
	logger   *slog.Logger
}

func NewNotifying(ctx context.Context, n notifier.Notifier, logger *slog.Logger) *Notifying {
	return &Notifying{ctx: ctx, notifier: n, logger: logger}
}

func (u *Notifying) ShowProgress(int) {}

func (u *Notifying) ShowNotice(boundary.Notice) {}

func (u *Notifying) ShowMessage(text string) {
	go func() {
		ctx, cancel := context.WithTimeout(u.ctx, notifyTimeout)
		defer cancel()

		if err := u.notifier.Notify(ctx, "❌ "+text); err != nil {
			u.logger.Error("failed to send notification", "err", err)
		}
	}()
}
