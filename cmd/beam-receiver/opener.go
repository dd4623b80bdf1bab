package main

import (
	"context"
	"fmt"
	"os/exec"
	goruntime "runtime"

	"beam/internal/privacy"
	"beam/internal/receiver"

	"github.com/sirupsen/logrus"
)

// browserTabs opens URLs with the desktop's default browser
type browserTabs struct {
	goos    string
	command func(ctx context.Context, name string, args ...string) *exec.Cmd
}

func newBrowserTabs() *browserTabs {
	return &browserTabs{goos: goruntime.GOOS, command: exec.CommandContext}
}

func (b *browserTabs) openCommand(url string) (string, []string) {
	switch b.goos {
	case "darwin":
		return "open", []string{url}
	case "windows":
		return "rundll32", []string{"url.dll,FileProtocolHandler", url}
	default:
		return "xdg-open", []string{url}
	}
}

func (b *browserTabs) Create(ctx context.Context, url string, active bool) error {
	name, args := b.openCommand(url)
	cmd := b.command(context.WithoutCancel(ctx), name, args...)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to launch %s: %w", name, err)
	}
	// the opener exits once the browser has the URL
	go func() { _ = cmd.Wait() }()
	return nil
}

// logNotifier surfaces notifications as log lines; a headless receiver has no tray
type logNotifier struct {
	logger *logrus.Logger
}

func (n logNotifier) Notify(ctx context.Context, note receiver.Notification) error {
	n.logger.WithFields(logrus.Fields{
		"title": note.Title,
		"url":   privacy.MaskURL(note.URL),
	}).Info("Beam notification")
	return nil
}
