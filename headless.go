package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"

	"github.com/dgnsrekt/readaloud/tts"
)

// runHeadless reads article without the interface and returns when the
// session ends or the process is interrupted.
func runHeadless(ctx context.Context, ctrl *tts.Controller, article tts.Article) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		TimeFormat:      time.Kitchen,
		Prefix:          "readaloud",
	})

	ended := make(chan error, 1)
	ctrl.OnSessionEnd(func(err error) {
		select {
		case ended <- err:
		default:
		}
	})
	ctrl.OnChunkChange(func(index, total int) {
		out.Info("Reading", "sentence", index+1, "of", total)
	})

	title := article.Title
	if title == "" {
		title = "Untitled"
	}
	out.Info("Starting", "title", title)
	if err := ctrl.Start(article); err != nil {
		return err
	}

	select {
	case err := <-ended:
		if err != nil {
			out.Error("Reading stopped", "err", err)
			return err
		}
		out.Info("Finished", "title", title)
		return nil
	case <-ctx.Done():
		out.Info("Interrupted")
		return ctrl.Stop()
	}
}
