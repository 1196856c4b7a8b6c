package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"

	"github.com/dgnsrekt/readaloud/tts"
	"github.com/dgnsrekt/readaloud/tts/wav"
)

// runExport synthesizes every sentence of article in order and writes the
// result to path as one WAV file.
func runExport(ctx context.Context, synth tts.Synthesizer, splitter tts.Splitter, article tts.Article, path string) error {
	segments := splitter.Split(article.SpeakableText())
	if len(segments) == 0 {
		return fmt.Errorf("%q has nothing to read", article.Title)
	}

	clips := make([][]byte, 0, len(segments))
	for _, seg := range segments {
		samples, err := synth.Synthesize(ctx, seg.Text)
		if err != nil && !errors.Is(err, tts.ErrEmptySynthesisResult) {
			return &tts.SessionError{Op: "synthesize", Index: seg.Index, Err: err}
		}
		if len(samples) == 0 {
			log.Warn("Skipping sentence without audio", "index", seg.Index)
			continue
		}
		clips = append(clips, wav.Encode(samples, synth.SampleRate()))
		log.Debug("Exported sentence", "index", seg.Index, "of", len(segments))
	}
	if len(clips) == 0 {
		return fmt.Errorf("engine produced no audio for %q", article.Title)
	}

	out, err := wav.Concat(clips...)
	if err != nil {
		return fmt.Errorf("unable to join audio: %w", err)
	}
	if err := os.WriteFile(path, out, 0o644); err != nil { //nolint:gosec
		return fmt.Errorf("unable to write %s: %w", path, err)
	}

	info, _, err := wav.Decode(out)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "%s %s (%s, %s)\n",
		keyword("Wrote"), path, humanize.Bytes(uint64(len(out))), info.Duration().Round(100*time.Millisecond)) //nolint:gosec
	return nil
}
