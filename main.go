// Package main provides the entry point for the readaloud CLI application.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/charmbracelet/log"
	gap "github.com/muesli/go-app-paths"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"

	"github.com/dgnsrekt/readaloud/internal/cache"
	"github.com/dgnsrekt/readaloud/internal/platform/mpris"
	"github.com/dgnsrekt/readaloud/internal/platform/wakelock"
	"github.com/dgnsrekt/readaloud/tts"
	"github.com/dgnsrekt/readaloud/tts/audio"
	"github.com/dgnsrekt/readaloud/tts/engines"
	"github.com/dgnsrekt/readaloud/tts/engines/mock"
	"github.com/dgnsrekt/readaloud/tts/engines/piper"
	"github.com/dgnsrekt/readaloud/tts/engines/transport"
	"github.com/dgnsrekt/readaloud/tts/sentence"
	"github.com/dgnsrekt/readaloud/ui"
)

var (
	// Version as provided by goreleaser.
	Version = ""
	// CommitSHA as provided by goreleaser.
	CommitSHA = ""

	configFile string
	headless   bool
	exportPath string
	watch      bool
	mouse      bool

	rootCmd = &cobra.Command{
		Use:   "readaloud [ARTICLE|-]",
		Short: "Read articles aloud in the terminal",
		Long: paragraph(
			fmt.Sprintf("\nRead markdown, text or JSON articles %s, one sentence at a time.", keyword("out loud")),
		),
		Example: paragraph("readaloud README.md\ncat notes.txt | readaloud -\nreadaloud --export out.wav article.md"),
		SilenceErrors:    false,
		SilenceUsage:     true,
		TraverseChildren: true,
		Args:             cobra.MaximumNArgs(1),
		ValidArgsFunction: func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
			return nil, cobra.ShellCompDirectiveDefault
		},
		RunE: execute,
	}
)

func stdinIsPipe() (bool, error) {
	stat, err := os.Stdin.Stat()
	if err != nil {
		return false, fmt.Errorf("unable to open file: %w", err)
	}
	if stat.Mode()&os.ModeCharDevice == 0 || stat.Size() > 0 {
		return true, nil
	}
	return false, nil
}

// articleFromArgs loads the article named on the command line. Without an
// argument a piped stdin is read.
func articleFromArgs(args []string) (tts.Article, string, error) {
	if len(args) == 0 {
		yes, err := stdinIsPipe()
		if err != nil {
			return tts.Article{}, "", err
		}
		if !yes {
			return tts.Article{}, "", errors.New("missing article: pass a file or pipe text to stdin")
		}
		args = []string{"-"}
	}

	article, err := tts.LoadArticleFile(args[0])
	if err != nil {
		return tts.Article{}, "", err
	}
	path := ""
	if args[0] != "-" {
		path = args[0]
	}
	return article, path, nil
}

func execute(cmd *cobra.Command, args []string) error {
	cfg, err := tts.LoadConfigFromViper()
	if err != nil {
		return err
	}
	if lvl, err := log.ParseLevel(cfg.LogLevel); err == nil && !viper.GetBool("debug") {
		log.SetLevel(lvl)
	}

	article, path, err := articleFromArgs(args)
	if err != nil {
		return err
	}

	client, err := newEngineClient(cfg.Engine)
	if err != nil {
		return err
	}
	defer client.Close() //nolint:errcheck

	splitter := sentence.NewParser(sentence.WithMaxRunes(cfg.Playback.MaxRunes))

	if exportPath != "" {
		return runExport(cmd.Context(), client, splitter, article, exportPath)
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Engine.BootTimeout)
	err = client.Boot(ctx)
	cancel()
	if err != nil {
		return fmt.Errorf("unable to start engine: %w", err)
	}
	log.Info("Engine ready", "voice", client.Voice().ID, "sample_rate", client.SampleRate())

	device := openDevice(client.SampleRate())
	defer device.Close() //nolint:errcheck

	ctrl := tts.NewController(splitter, client, device,
		tts.WithWakeLock(wakelock.New(cfg.Platform.WakeLock)),
		tts.WithMediaSession(mpris.New(cfg.Platform.MediaKeys)),
		tts.WithPlaybackConfig(cfg.Playback),
		tts.WithCacheConfig(cache.Config{
			Compress:         cfg.Cache.Compress,
			CompressionLevel: cfg.Cache.CompressionLevel,
		}),
		tts.WithResourceTimeout(cfg.Platform.ResourceTimeout),
	)
	defer ctrl.Close() //nolint:errcheck

	if headless || !term.IsTerminal(int(os.Stdout.Fd())) {
		return runHeadless(cmd.Context(), ctrl, article)
	}
	return runTUI(ctrl, splitter, article, path)
}

// playbackDevice is the audio sink used by the controller.
type playbackDevice interface {
	tts.AudioDevice
	Close() error
}

// openDevice opens the speaker, or a silent device that keeps real time
// when no audio output is available.
func openDevice(sampleRate int) playbackDevice {
	p, err := audio.NewPlayer(sampleRate)
	if err == nil {
		return p
	}
	log.Warn("No audio output, continuing silently", "err", err)
	return audio.NewMockPlayer(audio.WithRealtime(1))
}

// newBackend creates an in-process synthesis backend by name.
func newBackend(cfg tts.EngineConfig, name string) (engines.Backend, error) {
	switch strings.ToLower(name) {
	case "mock":
		return mock.New(cfg.Mock), nil
	case "piper":
		b, err := piper.New(cfg.Piper, log.WithPrefix("piper"))
		if err != nil {
			return nil, err
		}
		return b, nil
	default:
		return nil, fmt.Errorf("%w: unknown backend %q", tts.ErrInvalidConfig, name)
	}
}

// newEngineClient connects to the engine over the configured transport.
func newEngineClient(cfg tts.EngineConfig) (*engines.Client, error) {
	var dial engines.Dialer
	switch cfg.Transport {
	case "pipe":
		backend, err := newBackend(cfg, cfg.Backend)
		if err != nil {
			return nil, err
		}
		dial = transport.PipeDialer(backend)
	case "stdio":
		dial = transport.StdioDialer(cfg.Command, log.WithPrefix("stdio"))
	case "websocket":
		dial = transport.WebSocketDialer(cfg.URL, log.WithPrefix("websocket"))
	case "nats":
		dial = transport.NATSDialer(cfg.URL, cfg.Subject, log.WithPrefix("nats"))
	default:
		return nil, fmt.Errorf("%w: unknown transport %q", tts.ErrInvalidConfig, cfg.Transport)
	}

	return engines.NewClient(dial,
		engines.WithVoice(cfg.Voice),
		engines.WithBootTimeout(cfg.BootTimeout),
		engines.WithRequestTimeout(cfg.RequestTimeout),
		engines.WithRateLimit(cfg.RateLimit, cfg.RateBurst),
	), nil
}

func runTUI(ctrl ui.Controller, splitter tts.Splitter, article tts.Article, path string) error {
	// Read environment to get display settings
	cfg, err := env.ParseAs[ui.Config]()
	if err != nil {
		return fmt.Errorf("error parsing config: %v", err)
	}

	cfg.Path = path
	cfg.Watch = watch && path != ""
	if mouse {
		cfg.EnableMouse = true
	}
	if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 0 && uint(w) < cfg.Width { //nolint:gosec
		cfg.Width = uint(w) //nolint:gosec
	}

	return ui.Run(cfg, ctrl, splitter, article)
}

func main() {
	closer, err := setupLog()
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	if err := rootCmd.Execute(); err != nil {
		_ = closer()
		os.Exit(1)
	}
	_ = closer()
}

func init() {
	tryLoadConfigFromDefaultPlaces()
	if len(CommitSHA) >= 7 {
		vt := rootCmd.VersionTemplate()
		rootCmd.SetVersionTemplate(vt[:len(vt)-1] + " (" + CommitSHA[0:7] + ")\n")
	}
	if Version == "" {
		Version = "unknown (built from source)"
	}
	rootCmd.Version = Version
	rootCmd.InitDefaultCompletionCmd()

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", fmt.Sprintf("config file (default %s)", viper.GetViper().ConfigFileUsed()))
	rootCmd.PersistentFlags().Bool("debug", false, "log debug messages")
	rootCmd.Flags().BoolVar(&headless, "headless", false, "read without the terminal interface")
	rootCmd.Flags().StringVarP(&exportPath, "export", "o", "", "write the whole article to a WAV file instead of playing it")
	rootCmd.Flags().BoolVarP(&watch, "watch", "w", false, "restart reading when the article file changes (TUI-mode only)")
	rootCmd.Flags().BoolVarP(&mouse, "mouse", "m", false, "enable mouse support (TUI-mode only)")
	_ = rootCmd.Flags().MarkHidden("mouse")
	rootCmd.Flags().StringP("engine", "e", "", "engine transport: pipe, stdio, websocket or nats")
	rootCmd.Flags().String("backend", "", "in-process backend for the pipe transport: mock or piper")
	rootCmd.Flags().String("voice", "", "preferred voice id")

	// Config bindings
	_ = viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	_ = viper.BindPFlag("engine.transport", rootCmd.Flags().Lookup("engine"))
	_ = viper.BindPFlag("engine.backend", rootCmd.Flags().Lookup("backend"))
	_ = viper.BindPFlag("engine.voice", rootCmd.Flags().Lookup("voice"))

	rootCmd.AddCommand(configCmd, manCmd, engineCmd)
}

func tryLoadConfigFromDefaultPlaces() {
	scope := gap.NewScope(gap.User, "readaloud")
	dirs, err := scope.ConfigDirs()
	if err != nil {
		fmt.Println("Could not load find configuration directory.")
		os.Exit(1)
	}

	if c := os.Getenv("XDG_CONFIG_HOME"); c != "" {
		dirs = append([]string{filepath.Join(c, "readaloud")}, dirs...)
	}

	if c := os.Getenv("READALOUD_CONFIG_HOME"); c != "" {
		dirs = append([]string{c}, dirs...)
	}

	for _, v := range dirs {
		viper.AddConfigPath(v)
	}

	viper.SetConfigName("readaloud")
	viper.SetConfigType("yaml")
	viper.SetEnvPrefix("readaloud")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	tts.SetDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Warn("Could not parse configuration file", "err", err)
		}
	}

	if used := viper.ConfigFileUsed(); used != "" {
		log.Debug("Using configuration file", "path", viper.ConfigFileUsed())
		return
	}

	if viper.ConfigFileUsed() == "" {
		configFile = filepath.Join(dirs[0], "readaloud.yml")
	}
	if err := ensureConfigFile(); err != nil {
		log.Error("Could not create default configuration", "error", err)
	}
}
