package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/dgnsrekt/readaloud/tts"
	"github.com/dgnsrekt/readaloud/tts/engines"
	"github.com/dgnsrekt/readaloud/tts/engines/transport"
)

var (
	engineBackend string
	engineListen  string
	engineNATS    string

	engineCmd = &cobra.Command{
		Use:   "engine",
		Short: "Run a synthesis engine",
		Long: paragraph(fmt.Sprintf("\n%s a synthesis engine that speaks the readaloud engine protocol. "+
			"It answers on stdin and stdout unless --listen or --nats is given.", keyword("Run"))),
		Example: paragraph("readaloud engine --backend piper\nreadaloud engine --listen :7777\nreadaloud engine --nats nats://localhost:4222"),
		Args:    cobra.NoArgs,
		RunE:    runEngine,
	}
)

func init() {
	engineCmd.Flags().StringVarP(&engineBackend, "backend", "b", "", "backend: mock or piper (default from config)")
	engineCmd.Flags().StringVar(&engineListen, "listen", "", "serve WebSocket connections on this address")
	engineCmd.Flags().StringVar(&engineNATS, "nats", "", "serve requests from this NATS server")
}

func runEngine(cmd *cobra.Command, _ []string) error {
	cfg, err := tts.LoadConfigFromViper()
	if err != nil {
		return err
	}
	name := engineBackend
	if name == "" {
		name = cfg.Engine.Backend
	}
	backend, err := newBackend(cfg.Engine, name)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := log.WithPrefix("engine")
	logger.Info("Starting engine", "backend", name, "sample_rate", backend.SampleRate())

	if engineListen == "" && engineNATS == "" {
		t := transport.NewStdioServer(os.Stdin, os.Stdout, logger)
		defer t.Close() //nolint:errcheck
		return engines.Serve(ctx, t, backend)
	}

	g, gctx := errgroup.WithContext(ctx)
	if engineListen != "" {
		g.Go(func() error { return serveWebSocket(gctx, engineListen, backend, logger) })
	}
	if engineNATS != "" {
		subject := viper.GetString("engine.subject")
		g.Go(func() error { return serveNATS(gctx, engineNATS, subject, backend, logger) })
	}
	return g.Wait()
}

// serveWebSocket answers every WebSocket connection on addr with its own
// protocol session.
func serveWebSocket(ctx context.Context, addr string, backend engines.Backend, logger *log.Logger) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		ws, err := transport.UpgradeWebSocket(w, r, logger)
		if err != nil {
			logger.Warn("Upgrade failed", "remote", r.RemoteAddr, "err", err)
			return
		}
		defer ws.Close() //nolint:errcheck

		logger.Debug("Client connected", "remote", r.RemoteAddr)
		if err := engines.Serve(ctx, ws, backend); err != nil {
			logger.Warn("Session ended", "remote", r.RemoteAddr, "err", err)
		}
	})

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("unable to listen on %s: %w", addr, err)
	}
	logger.Info("Listening", "addr", ln.Addr().String())

	go func() {
		<-ctx.Done()
		shutdown, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdown) //nolint:contextcheck
	}()

	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("websocket server: %w", err)
	}
	return nil
}

// serveNATS answers requests published under subject on the NATS server at
// url.
func serveNATS(ctx context.Context, url, subject string, backend engines.Backend, logger *log.Logger) error {
	conn, err := transport.ConnectNATS(url, 5*time.Second)
	if err != nil {
		return err
	}
	t, err := transport.NewNATS(conn, subject, transport.RoleServer, true, logger)
	if err != nil {
		conn.Close()
		return err
	}
	defer t.Close() //nolint:errcheck

	logger.Info("Serving NATS", "url", url, "subject", transport.RequestSubject(subject))
	return engines.Serve(ctx, t, backend)
}
