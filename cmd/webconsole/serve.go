package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/caffeineduck/webconsole/engine"
)

const (
	maxRequestSize  = 1 << 20 // 1MB
	shutdownTimeout = 10 * time.Second
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP endpoint",
		Long: `Start an HTTP server exposing the script endpoint on every path.

Requests:
  POST     application/json {"code": "...", "action": "run|ast", "astPhase": "..."}
           responds {"out": "...", "err": "...", "result": ..., "stats": {"executionTimeMillis": N}}
  OPTIONS  CORS pre-flight, 200 with no body
  other    204 No Content

Every response allows any origin. Invocations run one at a time; a request
whose client goes away interrupts its script.`,
		Args: cobra.NoArgs,
		RunE: runServe,
	}
	cmd.Flags().String("listen", "", "Address to listen on (default from config, :8080)")
	addEngineFlags(cmd)
	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Log.Level, cfg.Log.Format, cmd.ErrOrStderr())

	eng, err := newEngine(cmd, cfg, logger, engine.WithInterruptOnCancel())
	if err != nil {
		return err
	}
	defer eng.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ln, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:           newHandler(eng, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	logger.Info("webconsole listening", "addr", ln.Addr().String())

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// newHandler serves the script endpoint.
func newHandler(eng *engine.Engine, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")

		switch r.Method {
		case http.MethodOptions:
			h.Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Content-Type")
			h.Set("Access-Control-Max-Age", "3600")
			w.WriteHeader(http.StatusOK)

		case http.MethodPost:
			mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
			if err != nil || mediaType != "application/json" {
				w.WriteHeader(http.StatusNotAcceptable)
				return
			}

			var req engine.Request
			if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestSize)).Decode(&req); err != nil {
				logger.Debug("rejected request body", "error", err)
				http.Error(w, "invalid request body", http.StatusBadRequest)
				return
			}

			body := eng.Invoke(r.Context(), req)
			h.Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			w.Write(body)

		default:
			w.WriteHeader(http.StatusNoContent)
		}
	})
}
