package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ColonelBlimp/qrsdetect/internal/transport"
)

const shutdownTimeout = 5 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Relay waves and beats to websocket clients",
	Long: `Serves /ws, relaying every source's waves as binary frames and beats as
text frames, and /metrics with plain relay counters.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	settings, log, err := setup("serve")
	if err != nil {
		return err
	}

	nc, err := transport.Connect(settings.NATSURL, "qrsdetect-serve", log)
	if err != nil {
		return fmt.Errorf("connect nats %s: %w", settings.NATSURL, err)
	}
	defer nc.Close()

	hub := transport.NewHub(log)
	subs, err := hub.Relay(nc, settings.WaveSubject, settings.BeatSubject)
	if err != nil {
		return fmt.Errorf("relay: %w", err)
	}
	defer func() {
		for _, sub := range subs {
			_ = sub.Unsubscribe()
		}
	}()

	srv := &http.Server{
		Addr:              settings.HTTPAddr,
		Handler:           hub.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errc := make(chan error, 1)
	go func() {
		log.WithField("addr", settings.HTTPAddr).Info("listening")
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err = srv.Shutdown(shutdownCtx)
	clients := hub.Clients()
	hub.Close()
	if err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	log.WithField("clients", clients).Info("stopped")
	return nil
}
