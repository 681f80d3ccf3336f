package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"evopanel/internal/httpapi"
	"evopanel/internal/panel"
)

func (a *app) serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:     "serve",
		Short:   "Serve the panel HTTP API",
		Example: "  evopanel serve --addr :8080 --service-url http://localhost:7860",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("addr") {
				a.cfg.Addr = addr
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.serve(ctx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "HTTP listen address, e.g. :8080 (defaults EVOPANEL_ADDR or :8080)")
	return cmd
}

func (a *app) serve(ctx context.Context) error {
	store, err := a.hintsStore()
	if err != nil {
		return err
	}
	poller, err := a.poller()
	if err != nil {
		return err
	}
	sess := panel.New(poller, store, panel.Config{
		OutputLayers:   a.cfg.OutputLayers,
		MergedName:     a.cfg.MergedName,
		ModelListDelay: a.cfg.Poll.ListDelay.Std(),
	}, a.cfg.Recipe, panel.WithLogger(a.log.With().Str("component", "panel").Logger()))
	defer sess.Close()

	httpapi.SetLogger(a.log.With().Str("component", "http").Logger())
	httpapi.SetRequestLogLevel(a.cfg.LogLevel)
	httpapi.SetMaxBodyBytes(a.cfg.MaxBodyBytes)
	httpapi.SetWaitTimeout(a.cfg.WaitTimeout.Std())
	httpapi.SetCORSOptions(a.cfg.CORS.Enabled, a.cfg.CORS.Origins, a.cfg.CORS.Methods, a.cfg.CORS.Headers)
	httpapi.SetBaseContext(ctx)

	go func() {
		if err := store.Watch(ctx); err != nil {
			a.log.Warn().Err(err).Msg("hints watch stopped")
		}
	}()
	if _, err := sess.RefreshModels(ctx); err != nil {
		a.log.Warn().Err(err).Msg("initial model list request failed")
	}

	srv := &http.Server{
		Addr:              a.cfg.Addr,
		Handler:           httpapi.NewMux(sess),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}
	errc := make(chan error, 1)
	go func() {
		a.log.Info().Str("addr", a.cfg.Addr).Str("service", a.cfg.ServiceURL).Msg("evopanel listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	a.log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Warn().Err(err).Msg("graceful shutdown error")
	}
	return nil
}
