package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rpattn/changetrack/internal/httpapi"
)

var serveMemory bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the entity and change log HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		a, err := loadApp()
		if err != nil {
			return err
		}
		if err := a.open(ctx, serveMemory); err != nil {
			return err
		}
		defer a.close()

		server := &http.Server{
			Addr: a.cfg.Server.Addr,
			Handler: httpapi.NewHandler(a.service, httpapi.Options{
				AllowedOrigins: a.cfg.Server.AllowedOrigins,
				Labels:         a.labels,
				DefaultLocale:  a.cfg.I18n.DefaultLocale,
			}, a.logger),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			a.logger.Info("starting server", "addr", server.Addr, "tracked_entities", len(a.registry.Entities()))
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
			close(errCh)
		}()

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		select {
		case err := <-errCh:
			return err
		case <-quit:
		}
		a.logger.Info("shutting down server")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return err
		}
		a.logger.Info("server exited")
		return nil
	},
}

func init() {
	serveCmd.Flags().BoolVar(&serveMemory, "memory", false, "keep data in memory instead of Postgres")
	rootCmd.AddCommand(serveCmd)
}
