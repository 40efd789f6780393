package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kodapet/koda/internal/logging"
	"github.com/kodapet/koda/internal/server"
	"github.com/m-mizutani/goerr/v2"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	log := logging.From(ctx)

	if sched := a.cfg.Memory.MaintenanceSchedule; sched != "" {
		if err := a.eng.StartMaintenance(ctx, sched); err != nil {
			return goerr.Wrap(err, "start maintenance")
		}
		log.Info("maintenance scheduled", "schedule", sched)
	}

	srv := server.New(a.db, a.eng, VersionString())
	addr := a.cfg.ListenAddr()
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("koda serving",
			"addr", addr, "db", a.db.Dialect.String(), "path", a.db.Path,
			"llm", a.cfg.LLM.Provider, "model", a.cfg.LLM.Model)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return goerr.Wrap(err, "listen", goerr.V("addr", addr))
		}
		return nil
	case <-ctx.Done():
	}
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}
