package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/wonny/heatrank/backend/internal/api"
	"github.com/wonny/heatrank/backend/internal/api/handlers"
	"github.com/wonny/heatrank/backend/internal/scheduler"
	"github.com/wonny/heatrank/backend/internal/scheduler/jobs"
	"github.com/wonny/heatrank/backend/pkg/metrics"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the API server, metrics endpoint and scheduler",
	Long: `Starts the HTTP control API together with the Prometheus endpoint
and the scheduled jobs (inbox import, nightly table maintenance).

Endpoints:
  GET  /health
  POST /api/imports                 - multipart upload (file, import_type, mode, ...)
  GET  /api/imports/tasks/{id}
  GET  /api/imports/batches/{batch}
  POST /api/rankings/recompute
  GET  /api/rankings/summaries?type=&date=
  GET  /api/rankings/stocks?type=&date=&concept=
  GET  /api/concepts
  POST /api/concepts/refresh
  POST /api/concepts/aliases
  GET  /api/scheduler/jobs
  GET  /api/scheduler/jobs/{name}/history?limit=&failed=
  POST /api/scheduler/jobs/{name}/run

Example:
  go run ./cmd/heatrank serve
  go run ./cmd/heatrank serve --port 8090 --no-scheduler`,
	RunE: runServe,
}

var (
	servePort        string
	serveNoScheduler bool
)

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&servePort, "port", "", "API port (default: PORT)")
	serveCmd.Flags().BoolVar(&serveNoScheduler, "no-scheduler", false, "do not run scheduled jobs")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if servePort != "" {
		a.cfg.Port = servePort
	}
	log := a.log

	h := api.Handlers{
		Imports:  handlers.NewImportHandler(a.coord, a.cfg.Import.MaxUploadBytes, log),
		Rankings: handlers.NewRankingHandler(a.coord, a.derived, log),
		Concepts: handlers.NewConceptHandler(a.members, log),
		Health:   a.db,
	}

	var sched *scheduler.Scheduler
	if !serveNoScheduler {
		sched, err = newScheduler(a)
		if err != nil {
			return err
		}
		h.Scheduler = handlers.NewSchedulerHandler(sched, log)
	}

	server := api.New(a.cfg, log, api.NewRouter(h, log))

	g, gctx := errgroup.WithContext(ctx)

	g.Go(server.Start)

	var metricsServer *metrics.Server
	if a.cfg.MetricsEnabled {
		metricsServer = metrics.NewServer(a.cfg, a.metrics, log)
		g.Go(metricsServer.Start)
	}

	if sched != nil {
		sched.Start()
	}

	log.WithFields(map[string]interface{}{
		"port":    a.cfg.Port,
		"metrics": a.cfg.MetricsEnabled,
		"inbox":   a.cfg.Import.InboxDir,
	}).Info("heatrank serving")

	// shutdown on signal or when any server fails
	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if sched != nil {
			sched.Stop()
		}
		if metricsServer != nil {
			_ = metricsServer.Shutdown(shutdownCtx)
		}
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	log.Info("Server stopped")
	return nil
}

func newScheduler(a *app) (*scheduler.Scheduler, error) {
	sched := scheduler.New(a.log)

	if dir := a.cfg.Import.InboxDir; dir != "" {
		job := jobs.NewInboxImportJob(a.coord, dir, a.cfg.Import.InboxSchedule, a.log)
		if err := sched.AddJob(job); err != nil {
			return nil, err
		}
	}

	job := jobs.NewMaintenanceJob(a.writer, a.prof.Maintenance, a.cfg.Import.MaintenanceSchedule, a.log)
	if err := sched.AddJob(job); err != nil {
		return nil, err
	}
	return sched, nil
}
