package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/intervue/moodline/internal/api"
	"github.com/intervue/moodline/internal/emotion"
	"github.com/intervue/moodline/internal/logging"
	"github.com/intervue/moodline/internal/service"
	"github.com/spf13/cobra"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the emotion worker",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Flags().Changed("port") {
			Cfg.Server.Port = servePort
			if err := Cfg.Validate(); err != nil {
				return err
			}
		}
		return runServe(cmd)
	},
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 8080, "HTTP listen port (default: $PORT or 8080)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command) error {
	ctx := cmd.Context()
	log := logging.Component("serve")

	db, err := openStore(ctx, false)
	if err != nil {
		return err
	}
	// A nil *store.Store must not become a non-nil interface.
	var samples api.SampleStore
	if db != nil {
		samples = db
	} else {
		log.Info().Msg("no database configured, session samples will not be recorded")
	}

	detector := emotion.New(Cfg.WorkerConfig())
	router := api.NewRouter(api.NewHandler(detector, samples))

	srv := &http.Server{
		Addr:         Cfg.Server.Addr(),
		Handler:      router,
		ReadTimeout:  Cfg.Server.ReadTimeout,
		WriteTimeout: Cfg.Server.WriteTimeout,
	}

	tree := service.NewTree(logging.NewSlogLogger(logging.Component("supervisor")), service.TreeConfig{
		ShutdownTimeout: Cfg.Server.ShutdownTimeout,
	})
	tree.AddEmotionService(service.NewDetectorService(detector, Cfg.Emotion.StopTimeout*2))
	tree.AddAPIService(service.NewHTTPServerService(srv, Cfg.Server.ShutdownTimeout))

	fmt.Fprintf(os.Stderr, "🎭 moodline %s listening on %s (model: %s)\n", Version, srv.Addr, Cfg.Emotion.ModelPath)
	log.Info().
		Str("addr", srv.Addr).
		Str("model", Cfg.Emotion.ModelPath).
		Str("mode", Cfg.Emotion.Mode).
		Msg("starting")

	if err := tree.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("supervisor stopped: %w", err)
	}
	unstopped, _ := tree.UnstoppedServiceReport()
	for _, svc := range unstopped {
		log.Warn().Str("service", svc.Name).Msg("service failed to stop within timeout")
	}
	fmt.Fprintln(os.Stderr, "👋 Shut down cleanly.")
	return nil
}
