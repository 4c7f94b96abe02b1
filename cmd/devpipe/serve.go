package main

import (
	"context"
	"errors"
	"fmt"
	nethttp "net/http"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/devpipe/internal/events"
	apphttp "github.com/fyrsmithlabs/devpipe/internal/http"
	"github.com/fyrsmithlabs/devpipe/internal/workflows"
)

func newServeCmd(global *globalFlags) *cobra.Command {
	var (
		host string
		port int
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the review API for Temporal runs",
		Long: `Serve exposes the review API in front of Temporal. Decisions posted to
POST /api/v1/reviews/<slug> are signalled to the waiting workflow, and
GET /api/v1/reviews lists every run waiting for one.

When events.nats_url is set, published transitions feed the counters on
/metrics.

Examples:
  devpipe serve --port 8088
  curl -X POST localhost:8088/api/v1/reviews/website-endpoint-finder \
    -d '{"decision":"NEEDS_REVISION","feedback":"handle redirects"}' \
    -H 'Content-Type: application/json'`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			a, err := newApp(ctx, global, false)
			if err != nil {
				return err
			}
			defer a.Close()

			if cmd.Flags().Changed("host") {
				a.cfg.Server.Host = host
			}
			if cmd.Flags().Changed("port") {
				a.cfg.Server.Port = port
			}
			return serve(ctx, a)
		},
	}
	cmd.Flags().StringVar(&host, "host", "", "listen host (default server.host)")
	cmd.Flags().IntVar(&port, "port", 0, "listen port (default server.port)")
	return cmd
}

func serve(ctx context.Context, a *app) error {
	c, err := workflows.Dial(a.cfg.Temporal, a.logger)
	if err != nil {
		return err
	}
	defer c.Close()

	srv, err := apphttp.NewServer(c, a.logger, &apphttp.Config{
		Host: a.cfg.Server.Host,
		Port: a.cfg.Server.Port,
	})
	if err != nil {
		return err
	}

	pub, err := a.publisher()
	if err != nil {
		a.logger.Warn(ctx, "transition metrics disabled", zap.Error(err))
	} else if pub != nil {
		sub, err := events.Subscribe(pub.Conn(), a.cfg.Events.SubjectPrefix, a.logger, srv.ObserveTransition)
		if err != nil {
			return err
		}
		defer func() { _ = sub.Drain() }()
	}

	a.logger.Info(ctx, "review server configured",
		zap.String("health_endpoint", fmt.Sprintf("http://%s/health", srv.Addr())),
		zap.String("reviews_endpoint", "/api/v1/reviews"),
		zap.String("metrics_endpoint", "/metrics"))

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, nethttp.ErrServerClosed) {
			return fmt.Errorf("review server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout(a.cfg))
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		return fmt.Errorf("shutting down review server: %w", err)
	}
	return nil
}
