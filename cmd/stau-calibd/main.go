// Command stau-calibd serves calibration tables over gRPC.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/danielpatrickdp/stau-selection/internal/calib"
	"github.com/danielpatrickdp/stau-selection/internal/logging"
)

func main() {
	var (
		tables  string
		addr    string
		verbose bool
	)
	cmd := &cobra.Command{
		Use:          "stau-calibd --tables corrections.yaml",
		Short:        "Serve calibration tables to selection workers",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), tables, addr, verbose)
		},
	}
	cmd.Flags().StringVarP(&tables, "tables", "t", "", "calibration table file (YAML or JSON)")
	cmd.Flags().StringVar(&addr, "addr", envOr("STAU_CALIB_ADDR", "localhost:50061"), "listen address")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	_ = cmd.MarkFlagRequired("tables")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serve(parent context.Context, tables, addr string, verbose bool) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger, err := logging.New(verbose)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	ts, err := calib.LoadTables(tables)
	if err != nil {
		return err
	}
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}

	g := grpc.NewServer()
	calib.NewServer(ts).Register(g)
	go func() {
		<-ctx.Done()
		logger.Info("shutting down")
		g.GracefulStop()
	}()

	logger.Info("calibration service listening",
		zap.String("addr", lis.Addr().String()),
		zap.Strings("tables", ts.Names()),
	)
	if err := g.Serve(lis); err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
