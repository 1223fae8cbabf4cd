package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/mohammed-shakir/hotspot-cache/internal/app"
	"github.com/mohammed-shakir/hotspot-cache/internal/core/config"
	"github.com/mohammed-shakir/hotspot-cache/internal/core/model"
	"github.com/mohammed-shakir/hotspot-cache/internal/hotspots"
	"github.com/mohammed-shakir/hotspot-cache/internal/logger"
	"github.com/mohammed-shakir/hotspot-cache/internal/metrics"
)

var (
	Version   = "dev"
	Revision  = ""
	BuildDate = ""
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}

type runtime struct {
	cfg config.Config
	log *slog.Logger
}

func newRootCmd() *cobra.Command {
	var envFile string
	rt := &runtime{}

	root := &cobra.Command{
		Use:           "hotspotd",
		Short:         "Geo-bounded birding hotspot cache",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("load %s: %w", envFile, err)
			}
			rt.cfg = config.FromEnv()
			zl := logger.Build(logger.Config{
				Level:     rt.cfg.LogLevel,
				Console:   rt.cfg.LogConsole,
				SampleN:   rt.cfg.LogSampleN,
				Service:   "hotspotd",
				Component: cmd.Name(),
			}, os.Stdout)
			rt.log = logger.NewSlog(&zl)
			return nil
		},
	}
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading the environment")

	root.AddCommand(newServeCmd(rt), newResolveCmd(rt), newClearCacheCmd(rt))
	return root
}

func build() metrics.BuildInfo {
	return metrics.BuildInfo{Version: Version, Revision: Revision, BuildDate: BuildDate}
}

func newServeCmd(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := app.New(ctx, rt.cfg, rt.log, build())
			if err != nil {
				return err
			}
			defer func() {
				if err := a.Close(); err != nil {
					rt.log.Warn("shutdown", "err", err)
				}
			}()

			rt.log.Info("starting hotspotd",
				"addr", rt.cfg.Addr,
				"version", Version,
				"store", rt.cfg.StoreDriver,
				"invalidation", rt.cfg.Invalidation.Enabled)
			if err := a.Serve(ctx); err != nil {
				return err
			}
			rt.log.Info("server stopped")
			return nil
		},
	}
}

func newResolveCmd(rt *runtime) *cobra.Command {
	var (
		lat, lng, radius float64
		country          string
	)
	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Resolve hotspots around a point and print them as JSON",
		RunE: func(cmd *cobra.Command, _ []string) error {
			q := hotspots.Query{Center: model.LatLng{Lat: lat, Lng: lng}, RadiusKm: radius, Country: country}
			if err := q.Validate(); err != nil {
				return err
			}
			a, err := app.New(cmd.Context(), rt.cfg, rt.log, build())
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			res, err := a.Repo.Lookup(cmd.Context(), q)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(map[string]any{
				"outcome":  res.Outcome,
				"count":    len(res.Hotspots),
				"hotspots": res.Hotspots,
			})
		},
	}
	cmd.Flags().Float64Var(&lat, "lat", 0, "center latitude")
	cmd.Flags().Float64Var(&lng, "lng", 0, "center longitude")
	cmd.Flags().Float64Var(&radius, "radius-km", 25, "search radius in kilometres")
	cmd.Flags().StringVar(&country, "country", "", "ISO country code filter")
	_ = cmd.MarkFlagRequired("lat")
	_ = cmd.MarkFlagRequired("lng")
	return cmd
}

func newClearCacheCmd(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "clear-cache",
		Short: "Drop every locally stored hotspot",
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := app.OpenStore(cmd.Context(), rt.cfg, rt.log)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()
			if err := st.Clear(cmd.Context()); err != nil {
				return fmt.Errorf("clear hotspot cache: %w", err)
			}
			rt.log.Info("hotspot cache cleared", "store", rt.cfg.StoreDriver)
			return nil
		},
	}
}
