package cmd

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Breadcord/Breadcord/core/config"
	"github.com/Breadcord/Breadcord/core/depres"
	"github.com/Breadcord/Breadcord/core/dispatch"
	"github.com/Breadcord/Breadcord/core/entry"
	"github.com/Breadcord/Breadcord/core/events"
	"github.com/Breadcord/Breadcord/core/gateway"
	"github.com/Breadcord/Breadcord/core/lifecycle"
	"github.com/Breadcord/Breadcord/core/logger"
	"github.com/Breadcord/Breadcord/core/settings"
	"github.com/Breadcord/Breadcord/gateways/devnull"
	"github.com/Breadcord/Breadcord/gateways/discord"

	// Builtin modules register their entry factories on import.
	_ "github.com/Breadcord/Breadcord/modules/echo"
)

var (
	servePython      string
	serveMetricsAddr string
)

func init() {
	serveCmd.Flags().StringVar(&servePython, "python", "python3", "python interpreter for module dependency installs")
	serveCmd.Flags().StringVar(&serveMetricsAddr, "metrics-addr", ":9100", "listen address for the Prometheus metrics endpoint")
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the Breadcord host",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := logger.WithComponentName(cmd.Context(), "serve")

		cfg, err := config.LoadConfig()
		if err != nil {
			logger.Fatal(ctx, "Failed to load configuration", zap.Error(err))
		}
		if cfg.Environment == "production" {
			prod, err := zap.NewProduction()
			if err != nil {
				logger.Fatal(ctx, "Failed to build production logger", zap.Error(err))
			}
			logger.SetLogger(prod)
		}
		logger.Info(ctx, "Configuration loaded",
			zap.String("environment", cfg.Environment),
			zap.String("modules_dir", cfg.ModulesDir))

		store := settings.NewStore(cfg.SettingsPath, "host")
		if err := store.Load(); err != nil {
			logger.Fatal(ctx, "Failed to load settings store", zap.Error(err))
		}

		var env depres.Environment
		if execEnv, err := depres.NewExecEnvironment(ctx, servePython); err != nil {
			logger.Warn(ctx, "Dependency environment unavailable, module requirements cannot be installed",
				zap.Error(err))
			env = depres.NewMemoryEnvironment(nil)
		} else {
			env = execEnv
		}
		resolver := depres.New(env)

		bus := events.New()
		defer bus.Close()

		dispatcher := dispatch.New(256, time.Duration(cfg.Timeouts.HandlerDispatch)*time.Second)
		defer dispatcher.Close()
		go dispatcher.Run(ctx)

		cfg.AddConfigChangeHook(func(c *config.Config) {
			dispatcher.SetHandlerTimeout(time.Duration(c.Timeouts.HandlerDispatch) * time.Second)
			logger.Info(ctx, "Configuration reloaded",
				zap.Int("handler_dispatch_seconds", c.Timeouts.HandlerDispatch))
		})

		manager := lifecycle.New(cfg, store, resolver, dispatcher, bus,
			entry.BuiltinLoader{}, entry.LuaLoader{}, entry.GoPluginLoader{})

		transitions, unsubscribe, err := bus.Subscribe(lifecycle.ModuleStateChangedEventType)
		if err != nil {
			logger.Fatal(ctx, "Failed to subscribe to lifecycle notifications", zap.Error(err))
		}
		defer unsubscribe()
		go func() {
			for ev := range transitions {
				sc, ok := ev.(lifecycle.ModuleStateChangedEvent)
				if !ok {
					continue
				}
				logger.Info(ctx, "Module state changed",
					zap.String("module", sc.ModuleID),
					zap.String("from", string(sc.From)),
					zap.String("to", string(sc.To)))
			}
		}()

		gw, err := selectGateway(cfg)
		if err != nil {
			logger.Fatal(ctx, "Failed to configure gateway", zap.Error(err))
		}
		manager.SetGateway(gw)
		if err := gw.Start(ctx); err != nil {
			logger.Fatal(ctx, "Failed to start gateway",
				zap.String("gateway", gw.Name()), zap.Error(err))
		}
		logger.Info(ctx, "Gateway started", zap.String("gateway", gw.Name()))

		go func() {
			for ev := range gw.Events() {
				dispatcher.Enqueue(ctx, ev)
			}
		}()

		discovered, err := manager.Scan(ctx)
		if err != nil {
			logger.Fatal(ctx, "Failed to scan modules directory", zap.Error(err))
		}
		for _, id := range discovered {
			if err := manager.Load(ctx, id); err != nil {
				logger.Error(ctx, "Module failed to load",
					zap.String("module", id), zap.Error(err))
			}
		}

		watcher, err := lifecycle.NewWatcher(manager)
		if err != nil {
			logger.Warn(ctx, "Modules directory watcher unavailable", zap.Error(err))
		} else {
			defer watcher.Close()
			go watcher.Run(ctx)
		}

		metricsSrv := &http.Server{Addr: serveMetricsAddr, Handler: promhttp.Handler()}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error(ctx, "Metrics endpoint failed", zap.Error(err))
			}
		}()

		logger.Info(ctx, "Breadcord host started", zap.Int("modules", len(discovered)))
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		_ = metricsSrv.Shutdown(shutdownCtx)
		if err := gw.Stop(shutdownCtx); err != nil {
			logger.Error(shutdownCtx, "Error stopping gateway", zap.Error(err))
		}
		for _, st := range manager.List() {
			if st.State != lifecycle.StateEnabled && st.State != lifecycle.StateDisabled {
				continue
			}
			if err := manager.Unload(shutdownCtx, st.ID); err != nil {
				logger.Error(shutdownCtx, "Error unloading module",
					zap.String("module", st.ID), zap.Error(err))
			}
		}

		logger.Info(shutdownCtx, "Breadcord stopped gracefully")
		return nil
	},
}

// selectGateway picks the configured platform adapter. A discord block wins;
// otherwise the devnull loopback keeps the host usable for development.
func selectGateway(cfg *config.Config) (gateway.Gateway, error) {
	if discordCfg, ok := cfg.Gateways["discord"]; ok {
		gw := discord.New()
		if err := gw.Configure(discordCfg); err != nil {
			return nil, err
		}
		return gw, nil
	}
	gw := devnull.New()
	if err := gw.Configure(cfg.Gateways["devnull"]); err != nil {
		return nil, err
	}
	return gw, nil
}
