package main

import (
	"context"
	"os"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/plumelab/chirpd/internal/auth"
	"github.com/plumelab/chirpd/internal/config"
	"github.com/plumelab/chirpd/internal/dispatch"
	"github.com/plumelab/chirpd/internal/logger"
	"github.com/plumelab/chirpd/internal/replygen"
	"github.com/plumelab/chirpd/internal/server"
	"github.com/plumelab/chirpd/internal/store"
	"github.com/plumelab/chirpd/internal/twitter"
)

func main() {
	Execute()
}

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "chirpd",
	Short: "OAuth2 PKCE client and reply bot for the Twitter API",
	Long: `chirpd fronts the Twitter v2 API with an OAuth2 Authorization Code + PKCE
flow, persistent token refresh, and AI-assisted replies. It exposes JSON
routes for authorization, tweeting, replying and engagement actions.`,
	Run: runServer,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	// Place version check in PreRun to ensure flags are parsed first
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		versionFlag, _ := cmd.Flags().GetBool("version")
		if versionFlag {
			pterm.Info.Println(config.GetVersionInfo())
			os.Exit(0)
		}
	}

	if err := rootCmd.Execute(); err != nil {
		pterm.Error.Println(err)
		os.Exit(1)
	}
}

func init() {
	config.InitFlags()
	rootCmd.PersistentFlags().AddFlagSet(pflag.CommandLine)
	rootCmd.PersistentFlags().BoolP("version", "v", false, "Show version information")
}

func runServer(cmd *cobra.Command, args []string) {
	cfg, err := config.Load()
	if err != nil {
		pterm.Error.Println(err)
		os.Exit(1)
	}

	if err := logger.InitLogger(&cfg.Logging); err != nil {
		pterm.Error.Println(err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	app := fx.New(
		fx.WithLogger(func() fxevent.Logger {
			return &fxevent.ZapLogger{Logger: logger.GetLogger()}
		}),
		fx.Supply(cfg),
		fx.Provide(
			func(cfg *config.Config) *config.ServerConfig { return &cfg.Server },
			func(cfg *config.Config) *config.TwitterConfig { return &cfg.Twitter },
			func(cfg *config.Config) *config.OpenAIConfig { return &cfg.OpenAI },
			func(cfg *config.Config) *config.StoreConfig { return &cfg.Store },
			func(c *twitter.Client) auth.Exchanger { return c },
			func(c *twitter.Client) dispatch.Refresher { return c },
			func(g *replygen.Generator) server.Generator { return g },
		),
		store.Module,
		twitter.Module,
		auth.Module,
		dispatch.Module,
		replygen.Module,
		server.Module,
		fx.Invoke(runHTTP),
	)

	app.Run()
}

// runHTTP ties the HTTP server to the fx lifecycle.
func runHTTP(lc fx.Lifecycle, shutdowner fx.Shutdowner, srv *server.Server) {
	ctx, cancel := context.WithCancel(context.Background())

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				if err := srv.Start(ctx); err != nil {
					logger.Error("server exited", zap.Error(err))
				}
				_ = shutdowner.Shutdown()
			}()
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
}
