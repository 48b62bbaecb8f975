package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/yetasya/derivatives-bot/internal/api"
	"github.com/yetasya/derivatives-bot/internal/config"
	"github.com/yetasya/derivatives-bot/internal/connection"
)

// NewRunCmd creates the run command
func NewRunCmd(configPath func() string) *cobra.Command {
	var noAPI bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Connect, authorize and keep the session alive until interrupted",
		Long: `Connect to the backend, authorize with the stored credential and keep the
session, its stream subscriptions and the instrument catalog alive.

SIGHUP asks the connection manager to check the transport and reconnect if it
is gone, the same as POST /api/v1/connection/reconnect.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(configPath())
			if err != nil {
				return err
			}

			options := []fx.Option{
				coreModules(configPath()),
				fx.Invoke(registerWakeSignal),
			}
			if cfg.Server.Enabled && !noAPI {
				options = append(options, api.Module)
			}

			app := fx.New(options...)
			if err := app.Err(); err != nil {
				return err
			}
			app.Run()
			return nil
		},
	}

	cmd.Flags().BoolVar(&noAPI, "no-api", false, "Do not start the status API")
	return cmd
}

// registerWakeSignal turns SIGHUP into a wake signal for the manager
func registerWakeSignal(lc fx.Lifecycle, mgr *connection.Manager, logger *zap.Logger) {
	signals := make(chan os.Signal, 1)
	done := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			signal.Notify(signals, syscall.SIGHUP)
			go func() {
				for {
					select {
					case <-done:
						return
					case <-signals:
						logger.Info("SIGHUP received, checking connection")
						mgr.Wake()
					}
				}
			}()
			return nil
		},
		OnStop: func(context.Context) error {
			signal.Stop(signals)
			close(done)
			return nil
		},
	})
}
