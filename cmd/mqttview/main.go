package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"mqttview/internal/commands"
)

// Populated at build time via -ldflags.
var version = "dev"

func main() {
	flags := &commands.Flags{}

	app := &cli.Command{
		Name:      "mqttview",
		Usage:     "watch and publish MQTT messages",
		UsageText: "mqttview [global options] command [command options]",
		Version:   version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "path to a YAML or JSON config file",
				Sources:     cli.EnvVars("MQTTVIEW_CONFIG"),
				Destination: &flags.ConfigPath,
			},
			&cli.StringFlag{
				Name:        "host",
				Aliases:     []string{"H"},
				Usage:       "broker host",
				Sources:     cli.EnvVars("MQTTVIEW_HOST"),
				Destination: &flags.Host,
			},
			&cli.IntFlag{
				Name:        "port",
				Aliases:     []string{"p"},
				Usage:       "broker port",
				Sources:     cli.EnvVars("MQTTVIEW_PORT"),
				Destination: &flags.Port,
			},
			&cli.StringFlag{
				Name:        "username",
				Aliases:     []string{"u"},
				Usage:       "broker username",
				Sources:     cli.EnvVars("MQTTVIEW_USERNAME"),
				Destination: &flags.Username,
			},
			&cli.StringFlag{
				Name:        "password",
				Usage:       "broker password",
				Sources:     cli.EnvVars("MQTTVIEW_PASSWORD"),
				Destination: &flags.Password,
			},
			&cli.StringFlag{
				Name:        "client-id",
				Usage:       "client identifier (generated when empty)",
				Sources:     cli.EnvVars("MQTTVIEW_CLIENT_ID"),
				Destination: &flags.ClientID,
			},
			&cli.IntFlag{
				Name:        "capacity",
				Usage:       "number of messages kept in memory (0 = unlimited)",
				Sources:     cli.EnvVars("MQTTVIEW_CAPACITY"),
				Value:       -1,
				DefaultText: "from config",
				Destination: &flags.Capacity,
			},
			&cli.StringFlag{
				Name:        "log-level",
				Usage:       "log level (debug, info, warn, error)",
				Sources:     cli.EnvVars("MQTTVIEW_LOG_LEVEL"),
				Destination: &flags.LogLevel,
			},
			&cli.StringFlag{
				Name:        "metrics-addr",
				Usage:       "serve prometheus metrics on this address",
				Sources:     cli.EnvVars("MQTTVIEW_METRICS_ADDR"),
				Destination: &flags.MetricsAddr,
			},
			&cli.StringFlag{
				Name:        "nats-url",
				Usage:       "mirror messages and status changes to this NATS server",
				Sources:     cli.EnvVars("MQTTVIEW_NATS_URL"),
				Destination: &flags.NATSURL,
			},
		},
		Before: func(ctx context.Context, c *cli.Command) (context.Context, error) {
			return ctx, flags.Setup()
		},
		After: func(ctx context.Context, c *cli.Command) error {
			flags.Sync()
			return nil
		},
	}

	app = commands.NewWatchCmd(flags).Register(app)
	app = commands.NewPublishCmd(flags).Register(app)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.Run(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}
