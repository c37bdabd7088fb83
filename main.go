package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/anicoll/mijia-clock/cmd"
)

func main() {
	syncFlags := []cli.Flag{
		&cli.DurationFlag{
			Name:    "discovery-timeout",
			Usage:   "how long to wait for a device to advertise",
			EnvVars: []string{"DISCOVERY_TIMEOUT"},
		},
		&cli.DurationFlag{
			Name:    "connect-timeout",
			EnvVars: []string{"CONNECT_TIMEOUT"},
		},
		&cli.DurationFlag{
			Name:    "write-timeout",
			EnvVars: []string{"WRITE_TIMEOUT"},
		},
		&cli.UintFlag{
			Name:    "retries",
			Usage:   "extra attempts per device after a failed sync",
			EnvVars: []string{"SYNC_RETRIES"},
		},
	}

	app := &cli.App{
		Name:  "mijia-clock",
		Usage: "read Xiaomi BLE thermometers and set their clocks",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				EnvVars: []string{"LOG_LEVEL"},
				Value:   "INFO",
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				EnvVars: []string{"VERBOSE"},
			},
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "device file, defaults to the executable name with a .toml extension",
				EnvVars: []string{"DEVICE_CONFIG"},
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "scan",
				Usage:  "print sensor advertisements and a summary",
				Action: cmd.ScanCommand,
				Flags: []cli.Flag{
					&cli.DurationFlag{
						Name:    "duration",
						Aliases: []string{"d"},
						EnvVars: []string{"SCAN_DURATION"},
					},
				},
			},
			{
				Name:      "sync",
				Usage:     "set the clock of every configured device",
				ArgsUsage: "[name]",
				Action:    cmd.SyncCommand,
				Flags: append([]cli.Flag{
					&cli.BoolFlag{
						Name:  "scan",
						Usage: "also collect readings while syncing",
					},
				}, syncFlags...),
			},
			{
				Name:   "watch",
				Usage:  "scan continuously, publish readings and sync on a schedule",
				Action: cmd.WatchCommand,
				Flags: append([]cli.Flag{
					&cli.StringFlag{
						Name:    "schedule",
						EnvVars: []string{"SYNC_SCHEDULE"},
					},
					&cli.StringFlag{
						Name:    "mqtt-host",
						EnvVars: []string{"MQTT_HOST"},
					},
					&cli.StringFlag{
						Name:    "mqtt-user",
						EnvVars: []string{"MQTT_USER"},
					},
					&cli.StringFlag{
						Name:    "mqtt-pass",
						EnvVars: []string{"MQTT_PASS"},
					},
					&cli.StringFlag{
						Name:    "http-addr",
						EnvVars: []string{"HTTP_ADDR"},
					},
				}, syncFlags...),
			},
			{
				Name:   "config",
				Usage:  "print the device file",
				Action: cmd.ConfigCommand,
			},
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.RunContext(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}
