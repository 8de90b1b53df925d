package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli"
	"github.com/user/ventana-link/config"
	"github.com/user/ventana-link/logger"
)

func main() {
	app := cli.NewApp()

	app.Name = "ventanactl"
	app.Usage = "Control and monitor a BLE window controller"
	app.Version = "0.3.0"
	app.Action = cli.ShowAppHelp
	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "config, c", Usage: "JSON config file", EnvVar: "VENTANA_CONFIG"},
		cli.StringFlag{Name: "log-level, l", Usage: "TRACE, DEBUG, INFO, WARN or ERROR"},
	}

	app.Commands = []cli.Command{
		{
			Name:   "run",
			Usage:  "Connect to the window controller and accept commands on stdin",
			Action: run,
			Flags: []cli.Flag{
				cli.StringFlag{Name: "transport, t", Usage: "sim, bluez or goble"},
				cli.StringFlag{Name: "addr, a", Usage: "peripheral address"},
				cli.StringFlag{Name: "adapter", Usage: "BlueZ adapter object path"},
				cli.StringFlag{Name: "hub", Usage: "serve the WebSocket hub on this address (e.g. :8080)"},
				cli.StringFlag{Name: "remote", Usage: "shared database base URL"},
				cli.BoolFlag{Name: "no-lifecycle", Usage: "do not write connection_events.jsonl"},
			},
		},
		{
			Name:   "report",
			Usage:  "Summarize connection logs into a markdown report",
			Action: writeReport,
		},
		{
			Name:  "user",
			Usage: "Manage local accounts",
			Subcommands: []cli.Command{
				{Name: "register", Usage: "register USERNAME PASSWORD", Action: userRegister},
				{Name: "login", Usage: "login USERNAME PASSWORD", Action: userLogin},
				{Name: "list", Usage: "list accounts", Action: userList},
			},
		},
		{
			Name:  "sync",
			Usage: "Inspect the local mirror",
			Subcommands: []cli.Command{
				{Name: "status", Usage: "show mirrored keys and whether they reached the shared database", Action: syncStatus},
				{
					Name:   "push",
					Usage:  "push pending entries now",
					Action: syncPush,
					Flags: []cli.Flag{
						cli.StringFlag{Name: "remote", Usage: "shared database base URL"},
					},
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "ventanactl: %v\n", err)
		os.Exit(1)
	}
	logger.Sync()
}

// loadConfig reads the config and applies global flags
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.GlobalString("config"))
	if err != nil {
		return nil, err
	}
	if lvl := c.GlobalString("log-level"); lvl != "" {
		cfg.LogLevel = lvl
	}
	logger.SetLevel(logger.ParseLevel(cfg.LogLevel))
	return cfg, nil
}
