package main

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/Moonsong-Labs/storage-hub-sub006/node/config"
)

var configCmd = &cli.Command{
	Name:  "config",
	Usage: "Inspect the fisherman configuration",
	Subcommands: []*cli.Command{
		{
			Name:  "default",
			Usage: "Print the default config, commented",
			Action: func(cctx *cli.Context) error {
				b, err := config.ConfigComment(config.DefaultFisherman())
				if err != nil {
					return err
				}
				fmt.Print(string(b))
				return nil
			},
		},
		{
			Name:  "effective",
			Usage: "Print the config in use after the file and flags are applied",
			Flags: []cli.Flag{apiFlag},
			Action: func(cctx *cli.Context) error {
				cfg, err := loadConfig(cctx)
				if err != nil {
					return err
				}
				if err := cfg.Validate(); err != nil {
					return err
				}
				b, err := config.ConfigComment(cfg)
				if err != nil {
					return err
				}
				fmt.Print(string(b))
				return nil
			},
		},
	},
}
