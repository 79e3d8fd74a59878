package main

import (
	"os"

	logging "github.com/ipfs/go-log/v2"
	"github.com/urfave/cli/v2"

	"github.com/Moonsong-Labs/storage-hub-sub006/build"
	"github.com/Moonsong-Labs/storage-hub-sub006/lib/fmlog"
)

var log = logging.Logger("fisherman-cmd")

const subsystems = "^(fisherman.*|chainindex|fsjournal|alerting|journal|retry)$"

func main() {
	fmlog.SetupLogLevels()

	local := []*cli.Command{
		runCmd,
		pendingCmd,
		configCmd,
		devnetCmd,
		versionCmd,
	}

	app := &cli.App{
		Name:    "fisherman",
		Usage:   "Prove finalized file deletions against storage provider forests",
		Version: build.UserVersion(),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				EnvVars: []string{"FISHERMAN_CONFIG"},
				Value:   "~/.fisherman/config.toml",
				Usage:   "path to the TOML config file; defaults apply when it doesn't exist",
			},
			&cli.StringFlag{
				Name:    "log-level",
				EnvVars: []string{"FISHERMAN_LOG_LEVEL"},
				Value:   "info",
			},
		},
		Before: func(cctx *cli.Context) error {
			return logging.SetLogLevelRegex(subsystems, cctx.String("log-level"))
		},
		Commands: local,
	}

	if err := app.Run(os.Args); err != nil {
		log.Errorw("exit in error", "err", err)
		os.Exit(1)
		return
	}
}

var versionCmd = &cli.Command{
	Name:  "version",
	Usage: "Print version",
	Action: func(cctx *cli.Context) error {
		cli.VersionPrinter(cctx)
		return nil
	},
}
