package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v2"
	"golang.org/x/xerrors"

	"github.com/Moonsong-Labs/storage-hub-sub006/chain/types"
	"github.com/Moonsong-Labs/storage-hub-sub006/storage/fisherman"
)

var pendingCmd = &cli.Command{
	Name:  "pending",
	Usage: "List finalized deletion work per provider scope without acting on it",
	Flags: []cli.Flag{
		&cli.StringSliceFlag{
			Name:  "type",
			Usage: "deletion types to list (user, incomplete)",
			Value: cli.NewStringSlice("user", "incomplete"),
		},
		&cli.BoolFlag{
			Name:  "keys",
			Usage: "print every file key of each scope",
		},
	},
	Action: func(cctx *cli.Context) error {
		ctx := cctx.Context

		cfg, err := loadConfig(cctx)
		if err != nil {
			return err
		}

		index, err := openIndex(cfg.Index)
		if err != nil {
			return err
		}
		defer index.Close() //nolint:errcheck

		finalized, err := index.LastFinalizedBlock(ctx)
		if err != nil {
			return xerrors.Errorf("reading finalized cursor: %w", err)
		}

		timeout := time.Duration(cfg.Fisherman.IndexTimeout)
		classifier := fisherman.NewClassifier(index, timeout)
		resolver := fisherman.NewResolver(index, timeout)

		fmt.Printf("finalized block: %d\n", finalized)

		tw := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
		_, _ = fmt.Fprintf(tw, "TYPE\tSCOPE\tKEYS\tOLDEST\n")
		for _, ts := range cctx.StringSlice("type") {
			typ, err := types.ParseDeletionType(ts)
			if err != nil {
				return err
			}

			intents, err := classifier.Classify(ctx, typ, finalized)
			if err != nil {
				return xerrors.Errorf("classifying %s deletions: %w", typ, err)
			}
			res, err := resolver.Resolve(ctx, intents)
			if err != nil {
				return xerrors.Errorf("resolving %s deletions: %w", typ, err)
			}

			for _, g := range res.Groups {
				oldest := g.Intents[0].Origin
				for _, in := range g.Intents {
					if in.Origin < oldest {
						oldest = in.Origin
					}
				}
				_, _ = fmt.Fprintf(tw, "%s\t%s\t%d\t%d\n", typ, g.Scope, len(g.Intents), oldest)
				if cctx.Bool("keys") {
					for _, k := range g.Keys() {
						_, _ = fmt.Fprintf(tw, "\t  %s\t\t\n", k)
					}
				}
			}
			if len(res.Orphans) > 0 {
				_, _ = fmt.Fprintf(tw, "%s\torphaned\t%d\t\n", typ, len(res.Orphans))
			}
		}
		return tw.Flush()
	},
}
