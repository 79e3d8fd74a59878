package main

import (
	"context"
	"path/filepath"
	"time"

	"github.com/filecoin-project/go-jsonrpc"
	"github.com/mitchellh/go-homedir"
	"github.com/urfave/cli/v2"
	"golang.org/x/xerrors"

	"github.com/Moonsong-Labs/storage-hub-sub006/api"
	"github.com/Moonsong-Labs/storage-hub-sub006/api/client"
	"github.com/Moonsong-Labs/storage-hub-sub006/build"
	"github.com/Moonsong-Labs/storage-hub-sub006/chainindex"
	"github.com/Moonsong-Labs/storage-hub-sub006/lib/harmony/harmonydb"
	"github.com/Moonsong-Labs/storage-hub-sub006/lib/retry"
	"github.com/Moonsong-Labs/storage-hub-sub006/node/config"
)

func loadConfig(cctx *cli.Context) (*config.Fisherman, error) {
	cfg, err := config.FromFile(cctx.String("config"), config.DefaultFisherman())
	if err != nil {
		return nil, xerrors.Errorf("loading config: %w", err)
	}
	if cctx.IsSet("api") {
		cfg.Node.ApiInfo = cctx.String("api")
	}
	return cfg, nil
}

var apiFlag = &cli.StringFlag{
	Name:    "api",
	EnvVars: []string{"FISHERMAN_NODE_API_INFO"},
	Usage:   "node api info ([token:]ws://host:port/rpc/v0), overrides Node.ApiInfo",
}

type connectedNode struct {
	node   api.FishermanNode
	closer jsonrpc.ClientCloser
}

// connectNode dials the node, retrying while it is unreachable.
func connectNode(ctx context.Context, cfg config.NodeConfig) (api.FishermanNode, jsonrpc.ClientCloser, error) {
	info := client.ParseApiInfo(cfg.ApiInfo)
	if len(info.Token) == 0 && cfg.Token != "" {
		info.Token = []byte(cfg.Token)
	}

	c, err := retry.Retry(ctx, 10, time.Second, []error{&jsonrpc.RPCConnectionError{}}, func() (connectedNode, error) {
		node, closer, err := client.Connect(ctx, info, time.Duration(cfg.ConnectTimeout))
		return connectedNode{node: node, closer: closer}, err
	})
	if err != nil {
		return nil, nil, xerrors.Errorf("connecting to node at %s: %w", info.Addr, err)
	}

	v, err := c.node.Version(ctx)
	if err != nil {
		c.closer()
		return nil, nil, xerrors.Errorf("getting node version: %w", err)
	}
	if !v.APIVersion.EqMajorMinor(build.NodeAPIVersion) {
		c.closer()
		return nil, nil, xerrors.Errorf("node api version %s is incompatible with %s", v.APIVersion, build.NodeAPIVersion)
	}
	log.Infow("connected to node", "addr", info.Addr, "version", v.Version, "api", v.APIVersion)

	return c.node, c.closer, nil
}

// openIndex opens the configured event index backend.
func openIndex(cfg config.IndexConfig) (chainindex.EventIndex, error) {
	switch cfg.Backend {
	case config.IndexBackendSqlite:
		path, err := homedir.Expand(cfg.SqlitePath)
		if err != nil {
			return nil, xerrors.Errorf("expanding index path: %w", err)
		}
		if filepath.Ext(path) == "" {
			path = filepath.Join(path, chainindex.DefaultDbFilename)
		}
		return chainindex.NewSqliteIndex(path)
	case config.IndexBackendPostgres:
		db, err := harmonydb.NewFromConfig(cfg.HarmonyDB)
		if err != nil {
			return nil, xerrors.Errorf("connecting to postgres index: %w", err)
		}
		return chainindex.NewPgIndex(db), nil
	default:
		return nil, xerrors.Errorf("unknown index backend %q", cfg.Backend)
	}
}
