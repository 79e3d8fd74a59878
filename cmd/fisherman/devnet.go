package main

import (
	"context"
	"crypto/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/filecoin-project/go-jsonrpc"
	"github.com/gorilla/mux"
	"github.com/mitchellh/go-homedir"
	"github.com/urfave/cli/v2"
	"golang.org/x/xerrors"

	"github.com/Moonsong-Labs/storage-hub-sub006/api"
	"github.com/Moonsong-Labs/storage-hub-sub006/api/client"
	"github.com/Moonsong-Labs/storage-hub-sub006/chain/types"
	"github.com/Moonsong-Labs/storage-hub-sub006/chainindex"
	"github.com/Moonsong-Labs/storage-hub-sub006/mock"
)

var devnetCmd = &cli.Command{
	Name:  "devnet",
	Usage: "Serve an in-memory node for local testing",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "listen",
			Value: "127.0.0.1:9944",
		},
		&cli.StringFlag{
			Name:  "seed-index",
			Usage: "populate the node and a sqlite index at this path with revoked and user-deleted files",
		},
		&cli.IntFlag{
			Name:  "buckets",
			Value: 3,
			Usage: "buckets to seed, each holding two revoked and one user-deleted file",
		},
	},
	Action: func(cctx *cli.Context) error {
		ctx := cctx.Context
		node := mock.NewNode()

		if p := cctx.String("seed-index"); p != "" {
			path, err := homedir.Expand(p)
			if err != nil {
				return err
			}
			index, err := chainindex.NewSqliteIndex(path)
			if err != nil {
				return xerrors.Errorf("opening seed index: %w", err)
			}
			err = seedDevnet(ctx, node, index, cctx.Int("buckets"))
			if cerr := index.Close(); err == nil {
				err = cerr
			}
			if err != nil {
				return xerrors.Errorf("seeding devnet: %w", err)
			}
		}

		rpcServer := jsonrpc.NewServer(jsonrpc.WithServerErrors(api.RPCErrors))
		rpcServer.Register(client.Namespace, &devnetNode{FishermanNode: node})

		m := mux.NewRouter()
		m.Handle("/rpc/v0", rpcServer)

		srv := &http.Server{
			Addr:              cctx.String("listen"),
			Handler:           m,
			ReadHeaderTimeout: 30 * time.Second,
		}

		sigCh := make(chan os.Signal, 2)
		signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
		go func() {
			<-sigCh
			log.Warn("shutting down devnet")
			_ = srv.Shutdown(context.Background())
		}()

		log.Infow("devnet node listening", "api", "ws://"+srv.Addr+"/rpc/v0")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	},
}

// devnetNode limits the served method set to the node API; the test helpers
// of mock.Node are not rpc compatible.
type devnetNode struct {
	api.FishermanNode
}

// seedDevnet stores files under one MSP and one BSP, revokes two per bucket
// and requests a signed user deletion for the third. Everything is finalized.
func seedDevnet(ctx context.Context, node *mock.Node, index *chainindex.SqliteIndex, buckets int) error {
	var msp, bsp types.ProviderID
	if _, err := rand.Read(msp[:]); err != nil {
		return err
	}
	if _, err := rand.Read(bsp[:]); err != nil {
		return err
	}
	bspScope := types.BspScope(bsp)
	node.RegisterScope(bspScope)

	const stored, requested types.BlockNumber = 1, 2
	for i := 0; i < buckets; i++ {
		var b types.BucketID
		if _, err := rand.Read(b[:]); err != nil {
			return err
		}
		if err := index.PutBucket(ctx, b, "devnet", &msp, stored); err != nil {
			return err
		}
		bucketScope := types.BucketScope(msp, b)
		node.RegisterScope(bucketScope)

		for j := 0; j < 3; j++ {
			var key types.FileKey
			if _, err := rand.Read(key[:]); err != nil {
				return err
			}
			if err := index.PutFile(ctx, chainindex.FileRecord{
				FileKey:      key,
				Bucket:       b,
				Owner:        "devnet",
				Location:     []byte("/devnet/" + key.String()[2:10]),
				Fingerprint:  types.Hash(key),
				Size:         1024,
				CreatedBlock: stored,
			}); err != nil {
				return err
			}
			if err := index.PutBspFile(ctx, bsp, key, stored); err != nil {
				return err
			}
			node.AddFiles(bucketScope, key)
			node.AddFiles(bspScope, key)

			if j < 2 {
				err := index.PutIncompleteRequest(ctx, chainindex.IncompleteRow{
					FileKey:              key,
					Bucket:               b,
					Reason:               chainindex.ReasonRevoked,
					PendingBucketRemoval: true,
					PendingBsps:          []types.ProviderID{bsp},
					Block:                requested,
				})
				if err != nil {
					return err
				}
				continue
			}

			if err := index.PutDeletionRequest(ctx, key, requested); err != nil {
				return err
			}
			intention := append([]byte("delete:"), key[:]...)
			if err := index.PutDeletionSignature(ctx, key, intention, append([]byte("sig:"), key[:]...)); err != nil {
				return err
			}
		}
	}

	if err := index.SetLastFinalizedBlock(ctx, requested); err != nil {
		return err
	}
	log.Infow("seeded devnet", "buckets", buckets, "msp", msp, "bsp", bsp)
	return nil
}
