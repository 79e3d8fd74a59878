package proxy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opencensus.io/stats/view"
	"go.opencensus.io/tag"

	"github.com/Moonsong-Labs/storage-hub-sub006/api"
	"github.com/Moonsong-Labs/storage-hub-sub006/chain/types"
	"github.com/Moonsong-Labs/storage-hub-sub006/metrics"
	"github.com/Moonsong-Labs/storage-hub-sub006/mock"
)

func requestCount(t *testing.T, endpoint string) int64 {
	rows, err := view.RetrieveData(metrics.APIRequestDurationView.Name)
	require.NoError(t, err)
	for _, row := range rows {
		for _, tg := range row.Tags {
			if tg.Key == metrics.Endpoint && tg.Value == endpoint {
				return row.Data.(*view.DistributionData).Count
			}
		}
	}
	return 0
}

func TestMetricedFishermanNode(t *testing.T) {
	require.NoError(t, view.Register(metrics.APIRequestDurationView))
	t.Cleanup(func() { view.Unregister(metrics.APIRequestDurationView) })

	ctx := context.Background()
	n := mock.NewNode()
	bsp := types.ProviderID{1}
	scope := types.BspScope(bsp)
	k := types.FileKey{1}
	n.AddFiles(scope, k)

	var seen string
	n.OnSubmit(func(ctx context.Context, _ types.ProviderScope) error {
		seen, _ = tag.FromContext(ctx).Value(metrics.Endpoint)
		return nil
	})

	node := MetricedFishermanNode(n)

	members, err := node.ForestIsMember(ctx, scope, []types.FileKey{k, {2}})
	require.NoError(t, err)
	require.Equal(t, []bool{true, false}, members)

	_, err = node.ForestIsMember(ctx, types.BspScope(types.ProviderID{9}), []types.FileKey{k})
	require.ErrorIs(t, err, api.ErrScopeNotFound)

	proof, err := node.ForestGenerateProof(ctx, scope, []types.FileKey{k})
	require.NoError(t, err)
	_, err = node.FileSystemDeleteFilesForIncompleteStorageRequest(ctx, &types.DeleteIncompleteCall{
		FileKeys: []types.FileKey{k},
		BspID:    &bsp,
		Root:     proof.Root,
		Proof:    proof.Proof,
	})
	require.NoError(t, err)
	require.Equal(t, "FileSystemDeleteFilesForIncompleteStorageRequest", seen)

	require.EqualValues(t, 2, requestCount(t, "ForestIsMember"))
	require.EqualValues(t, 1, requestCount(t, "ForestGenerateProof"))
	require.EqualValues(t, 1, requestCount(t, "FileSystemDeleteFilesForIncompleteStorageRequest"))
	require.EqualValues(t, 0, requestCount(t, "ChainHead"))
}
