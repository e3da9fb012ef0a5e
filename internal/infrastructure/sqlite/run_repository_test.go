package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/arbor/internal/registry"
)

func TestRunRepository_SaveAndFind(t *testing.T) {
	ctx := context.Background()
	repo := setupTestDB(t).RunRepository()

	run := registry.NewRun("run-1", "sepolia", 11155111, []string{"governor", "setup"})
	require.NoError(t, repo.Save(ctx, run))

	found, err := repo.FindByID(ctx, "run-1")
	require.NoError(t, err)
	require.Equal(t, "sepolia", found.Network())
	require.Equal(t, uint64(11155111), found.ChainID())
	require.Equal(t, []string{"governor", "setup"}, found.Tags())
	require.Equal(t, registry.RunStatePending, found.State())
	require.Nil(t, found.FinishedAt())
	require.WithinDuration(t, run.StartedAt(), found.StartedAt(), time.Second)
}

func TestRunRepository_SaveUpdates(t *testing.T) {
	ctx := context.Background()
	repo := setupTestDB(t).RunRepository()

	run := registry.NewRun("run-1", "sepolia", 11155111, nil)
	require.NoError(t, repo.Save(ctx, run))

	require.NoError(t, run.MarkRunning())
	run.StepCompleted("TreeToken", true)
	require.NoError(t, run.MarkFailed(errors.New("replacement transaction underpriced")))
	require.NoError(t, repo.Save(ctx, run))

	found, err := repo.FindByID(ctx, "run-1")
	require.NoError(t, err)
	require.Equal(t, registry.RunStateFailed, found.State())
	require.Equal(t, "TreeToken", found.LastCompleted())
	require.Equal(t, 1, found.Deployed())
	require.Equal(t, "replacement transaction underpriced", found.ErrorMessage())
	require.NotNil(t, found.FinishedAt())
	require.Empty(t, found.Tags())
}

func TestRunRepository_FindNotFound(t *testing.T) {
	repo := setupTestDB(t).RunRepository()

	_, err := repo.FindByID(context.Background(), "nope")
	var nf *registry.RunNotFoundError
	require.ErrorAs(t, err, &nf)
	require.Equal(t, "nope", nf.ID)
}

func TestRunRepository_ListWithFilter(t *testing.T) {
	ctx := context.Background()
	repo := setupTestDB(t).RunRepository()
	base := time.Unix(1_700_000_000, 0)

	runs := []*registry.Run{
		registry.ReconstituteRun("a", "sepolia", 11155111, nil, registry.RunStateCompleted, "TreeNFT", 7, 0, "", base, nil, base),
		registry.ReconstituteRun("b", "sepolia", 11155111, nil, registry.RunStateFailed, "", 0, 0, "boom", base.Add(time.Minute), nil, base),
		registry.ReconstituteRun("c", "mainnet", 1, nil, registry.RunStateCompleted, "", 0, 7, "", base.Add(2*time.Minute), nil, base),
	}
	for _, r := range runs {
		require.NoError(t, repo.Save(ctx, r))
	}

	all, err := repo.List(ctx, registry.RunFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, "c", all[0].ID(), "newest first")

	sepolia, err := repo.List(ctx, registry.RunFilter{ChainID: 11155111})
	require.NoError(t, err)
	require.Len(t, sepolia, 2)
	require.Equal(t, "b", sepolia[0].ID())

	completed, err := repo.List(ctx, registry.RunFilter{State: registry.RunStateCompleted, Limit: 1})
	require.NoError(t, err)
	require.Len(t, completed, 1)
	require.Equal(t, "c", completed[0].ID())
}
