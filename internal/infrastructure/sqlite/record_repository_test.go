package sqlite

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/zjrosen/arbor/internal/registry"
)

// setupTestDB creates a new DB that is closed when the test completes.
func setupTestDB(t testing.TB) *DB {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err, "Failed to create test database")
	t.Cleanup(func() { db.Close() })
	return db
}

func testRecord(name string, chainID uint64) *registry.Record {
	return &registry.Record{
		Name:             name,
		Network:          "sepolia",
		ChainID:          chainID,
		Address:          common.HexToAddress("0x9fE46736679d2D9a65F0992F2272dE9f3c7fa6e0"),
		ConstructorArgs:  []string{"0x5FbDB2315678afecb367f032d93F642f64180aa3", "4", "5", "1"},
		EncodedArgs:      []byte{0xde, 0xad, 0xbe, 0xef},
		TxHash:           common.HexToHash("0x1234"),
		ConfirmedAtBlock: 1337,
		DeployedAt:       time.Unix(1_700_000_000, 0),
	}
}

func TestRecordRepository_PutGet(t *testing.T) {
	ctx := context.Background()
	repo := setupTestDB(t).RecordRepository()

	want := testRecord("GovernorContract", 11155111)
	require.NoError(t, repo.Put(ctx, want))

	got, err := repo.Get(ctx, "GovernorContract", 11155111)
	require.NoError(t, err)
	require.Equal(t, want.Name, got.Name)
	require.Equal(t, want.Network, got.Network)
	require.Equal(t, want.Address, got.Address)
	require.Equal(t, want.ConstructorArgs, got.ConstructorArgs)
	require.Equal(t, want.EncodedArgs, got.EncodedArgs)
	require.Equal(t, want.TxHash, got.TxHash)
	require.Equal(t, want.ConfirmedAtBlock, got.ConfirmedAtBlock)
	require.Equal(t, want.DeployedAt.Unix(), got.DeployedAt.Unix())
	require.Empty(t, got.RunID)
}

func TestRecordRepository_GetNotFound(t *testing.T) {
	repo := setupTestDB(t).RecordRepository()

	_, err := repo.Get(context.Background(), "Shop", 1)
	var nf *registry.RecordNotFoundError
	require.ErrorAs(t, err, &nf)
	require.Equal(t, "Shop", nf.Name)
	require.Equal(t, uint64(1), nf.ChainID)
}

func TestRecordRepository_ChainsAreSeparate(t *testing.T) {
	ctx := context.Background()
	repo := setupTestDB(t).RecordRepository()

	require.NoError(t, repo.Put(ctx, testRecord("TreeToken", 1)))
	_, err := repo.Get(ctx, "TreeToken", 11155111)
	require.True(t, registry.IsNotFound(err))
}

func TestRecordRepository_PutUpserts(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	repo := db.RecordRepository()

	first := testRecord("Shop", 1)
	require.NoError(t, repo.Put(ctx, first))
	second := testRecord("Shop", 1)
	second.Address = common.HexToAddress("0x0000000000000000000000000000000000000bee")
	second.ConstructorArgs = nil
	require.NoError(t, repo.Put(ctx, second))

	var count int
	require.NoError(t, db.conn.QueryRow("SELECT COUNT(*) FROM deployments").Scan(&count))
	require.Equal(t, 1, count)

	got, err := repo.Get(ctx, "Shop", 1)
	require.NoError(t, err)
	require.Equal(t, second.Address, got.Address)
	require.Empty(t, got.ConstructorArgs)
}

func TestRecordRepository_PutRejectsInvalid(t *testing.T) {
	repo := setupTestDB(t).RecordRepository()
	err := repo.Put(context.Background(), &registry.Record{Name: "Shop", ChainID: 1})
	require.ErrorIs(t, err, registry.ErrInvalidRecord)
}

func TestRecordRepository_RunReference(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)

	run := registry.NewRun("run-1", "sepolia", 11155111, []string{"all"})
	require.NoError(t, db.RunRepository().Save(ctx, run))

	rec := testRecord("TreeNFT", 11155111)
	rec.RunID = "run-1"
	require.NoError(t, db.RecordRepository().Put(ctx, rec))

	got, err := db.RecordRepository().Get(ctx, "TreeNFT", 11155111)
	require.NoError(t, err)
	require.Equal(t, "run-1", got.RunID)

	orphan := testRecord("Shop", 11155111)
	orphan.RunID = "missing-run"
	require.Error(t, db.RecordRepository().Put(ctx, orphan), "foreign keys are enforced")
}

func TestRecordRepository_ListOrder(t *testing.T) {
	ctx := context.Background()
	repo := setupTestDB(t).RecordRepository()

	names := []string{"TreeToken", "TimeLock", "GovernorContract"}
	for i, name := range names {
		r := testRecord(name, 31337)
		r.DeployedAt = time.Unix(1_700_000_000+int64(i), 0)
		require.NoError(t, repo.Put(ctx, r))
	}
	require.NoError(t, repo.Put(ctx, testRecord("Shop", 1)))

	list, err := repo.List(ctx, 31337)
	require.NoError(t, err)
	require.Len(t, list, 3)
	for i, name := range names {
		require.Equal(t, name, list[i].Name)
	}
}

// TestRecordRepository_AtMostOneRecordPerKey is a property-based test: after
// any sequence of puts, each (name, chain) has exactly one row holding the
// last written address.
func TestRecordRepository_AtMostOneRecordPerKey(t *testing.T) {
	db := setupTestDB(t)
	repo := db.RecordRepository()
	ctx := context.Background()

	rapid.Check(t, func(rt *rapid.T) {
		_, err := db.conn.Exec("DELETE FROM deployments")
		require.NoError(rt, err)

		names := []string{"TreeToken", "TimeLock", "GovernorContract", "Shop"}
		chains := []uint64{1, 31337, 11155111}
		last := map[registry.Key]common.Address{}

		n := rapid.IntRange(1, 25).Draw(rt, "puts")
		for i := 0; i < n; i++ {
			name := rapid.SampledFrom(names).Draw(rt, "name")
			chainID := rapid.SampledFrom(chains).Draw(rt, "chain")
			addr := fmt.Sprintf("0x%040x", rapid.Uint64Range(1, 1<<40).Draw(rt, "addr"))

			r := testRecord(name, chainID)
			r.Address = common.HexToAddress(addr)
			require.NoError(rt, repo.Put(ctx, r))
			last[r.Key()] = r.Address
		}

		var rows int
		require.NoError(rt, db.conn.QueryRow("SELECT COUNT(*) FROM deployments").Scan(&rows))
		require.Equal(rt, len(last), rows)

		for key, addr := range last {
			got, err := repo.Get(ctx, key.Name, key.ChainID)
			require.NoError(rt, err)
			require.Equal(rt, addr, got.Address)
		}
	})
}
