package sqlite

import (
	"context"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"spreadScope/internal/model"
)

func TestCatalogSaveAndLoad(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "data", "pools.db")
	catalog, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer catalog.Close()

	pools := []model.PoolIdentity{
		{
			Family:       model.FamilyConcentrated,
			Address:      common.HexToAddress("0x2222222222222222222222222222222222222222"),
			Token0:       common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"),
			Token1:       common.HexToAddress("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"),
			Factory:      common.HexToAddress("0x0bfbcf9fa4f9c56b0f40a671ad40e0805a091865"),
			CreatedBlock: 200,
		},
		{
			Family:       model.FamilyConstantProduct,
			Address:      common.HexToAddress("0x1111111111111111111111111111111111111111"),
			Token0:       common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"),
			Token1:       common.HexToAddress("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"),
			Factory:      common.HexToAddress("0xca143ce32fe78f1f7019d7d551a6402fc5350c73"),
			CreatedBlock: 100,
		},
	}
	if err := catalog.SavePools(ctx, pools); err != nil {
		t.Fatalf("save: %v", err)
	}
	// saving again is a no-op
	if err := catalog.SavePools(ctx, pools[:1]); err != nil {
		t.Fatalf("save again: %v", err)
	}

	got, err := catalog.LoadPools(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	want := []model.PoolIdentity{pools[1], pools[0]}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("pools mismatch:\n got %+v\nwant %+v", got, want)
	}
}

func TestCatalogSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "pools.db")
	catalog, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	pool := model.PoolIdentity{
		Family:  model.FamilyStable,
		Address: common.HexToAddress("0x3333333333333333333333333333333333333333"),
		Token0:  common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"),
		Token1:  common.HexToAddress("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"),
	}
	if err := catalog.SavePools(ctx, []model.PoolIdentity{pool}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := catalog.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	got, err := reopened.LoadPools(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != 1 || got[0] != pool {
		t.Fatalf("pools mismatch: %+v", got)
	}
}
