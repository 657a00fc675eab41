package indexer

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/coldbell/predict/backend/internal/config"
	"github.com/coldbell/predict/backend/internal/ledger"
	"github.com/coldbell/predict/backend/internal/logging"
	"github.com/coldbell/predict/backend/internal/program"
	"github.com/gagliardetto/solana-go"
)

var testProgramID = config.DefaultProgramConfig().ProgramID

func putMarket(t *testing.T, store *ledger.MemoryStore, market *program.Market, lamports uint64) solana.PublicKey {
	t.Helper()
	data, err := market.Encode()
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	address := solana.NewWallet().PublicKey()
	store.Put(ledger.Account{Address: address, Lamports: lamports, Owner: testProgramID, Data: data})
	return address
}

func seedLedger(t *testing.T) (*ledger.MemoryStore, solana.PublicKey) {
	t.Helper()
	store := ledger.NewMemoryStore(nil)
	resolver := solana.NewWallet().PublicKey()

	open := program.NewMarket(255, resolver, 1_700_000_000)
	putMarket(t, store, open, 1_000)

	resolved := program.NewMarket(254, resolver, 1_700_000_500)
	resolved.NumYes, resolved.PoolYes = 3, 300
	resolved.NumNo, resolved.PoolNo = 2, 200
	resolved.Resolution = program.ResolutionYes
	resolvedAddress := putMarket(t, store, resolved, 2_000)

	prediction, err := program.NewUserPrediction(253).Encode()
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	store.Put(ledger.Account{Address: solana.NewWallet().PublicKey(), Lamports: 10, Owner: testProgramID, Data: prediction})

	store.Put(ledger.Account{Address: solana.NewWallet().PublicKey(), Lamports: 10, Owner: testProgramID, Data: []byte{9, 9, 9}})
	store.Put(ledger.Account{Address: solana.NewWallet().PublicKey(), Lamports: 10, Owner: solana.SystemProgramID})
	return store, resolvedAddress
}

func TestListMarkets(t *testing.T) {
	store, resolvedAddress := seedLedger(t)
	query := NewQuery(store, testProgramID)

	snapshot, err := query.ListMarkets(context.Background(), MarketFilter{})
	if err != nil {
		t.Fatalf("ListMarkets() error = %v", err)
	}
	if len(snapshot.Markets) != 2 || snapshot.OpenPredictions != 1 || snapshot.Skipped != 1 {
		t.Fatalf("snapshot = %+v", snapshot)
	}
	if snapshot.Limit != defaultPageLimit || snapshot.Offset != 0 {
		t.Fatalf("pagination = %d/%d", snapshot.Limit, snapshot.Offset)
	}

	resolvedOnly, err := query.ListMarkets(context.Background(), MarketFilter{Resolution: "YES"})
	if err != nil {
		t.Fatalf("ListMarkets(yes) error = %v", err)
	}
	if len(resolvedOnly.Markets) != 1 {
		t.Fatalf("yes markets = %d, want 1", len(resolvedOnly.Markets))
	}
	got := resolvedOnly.Markets[0]
	if got.Pubkey != resolvedAddress.String() || got.Resolution != "yes" || got.PoolNo != "200" || got.Lamports != "2000" {
		t.Fatalf("market record = %+v", got)
	}
	// 200 % 3
	if got.Undistributed != "2" {
		t.Fatalf("undistributed = %s, want 2", got.Undistributed)
	}
}

func TestListMarketsPagination(t *testing.T) {
	tests := []struct {
		name        string
		filter      MarketFilter
		wantMarkets int
		wantLimit   int
		wantOffset  int
	}{
		{name: "first page", filter: MarketFilter{Limit: 1}, wantMarkets: 1, wantLimit: 1},
		{name: "second page", filter: MarketFilter{Limit: 1, Offset: 1}, wantMarkets: 1, wantLimit: 1, wantOffset: 1},
		{name: "past end", filter: MarketFilter{Offset: 5}, wantMarkets: 0, wantLimit: defaultPageLimit, wantOffset: 5},
		{name: "clamped", filter: MarketFilter{Limit: 10_000, Offset: -3}, wantMarkets: 2, wantLimit: maxPageLimit},
	}

	store, _ := seedLedger(t)
	query := NewQuery(store, testProgramID)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snapshot, err := query.ListMarkets(context.Background(), tt.filter)
			if err != nil {
				t.Fatalf("ListMarkets() error = %v", err)
			}
			if len(snapshot.Markets) != tt.wantMarkets || snapshot.Limit != tt.wantLimit || snapshot.Offset != tt.wantOffset {
				t.Fatalf("snapshot = %d markets, limit %d, offset %d", len(snapshot.Markets), snapshot.Limit, snapshot.Offset)
			}
		})
	}
}

func TestListMarketsRejectsUnknownResolution(t *testing.T) {
	store, _ := seedLedger(t)
	if _, err := NewQuery(store, testProgramID).ListMarkets(context.Background(), MarketFilter{Resolution: "maybe"}); err == nil {
		t.Fatalf("ListMarkets() accepted an unknown resolution")
	}
}

func TestServiceWritesSnapshot(t *testing.T) {
	store, _ := seedLedger(t)
	cfg := config.IndexerConfig{Program: config.DefaultProgramConfig(), OutputPath: "-", Resolution: "unresolved"}

	var out bytes.Buffer
	svc := NewWithScanner(cfg, store, logging.Discard())
	svc.stdout = &out
	if err := svc.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	var snapshot Snapshot
	if err := json.Unmarshal(out.Bytes(), &snapshot); err != nil {
		t.Fatalf("decode snapshot: %v\n%s", err, out.String())
	}
	if len(snapshot.Markets) != 1 || snapshot.Markets[0].Resolution != "unresolved" {
		t.Fatalf("snapshot = %+v", snapshot)
	}

	cfg.OutputPath = filepath.Join(t.TempDir(), "markets.json")
	if err := NewWithScanner(cfg, store, logging.Discard()).Run(context.Background()); err != nil {
		t.Fatalf("Run() to file error = %v", err)
	}
	body, err := os.ReadFile(cfg.OutputPath)
	if err != nil {
		t.Fatalf("read snapshot file: %v", err)
	}
	if !bytes.Equal(body, out.Bytes()) {
		t.Fatalf("file snapshot differs from stdout snapshot:\n%s\n%s", body, out.Bytes())
	}
}
