package indexer

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/coldbell/predict/backend/internal/ledger"
	"github.com/coldbell/predict/backend/internal/program"
	"github.com/gagliardetto/solana-go"
)

const (
	defaultPageLimit = 50
	maxPageLimit     = 200
	scanPageSize     = 500
)

type MarketFilter struct {
	// Resolution is empty for every market, or one of unresolved|tie|yes|no.
	Resolution string
	Limit      int
	Offset     int
}

type MarketRecord struct {
	Pubkey        string `json:"pubkey"`
	Resolver      string `json:"resolver"`
	Resolution    string `json:"resolution"`
	ClosesAt      int64  `json:"closes_at"`
	NumYes        uint64 `json:"num_yes"`
	NumNo         uint64 `json:"num_no"`
	PoolYes       string `json:"pool_yes"`
	PoolNo        string `json:"pool_no"`
	Lamports      string `json:"lamports"`
	Undistributed string `json:"undistributed"`
}

type Snapshot struct {
	Markets         []MarketRecord `json:"markets"`
	OpenPredictions int            `json:"open_predictions"`
	Skipped         int            `json:"skipped"`
	Limit           int            `json:"limit"`
	Offset          int            `json:"offset"`
}

// Query reads program-owned records from a committed ledger.
type Query struct {
	scanner   ledger.Scanner
	programID solana.PublicKey
}

func NewQuery(scanner ledger.Scanner, programID solana.PublicKey) *Query {
	return &Query{scanner: scanner, programID: programID}
}

func (q *Query) ListMarkets(ctx context.Context, filter MarketFilter) (Snapshot, error) {
	limit, offset := normalizePagination(filter.Limit, filter.Offset)
	resolution, err := parseResolutionFilter(filter.Resolution)
	if err != nil {
		return Snapshot{}, err
	}

	snapshot := Snapshot{
		Markets: make([]MarketRecord, 0, limit),
		Limit:   limit,
		Offset:  offset,
	}
	matched := 0
	for page := 0; ; page++ {
		accounts, err := q.scanner.AccountsByOwner(ctx, q.programID, scanPageSize, page*scanPageSize)
		if err != nil {
			return Snapshot{}, fmt.Errorf("scan program accounts: %w", err)
		}

		for _, account := range accounts {
			switch len(account.Data) {
			case program.MarketSize:
				market, err := program.DecodeMarket(account.Data)
				if err != nil {
					snapshot.Skipped++
					continue
				}
				if resolution != nil && market.Resolution != *resolution {
					continue
				}
				matched++
				if matched <= offset || len(snapshot.Markets) >= limit {
					continue
				}
				snapshot.Markets = append(snapshot.Markets, marketRecord(account, market))
			case program.UserPredictionSize:
				if _, err := program.DecodeUserPrediction(account.Data); err != nil {
					snapshot.Skipped++
					continue
				}
				snapshot.OpenPredictions++
			default:
				snapshot.Skipped++
			}
		}

		if len(accounts) < scanPageSize {
			return snapshot, nil
		}
	}
}

func marketRecord(account ledger.Account, market *program.Market) MarketRecord {
	return MarketRecord{
		Pubkey:        account.Address.String(),
		Resolver:      market.Resolver.String(),
		Resolution:    market.Resolution.String(),
		ClosesAt:      market.ClosesAt,
		NumYes:        market.NumYes,
		NumNo:         market.NumNo,
		PoolYes:       strconv.FormatUint(market.PoolYes, 10),
		PoolNo:        strconv.FormatUint(market.PoolNo, 10),
		Lamports:      strconv.FormatUint(account.Lamports, 10),
		Undistributed: strconv.FormatUint(program.UndistributedRemainder(market), 10),
	}
}

func parseResolutionFilter(raw string) (*program.Resolution, error) {
	raw = strings.ToLower(strings.TrimSpace(raw))
	if raw == "" || raw == "any" {
		return nil, nil
	}
	for _, resolution := range []program.Resolution{
		program.ResolutionUnresolved,
		program.ResolutionTie,
		program.ResolutionYes,
		program.ResolutionNo,
	} {
		if resolution.String() == raw {
			return &resolution, nil
		}
	}
	return nil, fmt.Errorf("invalid resolution filter %q (expected any|unresolved|tie|yes|no)", raw)
}

func normalizePagination(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
