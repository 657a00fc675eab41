package clock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/gagliardetto/solana-go/rpc"
)

// ErrUnavailable means the clock could not produce a trusted time.
var ErrUnavailable = errors.New("clock unavailable")

// Clock reports the current time in unix seconds.
type Clock interface {
	Now(ctx context.Context) (int64, error)
}

type System struct{}

func (System) Now(context.Context) (int64, error) {
	return time.Now().Unix(), nil
}

// Fixed is a settable clock for tests and replays.
type Fixed struct {
	unix atomic.Int64
}

func NewFixed(unix int64) *Fixed {
	f := &Fixed{}
	f.unix.Store(unix)
	return f
}

func (f *Fixed) Now(context.Context) (int64, error) {
	return f.unix.Load(), nil
}

func (f *Fixed) Set(unix int64) {
	f.unix.Store(unix)
}

func (f *Fixed) Advance(d time.Duration) {
	f.unix.Add(int64(d / time.Second))
}

// Cluster reads the block time of the latest slot. It never substitutes the
// local clock: when the node cannot answer, Now fails.
type Cluster struct {
	rpc        *rpc.Client
	commitment rpc.CommitmentType
	logger     *slog.Logger
}

func NewCluster(rpcURL string, commitment rpc.CommitmentType, logger *slog.Logger) *Cluster {
	return &Cluster{
		rpc:        rpc.New(rpcURL),
		commitment: commitment,
		logger:     logger,
	}
}

func (c *Cluster) Now(ctx context.Context) (int64, error) {
	slot, err := c.rpc.GetSlot(ctx, c.commitment)
	if err != nil {
		c.logger.Warn("cluster clock unavailable", "step", "getSlot", "err", err)
		return 0, fmt.Errorf("%w: get slot: %v", ErrUnavailable, err)
	}

	blockTime, err := c.rpc.GetBlockTime(ctx, slot)
	if err != nil {
		c.logger.Warn("cluster clock unavailable", "step", "getBlockTime", "slot", slot, "err", err)
		return 0, fmt.Errorf("%w: get block time for slot %d: %v", ErrUnavailable, slot, err)
	}
	if blockTime == nil {
		c.logger.Warn("cluster clock unavailable", "step", "getBlockTime", "slot", slot)
		return 0, fmt.Errorf("%w: no block time for slot %d", ErrUnavailable, slot)
	}
	return int64(*blockTime), nil
}
