package program

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/coldbell/predict/backend/internal/clock"
	"github.com/coldbell/predict/backend/internal/config"
	"github.com/coldbell/predict/backend/internal/ledger"
	"github.com/gagliardetto/solana-go"
	"github.com/prometheus/client_golang/prometheus"
)

type Processor struct {
	cfg     config.ProgramConfig
	store   ledger.Store
	clock   clock.Clock
	rent    ledger.Rent
	logger  *slog.Logger
	metrics *processorMetrics
	reg     prometheus.Registerer
}

type Option func(*Processor)

func WithRent(rent ledger.Rent) Option {
	return func(p *Processor) {
		p.rent = rent
	}
}

// WithRegisterer registers the processor counters on reg instead of a
// private registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(p *Processor) {
		p.reg = reg
	}
}

func NewProcessor(cfg config.ProgramConfig, store ledger.Store, clk clock.Clock, logger *slog.Logger, opts ...Option) *Processor {
	p := &Processor{
		cfg:    cfg,
		store:  store,
		clock:  clk,
		logger: logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.rent == nil {
		rent := ledger.DefaultRent()
		if cfg.RentLamportsPerByteYear > 0 {
			rent.LamportsPerByteYear = cfg.RentLamportsPerByteYear
		}
		p.rent = rent
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	p.metrics = newProcessorMetrics(p.reg)
	return p
}

func (p *Processor) ProgramID() solana.PublicKey {
	return p.cfg.ProgramID
}

// receipt carries what a committed instruction did, for logs and counters.
type receipt struct {
	message string
	attrs   []any
	staked  uint64
	paid    uint64
}

// Process validates the decoded instruction and applies it in one ledger
// transaction. Nothing is persisted when it returns an error.
func (p *Processor) Process(ctx context.Context, accounts []*solana.AccountMeta, ix Instruction) (err error) {
	defer func() {
		switch {
		case err == nil:
		case errors.Is(err, ledger.ErrRollback):
			p.logger.Info("instruction simulated, changes discarded", "instruction", ix.ID().String())
		default:
			p.logger.Warn("instruction rejected", "instruction", ix.ID().String(), "err", err)
		}
	}()

	if ix.InstructionVersion() != ProtocolVersion {
		return fmt.Errorf("%w: instruction version %d, want %d", ErrVersionMismatch, ix.InstructionVersion(), ProtocolVersion)
	}

	var handle func(context.Context, ledger.Tx, *accountCursor) (receipt, error)
	switch ix := ix.(type) {
	case *CreateMarket:
		handle = func(ctx context.Context, tx ledger.Tx, cursor *accountCursor) (receipt, error) {
			return p.createMarket(ctx, tx, cursor, ix)
		}
	case *MakePrediction:
		if ix.Outcome == OutcomeUnspecified {
			return fmt.Errorf("%w: outcome is unspecified", ErrInstructionUnpack)
		}
		if ix.NumVotes == 0 {
			return fmt.Errorf("%w: vote count is zero", ErrInstructionUnpack)
		}
		handle = func(ctx context.Context, tx ledger.Tx, cursor *accountCursor) (receipt, error) {
			return p.makePrediction(ctx, tx, cursor, ix)
		}
	case *ResolveMarket:
		if ix.Resolution == ResolutionUnresolved {
			return fmt.Errorf("%w: resolution is unresolved", ErrInstructionUnpack)
		}
		handle = func(ctx context.Context, tx ledger.Tx, cursor *accountCursor) (receipt, error) {
			return p.resolveMarket(ctx, tx, cursor, ix.Resolution, false)
		}
	case *ResolveMarketAdmin:
		if ix.Resolution == ResolutionUnresolved {
			return fmt.Errorf("%w: resolution is unresolved", ErrInstructionUnpack)
		}
		handle = func(ctx context.Context, tx ledger.Tx, cursor *accountCursor) (receipt, error) {
			return p.resolveMarket(ctx, tx, cursor, ix.Resolution, true)
		}
	case *ClaimMarket:
		handle = p.claimMarket
	case *SetMarketResolverAdmin:
		handle = p.setMarketResolver
	default:
		return fmt.Errorf("%w: unsupported instruction %T", ErrInstructionUnpack, ix)
	}

	var out receipt
	err = p.store.WithTx(ctx, func(tx ledger.Tx) error {
		var handleErr error
		out, handleErr = handle(ctx, tx, newAccountCursor(accounts))
		return handleErr
	})
	if err != nil {
		return err
	}

	p.metrics.recordStake(out.staked)
	p.metrics.recordPayout(out.paid)
	p.logger.Info(out.message, append([]any{"instruction", ix.ID().String()}, out.attrs...)...)
	return nil
}

func (p *Processor) createMarket(ctx context.Context, tx ledger.Tx, cursor *accountCursor, ix *CreateMarket) (receipt, error) {
	creator, err := cursor.next("creator")
	if err != nil {
		return receipt{}, err
	}
	marketMeta, err := cursor.next("market")
	if err != nil {
		return receipt{}, err
	}
	resolver, err := cursor.next("resolver")
	if err != nil {
		return receipt{}, err
	}
	systemProgram, err := cursor.next("system program")
	if err != nil {
		return receipt{}, err
	}

	if err := requireSigner(creator, "creator"); err != nil {
		return receipt{}, err
	}
	if err := requireSigner(resolver, "resolver"); err != nil {
		return receipt{}, err
	}
	if err := requireSystemProgram(systemProgram); err != nil {
		return receipt{}, err
	}

	bump, err := verifyPDA(marketMeta.PublicKey, func() (solana.PublicKey, uint8, error) {
		return DeriveMarketPDA(p.cfg.ProgramID, ix.MarketID)
	})
	if err != nil {
		return receipt{}, err
	}

	marketAccount, err := tx.Account(ctx, marketMeta.PublicKey)
	if err != nil {
		return receipt{}, err
	}
	if !marketAccount.DataIsEmpty() {
		return receipt{}, fmt.Errorf("%w: market %s", ErrAlreadyInitialized, marketMeta.PublicKey)
	}

	reserve, err := addChecked(p.rent.MinimumBalance(MarketSize), p.cfg.CreateMarketFee)
	if err != nil {
		return receipt{}, fmt.Errorf("market reserve: %w", err)
	}
	if err := tx.CreateAccount(ctx, creator.PublicKey, marketMeta.PublicKey, reserve, MarketSize, p.cfg.ProgramID); err != nil {
		return receipt{}, fmt.Errorf("create market account: %w", err)
	}

	market := NewMarket(bump, resolver.PublicKey, ix.ClosesAt)
	if err := writeRecord(ctx, tx, marketMeta.PublicKey, market.Encode); err != nil {
		return receipt{}, err
	}

	return receipt{
		message: "market created",
		attrs: []any{
			"market", marketMeta.PublicKey.String(),
			"market_id", MarketIDString(ix.MarketID),
			"creator", creator.PublicKey.String(),
			"resolver", resolver.PublicKey.String(),
			"closes_at", ix.ClosesAt,
			"reserve", reserve,
		},
	}, nil
}

func (p *Processor) makePrediction(ctx context.Context, tx ledger.Tx, cursor *accountCursor, ix *MakePrediction) (receipt, error) {
	voter, err := cursor.next("voter")
	if err != nil {
		return receipt{}, err
	}
	marketMeta, err := cursor.next("market")
	if err != nil {
		return receipt{}, err
	}
	predictionMeta, err := cursor.next("prediction")
	if err != nil {
		return receipt{}, err
	}
	systemProgram, err := cursor.next("system program")
	if err != nil {
		return receipt{}, err
	}

	if err := requireSigner(voter, "voter"); err != nil {
		return receipt{}, err
	}
	marketAccount, err := p.programMarketAccount(ctx, tx, marketMeta)
	if err != nil {
		return receipt{}, err
	}
	if err := requireSystemProgram(systemProgram); err != nil {
		return receipt{}, err
	}

	bump, err := verifyPDA(predictionMeta.PublicKey, func() (solana.PublicKey, uint8, error) {
		return DeriveUserPredictionPDA(p.cfg.ProgramID, marketMeta.PublicKey, voter.PublicKey)
	})
	if err != nil {
		return receipt{}, err
	}

	market, err := DecodeMarket(marketAccount.Data)
	if err != nil {
		return receipt{}, err
	}
	if market.Resolution != ResolutionUnresolved {
		return receipt{}, fmt.Errorf("%w: market %s resolved %s", ErrMarketIsResolved, marketMeta.PublicKey, market.Resolution)
	}
	now, err := p.clock.Now(ctx)
	if err != nil {
		return receipt{}, fmt.Errorf("read clock: %w", err)
	}
	if now >= market.ClosesAt {
		return receipt{}, fmt.Errorf("%w: market %s closed at %d, now %d", ErrMarketIsClosed, marketMeta.PublicKey, market.ClosesAt, now)
	}

	predictionAccount, err := tx.Account(ctx, predictionMeta.PublicKey)
	if err != nil {
		return receipt{}, err
	}
	var (
		prediction *UserPrediction
		created    bool
	)
	if predictionAccount.DataIsEmpty() {
		reserve := p.rent.MinimumBalance(UserPredictionSize)
		if err := tx.CreateAccount(ctx, voter.PublicKey, predictionMeta.PublicKey, reserve, UserPredictionSize, p.cfg.ProgramID); err != nil {
			return receipt{}, fmt.Errorf("create prediction account: %w", err)
		}
		prediction = NewUserPrediction(bump)
		created = true
	} else {
		if !predictionAccount.IsOwnedBy(p.cfg.ProgramID) {
			return receipt{}, fmt.Errorf("%w: prediction %s owned by %s", ErrInvalidAccountData, predictionMeta.PublicKey, predictionAccount.Owner)
		}
		prediction, err = DecodeUserPrediction(predictionAccount.Data)
		if err != nil {
			return receipt{}, err
		}
	}

	votes := uint64(ix.NumVotes)
	stake, err := mulChecked(votes, p.cfg.VotePriceLamports)
	if err != nil {
		return receipt{}, fmt.Errorf("stake: %w", err)
	}
	if err := tx.Transfer(ctx, voter.PublicKey, marketMeta.PublicKey, stake); err != nil {
		return receipt{}, fmt.Errorf("move stake into market: %w", err)
	}

	switch ix.Outcome {
	case OutcomeYes:
		if market.PoolYes, err = addChecked(market.PoolYes, stake); err != nil {
			return receipt{}, fmt.Errorf("yes pool: %w", err)
		}
		if market.NumYes, err = addChecked(market.NumYes, votes); err != nil {
			return receipt{}, fmt.Errorf("yes votes: %w", err)
		}
		if prediction.VotesYes, err = addChecked(prediction.VotesYes, votes); err != nil {
			return receipt{}, fmt.Errorf("voter yes votes: %w", err)
		}
	case OutcomeNo:
		if market.PoolNo, err = addChecked(market.PoolNo, stake); err != nil {
			return receipt{}, fmt.Errorf("no pool: %w", err)
		}
		if market.NumNo, err = addChecked(market.NumNo, votes); err != nil {
			return receipt{}, fmt.Errorf("no votes: %w", err)
		}
		if prediction.VotesNo, err = addChecked(prediction.VotesNo, votes); err != nil {
			return receipt{}, fmt.Errorf("voter no votes: %w", err)
		}
	default:
		return receipt{}, fmt.Errorf("%w: outcome %s", ErrInstructionUnpack, ix.Outcome)
	}

	if err := writeRecord(ctx, tx, marketMeta.PublicKey, market.Encode); err != nil {
		return receipt{}, err
	}
	if err := writeRecord(ctx, tx, predictionMeta.PublicKey, prediction.Encode); err != nil {
		return receipt{}, err
	}

	return receipt{
		message: "prediction recorded",
		attrs: []any{
			"market", marketMeta.PublicKey.String(),
			"voter", voter.PublicKey.String(),
			"outcome", ix.Outcome.String(),
			"votes", votes,
			"stake", stake,
			"new_prediction", created,
			"pool_yes", market.PoolYes,
			"pool_no", market.PoolNo,
		},
		staked: stake,
	}, nil
}

func (p *Processor) resolveMarket(ctx context.Context, tx ledger.Tx, cursor *accountCursor, resolution Resolution, asAdmin bool) (receipt, error) {
	signer, err := cursor.next("resolver")
	if err != nil {
		return receipt{}, err
	}
	marketMeta, err := cursor.next("market")
	if err != nil {
		return receipt{}, err
	}

	marketAccount, err := p.programMarketAccount(ctx, tx, marketMeta)
	if err != nil {
		return receipt{}, err
	}
	if err := requireSigner(signer, "resolver"); err != nil {
		return receipt{}, err
	}

	market, err := DecodeMarket(marketAccount.Data)
	if err != nil {
		return receipt{}, err
	}

	authorized := market.Resolver
	if asAdmin {
		authorized = p.cfg.AdminResolver
	}
	if !signer.PublicKey.Equals(authorized) {
		return receipt{}, fmt.Errorf("%w: signer %s, want %s", ErrInvalidResolver, signer.PublicKey, authorized)
	}
	if market.Resolution != ResolutionUnresolved {
		return receipt{}, fmt.Errorf("%w: market %s resolved %s", ErrMarketIsResolved, marketMeta.PublicKey, market.Resolution)
	}

	now, err := p.clock.Now(ctx)
	if err != nil {
		return receipt{}, fmt.Errorf("read clock: %w", err)
	}
	market.Resolution = resolution
	market.ClosesAt = now
	if err := writeRecord(ctx, tx, marketMeta.PublicKey, market.Encode); err != nil {
		return receipt{}, err
	}

	return receipt{
		message: "market resolved",
		attrs: []any{
			"market", marketMeta.PublicKey.String(),
			"resolver", signer.PublicKey.String(),
			"admin", asAdmin,
			"resolution", resolution.String(),
			"resolved_at", market.ClosesAt,
		},
	}, nil
}

// setMarketResolver hands resolver rights to whoever signs. It does not check
// the signer against the current resolver or the admin.
func (p *Processor) setMarketResolver(ctx context.Context, tx ledger.Tx, cursor *accountCursor) (receipt, error) {
	signer, err := cursor.next("signer")
	if err != nil {
		return receipt{}, err
	}
	marketMeta, err := cursor.next("market")
	if err != nil {
		return receipt{}, err
	}

	marketAccount, err := p.programMarketAccount(ctx, tx, marketMeta)
	if err != nil {
		return receipt{}, err
	}
	if err := requireSigner(signer, "signer"); err != nil {
		return receipt{}, err
	}

	market, err := DecodeMarket(marketAccount.Data)
	if err != nil {
		return receipt{}, err
	}

	previous := market.Resolver
	market.Resolver = signer.PublicKey
	if err := writeRecord(ctx, tx, marketMeta.PublicKey, market.Encode); err != nil {
		return receipt{}, err
	}

	return receipt{
		message: "market resolver replaced",
		attrs: []any{
			"market", marketMeta.PublicKey.String(),
			"previous_resolver", previous.String(),
			"resolver", signer.PublicKey.String(),
		},
	}, nil
}

func (p *Processor) claimMarket(ctx context.Context, tx ledger.Tx, cursor *accountCursor) (receipt, error) {
	claimer, err := cursor.next("claimer")
	if err != nil {
		return receipt{}, err
	}
	marketMeta, err := cursor.next("market")
	if err != nil {
		return receipt{}, err
	}
	predictionMeta, err := cursor.next("prediction")
	if err != nil {
		return receipt{}, err
	}

	marketAccount, err := p.programMarketAccount(ctx, tx, marketMeta)
	if err != nil {
		return receipt{}, err
	}
	if err := requireSigner(claimer, "claimer"); err != nil {
		return receipt{}, err
	}
	if _, err := verifyPDA(predictionMeta.PublicKey, func() (solana.PublicKey, uint8, error) {
		return DeriveUserPredictionPDA(p.cfg.ProgramID, marketMeta.PublicKey, claimer.PublicKey)
	}); err != nil {
		return receipt{}, err
	}

	market, err := DecodeMarket(marketAccount.Data)
	if err != nil {
		return receipt{}, err
	}
	if market.Resolution == ResolutionUnresolved {
		return receipt{}, fmt.Errorf("%w: market %s", ErrMarketIsNotResolved, marketMeta.PublicKey)
	}

	predictionAccount, err := tx.Account(ctx, predictionMeta.PublicKey)
	if err != nil {
		return receipt{}, err
	}
	if !predictionAccount.IsOwnedBy(p.cfg.ProgramID) {
		return receipt{}, fmt.Errorf("%w: prediction %s owned by %s", ErrInvalidAccountData, predictionMeta.PublicKey, predictionAccount.Owner)
	}
	prediction, err := DecodeUserPrediction(predictionAccount.Data)
	if err != nil {
		return receipt{}, err
	}

	settlement, err := Settle(market, prediction, p.cfg.VotePriceLamports)
	if err != nil {
		return receipt{}, err
	}

	reclaimed, err := tx.Reclaim(ctx, predictionMeta.PublicKey, claimer.PublicKey)
	if err != nil {
		return receipt{}, fmt.Errorf("reclaim prediction: %w", err)
	}
	if err := tx.Transfer(ctx, marketMeta.PublicKey, claimer.PublicKey, settlement.Total); err != nil {
		return receipt{}, fmt.Errorf("pay claimer: %w", err)
	}

	message := "winning prediction claimed"
	if settlement.Votes == 0 {
		message = "losing prediction closed"
	}
	return receipt{
		message: message,
		attrs: []any{
			"market", marketMeta.PublicKey.String(),
			"voter", claimer.PublicKey.String(),
			"resolution", market.Resolution.String(),
			"rate", settlement.RatePerVote,
			"votes", settlement.Votes,
			"winnings", settlement.Winnings,
			"principal", settlement.Principal,
			"payout", settlement.Total,
			"reserve", reclaimed,
		},
		paid: settlement.Total,
	}, nil
}

// programMarketAccount loads the market and requires it to be owned by this
// program.
func (p *Processor) programMarketAccount(ctx context.Context, tx ledger.Tx, meta *solana.AccountMeta) (ledger.Account, error) {
	account, err := tx.Account(ctx, meta.PublicKey)
	if err != nil {
		return ledger.Account{}, err
	}
	if !account.IsOwnedBy(p.cfg.ProgramID) {
		return ledger.Account{}, fmt.Errorf("%w: market %s owned by %s", ErrInvalidMarketOwner, meta.PublicKey, account.Owner)
	}
	return account, nil
}

func requireSigner(meta *solana.AccountMeta, role string) error {
	if !meta.IsSigner {
		return fmt.Errorf("%w: %s %s", ErrInvalidSigner, role, meta.PublicKey)
	}
	return nil
}

func requireSystemProgram(meta *solana.AccountMeta) error {
	if !meta.PublicKey.Equals(solana.SystemProgramID) {
		return fmt.Errorf("%w: expected system program, got %s", ErrIncorrectProgramID, meta.PublicKey)
	}
	return nil
}

func writeRecord(ctx context.Context, tx ledger.Tx, address solana.PublicKey, encode func() ([]byte, error)) error {
	data, err := encode()
	if err != nil {
		return fmt.Errorf("encode record %s: %w", address, err)
	}
	if err := tx.WriteData(ctx, address, data); err != nil {
		return fmt.Errorf("write record %s: %w", address, err)
	}
	return nil
}

type accountCursor struct {
	accounts []*solana.AccountMeta
	index    int
}

func newAccountCursor(accounts []*solana.AccountMeta) *accountCursor {
	return &accountCursor{accounts: accounts}
}

func (c *accountCursor) next(role string) (*solana.AccountMeta, error) {
	if c.index >= len(c.accounts) || c.accounts[c.index] == nil {
		return nil, fmt.Errorf("%w: missing %s account at index %d", ErrNotEnoughAccountKeys, role, c.index)
	}
	meta := c.accounts[c.index]
	c.index++
	return meta, nil
}
