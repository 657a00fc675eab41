package program

import (
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

const (
	UninitializedVersion uint8 = 0
	ProtocolVersion      uint8 = 1

	MarketSeedPrefix         = "prediction_market"
	UserPredictionSeedPrefix = "user_prediction"

	// MarketSize is the encoded length of a Market record.
	MarketSize = 1 + 1 + solana.PublicKeyLength + 8*4 + 1 + 8
	// UserPredictionSize is the encoded length of a UserPrediction record.
	UserPredictionSize = 1 + 1 + 8*2
)

type Outcome uint8

const (
	OutcomeUnspecified Outcome = iota
	OutcomeYes
	OutcomeNo
)

func (o Outcome) String() string {
	switch o {
	case OutcomeUnspecified:
		return "unspecified"
	case OutcomeYes:
		return "yes"
	case OutcomeNo:
		return "no"
	default:
		return fmt.Sprintf("outcome(%d)", uint8(o))
	}
}

func (o Outcome) valid() bool {
	return o <= OutcomeNo
}

type Resolution uint8

const (
	ResolutionUnresolved Resolution = iota
	ResolutionTie
	ResolutionYes
	ResolutionNo
)

func (r Resolution) String() string {
	switch r {
	case ResolutionUnresolved:
		return "unresolved"
	case ResolutionTie:
		return "tie"
	case ResolutionYes:
		return "yes"
	case ResolutionNo:
		return "no"
	default:
		return fmt.Sprintf("resolution(%d)", uint8(r))
	}
}

func (r Resolution) valid() bool {
	return r <= ResolutionNo
}

// Market is the per-market_id record owned by the program.
//
// Once Resolution leaves Unresolved the counters and pools never change again,
// and ClosesAt holds the time the market was resolved.
type Market struct {
	Version    uint8
	BumpSeed   uint8
	Resolver   solana.PublicKey
	NumYes     uint64
	NumNo      uint64
	PoolYes    uint64
	PoolNo     uint64
	Resolution Resolution
	ClosesAt   int64
}

func NewMarket(bumpSeed uint8, resolver solana.PublicKey, closesAt int64) *Market {
	return &Market{
		Version:    ProtocolVersion,
		BumpSeed:   bumpSeed,
		Resolver:   resolver,
		Resolution: ResolutionUnresolved,
		ClosesAt:   closesAt,
	}
}

func (obj Market) MarshalWithEncoder(encoder *bin.Encoder) (err error) {
	if err = encoder.Encode(obj.Version); err != nil {
		return err
	}
	if err = encoder.Encode(obj.BumpSeed); err != nil {
		return err
	}
	if err = encoder.Encode(obj.Resolver); err != nil {
		return err
	}
	if err = encoder.Encode(obj.NumYes); err != nil {
		return err
	}
	if err = encoder.Encode(obj.NumNo); err != nil {
		return err
	}
	if err = encoder.Encode(obj.PoolYes); err != nil {
		return err
	}
	if err = encoder.Encode(obj.PoolNo); err != nil {
		return err
	}
	if err = encoder.WriteUint8(uint8(obj.Resolution)); err != nil {
		return err
	}
	return encoder.Encode(obj.ClosesAt)
}

func (obj *Market) UnmarshalWithDecoder(decoder *bin.Decoder) (err error) {
	if err = decoder.Decode(&obj.Version); err != nil {
		return err
	}
	if err = decoder.Decode(&obj.BumpSeed); err != nil {
		return err
	}
	if err = decoder.Decode(&obj.Resolver); err != nil {
		return err
	}
	if err = decoder.Decode(&obj.NumYes); err != nil {
		return err
	}
	if err = decoder.Decode(&obj.NumNo); err != nil {
		return err
	}
	if err = decoder.Decode(&obj.PoolYes); err != nil {
		return err
	}
	if err = decoder.Decode(&obj.PoolNo); err != nil {
		return err
	}
	resolution, err := decoder.ReadUint8()
	if err != nil {
		return err
	}
	obj.Resolution = Resolution(resolution)
	return decoder.Decode(&obj.ClosesAt)
}

// UserPrediction accumulates one voter's stake counts in one market.
type UserPrediction struct {
	Version  uint8
	BumpSeed uint8
	VotesYes uint64
	VotesNo  uint64
}

func NewUserPrediction(bumpSeed uint8) *UserPrediction {
	return &UserPrediction{
		Version:  ProtocolVersion,
		BumpSeed: bumpSeed,
	}
}

func (obj UserPrediction) MarshalWithEncoder(encoder *bin.Encoder) (err error) {
	if err = encoder.Encode(obj.Version); err != nil {
		return err
	}
	if err = encoder.Encode(obj.BumpSeed); err != nil {
		return err
	}
	if err = encoder.Encode(obj.VotesYes); err != nil {
		return err
	}
	return encoder.Encode(obj.VotesNo)
}

func (obj *UserPrediction) UnmarshalWithDecoder(decoder *bin.Decoder) (err error) {
	if err = decoder.Decode(&obj.Version); err != nil {
		return err
	}
	if err = decoder.Decode(&obj.BumpSeed); err != nil {
		return err
	}
	if err = decoder.Decode(&obj.VotesYes); err != nil {
		return err
	}
	return decoder.Decode(&obj.VotesNo)
}

func DecodeMarket(data []byte) (*Market, error) {
	if len(data) < MarketSize {
		return nil, fmt.Errorf("%w: market record is %d bytes, want %d", ErrInvalidAccountData, len(data), MarketSize)
	}
	market := new(Market)
	if err := bin.NewBorshDecoder(data[:MarketSize]).Decode(market); err != nil {
		return nil, fmt.Errorf("%w: decode market: %v", ErrInvalidAccountData, err)
	}
	if market.Version != ProtocolVersion {
		return nil, fmt.Errorf("%w: market record version %d", ErrVersionMismatch, market.Version)
	}
	if !market.Resolution.valid() {
		return nil, fmt.Errorf("%w: market resolution %d", ErrInvalidAccountData, uint8(market.Resolution))
	}
	return market, nil
}

func DecodeUserPrediction(data []byte) (*UserPrediction, error) {
	if len(data) < UserPredictionSize {
		return nil, fmt.Errorf("%w: prediction record is %d bytes, want %d", ErrInvalidAccountData, len(data), UserPredictionSize)
	}
	prediction := new(UserPrediction)
	if err := bin.NewBorshDecoder(data[:UserPredictionSize]).Decode(prediction); err != nil {
		return nil, fmt.Errorf("%w: decode prediction: %v", ErrInvalidAccountData, err)
	}
	if prediction.Version != ProtocolVersion {
		return nil, fmt.Errorf("%w: prediction record version %d", ErrVersionMismatch, prediction.Version)
	}
	return prediction, nil
}

func (obj *Market) Encode() ([]byte, error) {
	return bin.MarshalBorsh(obj)
}

func (obj *UserPrediction) Encode() ([]byte, error) {
	return bin.MarshalBorsh(obj)
}
