package program

import (
	"bytes"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

type InstructionID uint8

const (
	InstructionCreateMarket InstructionID = iota
	InstructionMakePrediction
	InstructionResolveMarket
	InstructionClaimMarket
	InstructionSetMarketResolverAdmin
	InstructionResolveMarketAdmin
)

func (id InstructionID) String() string {
	switch id {
	case InstructionCreateMarket:
		return "create_market"
	case InstructionMakePrediction:
		return "make_prediction"
	case InstructionResolveMarket:
		return "resolve_market"
	case InstructionClaimMarket:
		return "claim_market"
	case InstructionSetMarketResolverAdmin:
		return "set_market_resolver_admin"
	case InstructionResolveMarketAdmin:
		return "resolve_market_admin"
	default:
		return fmt.Sprintf("instruction(%d)", uint8(id))
	}
}

// Instruction is the closed set of operations the processor accepts. Only the
// pointer types declared in this file implement it.
type Instruction interface {
	ID() InstructionID
	InstructionVersion() uint8
	bin.BinaryMarshaler
	bin.BinaryUnmarshaler
	isInstruction()
}

type CreateMarket struct {
	Version  uint8
	MarketID [16]byte
	ClosesAt int64
}

type MakePrediction struct {
	Version  uint8
	Outcome  Outcome
	NumVotes uint16
}

type ResolveMarket struct {
	Version    uint8
	Resolution Resolution
}

type ClaimMarket struct {
	Version uint8
}

type SetMarketResolverAdmin struct {
	Version uint8
}

type ResolveMarketAdmin struct {
	Version    uint8
	Resolution Resolution
}

func (*CreateMarket) ID() InstructionID           { return InstructionCreateMarket }
func (*MakePrediction) ID() InstructionID         { return InstructionMakePrediction }
func (*ResolveMarket) ID() InstructionID          { return InstructionResolveMarket }
func (*ClaimMarket) ID() InstructionID            { return InstructionClaimMarket }
func (*SetMarketResolverAdmin) ID() InstructionID { return InstructionSetMarketResolverAdmin }
func (*ResolveMarketAdmin) ID() InstructionID     { return InstructionResolveMarketAdmin }

func (ix *CreateMarket) InstructionVersion() uint8           { return ix.Version }
func (ix *MakePrediction) InstructionVersion() uint8         { return ix.Version }
func (ix *ResolveMarket) InstructionVersion() uint8          { return ix.Version }
func (ix *ClaimMarket) InstructionVersion() uint8            { return ix.Version }
func (ix *SetMarketResolverAdmin) InstructionVersion() uint8 { return ix.Version }
func (ix *ResolveMarketAdmin) InstructionVersion() uint8     { return ix.Version }

func (*CreateMarket) isInstruction()           {}
func (*MakePrediction) isInstruction()         {}
func (*ResolveMarket) isInstruction()          {}
func (*ClaimMarket) isInstruction()            {}
func (*SetMarketResolverAdmin) isInstruction() {}
func (*ResolveMarketAdmin) isInstruction()     {}

func (ix *CreateMarket) MarshalWithEncoder(encoder *bin.Encoder) (err error) {
	if err = encoder.Encode(ix.Version); err != nil {
		return err
	}
	if err = encoder.WriteBytes(ix.MarketID[:], false); err != nil {
		return err
	}
	return encoder.Encode(ix.ClosesAt)
}

func (ix *CreateMarket) UnmarshalWithDecoder(decoder *bin.Decoder) (err error) {
	if err = decoder.Decode(&ix.Version); err != nil {
		return err
	}
	raw, err := decoder.ReadNBytes(len(ix.MarketID))
	if err != nil {
		return err
	}
	copy(ix.MarketID[:], raw)
	return decoder.Decode(&ix.ClosesAt)
}

func (ix *MakePrediction) MarshalWithEncoder(encoder *bin.Encoder) (err error) {
	if err = encoder.Encode(ix.Version); err != nil {
		return err
	}
	if err = encoder.WriteUint8(uint8(ix.Outcome)); err != nil {
		return err
	}
	return encoder.Encode(ix.NumVotes)
}

func (ix *MakePrediction) UnmarshalWithDecoder(decoder *bin.Decoder) (err error) {
	if err = decoder.Decode(&ix.Version); err != nil {
		return err
	}
	outcome, err := decoder.ReadUint8()
	if err != nil {
		return err
	}
	ix.Outcome = Outcome(outcome)
	if !ix.Outcome.valid() {
		return fmt.Errorf("unknown outcome %d", uint8(ix.Outcome))
	}
	return decoder.Decode(&ix.NumVotes)
}

func (ix *ResolveMarket) MarshalWithEncoder(encoder *bin.Encoder) (err error) {
	if err = encoder.Encode(ix.Version); err != nil {
		return err
	}
	return encoder.WriteUint8(uint8(ix.Resolution))
}

func (ix *ResolveMarket) UnmarshalWithDecoder(decoder *bin.Decoder) (err error) {
	if err = decoder.Decode(&ix.Version); err != nil {
		return err
	}
	resolution, err := decoder.ReadUint8()
	if err != nil {
		return err
	}
	ix.Resolution = Resolution(resolution)
	if !ix.Resolution.valid() {
		return fmt.Errorf("unknown resolution %d", uint8(ix.Resolution))
	}
	return nil
}

func (ix *ClaimMarket) MarshalWithEncoder(encoder *bin.Encoder) error {
	return encoder.Encode(ix.Version)
}

func (ix *ClaimMarket) UnmarshalWithDecoder(decoder *bin.Decoder) error {
	return decoder.Decode(&ix.Version)
}

func (ix *SetMarketResolverAdmin) MarshalWithEncoder(encoder *bin.Encoder) error {
	return encoder.Encode(ix.Version)
}

func (ix *SetMarketResolverAdmin) UnmarshalWithDecoder(decoder *bin.Decoder) error {
	return decoder.Decode(&ix.Version)
}

func (ix *ResolveMarketAdmin) MarshalWithEncoder(encoder *bin.Encoder) (err error) {
	if err = encoder.Encode(ix.Version); err != nil {
		return err
	}
	return encoder.WriteUint8(uint8(ix.Resolution))
}

func (ix *ResolveMarketAdmin) UnmarshalWithDecoder(decoder *bin.Decoder) (err error) {
	if err = decoder.Decode(&ix.Version); err != nil {
		return err
	}
	resolution, err := decoder.ReadUint8()
	if err != nil {
		return err
	}
	ix.Resolution = Resolution(resolution)
	if !ix.Resolution.valid() {
		return fmt.Errorf("unknown resolution %d", uint8(ix.Resolution))
	}
	return nil
}

// DecodeInstruction reads a discriminant byte followed by the variant fields.
// Any malformed input, including trailing bytes, is ErrInstructionUnpack.
func DecodeInstruction(data []byte) (Instruction, error) {
	decoder := bin.NewBorshDecoder(data)
	tag, err := decoder.ReadUint8()
	if err != nil {
		return nil, fmt.Errorf("%w: read discriminant: %v", ErrInstructionUnpack, err)
	}

	var ix Instruction
	switch InstructionID(tag) {
	case InstructionCreateMarket:
		ix = new(CreateMarket)
	case InstructionMakePrediction:
		ix = new(MakePrediction)
	case InstructionResolveMarket:
		ix = new(ResolveMarket)
	case InstructionClaimMarket:
		ix = new(ClaimMarket)
	case InstructionSetMarketResolverAdmin:
		ix = new(SetMarketResolverAdmin)
	case InstructionResolveMarketAdmin:
		ix = new(ResolveMarketAdmin)
	default:
		return nil, fmt.Errorf("%w: unknown discriminant %d", ErrInstructionUnpack, tag)
	}

	if err := ix.UnmarshalWithDecoder(decoder); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", ErrInstructionUnpack, ix.ID(), err)
	}
	if decoder.HasRemaining() {
		return nil, fmt.Errorf("%w: %d trailing bytes after %s", ErrInstructionUnpack, decoder.Remaining(), ix.ID())
	}
	return ix, nil
}

func EncodeInstruction(ix Instruction) ([]byte, error) {
	buf := new(bytes.Buffer)
	encoder := bin.NewBorshEncoder(buf)
	if err := encoder.WriteUint8(uint8(ix.ID())); err != nil {
		return nil, fmt.Errorf("encode %s discriminant: %w", ix.ID(), err)
	}
	if err := ix.MarshalWithEncoder(encoder); err != nil {
		return nil, fmt.Errorf("encode %s: %w", ix.ID(), err)
	}
	return buf.Bytes(), nil
}

func newInstruction(programID solana.PublicKey, accounts solana.AccountMetaSlice, ix Instruction) (solana.Instruction, error) {
	data, err := EncodeInstruction(ix)
	if err != nil {
		return nil, err
	}
	return solana.NewInstruction(programID, accounts, data), nil
}

func NewCreateMarketInstruction(
	programID solana.PublicKey,
	creator solana.PublicKey,
	market solana.PublicKey,
	resolver solana.PublicKey,
	marketID [16]byte,
	closesAt int64,
) (solana.Instruction, error) {
	accounts := solana.AccountMetaSlice{
		solana.NewAccountMeta(creator, true, true),
		solana.NewAccountMeta(market, true, false),
		solana.NewAccountMeta(resolver, false, true),
		solana.NewAccountMeta(solana.SystemProgramID, false, false),
	}
	return newInstruction(programID, accounts, &CreateMarket{
		Version:  ProtocolVersion,
		MarketID: marketID,
		ClosesAt: closesAt,
	})
}

func NewMakePredictionInstruction(
	programID solana.PublicKey,
	voter solana.PublicKey,
	market solana.PublicKey,
	prediction solana.PublicKey,
	outcome Outcome,
	numVotes uint16,
) (solana.Instruction, error) {
	accounts := solana.AccountMetaSlice{
		solana.NewAccountMeta(voter, true, true),
		solana.NewAccountMeta(market, true, false),
		solana.NewAccountMeta(prediction, true, false),
		solana.NewAccountMeta(solana.SystemProgramID, false, false),
	}
	return newInstruction(programID, accounts, &MakePrediction{
		Version:  ProtocolVersion,
		Outcome:  outcome,
		NumVotes: numVotes,
	})
}

func NewResolveMarketInstruction(
	programID solana.PublicKey,
	resolver solana.PublicKey,
	market solana.PublicKey,
	resolution Resolution,
) (solana.Instruction, error) {
	accounts := solana.AccountMetaSlice{
		solana.NewAccountMeta(resolver, true, true),
		solana.NewAccountMeta(market, true, false),
	}
	return newInstruction(programID, accounts, &ResolveMarket{
		Version:    ProtocolVersion,
		Resolution: resolution,
	})
}

func NewClaimMarketInstruction(
	programID solana.PublicKey,
	claimer solana.PublicKey,
	market solana.PublicKey,
	prediction solana.PublicKey,
) (solana.Instruction, error) {
	accounts := solana.AccountMetaSlice{
		solana.NewAccountMeta(claimer, true, true),
		solana.NewAccountMeta(market, true, false),
		solana.NewAccountMeta(prediction, true, false),
	}
	return newInstruction(programID, accounts, &ClaimMarket{Version: ProtocolVersion})
}

func NewSetMarketResolverAdminInstruction(
	programID solana.PublicKey,
	signer solana.PublicKey,
	market solana.PublicKey,
) (solana.Instruction, error) {
	accounts := solana.AccountMetaSlice{
		solana.NewAccountMeta(signer, true, true),
		solana.NewAccountMeta(market, true, false),
	}
	return newInstruction(programID, accounts, &SetMarketResolverAdmin{Version: ProtocolVersion})
}

func NewResolveMarketAdminInstruction(
	programID solana.PublicKey,
	admin solana.PublicKey,
	market solana.PublicKey,
	resolution Resolution,
) (solana.Instruction, error) {
	accounts := solana.AccountMetaSlice{
		solana.NewAccountMeta(admin, true, true),
		solana.NewAccountMeta(market, true, false),
	}
	return newInstruction(programID, accounts, &ResolveMarketAdmin{
		Version:    ProtocolVersion,
		Resolution: resolution,
	})
}
