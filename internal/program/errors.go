package program

import (
	"errors"
	"fmt"
)

// Error is a program failure with a stable numeric code surfaced to callers.
type Error uint32

const (
	ErrIncorrectProgramID Error = iota + 1
	ErrVersionMismatch
	ErrInstructionUnpack
	ErrAlreadyInitialized
	ErrInvalidProgramDerivedAddress
	ErrInvalidSigner
	ErrInvalidMarketOwner
	ErrMarketIsResolved
	ErrMarketIsClosed
	ErrInvalidResolver
	ErrMarketIsNotResolved
)

var errorMessages = map[Error]string{
	ErrIncorrectProgramID:           "account is not the expected program id",
	ErrVersionMismatch:              "program version mismatch",
	ErrInstructionUnpack:            "failed to unpack instruction data",
	ErrAlreadyInitialized:           "prediction market is already initialized",
	ErrInvalidProgramDerivedAddress: "invalid program address generated from bump seed and key",
	ErrInvalidSigner:                "input account must be a signer",
	ErrInvalidMarketOwner:           "prediction market is not owned by the expected program id",
	ErrMarketIsResolved:             "market is resolved",
	ErrMarketIsClosed:               "market is closed",
	ErrInvalidResolver:              "resolver is not authorized for this market",
	ErrMarketIsNotResolved:          "market is not resolved",
}

var errorNames = map[Error]string{
	ErrIncorrectProgramID:           "IncorrectProgramId",
	ErrVersionMismatch:              "VersionMismatch",
	ErrInstructionUnpack:            "InstructionUnpackError",
	ErrAlreadyInitialized:           "AlreadyInitialized",
	ErrInvalidProgramDerivedAddress: "InvalidProgramDerivedAddress",
	ErrInvalidSigner:                "InvalidSigner",
	ErrInvalidMarketOwner:           "InvalidMarketOwner",
	ErrMarketIsResolved:             "MarketIsResolved",
	ErrMarketIsClosed:               "MarketIsClosed",
	ErrInvalidResolver:              "InvalidResolver",
	ErrMarketIsNotResolved:          "MarketIsNotResolved",
}

// Host-level failures. These mirror the runtime's builtin errors and carry no
// program code.
var (
	ErrNotEnoughAccountKeys = errors.New("not enough account keys")
	ErrInvalidAccountData   = errors.New("invalid account data")
	ErrArithmeticOverflow   = errors.New("arithmetic overflow")
)

func (e Error) Error() string {
	if msg, ok := errorMessages[e]; ok {
		return msg
	}
	return fmt.Sprintf("unknown program error %d", uint32(e))
}

func (e Error) Code() uint32 {
	return uint32(e)
}

func (e Error) String() string {
	if name, ok := errorNames[e]; ok {
		return name
	}
	return fmt.Sprintf("Error(%d)", uint32(e))
}

// ErrorCode extracts the program code from err, if it wraps an Error.
func ErrorCode(err error) (uint32, bool) {
	var programErr Error
	if errors.As(err, &programErr) {
		return programErr.Code(), true
	}
	return 0, false
}
