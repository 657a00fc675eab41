package program

import (
	"bytes"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

func DeriveMarketPDA(programID solana.PublicKey, marketID [16]byte) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress([][]byte{[]byte(MarketSeedPrefix), marketID[:]}, programID)
}

func DeriveUserPredictionPDA(programID, market, voter solana.PublicKey) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress([][]byte{[]byte(UserPredictionSeedPrefix), market.Bytes(), voter.Bytes()}, programID)
}

func MustDeriveMarketPDA(programID solana.PublicKey, marketID [16]byte) solana.PublicKey {
	pk, _, err := DeriveMarketPDA(programID, marketID)
	if err != nil {
		panic(fmt.Errorf("derive market PDA: %w", err))
	}
	return pk
}

func MustDeriveUserPredictionPDA(programID, market, voter solana.PublicKey) solana.PublicKey {
	pk, _, err := DeriveUserPredictionPDA(programID, market, voter)
	if err != nil {
		panic(fmt.Errorf("derive user prediction PDA: %w", err))
	}
	return pk
}

// MarketIDFromString right-pads raw with zero bytes. Longer input is rejected.
func MarketIDFromString(raw string) ([16]byte, error) {
	var id [16]byte
	if len(raw) > len(id) {
		return id, fmt.Errorf("market id %q is longer than %d bytes", raw, len(id))
	}
	copy(id[:], raw)
	return id, nil
}

func MarketIDString(marketID [16]byte) string {
	index := bytes.IndexByte(marketID[:], 0)
	if index < 0 {
		index = len(marketID)
	}
	return string(marketID[:index])
}

// verifyPDA re-derives an address and compares it with the supplied account.
func verifyPDA(supplied solana.PublicKey, derive func() (solana.PublicKey, uint8, error)) (uint8, error) {
	expected, bump, err := derive()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidProgramDerivedAddress, err)
	}
	if !supplied.Equals(expected) {
		return 0, fmt.Errorf("%w: got %s, want %s", ErrInvalidProgramDerivedAddress, supplied, expected)
	}
	return bump, nil
}
