package program

import (
	"fmt"
	"math/bits"
)

// Settlement is what one claimer receives from a resolved market, on top of
// the reserve returned when the prediction record is reclaimed.
type Settlement struct {
	RatePerVote uint64
	Votes       uint64
	Winnings    uint64
	Principal   uint64
	Total       uint64
}

// Settle computes a claim against the frozen market totals. The result does
// not depend on how many claims were already paid.
func Settle(market *Market, prediction *UserPrediction, unitPrice uint64) (Settlement, error) {
	var (
		rate  uint64
		votes uint64
	)
	switch market.Resolution {
	case ResolutionYes:
		rate = winningRate(market.PoolNo, market.NumYes)
		votes = prediction.VotesYes
	case ResolutionNo:
		rate = winningRate(market.PoolYes, market.NumNo)
		votes = prediction.VotesNo
	case ResolutionTie:
		sum, err := addChecked(prediction.VotesYes, prediction.VotesNo)
		if err != nil {
			return Settlement{}, fmt.Errorf("tie votes: %w", err)
		}
		votes = sum
	case ResolutionUnresolved:
		return Settlement{}, ErrMarketIsNotResolved
	default:
		return Settlement{}, fmt.Errorf("%w: market resolution %d", ErrInvalidAccountData, uint8(market.Resolution))
	}

	winnings, err := mulChecked(rate, votes)
	if err != nil {
		return Settlement{}, fmt.Errorf("winnings: %w", err)
	}
	principal, err := mulChecked(votes, unitPrice)
	if err != nil {
		return Settlement{}, fmt.Errorf("principal: %w", err)
	}
	total, err := addChecked(winnings, principal)
	if err != nil {
		return Settlement{}, fmt.Errorf("payout total: %w", err)
	}

	return Settlement{
		RatePerVote: rate,
		Votes:       votes,
		Winnings:    winnings,
		Principal:   principal,
		Total:       total,
	}, nil
}

// UndistributedRemainder is the part of the losing pool that floor division
// leaves in the market after every winner has claimed.
func UndistributedRemainder(market *Market) uint64 {
	switch market.Resolution {
	case ResolutionYes:
		if market.NumYes == 0 {
			return market.PoolNo
		}
		return market.PoolNo % market.NumYes
	case ResolutionNo:
		if market.NumNo == 0 {
			return market.PoolYes
		}
		return market.PoolYes % market.NumNo
	default:
		return 0
	}
}

// winningRate is zero when nobody backed the winning side.
func winningRate(losingPool, winningVotes uint64) uint64 {
	if winningVotes == 0 {
		return 0
	}
	return losingPool / winningVotes
}

func mulChecked(a, b uint64) (uint64, error) {
	hi, lo := bits.Mul64(a, b)
	if hi != 0 {
		return 0, fmt.Errorf("%w: %d * %d", ErrArithmeticOverflow, a, b)
	}
	return lo, nil
}

func addChecked(a, b uint64) (uint64, error) {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return 0, fmt.Errorf("%w: %d + %d", ErrArithmeticOverflow, a, b)
	}
	return sum, nil
}
