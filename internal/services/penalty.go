package services

import "github.com/holiman/uint256"

const (
	// Порог оставшегося времени в секундах: строго больше суток - повышенный штраф.
	penaltyThreshold = 86400
	longPenaltyRate  = 5 // Процентов, если до разблокировки больше суток
	shortPenaltyRate = 1 // Процентов, если до разблокировки сутки или меньше
	rateDenominator  = 100
)

// PenaltyRate возвращает ставку штрафа в процентах за вывод в момент now.
func PenaltyRate(unlockAt, now uint64) uint64 {
	if now >= unlockAt {
		return 0
	}
	if unlockAt-now > penaltyThreshold {
		return longPenaltyRate
	}
	return shortPenaltyRate
}

// CalculatePenalty считает выплату и штраф: penalty = floor(amount * rate / 100).
// Промежуточное произведение вычисляется в 512 битах и не переполняется.
func CalculatePenalty(amount *uint256.Int, unlockAt, now uint64) (payout, penalty *uint256.Int) {
	rate := PenaltyRate(unlockAt, now)
	penalty = new(uint256.Int)
	if rate > 0 {
		penalty.MulDivOverflow(amount, uint256.NewInt(rate), uint256.NewInt(rateDenominator))
	}
	payout = new(uint256.Int).Sub(amount, penalty)
	return payout, penalty
}
