package engine

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	liquidstake "github.com/marwen-abid/liquidstake-go"
	"github.com/marwen-abid/liquidstake-go/errors"
)

// ParRate is the fixed exchange rate between any two exchangeable tokens.
// There is no price oracle, so every conversion happens 1:1.
var ParRate = decimal.NewFromInt(1)

var maxAmount = decimal.NewFromInt(math.MaxInt64)

// Quote converts amountIn at rate, rounding down to the smallest unit.
func Quote(amountIn liquidstake.Amount, rate decimal.Decimal) (liquidstake.Amount, error) {
	if amountIn < 0 {
		return 0, errors.NewEngineError(errors.INVALID_AMOUNT, "negative amount", nil)
	}
	if rate.IsNegative() {
		return 0, errors.NewEngineError(errors.INVALID_AMOUNT, fmt.Sprintf("negative rate %s", rate), nil)
	}
	out := decimal.NewFromInt(int64(amountIn)).Mul(rate).Floor()
	if out.GreaterThan(maxAmount) {
		return 0, errors.NewEngineError(errors.OVERFLOW, fmt.Sprintf("%s at rate %s overflows", amountIn, rate), nil)
	}
	return liquidstake.Amount(out.IntPart()), nil
}
