package liquidstake

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"github.com/stellar/go/amount"

	"github.com/marwen-abid/liquidstake-go/errors"
)

// Amount is a non-negative fixed-precision quantity in units of 10^-7,
// matching Stellar's seven decimal places.
type Amount int64

const (
	// Zero is the empty amount.
	Zero Amount = 0

	// One is one whole token.
	One Amount = amount.One

	// MaxAmount is the largest representable amount.
	MaxAmount Amount = math.MaxInt64
)

// FromTokens returns n whole tokens. It panics if n is negative or n tokens
// exceed MaxAmount. Intended for tests and constants.
func FromTokens(n int64) Amount {
	if n < 0 || n > int64(MaxAmount/One) {
		panic(errors.NewEngineError(errors.OVERFLOW, fmt.Sprintf("%d tokens out of range", n), nil))
	}
	return Amount(n) * One
}

// ParseAmount parses a decimal string such as "12.5" into an Amount.
// Negative values are rejected.
func ParseAmount(s string) (Amount, error) {
	v, err := amount.ParseInt64(s)
	if err != nil {
		return 0, errors.NewEngineError(errors.INVALID_AMOUNT, fmt.Sprintf("invalid amount %q", s), err)
	}
	if v < 0 {
		return 0, errors.NewEngineError(errors.INVALID_AMOUNT, fmt.Sprintf("negative amount %q", s), nil)
	}
	return Amount(v), nil
}

// MustParseAmount is like ParseAmount but panics on error. Intended for tests and constants.
func MustParseAmount(s string) Amount {
	a, err := ParseAmount(s)
	if err != nil {
		panic(err)
	}
	return a
}

// String formats the amount with seven decimal places.
func (a Amount) String() string {
	return amount.StringFromInt64(int64(a))
}

// IsZero reports whether the amount is zero.
func (a Amount) IsZero() bool { return a == 0 }

// IsPositive reports whether the amount is strictly greater than zero.
func (a Amount) IsPositive() bool { return a > 0 }

// CheckedAdd returns a+b or an OVERFLOW error. It never wraps or saturates.
func (a Amount) CheckedAdd(b Amount) (Amount, error) {
	if a < 0 || b < 0 {
		return 0, errors.NewEngineError(errors.INVALID_AMOUNT, "negative operand", nil)
	}
	if a > MaxAmount-b {
		return 0, errors.NewEngineError(errors.OVERFLOW, fmt.Sprintf("%s + %s overflows", a, b), nil)
	}
	return a + b, nil
}

// CheckedSub returns a-b or an INSUFFICIENT_BALANCE error if b > a.
func (a Amount) CheckedSub(b Amount) (Amount, error) {
	if a < 0 || b < 0 {
		return 0, errors.NewEngineError(errors.INVALID_AMOUNT, "negative operand", nil)
	}
	if b > a {
		return 0, errors.NewEngineError(errors.INSUFFICIENT_BALANCE, fmt.Sprintf("%s - %s underflows", a, b), nil)
	}
	return a - b, nil
}

// Bytes encodes the amount as 8 big-endian bytes.
func (a Amount) Bytes() []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(a))
	return buf
}

// AmountFromBytes decodes an amount written by Bytes.
func AmountFromBytes(b []byte) (Amount, error) {
	if len(b) != 8 {
		return 0, errors.NewStoreError(errors.CODEC_ERROR, fmt.Sprintf("amount must be 8 bytes, got %d", len(b)), nil)
	}
	v := binary.BigEndian.Uint64(b)
	if v > math.MaxInt64 {
		return 0, errors.NewStoreError(errors.CODEC_ERROR, "stored amount out of range", nil)
	}
	return Amount(v), nil
}

// MarshalJSON encodes the amount as a decimal string.
func (a Amount) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

// UnmarshalJSON accepts a decimal string or a whole-unit JSON number.
func (a *Amount) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return errors.NewStoreError(errors.CODEC_ERROR, "amount must be a string or number", err)
		}
		s = n.String()
	}
	v, err := ParseAmount(s)
	if err != nil {
		return err
	}
	*a = v
	return nil
}

// MarshalYAML encodes the amount as a decimal string.
func (a Amount) MarshalYAML() (any, error) {
	return a.String(), nil
}

// UnmarshalYAML accepts decimal strings and integers.
func (a *Amount) UnmarshalYAML(unmarshal func(any) error) error {
	var raw any
	if err := unmarshal(&raw); err != nil {
		return err
	}
	var s string
	switch v := raw.(type) {
	case string:
		s = v
	case int:
		s = strconv.Itoa(v)
	case float64:
		s = strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return errors.NewStoreError(errors.CODEC_ERROR, fmt.Sprintf("unsupported amount %v", raw), nil)
	}
	parsed, err := ParseAmount(s)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
