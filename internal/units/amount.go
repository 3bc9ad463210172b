// Package units converts token quantities between human-readable decimal
// strings and the integer smallest-unit representation used on chain.
package units

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/holiman/uint256"
)

// MaxDecimals is the largest scale that still leaves room for one integer
// digit inside a uint256.
const MaxDecimals = 77

var (
	ErrInvalidAmount = errors.New("invalid token amount")
	ErrPrecision     = errors.New("amount has more fractional digits than the token supports")
	ErrOverflow      = errors.New("amount exceeds uint256")
	ErrNegative      = errors.New("amount must not be negative")
	ErrDecimals      = errors.New("unsupported decimals")
)

// TokenAmount is a non-negative token quantity in smallest units together with
// the scale used to render it.
type TokenAmount struct {
	units    *uint256.Int
	decimals uint8
}

// New returns an amount of u smallest units. u is copied.
func New(u *uint256.Int, decimals uint8) TokenAmount {
	if u == nil {
		return TokenAmount{units: new(uint256.Int), decimals: decimals}
	}
	return TokenAmount{units: u.Clone(), decimals: decimals}
}

// Zero returns a zero amount at the given scale.
func Zero(decimals uint8) TokenAmount {
	return TokenAmount{units: new(uint256.Int), decimals: decimals}
}

// FromBig builds an amount from an on-chain integer such as an ABI-decoded
// uint256.
func FromBig(b *big.Int, decimals uint8) (TokenAmount, error) {
	if b == nil {
		return Zero(decimals), nil
	}
	if b.Sign() < 0 {
		return TokenAmount{}, ErrNegative
	}
	u, overflow := uint256.FromBig(b)
	if overflow {
		return TokenAmount{}, ErrOverflow
	}
	return TokenAmount{units: u, decimals: decimals}, nil
}

// FromUnitsString parses a base-10 smallest-unit integer, as stored in
// configuration or the registry.
func FromUnitsString(s string, decimals uint8) (TokenAmount, error) {
	a, err := Parse(s, 0)
	if err != nil {
		return TokenAmount{}, err
	}
	return a.rescaleTo(decimals)
}

// Parse parses a human-readable decimal string such as "1500.25".
func Parse(s string, decimals uint8) (TokenAmount, error) {
	u, err := ToSmallestUnits(s, decimals)
	if err != nil {
		return TokenAmount{}, err
	}
	return TokenAmount{units: u, decimals: decimals}, nil
}

// ToSmallestUnits converts a decimal string into smallest units. It never
// rounds: input with more significant fractional digits than decimals is
// rejected.
func ToSmallestUnits(s string, decimals uint8) (*uint256.Int, error) {
	if decimals > MaxDecimals {
		return nil, fmt.Errorf("%w: %d", ErrDecimals, decimals)
	}
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "-") {
		return nil, ErrNegative
	}
	intPart, frac, hasDot := strings.Cut(s, ".")
	if intPart == "" || !allDigits(intPart) || (hasDot && (frac == "" || !allDigits(frac))) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}

	if len(frac) > int(decimals) {
		extra := frac[decimals:]
		if strings.Trim(extra, "0") != "" {
			return nil, fmt.Errorf("%w: %q at %d decimals", ErrPrecision, s, decimals)
		}
		frac = frac[:decimals]
	}

	digits := intPart + frac + strings.Repeat("0", int(decimals)-len(frac))
	digits = strings.TrimLeft(digits, "0")
	if digits == "" {
		return new(uint256.Int), nil
	}
	u, err := uint256.FromDecimal(digits)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrOverflow, s)
	}
	return u, nil
}

// FromSmallestUnits renders u at the given scale with full precision and no
// trailing fractional zeros.
func FromSmallestUnits(u *uint256.Int, decimals uint8) string {
	if u == nil {
		return "0"
	}
	s := u.Dec()
	if decimals == 0 {
		return s
	}
	d := int(decimals)
	if len(s) <= d {
		s = strings.Repeat("0", d-len(s)+1) + s
	}
	intPart := s[:len(s)-d]
	frac := strings.TrimRight(s[len(s)-d:], "0")
	if frac == "" {
		return intPart
	}
	return intPart + "." + frac
}

// Units returns a copy of the smallest-unit value.
func (a TokenAmount) Units() *uint256.Int {
	if a.units == nil {
		return new(uint256.Int)
	}
	return a.units.Clone()
}

// Big returns the smallest-unit value as a big.Int for ABI packing.
func (a TokenAmount) Big() *big.Int {
	return a.Units().ToBig()
}

// Decimals returns the scale.
func (a TokenAmount) Decimals() uint8 {
	return a.decimals
}

// IsZero reports whether the amount is zero.
func (a TokenAmount) IsZero() bool {
	return a.units == nil || a.units.IsZero()
}

// String returns the full-precision decimal representation.
func (a TokenAmount) String() string {
	return FromSmallestUnits(a.units, a.decimals)
}

// UnitsString returns the smallest-unit integer in base 10.
func (a TokenAmount) UnitsString() string {
	return a.Units().Dec()
}

// Display truncates (never rounds) to at most places fractional digits. It is
// for presentation only and must not feed back into comparisons.
func (a TokenAmount) Display(places int) string {
	s := a.String()
	intPart, frac, ok := strings.Cut(s, ".")
	if !ok || places <= 0 {
		return intPart
	}
	if len(frac) > places {
		frac = strings.TrimRight(frac[:places], "0")
	}
	if frac == "" {
		return intPart
	}
	return intPart + "." + frac
}

// Cmp compares two amounts in smallest units. Amounts at different scales are
// rescaled to the finer one first; this is exact.
func (a TokenAmount) Cmp(b TokenAmount) int {
	if a.decimals == b.decimals {
		return a.Units().Cmp(b.Units())
	}
	x, y := a.Big(), b.Big()
	if a.decimals < b.decimals {
		x.Mul(x, pow10(int(b.decimals-a.decimals)))
	} else {
		y.Mul(y, pow10(int(a.decimals-b.decimals)))
	}
	return x.Cmp(y)
}

// Add returns a+b at a's scale. b must share the scale.
func (a TokenAmount) Add(b TokenAmount) (TokenAmount, error) {
	if a.decimals != b.decimals {
		return TokenAmount{}, fmt.Errorf("%w: cannot add %d and %d decimals", ErrDecimals, a.decimals, b.decimals)
	}
	sum, overflow := new(uint256.Int).AddOverflow(a.Units(), b.Units())
	if overflow {
		return TokenAmount{}, ErrOverflow
	}
	return TokenAmount{units: sum, decimals: a.decimals}, nil
}

// rescaleTo changes the scale without changing the smallest-unit value. It is
// used for integers that were parsed at scale zero.
func (a TokenAmount) rescaleTo(decimals uint8) (TokenAmount, error) {
	if a.units == nil {
		return TokenAmount{}, ErrInvalidAmount
	}
	return TokenAmount{units: a.units, decimals: decimals}, nil
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func pow10(n int) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}

type amountJSON struct {
	Amount   string `json:"amount"`
	Units    string `json:"units"`
	Decimals uint8  `json:"decimals"`
}

// MarshalJSON renders both the human-readable amount and the exact
// smallest-unit integer.
func (a TokenAmount) MarshalJSON() ([]byte, error) {
	return json.Marshal(amountJSON{Amount: a.String(), Units: a.UnitsString(), Decimals: a.decimals})
}

// UnmarshalJSON accepts the MarshalJSON form; units win over amount.
func (a *TokenAmount) UnmarshalJSON(data []byte) error {
	var v amountJSON
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	var (
		parsed TokenAmount
		err    error
	)
	if v.Units != "" {
		parsed, err = FromUnitsString(v.Units, v.Decimals)
	} else {
		parsed, err = Parse(v.Amount, v.Decimals)
	}
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
