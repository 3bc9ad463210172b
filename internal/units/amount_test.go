package units

import (
	"errors"
	"math/big"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestToSmallestUnits(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		decimals uint8
		want     string
		wantErr  error
	}{
		{name: "integer", input: "15000", decimals: 18, want: "15000000000000000000000"},
		{name: "fraction", input: "1.5", decimals: 6, want: "1500000"},
		{name: "full precision", input: "0.000001", decimals: 6, want: "1"},
		{name: "zero", input: "0", decimals: 18, want: "0"},
		{name: "trailing zeros beyond scale", input: "1.2300", decimals: 2, want: "123"},
		{name: "zero decimals", input: "42", decimals: 0, want: "42"},
		{name: "whitespace", input: " 7.25 ", decimals: 2, want: "725"},
		{name: "too precise", input: "1.234", decimals: 2, wantErr: ErrPrecision},
		{name: "negative", input: "-1", decimals: 18, wantErr: ErrNegative},
		{name: "empty", input: "", decimals: 18, wantErr: ErrInvalidAmount},
		{name: "dangling dot", input: "1.", decimals: 18, wantErr: ErrInvalidAmount},
		{name: "leading dot", input: ".5", decimals: 18, wantErr: ErrInvalidAmount},
		{name: "letters", input: "1e18", decimals: 18, wantErr: ErrInvalidAmount},
		{name: "scale too large", input: "1", decimals: 78, wantErr: ErrDecimals},
		{
			name:     "overflow",
			input:    "115792089237316195423570985008687907853269984665640564039457584007913129639936",
			decimals: 0,
			wantErr:  ErrOverflow,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ToSmallestUnits(tt.input, tt.decimals)
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Dec())
		})
	}
}

func TestFromSmallestUnits(t *testing.T) {
	tests := []struct {
		units    string
		decimals uint8
		want     string
	}{
		{"15000000000000000000000", 18, "15000"},
		{"1500000", 6, "1.5"},
		{"1", 18, "0.000000000000000001"},
		{"0", 18, "0"},
		{"123", 0, "123"},
	}
	for _, tt := range tests {
		u := uint256.MustFromDecimal(tt.units)
		assert.Equal(t, tt.want, FromSmallestUnits(u, tt.decimals))
	}
}

// toSmallestUnits(fromSmallestUnits(a, d), d) == a for every a and d.
func TestRoundTripProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		words := [4]uint64{
			rapid.Uint64().Draw(t, "w0"),
			rapid.Uint64().Draw(t, "w1"),
			rapid.Uint64().Draw(t, "w2"),
			rapid.Uint64().Draw(t, "w3"),
		}
		u := new(uint256.Int)
		u[0], u[1], u[2], u[3] = words[0], words[1], words[2], words[3]
		d := uint8(rapid.IntRange(0, MaxDecimals).Draw(t, "decimals"))

		s := FromSmallestUnits(u, d)
		back, err := ToSmallestUnits(s, d)
		if err != nil {
			t.Fatalf("ToSmallestUnits(%q, %d): %v", s, d, err)
		}
		if !back.Eq(u) {
			t.Fatalf("round trip mismatch: %s -> %q -> %s", u.Dec(), s, back.Dec())
		}
	})
}

func TestCmpIsInteger(t *testing.T) {
	minimum, err := Parse("10000", 18)
	require.NoError(t, err)

	justBelow, err := FromBig(new(big.Int).Sub(minimum.Big(), big.NewInt(1)), 18)
	require.NoError(t, err)

	assert.Equal(t, -1, justBelow.Cmp(minimum))
	assert.Equal(t, 0, minimum.Cmp(minimum))
	assert.Equal(t, 1, minimum.Cmp(justBelow))

	// 1.5 at 6 decimals equals 1.5 at 18 decimals.
	a, _ := Parse("1.5", 6)
	b, _ := Parse("1.5", 18)
	assert.Equal(t, 0, a.Cmp(b))
}

func TestDisplayTruncates(t *testing.T) {
	a, err := Parse("1234.56789", 18)
	require.NoError(t, err)

	assert.Equal(t, "1234.56", a.Display(2))
	assert.Equal(t, "1234.5678", a.Display(4))
	assert.Equal(t, "1234", a.Display(0))
	assert.Equal(t, "1234.56789", a.String())
}

func TestFromBigRejectsNegative(t *testing.T) {
	_, err := FromBig(big.NewInt(-5), 18)
	assert.ErrorIs(t, err, ErrNegative)
}

func TestFromUnitsString(t *testing.T) {
	a, err := FromUnitsString("10000000000000000000000", 18)
	require.NoError(t, err)
	assert.Equal(t, "10000", a.String())
	assert.Equal(t, "10000000000000000000000", a.UnitsString())

	_, err = FromUnitsString("1.5", 18)
	assert.Error(t, err)
}

func TestAdd(t *testing.T) {
	a, _ := Parse("15000", 18)
	b, _ := Parse("5000", 18)
	sum, err := a.Add(b)
	require.NoError(t, err)
	assert.Equal(t, "20000", sum.String())

	c, _ := Parse("1", 6)
	_, err = a.Add(c)
	assert.ErrorIs(t, err, ErrDecimals)
}
