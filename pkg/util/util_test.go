package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCoefficients(t *testing.T) {
	a0, b := Coefficients(BackwardEuler, 0.5)
	assert.Equal(t, 2.0, a0)
	assert.Equal(t, 0.0, b)

	a0, b = Coefficients(Trapezoidal, 0.5)
	assert.Equal(t, 4.0, a0)
	assert.Equal(t, 1.0, b)
}

func TestParseScheme(t *testing.T) {
	tests := []struct {
		in   string
		want Scheme
	}{
		{"be", BackwardEuler},
		{"Backward_Euler", BackwardEuler},
		{"gear", BackwardEuler},
		{"trap", Trapezoidal},
		{"", Trapezoidal},
		{" TRAPEZOIDAL ", Trapezoidal},
	}
	for _, tt := range tests {
		got, err := ParseScheme(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := ParseScheme("rk4")
	assert.Error(t, err)

	var s Scheme
	require.NoError(t, s.UnmarshalText([]byte("be")))
	assert.Equal(t, BackwardEuler, s)
	text, err := Trapezoidal.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "trapezoidal", string(text))
}

func TestFormatValueFactor(t *testing.T) {
	assert.Equal(t, "12.500 mV", FormatValueFactor(0.0125, "V"))
	assert.Equal(t, "48.000 A", FormatValueFactor(48, "A"))
	assert.Equal(t, "2.500 kA", FormatValueFactor(2500, "A"))
	assert.Equal(t, "0.000 s", FormatValueFactor(0, "s"))
	assert.Equal(t, "1.000 us", FormatValueFactor(1e-6, "s"))
}
