package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCentsString(t *testing.T) {
	assert.Equal(t, "20.00", Cents(2000).String())
	assert.Equal(t, "8.50", Cents(850).String())
	assert.Equal(t, "0.05", Cents(5).String())
	assert.Equal(t, "-1.25", Cents(-125).String())
}

func TestParseCents(t *testing.T) {
	cases := map[string]Cents{
		"8.50":  850,
		"8.5":   850,
		"8":     800,
		"0.05":  5,
		".50":   50,
		"-1.25": -125,
	}
	for in, want := range cases {
		got, err := ParseCents(in)
		assert.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseCents("8.505")
	assert.Error(t, err)
	_, err = ParseCents("abc")
	assert.Error(t, err)
}
