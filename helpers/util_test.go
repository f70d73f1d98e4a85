package helpers

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseDigits(t *testing.T) {
	tests := []struct {
		in   string
		want int
		ok   bool
	}{
		{"2019", 2019, true},
		{" 125000 ", 125000, true},
		{"diesel", 0, false},
		{"1.6", 0, false},
		{"", 0, false},
	}

	for _, tt := range tests {
		got, ok := ParseDigits(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestCleanText(t *testing.T) {
	assert.Equal(t, "Audi A4 2.0 TDI", CleanText("Audi   A4\n2.0 TDI"))
	assert.Equal(t, "Bezwypadkowy, serwisowany", CleanText("<p>Bezwypadkowy,<br/> <b>serwisowany</b></p>"))
	assert.Equal(t, "Tom & Jerry", CleanText("Tom &amp; Jerry"))
	assert.Equal(t, "", CleanText(""))
}

func TestSlugify(t *testing.T) {
	assert.Equal(t, "alfa-romeo", Slugify(" Alfa Romeo "))
	assert.Equal(t, "bmw", Slugify("BMW"))
}
