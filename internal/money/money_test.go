package money

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseCents(t *testing.T) {
	tests := []struct {
		name   string
		raw    string
		bare   Unit
		want   int64
		wantOK bool
	}{
		{name: "integer cents", raw: "20600", bare: Minor, want: 20600, wantOK: true},
		{name: "decimal string in minor provider", raw: "206.00", bare: Minor, want: 20600, wantOK: true},
		{name: "integer rands", raw: "206", bare: Major, want: 20600, wantOK: true},
		{name: "decimal rands", raw: "206.5", bare: Major, want: 20650, wantOK: true},
		{name: "rounds half up", raw: "10.005", bare: Major, want: 1001, wantOK: true},
		{name: "rounds down", raw: "10.004", bare: Major, want: 1000, wantOK: true},
		{name: "quoted json string", raw: `"199.99"`, bare: Minor, want: 19999, wantOK: true},
		{name: "surrounding spaces", raw: "  42 ", bare: Minor, want: 42, wantOK: true},
		{name: "zero is a value", raw: "0", bare: Minor, want: 0, wantOK: true},
		{name: "empty", raw: "", bare: Minor, wantOK: false},
		{name: "garbage", raw: "abc", bare: Major, wantOK: false},
		{name: "negative", raw: "-100", bare: Minor, wantOK: false},
		{name: "negative decimal", raw: "-1.00", bare: Major, wantOK: false},
		{name: "overflow rands", raw: "92233720368547759", bare: Major, wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseCents(tt.raw, tt.bare)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestFormatCents(t *testing.T) {
	assert.Equal(t, "206.00", FormatCents(20600))
	assert.Equal(t, "0.05", FormatCents(5))
}
