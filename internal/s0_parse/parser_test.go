package s0_parse

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/heatrank/backend/internal/contracts"
)

func TestLineParser_Parse(t *testing.T) {
	p := NewLineParser(contracts.ImportTypeVolume)

	rec, err := p.Parse("SH600000\t2024-01-15\t100.5", 1)
	require.NoError(t, err)
	assert.Equal(t, "SH600000", rec.CodeOriginal)
	assert.Equal(t, "600000", rec.Code)
	assert.Equal(t, "SH", rec.MarketPrefix)
	assert.Equal(t, time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC), rec.TradingDate)
	assert.Equal(t, 100.5, rec.Metric)
	assert.Equal(t, contracts.ImportTypeVolume, rec.ImportType)
	assert.Equal(t, 1, rec.Line)
}

func TestLineParser_Errors(t *testing.T) {
	p := NewLineParser(contracts.ImportTypeVolume)

	tests := []struct {
		name  string
		line  string
		check func(t *testing.T, err error)
	}{
		{
			name: "two fields",
			line: "600000\t2024-01-15",
			check: func(t *testing.T, err error) {
				var fe *contracts.FormatError
				require.True(t, errors.As(err, &fe))
				assert.Equal(t, 3, fe.Expected)
				assert.Equal(t, 2, fe.Got)
			},
		},
		{
			name: "four fields",
			line: "600000\t2024-01-15\t1\t2",
			check: func(t *testing.T, err error) {
				var fe *contracts.FormatError
				assert.True(t, errors.As(err, &fe))
			},
		},
		{
			name: "bad date",
			line: "600000\t2024-13-01\t1",
			check: func(t *testing.T, err error) {
				var de *contracts.DateParseError
				require.True(t, errors.As(err, &de))
				assert.Equal(t, "2024-13-01", de.Value)
			},
		},
		{
			name: "non numeric metric",
			line: "600000\t2024-01-15\tabc",
			check: func(t *testing.T, err error) {
				var ne *contracts.NumericParseError
				require.True(t, errors.As(err, &ne))
				assert.Equal(t, time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC), ne.Date)
			},
		},
		{
			name: "NaN metric",
			line: "600000\t2024-01-15\tNaN",
			check: func(t *testing.T, err error) {
				var ne *contracts.NumericParseError
				assert.True(t, errors.As(err, &ne))
			},
		},
		{
			name: "infinite metric",
			line: "600000\t2024-01-15\t+Inf",
			check: func(t *testing.T, err error) {
				var ne *contracts.NumericParseError
				assert.True(t, errors.As(err, &ne))
			},
		},
		{
			name: "empty code",
			line: " \t2024-01-15\t1",
			check: func(t *testing.T, err error) {
				var fe *contracts.FormatError
				assert.True(t, errors.As(err, &fe))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, err := p.Parse(tt.line, 9)
			require.Error(t, err)
			assert.Nil(t, rec)

			var lineErr contracts.LineError
			require.True(t, errors.As(err, &lineErr))
			assert.Equal(t, 9, lineErr.LineNumber())
			tt.check(t, err)
		})
	}
}

func TestLineParser_IsHeader(t *testing.T) {
	p := NewLineParser(contracts.ImportTypeVolume)

	assert.True(t, p.IsHeader("code\tdate\tvolume"))
	assert.False(t, p.IsHeader("600000\t2024-01-15\t1"))
	assert.False(t, p.IsHeader("600000\tnot-a-date\t1"))
	assert.False(t, p.IsHeader("SH600000\t2024-13-45\tn/a"))
	assert.False(t, p.IsHeader("just one field"))
}

func TestParseFlexibleNumber(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"1234", 1234},
		{"1,234.5", 1234.5},
		{"3.2%", 3.2},
		{"1.5万", 15000},
		{"2亿", 2e8},
		{" -12.5 ", -12.5},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseFlexibleNumber(tt.in)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}

	_, err := parseFlexibleNumber("--")
	assert.Error(t, err)
}
