package government

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/talgya/housing-market/internal/config"
)

func TestBandedPercentage(t *testing.T) {
	bands := []float64{10000, 40000}
	rates := []float64{0.2, 0.4}

	tests := []struct {
		income float64
		want   float64
	}{
		{5000, 0},
		{10000, 0},
		{20000, 2000},
		{40000, 6000},
		{50000, 6000 + 4000},
	}
	for _, tt := range tests {
		got := BandedPercentage(tt.income, bands, rates)
		assert.InDelta(t, tt.want, got, 1e-9, "income %v", tt.income)
	}
}

func TestIncomeTaxAllowanceTaper(t *testing.T) {
	g := New(config.Defaults().Government)

	below := g.IncomeTaxDue(100000)
	assert.InDelta(t, BandedPercentage(100000, []float64{9440, 41450, 150000}, []float64{0.2, 0.4, 0.45}), below, 1e-9)

	// 10000 over the limit withdraws 5000 of allowance, taxed at 20%
	over := g.IncomeTaxDue(110000)
	base := BandedPercentage(110000, []float64{9440, 41450, 150000}, []float64{0.2, 0.4, 0.45})
	assert.InDelta(t, base+5000*0.2, over, 1e-9)

	// allowance fully withdrawn
	rich := g.IncomeTaxDue(200000)
	richBase := BandedPercentage(200000, []float64{9440, 41450, 150000}, []float64{0.2, 0.4, 0.45})
	assert.InDelta(t, richBase+9440*0.2, rich, 1e-9)
}

func TestNICs(t *testing.T) {
	g := New(config.Defaults().Government)
	assert.Equal(t, 0.0, g.NICsDue(7000))
	assert.InDelta(t, (20000-7748)*0.12, g.NICsDue(20000), 1e-9)
}

func TestIncomeSupport(t *testing.T) {
	g := New(config.Defaults().Government)
	assert.Equal(t, 492.7, g.MonthlyIncomeSupport())
}
