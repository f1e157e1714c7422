// Package demographics supplies the income and age-structure data the
// household population is driven by.
package demographics

import (
	"math"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/talgya/housing-market/internal/config"
	"github.com/talgya/housing-market/internal/entropy"
)

// Provider is the demographic data oracle. Implementations must be pure:
// the same arguments always give the same answer.
type Provider interface {
	// AnnualIncome is the gross employment income at age of a household
	// at the given lifetime income percentile.
	AnnualIncome(age, percentile float64) float64
	// AgeBands describes the age histogram: the lower edge of band 0, the
	// band width and the number of bands, all in years.
	AgeBands() (min, width float64, n int)
	// ExpectedHouseholds is the steady-state number of households in band.
	ExpectedHouseholds(band int) int
}

// Parametric is the default Provider: log-normal incomes with a quadratic
// age profile and an age distribution that is flat up to the taper age and
// falls linearly to zero at the last band.
type Parametric struct {
	cfg      config.Demographics
	expected []int
}

// NewParametric builds the default provider scaled to the target population.
func NewParametric(cfg *config.Config) *Parametric {
	d := cfg.Demographics
	weights := make([]float64, d.NAgeBins)
	top := d.MinAge + float64(d.NAgeBins)*d.AgeBinWidth
	total := 0.0
	for i := range weights {
		mid := d.MinAge + (float64(i)+0.5)*d.AgeBinWidth
		w := 1.0
		if mid > d.TaperAge {
			w = math.Max(0, (top-mid)/(top-d.TaperAge))
		}
		weights[i] = w
		total += w
	}
	p := &Parametric{cfg: d, expected: make([]int, d.NAgeBins)}
	for i, w := range weights {
		p.expected[i] = int(math.Round(float64(cfg.Simulation.TargetPopulation) * w / total))
	}
	return p
}

func (p *Parametric) AgeBands() (float64, float64, int) {
	return p.cfg.MinAge, p.cfg.AgeBinWidth, p.cfg.NAgeBins
}

func (p *Parametric) ExpectedHouseholds(band int) int {
	if band < 0 || band >= len(p.expected) {
		return 0
	}
	return p.expected[band]
}

// AnnualIncome evaluates the log-normal income quantile for percentile at
// age, with age held inside [MinAge, IncomeMaxAge).
func (p *Parametric) AnnualIncome(age, percentile float64) float64 {
	age = math.Min(math.Max(age, p.cfg.MinAge), p.cfg.IncomeMaxAge-1e-7)
	dev := age - p.cfg.IncomePeakAge
	dist := distuv.LogNormal{
		Mu:    p.cfg.IncomeLogMean - p.cfg.IncomeAgeCurve*dev*dev,
		Sigma: p.cfg.IncomeLogSigma,
	}
	return dist.Quantile(math.Min(math.Max(percentile, 1e-9), 1-1e-9))
}

// Band returns the age band of age. Ages past the last band return n.
func Band(p Provider, age float64) int {
	lo, width, n := p.AgeBands()
	i := int((age - lo) / width)
	if i < 0 {
		return 0
	}
	return min(i, n)
}

// Census counts households per band; the extra last element counts those
// older than the last band.
func Census(p Provider, ages []float64) []int {
	_, _, n := p.AgeBands()
	counts := make([]int, n+1)
	for _, a := range ages {
		counts[Band(p, a)]++
	}
	return counts
}

// Births returns how many households each band is short of its expected
// size.
func Births(p Provider, counts []int) []int {
	_, _, n := p.AgeBands()
	out := make([]int, n)
	for i := range out {
		out[i] = max(0, p.ExpectedHouseholds(i)-counts[i])
	}
	return out
}

// BirthAge draws an age uniformly inside band.
func BirthAge(p Provider, rng entropy.Source, band int) float64 {
	lo, width, _ := p.AgeBands()
	upper := lo + float64(band+1)*width
	age := (rng.Float64()+float64(band))*width + lo
	if age >= upper {
		age = math.Nextafter(upper, math.Inf(-1))
	}
	return age
}

// Mortality tracks per-band death probabilities while deaths are drawn.
// A band's probability is its remaining surplus over its remaining
// members; households past the last band always die.
type Mortality struct {
	surplus []int
	counts  []int
}

// NewMortality starts a death pass over the census counts.
func NewMortality(p Provider, counts []int) *Mortality {
	_, _, n := p.AgeBands()
	m := &Mortality{surplus: make([]int, n), counts: append([]int(nil), counts...)}
	for i := range m.surplus {
		m.surplus[i] = max(0, counts[i]-p.ExpectedHouseholds(i))
	}
	return m
}

// Probability is the current death probability of band.
func (m *Mortality) Probability(band int) float64 {
	if band >= len(m.surplus) {
		return 1.0
	}
	if m.surplus[band] <= 0 || m.counts[band] <= 0 {
		return 0
	}
	return float64(m.surplus[band]) / float64(m.counts[band])
}

// Survive records that a household in band lived.
func (m *Mortality) Survive(band int) {
	if band < len(m.surplus) {
		m.counts[band]--
	}
}

// Die records a death in band.
func (m *Mortality) Die(band int) {
	if band < len(m.surplus) {
		m.surplus[band]--
		m.counts[band]--
	}
}
