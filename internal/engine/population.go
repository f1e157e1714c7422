// Population dynamics: births fill the age bands short of their expected
// size, deaths thin out the bands above it. Households age in their own
// monthly step.
package engine

import (
	"go.uber.org/zap"

	"github.com/talgya/housing-market/internal/demographics"
)

// processDemographics runs the monthly census, births and deaths.
func (s *Simulation) processDemographics() (births, deaths int, err error) {
	env := s.Env
	p := s.Provider

	ages := make([]float64, 0, env.Households.Len())
	for _, id := range env.Households.IDs() {
		ages = append(ages, env.Households.Get(id).Age)
	}
	counts := demographics.Census(p, ages)

	for band, n := range demographics.Births(p, counts) {
		for range n {
			s.Spawner.Spawn(demographics.BirthAge(p, env.Rand, band))
		}
		counts[band] += n
		births += n
	}

	mortality := demographics.NewMortality(p, counts)
	for _, id := range env.Households.IDs() {
		h := env.Households.Get(id)
		band := demographics.Band(p, h.Age)
		if env.Rand.Float64() >= mortality.Probability(band) {
			mortality.Survive(band)
			continue
		}
		if env.Households.Len() < 2 {
			// Nobody to inherit.
			mortality.Survive(band)
			continue
		}
		if err := h.Die(); err != nil {
			return births, deaths, err
		}
		mortality.Die(band)
		deaths++
	}

	if births > 0 || deaths > 0 {
		zap.S().Debugw("demographics",
			"month", env.Month,
			"births", births,
			"deaths", deaths,
			"population", env.Households.Len())
	}
	return births, deaths, nil
}
