// Package metrics exports the monthly core indicators of running
// simulations to Prometheus. Every series carries the run's seed.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/talgya/housing-market/internal/engine"
)

const (
	namespace = "housing"

	SeedLabel   = "seed"
	MarketLabel = "market"
)

// Collector holds the exported series.
type Collector struct {
	months       *prometheus.CounterVec
	transactions *prometheus.CounterVec
	approvals    *prometheus.CounterVec

	population   *prometheus.GaugeVec
	housingStock *prometheus.GaugeVec
	homeless     *prometheus.GaugeVec
	hpi          *prometheus.GaugeVec
	avPrice      *prometheus.GaugeVec
	offers       *prometheus.GaugeVec
	interestRate *prometheus.GaugeVec
	flowYield    *prometheus.GaugeVec
	totalDebt    *prometheus.GaugeVec
	creditSupply *prometheus.GaugeVec
}

func gauge(name, help string, labels ...string) *prometheus.GaugeVec {
	return prometheus.NewGaugeVec(prometheus.GaugeOpts{Namespace: namespace, Name: name, Help: help},
		append([]string{SeedLabel}, labels...))
}

func counter(name, help string, labels ...string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: name, Help: help},
		append([]string{SeedLabel}, labels...))
}

// New creates the collector and registers its series with reg. Series
// already registered by an earlier collector are reused.
func New(reg prometheus.Registerer) (*Collector, error) {
	c := &Collector{
		months:       counter("months_total", "Simulated months completed."),
		transactions: counter("transactions_total", "Completed sales and lettings.", MarketLabel),
		approvals:    counter("mortgage_approvals_total", "Mortgages issued."),

		population:   gauge("population", "Number of households."),
		housingStock: gauge("housing_stock", "Number of houses built."),
		homeless:     gauge("social_housing", "Households in social housing."),
		hpi:          gauge("hpi", "House price index."),
		avPrice:      gauge("average_price", "Average transaction price of the month.", MarketLabel),
		offers:       gauge("offers", "Offers left on the market after clearing.", MarketLabel),
		interestRate: gauge("mortgage_rate", "Bank mortgage interest rate."),
		flowYield:    gauge("rental_flow_yield", "Average gross rental yield of the month."),
		totalDebt:    gauge("mortgage_debt", "Outstanding mortgage principal."),
		creditSupply: gauge("credit_supply", "Principal lent during the month."),
	}
	for _, field := range []any{
		&c.months, &c.transactions, &c.approvals,
		&c.population, &c.housingStock, &c.homeless, &c.hpi, &c.avPrice,
		&c.offers, &c.interestRate, &c.flowYield, &c.totalDebt, &c.creditSupply,
	} {
		var err error
		switch f := field.(type) {
		case **prometheus.CounterVec:
			*f, err = register(reg, *f)
		case **prometheus.GaugeVec:
			*f, err = register(reg, *f)
		}
		if err != nil {
			return nil, err
		}
	}
	return c, nil
}

// register registers col, returning the existing collector instead when
// the series is already known.
func register[T prometheus.Collector](reg prometheus.Registerer, col T) (T, error) {
	err := reg.Register(col)
	if err == nil {
		return col, nil
	}
	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		if existing, ok := are.ExistingCollector.(T); ok {
			zap.S().Debugw("metric already registered, reusing it", "error", err)
			return existing, nil
		}
	}
	return col, errors.Wrap(err, "register metric")
}

// Observe publishes the month just completed by sim.
func (c *Collector) Observe(sim *engine.Simulation) error {
	ind := sim.Indicators()
	seed := strconv.FormatInt(sim.Seed, 10)

	c.months.WithLabelValues(seed).Inc()
	c.transactions.WithLabelValues(seed, "sale").Add(float64(ind.Sales))
	c.transactions.WithLabelValues(seed, "rental").Add(float64(ind.Lets))
	c.approvals.WithLabelValues(seed).Add(float64(ind.Approvals))

	c.population.WithLabelValues(seed).Set(float64(ind.Population))
	c.housingStock.WithLabelValues(seed).Set(float64(ind.HousingStock))
	c.homeless.WithLabelValues(seed).Set(float64(ind.Homeless))
	c.hpi.WithLabelValues(seed).Set(ind.HPI)
	c.avPrice.WithLabelValues(seed, "sale").Set(ind.AvSalePrice)
	c.avPrice.WithLabelValues(seed, "rental").Set(ind.AvRent)
	c.offers.WithLabelValues(seed, "sale").Set(float64(ind.SaleOffers))
	c.offers.WithLabelValues(seed, "rental").Set(float64(ind.RentalOffers))
	c.interestRate.WithLabelValues(seed).Set(ind.InterestRate)
	c.flowYield.WithLabelValues(seed).Set(ind.FlowYield)
	c.totalDebt.WithLabelValues(seed).Set(ind.TotalDebt)
	c.creditSupply.WithLabelValues(seed).Set(ind.CreditSupply)
	return nil
}

// Handler serves the registry in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
