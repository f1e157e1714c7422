// Package config holds every tunable parameter of the housing model.
// Values come from Defaults, optionally overridden by a YAML file and by
// HOUSING_* environment variables.
package config

import (
	"math"

	"github.com/pkg/errors"
)

// Calendar constants.
const (
	MonthsInYear = 12
	DaysInMonth  = 30
)

// Config is the complete parameter set of one simulation.
type Config struct {
	Simulation   Simulation   `mapstructure:"simulation" yaml:"simulation"`
	Market       Market       `mapstructure:"market" yaml:"market"`
	Household    Household    `mapstructure:"household" yaml:"household"`
	Bank         Bank         `mapstructure:"bank" yaml:"bank"`
	CentralBank  CentralBank  `mapstructure:"central_bank" yaml:"central_bank"`
	Construction Construction `mapstructure:"construction" yaml:"construction"`
	Government   Government   `mapstructure:"government" yaml:"government"`
	Demographics Demographics `mapstructure:"demographics" yaml:"demographics"`
	Output       Output       `mapstructure:"output" yaml:"output"`
}

// Simulation controls run length and reproducibility.
type Simulation struct {
	Seed             int64 `mapstructure:"seed" yaml:"seed"`
	NSteps           int   `mapstructure:"n_steps" yaml:"n_steps"`
	NSims            int   `mapstructure:"n_sims" yaml:"n_sims"`
	TargetPopulation int   `mapstructure:"target_population" yaml:"target_population"`
	ReportEvery      int   `mapstructure:"report_every" yaml:"report_every"` // months between log reports
}

// Market parameters shared by the sale and rental markets.
type Market struct {
	NQuality               int     `mapstructure:"n_quality" yaml:"n_quality"`
	Bidup                  float64 `mapstructure:"bidup" yaml:"bidup"`
	AveragePriceDecay      float64 `mapstructure:"average_price_decay" yaml:"average_price_decay"`
	HPIMedian              float64 `mapstructure:"hpi_median" yaml:"hpi_median"`
	HPIShape               float64 `mapstructure:"hpi_shape" yaml:"hpi_shape"`
	RentGrossYield         float64 `mapstructure:"rent_gross_yield" yaml:"rent_gross_yield"`
	TenancyLengthAverage   int     `mapstructure:"tenancy_length_average" yaml:"tenancy_length_average"`
	TenancyLengthEpsilon   int     `mapstructure:"tenancy_length_epsilon" yaml:"tenancy_length_epsilon"`
	BidQualityWindow       int     `mapstructure:"bid_quality_window" yaml:"bid_quality_window"`
	ClearingPopulationUnit int     `mapstructure:"clearing_population_unit" yaml:"clearing_population_unit"` // households per clearing round
	ClearingBookUnit       int     `mapstructure:"clearing_book_unit" yaml:"clearing_book_unit"`             // book entries per extra round
}

// Household behaviour parameters.
type Household struct {
	ReturnOnFinancialWealth float64 `mapstructure:"return_on_financial_wealth" yaml:"return_on_financial_wealth"`

	BTLEnabled               bool    `mapstructure:"btl_enabled" yaml:"btl_enabled"`
	PInvestor                float64 `mapstructure:"p_investor" yaml:"p_investor"`
	MinInvestorPercentile    float64 `mapstructure:"min_investor_percentile" yaml:"min_investor_percentile"`
	FundamentalistCapGain    float64 `mapstructure:"fundamentalist_cap_gain_coeff" yaml:"fundamentalist_cap_gain_coeff"`
	TrendCapGain             float64 `mapstructure:"trend_cap_gain_coeff" yaml:"trend_cap_gain_coeff"`
	PFundamentalist          float64 `mapstructure:"p_fundamentalist" yaml:"p_fundamentalist"`
	BTLYieldScaling          bool    `mapstructure:"btl_yield_scaling" yaml:"btl_yield_scaling"`
	BTLChoiceIntensity       float64 `mapstructure:"btl_choice_intensity" yaml:"btl_choice_intensity"`
	BTLChoiceMinBankBalance  float64 `mapstructure:"btl_choice_min_bank_balance" yaml:"btl_choice_min_bank_balance"`
	BTLBidTopQualityMultiple float64 `mapstructure:"btl_bid_top_quality_multiple" yaml:"btl_bid_top_quality_multiple"`

	DesiredRentIncomeFraction float64 `mapstructure:"desired_rent_income_fraction" yaml:"desired_rent_income_fraction"`
	PsychologicalCostRenting  float64 `mapstructure:"psychological_cost_of_renting" yaml:"psychological_cost_of_renting"`
	SensitivityRentOrPurchase float64 `mapstructure:"sensitivity_rent_or_purchase" yaml:"sensitivity_rent_or_purchase"`
	BankBalanceForCashDown    float64 `mapstructure:"bank_balance_for_cash_downpayment" yaml:"bank_balance_for_cash_downpayment"`
	HPAExpectationFactor      float64 `mapstructure:"hpa_expectation_factor" yaml:"hpa_expectation_factor"`
	HPAYearsToCheck           int     `mapstructure:"hpa_years_to_check" yaml:"hpa_years_to_check"`
	HoldPeriod                float64 `mapstructure:"hold_period" yaml:"hold_period"` // years

	PSalePriceReduce float64 `mapstructure:"p_sale_price_reduce" yaml:"p_sale_price_reduce"`
	ReductionMu      float64 `mapstructure:"reduction_mu" yaml:"reduction_mu"`
	ReductionSigma   float64 `mapstructure:"reduction_sigma" yaml:"reduction_sigma"`

	ConsumptionFraction          float64 `mapstructure:"consumption_fraction" yaml:"consumption_fraction"`
	EssentialConsumptionFraction float64 `mapstructure:"essential_consumption_fraction" yaml:"essential_consumption_fraction"`

	SaleMarkup         float64 `mapstructure:"sale_markup" yaml:"sale_markup"`
	SaleWeightDays     float64 `mapstructure:"sale_weight_days_on_market" yaml:"sale_weight_days_on_market"`
	SaleEpsilon        float64 `mapstructure:"sale_epsilon" yaml:"sale_epsilon"`
	BuyScale           float64 `mapstructure:"buy_scale" yaml:"buy_scale"`
	BuyWeightHPA       float64 `mapstructure:"buy_weight_hpa" yaml:"buy_weight_hpa"`
	BuyEpsilon         float64 `mapstructure:"buy_epsilon" yaml:"buy_epsilon"`
	RentMarkup         float64 `mapstructure:"rent_markup" yaml:"rent_markup"`
	RentEqMonths       float64 `mapstructure:"rent_eq_months_on_market" yaml:"rent_eq_months_on_market"`
	RentEpsilon        float64 `mapstructure:"rent_epsilon" yaml:"rent_epsilon"`
	RentMaxAmortPeriod float64 `mapstructure:"rent_max_amortization_period" yaml:"rent_max_amortization_period"` // years
	RentReduction      float64 `mapstructure:"rent_reduction" yaml:"rent_reduction"`

	DownpaymentFTBScale float64 `mapstructure:"downpayment_ftb_scale" yaml:"downpayment_ftb_scale"`
	DownpaymentFTBShape float64 `mapstructure:"downpayment_ftb_shape" yaml:"downpayment_ftb_shape"`
	DownpaymentOOScale  float64 `mapstructure:"downpayment_oo_scale" yaml:"downpayment_oo_scale"`
	DownpaymentOOShape  float64 `mapstructure:"downpayment_oo_shape" yaml:"downpayment_oo_shape"`
	DownpaymentMinInc   float64 `mapstructure:"downpayment_min_income" yaml:"downpayment_min_income"`
	DownpaymentBTLMean  float64 `mapstructure:"downpayment_btl_mean" yaml:"downpayment_btl_mean"`
	DownpaymentBTLEps   float64 `mapstructure:"downpayment_btl_epsilon" yaml:"downpayment_btl_epsilon"`

	DesiredBalanceAlpha   float64 `mapstructure:"desired_bank_balance_alpha" yaml:"desired_bank_balance_alpha"`
	DesiredBalanceBeta    float64 `mapstructure:"desired_bank_balance_beta" yaml:"desired_bank_balance_beta"`
	DesiredBalanceEpsilon float64 `mapstructure:"desired_bank_balance_epsilon" yaml:"desired_bank_balance_epsilon"`
	LowIncomePercentile   float64 `mapstructure:"low_income_percentile" yaml:"low_income_percentile"`

	SellAlpha    float64 `mapstructure:"decision_to_sell_alpha" yaml:"decision_to_sell_alpha"`
	SellBeta     float64 `mapstructure:"decision_to_sell_beta" yaml:"decision_to_sell_beta"`
	SellHPC      float64 `mapstructure:"decision_to_sell_hpc" yaml:"decision_to_sell_hpc"`
	SellInterest float64 `mapstructure:"decision_to_sell_interest" yaml:"decision_to_sell_interest"`

	BankruptcyCashInjection float64 `mapstructure:"bankruptcy_cash_injection" yaml:"bankruptcy_cash_injection"`
}

// Bank holds the private bank's own lending policy.
type Bank struct {
	MortgageDurationYears int     `mapstructure:"mortgage_duration_years" yaml:"mortgage_duration_years"`
	InitialBaseRate       float64 `mapstructure:"initial_base_rate" yaml:"initial_base_rate"`
	InitialRate           float64 `mapstructure:"initial_rate" yaml:"initial_rate"`
	CreditSupplyTarget    float64 `mapstructure:"credit_supply_target" yaml:"credit_supply_target"` // per household per month
	DemandSensitivity     float64 `mapstructure:"demand_sensitivity" yaml:"demand_sensitivity"`
	LTVFirstTimeBuyer     float64 `mapstructure:"max_ftb_ltv" yaml:"max_ftb_ltv"`
	LTVOwnerOccupier      float64 `mapstructure:"max_oo_ltv" yaml:"max_oo_ltv"`
	LTVBuyToLet           float64 `mapstructure:"max_btl_ltv" yaml:"max_btl_ltv"`
	LTIFirstTimeBuyer     float64 `mapstructure:"max_ftb_lti" yaml:"max_ftb_lti"`
	LTIOwnerOccupier      float64 `mapstructure:"max_oo_lti" yaml:"max_oo_lti"`
}

// CentralBank holds the regulator's limits.
type CentralBank struct {
	LTIFirstTimeBuyer       float64 `mapstructure:"max_ftb_lti" yaml:"max_ftb_lti"`
	LTIOwnerOccupier        float64 `mapstructure:"max_oo_lti" yaml:"max_oo_lti"`
	FractionOverMaxLTI      float64 `mapstructure:"fraction_oo_over_max_lti" yaml:"fraction_oo_over_max_lti"`
	AffordabilityCoeff      float64 `mapstructure:"affordability_coeff" yaml:"affordability_coeff"`
	BTLStressedInterestRate float64 `mapstructure:"btl_stressed_interest" yaml:"btl_stressed_interest"`
	MaxICR                  float64 `mapstructure:"max_icr" yaml:"max_icr"`
}

// Construction sector parameters.
type Construction struct {
	HousesPerHousehold float64 `mapstructure:"houses_per_household" yaml:"houses_per_household"`
	UnsoldPriceDecay   float64 `mapstructure:"unsold_price_decay" yaml:"unsold_price_decay"`
}

// Government tax schedule. Bands and rates are marginal: each rate applies
// to income above the matching band.
type Government struct {
	PersonalAllowanceLimit float64   `mapstructure:"personal_allowance_limit" yaml:"personal_allowance_limit"`
	AllowanceTaperRate     float64   `mapstructure:"allowance_taper_rate" yaml:"allowance_taper_rate"`
	IncomeSupport          float64   `mapstructure:"monthly_income_support" yaml:"monthly_income_support"`
	TaxBands               []float64 `mapstructure:"tax_bands" yaml:"tax_bands"`
	TaxRates               []float64 `mapstructure:"tax_rates" yaml:"tax_rates"`
	NIBands                []float64 `mapstructure:"ni_bands" yaml:"ni_bands"`
	NIRates                []float64 `mapstructure:"ni_rates" yaml:"ni_rates"`
}

// Demographics parameterises the default income and age-structure provider.
type Demographics struct {
	MinAge           float64 `mapstructure:"min_age" yaml:"min_age"`
	AgeBinWidth      float64 `mapstructure:"age_bin_width" yaml:"age_bin_width"`
	NAgeBins         int     `mapstructure:"n_age_bins" yaml:"n_age_bins"`
	TaperAge         float64 `mapstructure:"taper_age" yaml:"taper_age"` // population share declines after this age
	IncomeLogMean    float64 `mapstructure:"income_log_mean" yaml:"income_log_mean"`
	IncomeLogSigma   float64 `mapstructure:"income_log_sigma" yaml:"income_log_sigma"`
	IncomePeakAge    float64 `mapstructure:"income_peak_age" yaml:"income_peak_age"`
	IncomeAgeCurve   float64 `mapstructure:"income_age_curvature" yaml:"income_age_curvature"`
	IncomeMaxAge     float64 `mapstructure:"income_max_age" yaml:"income_max_age"`
}

// Output controls where results go. None of it affects model dynamics.
type Output struct {
	DBPath       string `mapstructure:"db_path" yaml:"db_path"`
	RecordEvery  int    `mapstructure:"record_every" yaml:"record_every"`
	RecordSales  bool   `mapstructure:"record_sales" yaml:"record_sales"`
	StartRecord  int    `mapstructure:"start_record" yaml:"start_record"`
	APIPort      int    `mapstructure:"api_port" yaml:"api_port"`
	AdminKey     string `mapstructure:"admin_key" yaml:"admin_key"`
	LogLevel     string `mapstructure:"log_level" yaml:"log_level"`
	LogFormat    string `mapstructure:"log_format" yaml:"log_format"`
	MonthDelayMs int    `mapstructure:"month_delay_ms" yaml:"month_delay_ms"`
}

// Derived holds parameters computed from the primary ones.
type Derived struct {
	HPIRecordLength int
	E               float64 // monthly decay for days-on-market averages
	G               float64 // monthly decay for per-quality price averages
	HPIReference    float64
	MonthlyPSell    float64
	NPayments       int
	K               float64 // decay for fast household-level averages
	KL              float64 // decay for slow household-level averages
}

// Derive computes the dependent parameters.
func (c *Config) Derive() Derived {
	tau := 0.02 * float64(c.Simulation.TargetPopulation)
	return Derived{
		HPIRecordLength: c.Household.HPAYearsToCheck*MonthsInYear + 3,
		E:               math.Exp(-1.0 / tau),
		G:               math.Exp(-float64(c.Market.NQuality) / tau),
		HPIReference:    math.Exp(math.Log(c.Market.HPIMedian) + c.Market.HPIShape*c.Market.HPIShape/2.0),
		MonthlyPSell:    MonthlyHazard(1.0 / c.Household.HoldPeriod),
		NPayments:       c.Bank.MortgageDurationYears * MonthsInYear,
		K:               math.Exp(-10000.0 / (float64(c.Simulation.TargetPopulation) * 50.0)),
		KL:              math.Exp(-10000.0 / (float64(c.Simulation.TargetPopulation) * 50.0 * 200.0)),
	}
}

// MonthlyHazard converts an annual event probability into the monthly
// probability with the same one-year compound probability.
func MonthlyHazard(annual float64) float64 {
	if annual <= 0 {
		return 0
	}
	if annual >= 1 {
		return 1
	}
	return 1.0 - math.Pow(1.0-annual, 1.0/MonthsInYear)
}

// Validate rejects parameter sets that would make the model ill-defined.
func (c *Config) Validate() error {
	switch {
	case c.Simulation.NSteps <= 0:
		return errors.Errorf("simulation.n_steps must be positive, got %d", c.Simulation.NSteps)
	case c.Simulation.NSims <= 0:
		return errors.Errorf("simulation.n_sims must be positive, got %d", c.Simulation.NSims)
	case c.Simulation.TargetPopulation <= 0:
		return errors.Errorf("simulation.target_population must be positive, got %d", c.Simulation.TargetPopulation)
	case c.Market.NQuality <= 0:
		return errors.Errorf("market.n_quality must be positive, got %d", c.Market.NQuality)
	case c.Market.Bidup < 1:
		return errors.Errorf("market.bidup must be at least 1, got %v", c.Market.Bidup)
	case c.Market.HPIMedian <= 0 || c.Market.HPIShape <= 0:
		return errors.New("market.hpi_median and market.hpi_shape must be positive")
	case c.Market.TenancyLengthEpsilon < 0 || c.Market.TenancyLengthAverage <= c.Market.TenancyLengthEpsilon:
		return errors.New("market tenancy length must stay positive")
	case c.Market.ClearingPopulationUnit <= 0 || c.Market.ClearingBookUnit <= 0:
		return errors.New("market clearing units must be positive")
	case c.Household.HoldPeriod <= 1:
		return errors.Errorf("household.hold_period must exceed one year, got %v", c.Household.HoldPeriod)
	case c.Household.HPAYearsToCheck <= 0:
		return errors.New("household.hpa_years_to_check must be positive")
	case c.Household.RentEqMonths <= 1:
		return errors.New("household.rent_eq_months_on_market must exceed 1")
	case c.Household.MinInvestorPercentile <= 0 || c.Household.MinInvestorPercentile >= 1:
		return errors.New("household.min_investor_percentile must be in (0, 1)")
	case c.Household.DownpaymentMinInc >= 1:
		return errors.New("household.downpayment_min_income must be below 1")
	case c.Bank.MortgageDurationYears <= 0:
		return errors.New("bank.mortgage_duration_years must be positive")
	case c.Bank.DemandSensitivity <= 0:
		return errors.New("bank.demand_sensitivity must be positive")
	case !inUnit(c.Bank.LTVFirstTimeBuyer) || !inUnit(c.Bank.LTVOwnerOccupier) || !inUnit(c.Bank.LTVBuyToLet):
		return errors.New("bank LTV limits must be in (0, 1)")
	case c.CentralBank.MaxICR <= 0 || c.CentralBank.BTLStressedInterestRate <= 0:
		return errors.New("central_bank ICR and stressed rate must be positive")
	case len(c.Government.TaxBands) != len(c.Government.TaxRates):
		return errors.New("government tax bands and rates differ in length")
	case len(c.Government.NIBands) != len(c.Government.NIRates):
		return errors.New("government NI bands and rates differ in length")
	case len(c.Government.TaxBands) == 0:
		return errors.New("government.tax_bands must not be empty")
	case c.Demographics.NAgeBins <= 0 || c.Demographics.AgeBinWidth <= 0:
		return errors.New("demographics age bins must be positive")
	}
	return nil
}

func inUnit(v float64) bool { return v > 0 && v < 1 }
