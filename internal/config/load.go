package config

import (
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of environment overrides, e.g.
// HOUSING_SIMULATION_SEED=7.
const EnvPrefix = "HOUSING"

// Defaults returns the calibrated baseline parameter set.
func Defaults() *Config {
	return &Config{
		Simulation: Simulation{
			Seed:             1,
			NSteps:           6000,
			NSims:            1,
			TargetPopulation: 10000,
			ReportEvery:      12,
		},
		Market: Market{
			NQuality:               48,
			Bidup:                  1.0075,
			AveragePriceDecay:      0.25,
			HPIMedian:              195000.0,
			HPIShape:               0.555,
			RentGrossYield:         0.05,
			TenancyLengthAverage:   18,
			TenancyLengthEpsilon:   6,
			BidQualityWindow:       2,
			ClearingPopulationUnit: 1000,
			ClearingBookUnit:       500,
		},
		Household: Household{
			ReturnOnFinancialWealth: 0.002,

			BTLEnabled:               true,
			PInvestor:                0.16,
			MinInvestorPercentile:    0.5,
			FundamentalistCapGain:    0.5,
			TrendCapGain:             0.9,
			PFundamentalist:          0.5,
			BTLYieldScaling:          false,
			BTLChoiceIntensity:       50.0,
			BTLChoiceMinBankBalance:  0.75,
			BTLBidTopQualityMultiple: 1.1,

			DesiredRentIncomeFraction: 0.33,
			PsychologicalCostRenting:  0.0916666666667,
			SensitivityRentOrPurchase: 0.000285714285714,
			BankBalanceForCashDown:    2.0,
			HPAExpectationFactor:      0.5,
			HPAYearsToCheck:           1,
			HoldPeriod:                11.0,

			PSalePriceReduce: 0.055,
			ReductionMu:      1.603,
			ReductionSigma:   0.617,

			ConsumptionFraction:          0.5,
			EssentialConsumptionFraction: 0.8,

			SaleMarkup:         0.04,
			SaleWeightDays:     0.011,
			SaleEpsilon:        0.05,
			BuyScale:           4.5,
			BuyWeightHPA:       0.08,
			BuyEpsilon:         0.14,
			RentMarkup:         0.0,
			RentEqMonths:       6.0,
			RentEpsilon:        0.05,
			RentMaxAmortPeriod: 20.833333333,
			RentReduction:      0.05,

			DownpaymentFTBScale: 10.30,
			DownpaymentFTBShape: 0.9093,
			DownpaymentOOScale:  11.155,
			DownpaymentOOShape:  0.7538,
			DownpaymentMinInc:   0.3,
			DownpaymentBTLMean:  0.3,
			DownpaymentBTLEps:   0.1,

			DesiredBalanceAlpha:   -32.0013877,
			DesiredBalanceBeta:    4.07,
			DesiredBalanceEpsilon: 0.1,
			LowIncomePercentile:   0.3,

			SellAlpha:    4.0,
			SellBeta:     5.0,
			SellHPC:      0.05,
			SellInterest: 0.03,

			BankruptcyCashInjection: 1.0,
		},
		Bank: Bank{
			MortgageDurationYears: 25,
			InitialBaseRate:       0.005,
			InitialRate:           0.02,
			CreditSupplyTarget:    380,
			DemandSensitivity:     10 * 1e10,
			LTVFirstTimeBuyer:     0.95,
			LTVOwnerOccupier:      0.90,
			LTVBuyToLet:           0.80,
			LTIFirstTimeBuyer:     6.0,
			LTIOwnerOccupier:      6.0,
		},
		CentralBank: CentralBank{
			LTIFirstTimeBuyer:       6.0,
			LTIOwnerOccupier:        6.0,
			FractionOverMaxLTI:      0.15,
			AffordabilityCoeff:      0.5,
			BTLStressedInterestRate: 0.05,
			MaxICR:                  1.25,
		},
		Construction: Construction{
			HousesPerHousehold: 0.82,
			UnsoldPriceDecay:   0.95,
		},
		Government: Government{
			PersonalAllowanceLimit: 100000.0,
			AllowanceTaperRate:     0.5,
			IncomeSupport:          492.7,
			TaxBands:               []float64{9440, 41450, 150000},
			TaxRates:               []float64{0.20, 0.40, 0.45},
			NIBands:                []float64{7748, 41444},
			NIRates:                []float64{0.12, 0.02},
		},
		Demographics: Demographics{
			MinAge:           16,
			AgeBinWidth:      1,
			NAgeBins:         84,
			TaperAge:         65,
			IncomeLogMean:    10.0,
			IncomeLogSigma:   0.6,
			IncomePeakAge:    48,
			IncomeAgeCurve:   0.0006,
			IncomeMaxAge:     90,
		},
		Output: Output{
			DBPath:       "data/housing.db",
			RecordEvery:  1,
			RecordSales:  false,
			StartRecord:  0,
			APIPort:      8080,
			LogLevel:     "info",
			LogFormat:    "console",
			MonthDelayMs: 0,
		},
	}
}

// Load reads the configuration: defaults, then the YAML file at path (if
// non-empty), then HOUSING_* environment variables. The result is validated.
func Load(path string) (*Config, error) {
	v := viper.New()
	if err := setDefaults(v, Defaults()); err != nil {
		return nil, err
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "failed reading config file [%s]", path)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.Wrap(err, "failed decoding config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid config")
	}
	return cfg, nil
}

// setDefaults registers every leaf key so that environment overrides are
// seen by Unmarshal.
func setDefaults(v *viper.Viper, cfg *Config) error {
	var tree map[string]any
	if err := mapstructure.Decode(cfg, &tree); err != nil {
		return errors.Wrap(err, "failed flattening default config")
	}
	for key, val := range flatten("", tree) {
		v.SetDefault(key, val)
	}
	return nil
}

func flatten(prefix string, m map[string]any) map[string]any {
	out := make(map[string]any)
	for k, val := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if sub, ok := val.(map[string]any); ok {
			for sk, sv := range flatten(key, sub) {
				out[sk] = sv
			}
			continue
		}
		out[key] = val
	}
	return out
}

// YAML renders the configuration as a YAML document.
func (c *Config) YAML() ([]byte, error) {
	out, err := yaml.Marshal(c)
	if err != nil {
		return nil, errors.Wrap(err, "failed encoding config")
	}
	return out, nil
}
