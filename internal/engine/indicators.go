package engine

import (
	"github.com/talgya/housing-market/internal/stats"
)

// collectIndicators summarises the month once markets have cleared and
// the bank has stepped.
func (s *Simulation) collectIndicators(month int) stats.CoreIndicators {
	env := s.Env
	bank := env.Bank.Stats()
	ind := stats.CoreIndicators{
		Month:        month,
		Population:   env.Households.Len(),
		HousingStock: env.Stock.Len(),

		HPI:          env.SaleStats.HPI(),
		AnnualHPA:    env.SaleStats.AnnualHPA(),
		AvSalePrice:  env.SaleStats.AvSoldPrice(),
		AvRent:       env.RentalStats.AvSoldPrice(),
		DaysOnMarket: env.SaleStats.ExpAvDaysOnMarket(),
		FlowYield:    env.RentalStats.AvFlowYield(),

		Sales:        env.SaleStats.Sales(),
		FTBSales:     env.SaleStats.FTBSales(),
		BTLSales:     env.SaleStats.BTLSales(),
		Lets:         env.RentalStats.Sales(),
		SaleOffers:   env.Sale.NumOffers(),
		RentalOffers: env.Rental.NumOffers(),

		InterestRate: bank.InterestRate,
		Approvals:    bank.Approvals,
		OverLTI:      bank.OverLTI,
		CreditSupply: bank.CreditSupply,
		TotalDebt:    bank.TotalDebt,
	}
	for _, id := range env.Households.IDs() {
		h := env.Households.Get(id)
		switch {
		case h.InSocialHousing():
			ind.Homeless++
		case h.IsRenting():
			ind.Renters++
		default:
			ind.Owners++
		}
		if h.NInvestmentProperties() > 0 {
			ind.Investors++
		}
		if h.Bankrupt {
			ind.Bankrupt++
		}
		ind.TotalDeposits += h.BankBalance()
	}
	return ind
}
