package stats

// CoreIndicators is the monthly summary of one run, published after the
// credit step.
type CoreIndicators struct {
	Month int `json:"month" db:"month"`

	Population   int `json:"population" db:"population"`
	HousingStock int `json:"housing_stock" db:"housing_stock"`
	Homeless     int `json:"homeless" db:"homeless"`
	Renters      int `json:"renters" db:"renters"`
	Owners       int `json:"owners" db:"owners"`
	Investors    int `json:"investors" db:"investors"`
	Bankrupt     int `json:"bankrupt" db:"bankrupt"`

	HPI          float64 `json:"hpi" db:"hpi"`
	AnnualHPA    float64 `json:"annual_hpa" db:"annual_hpa"`
	AvSalePrice  float64 `json:"av_sale_price" db:"av_sale_price"`
	AvRent       float64 `json:"av_rent" db:"av_rent"`
	DaysOnMarket float64 `json:"days_on_market" db:"days_on_market"`
	FlowYield    float64 `json:"flow_yield" db:"flow_yield"`

	Sales        int `json:"sales" db:"sales"`
	FTBSales     int `json:"ftb_sales" db:"ftb_sales"`
	BTLSales     int `json:"btl_sales" db:"btl_sales"`
	Lets         int `json:"lets" db:"lets"`
	SaleOffers   int `json:"sale_offers" db:"sale_offers"`
	RentalOffers int `json:"rental_offers" db:"rental_offers"`

	InterestRate  float64 `json:"interest_rate" db:"interest_rate"`
	Approvals     int     `json:"approvals" db:"approvals"`
	OverLTI       int     `json:"over_lti" db:"over_lti"`
	CreditSupply  float64 `json:"credit_supply" db:"credit_supply"`
	TotalDebt     float64 `json:"total_debt" db:"total_debt"`
	TotalDeposits float64 `json:"total_deposits" db:"total_deposits"`
}
