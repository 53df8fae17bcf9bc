package entities

import (
	"github.com/shopspring/decimal"
)

// TickerRecord is the persisted market data for a token contract
type TickerRecord struct {
	NetworkID        string `db:"network_id" json:"network_id"`
	WalletAddress    string `db:"wallet_address" json:"wallet_address"`
	Contract         string `db:"contract" json:"contract"`
	ID               string `db:"market_id" json:"id"`
	Price            string `db:"price" json:"price"`
	PercentChange24h string `db:"percent_change_24h" json:"percent_change_24h"`
	ImageURL         string `db:"image_url" json:"image_url"`
	CreatedTime      int64  `db:"created_time" json:"created_time"`
	UpdatedTime      int64  `db:"updated_time" json:"updated_time"`
}

// Ticker is market price data for a token, as supplied by the pricing source
type Ticker struct {
	ID               string `json:"id"`
	Contract         string `json:"contract"`
	Price            string `json:"price"`
	PercentChange24h string `json:"percent_change_24h"`
	Image            string `json:"image"`
}

// PriceValue parses the price; ok is false when upstream sent a malformed value
func (t *Ticker) PriceValue() (decimal.Decimal, bool) {
	d, err := decimal.NewFromString(t.Price)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

// PercentChange parses the 24h change; ok is false when upstream sent a malformed value
func (t *Ticker) PercentChange() (decimal.Decimal, bool) {
	d, err := decimal.NewFromString(t.PercentChange24h)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}
