package services

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/bimakw/walletsync/internal/domain/entities"
)

const (
	// EmptyValue is shown when a fiat value cannot be computed
	EmptyValue = "——"

	// UnknownBalance is shown when the balance must be refetched
	UnknownBalance = "N/A"
)

// TokenDTO is the API representation of a cached token
type TokenDTO struct {
	Address          string  `json:"address"`
	Name             string  `json:"name"`
	Symbol           string  `json:"symbol"`
	DisplayName      string  `json:"display_name"`
	Decimals         int     `json:"decimals"`
	IsEnabled        bool    `json:"is_enabled"`
	Balance          *string `json:"balance"`
	BalanceFormatted string  `json:"balance_formatted"`
	ValueUSD         string  `json:"value_usd"`
	PercentChange    string  `json:"percent_change"`
	ImageURL         string  `json:"image_url,omitempty"`
	UpdatedAt        string  `json:"updated_at"`
}

// TickerDTO is the API representation of a ticker
type TickerDTO struct {
	ID               string `json:"id"`
	Contract         string `json:"contract"`
	Price            string `json:"price"`
	PercentChange24h string `json:"percent_change_24h"`
	ImageURL         string `json:"image_url"`
}

// ScaleBalance converts a raw balance into token units rounded to 4 places
func ScaleBalance(raw decimal.Decimal, decimals int) decimal.Decimal {
	scaled := raw
	if decimals > 0 {
		scaled = raw.Shift(int32(-decimals))
	}
	return scaled.Round(4)
}

// FormatBalance renders a scaled balance without trailing zeros
func FormatBalance(scaled decimal.Decimal) string {
	if scaled.IsZero() {
		return "0"
	}
	return scaled.String()
}

// FormatValue renders balance * price in dollars, or EmptyValue when there is nothing to show
func FormatValue(scaled decimal.Decimal, ticker *entities.Ticker) string {
	if ticker == nil || scaled.IsZero() {
		return EmptyValue
	}
	price, ok := ticker.PriceValue()
	if !ok {
		return EmptyValue
	}
	return scaled.Mul(price).Round(2).String()
}

// FormatPercentChange renders "(+x%)" or "(-x%)"; a malformed value renders empty
func FormatPercentChange(ticker *entities.Ticker) string {
	if ticker == nil {
		return ""
	}
	change, ok := ticker.PercentChange()
	if !ok {
		return ""
	}
	sign := "+"
	if change.IsNegative() {
		sign = ""
	}
	return "(" + sign + ticker.PercentChange24h + "%)"
}

// tokenToDTO converts a token entity to a DTO
func tokenToDTO(t *entities.Token) TokenDTO {
	dto := TokenDTO{
		Address:          t.Address,
		Name:             t.Name,
		Symbol:           t.Symbol,
		DisplayName:      t.DisplayName(),
		Decimals:         t.Decimals,
		IsEnabled:        t.IsEnabled,
		BalanceFormatted: UnknownBalance,
		ValueUSD:         EmptyValue,
		PercentChange:    FormatPercentChange(t.Ticker),
	}

	if t.UpdatedTime > 0 {
		dto.UpdatedAt = time.UnixMilli(t.UpdatedTime).UTC().Format(time.RFC3339)
	}
	if t.Ticker != nil {
		dto.ImageURL = t.Ticker.Image
	}

	if t.Balance.Valid {
		raw := t.Balance.Decimal.String()
		dto.Balance = &raw

		scaled := ScaleBalance(t.Balance.Decimal, t.Decimals)
		dto.BalanceFormatted = FormatBalance(scaled)
		dto.ValueUSD = FormatValue(scaled, t.Ticker)
	}

	return dto
}

func tickerToDTO(t *entities.Ticker) TickerDTO {
	return TickerDTO{
		ID:               t.ID,
		Contract:         t.Contract,
		Price:            t.Price,
		PercentChange24h: t.PercentChange24h,
		ImageURL:         t.Image,
	}
}
