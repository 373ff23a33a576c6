package provider

import (
	"errors"
	"fmt"
	"strings"

	"github.com/lysyi3m/disclosure-comb/app/database"
	"github.com/shopspring/decimal"
)

var ErrUnsupportedCode = errors.New("unsupported stock code")

// Provider names used for metrics and logs.
const (
	ProviderDisclosure = "disclosure"
	ProviderQuote      = "quote"
	ProviderStatement  = "statement"
	ProviderDocument   = "document"
)

type Category string

const (
	CategoryAll      Category = "all"
	CategoryReport   Category = "report"
	CategoryRelation Category = "relation"
)

func ParseCategory(s string) (Category, error) {
	switch c := Category(strings.ToLower(strings.TrimSpace(s))); c {
	case CategoryAll, CategoryReport, CategoryRelation:
		return c, nil
	case "":
		return CategoryAll, nil
	}
	return "", fmt.Errorf("unknown announcement category %q", s)
}

type TickerMatch struct {
	OrgID    string `json:"org_id"`
	Code     string `json:"code"`
	Name     string `json:"name"`
	Category string `json:"category"`
	Pinyin   string `json:"pinyin"`
}

type FullTextPage struct {
	Announcements      []database.Announcement
	TotalPages         int
	TotalAnnouncements int
}

// Overview is the company head-strip summary. Amounts are in 100M CNY,
// ratios in percent, as reported upstream.
type Overview struct {
	TotalShares decimal.NullDecimal `json:"total_shares"`
	FloatShares decimal.NullDecimal `json:"float_shares"`
	DebtRatio   decimal.NullDecimal `json:"debt_ratio"`
	NetProfit   decimal.NullDecimal `json:"net_profit"`
	PledgeRatio decimal.NullDecimal `json:"pledge_ratio"`
	Revenue     decimal.NullDecimal `json:"revenue"`
	Cash        decimal.NullDecimal `json:"cash"`
	ROE         decimal.NullDecimal `json:"roe"`
	Goodwill    decimal.NullDecimal `json:"goodwill"`
	Receivables decimal.NullDecimal `json:"receivables"`
}

type Market string

const (
	MarketShenzhen Market = "sz"
	MarketShanghai Market = "sh"
	MarketBeijing  Market = "bj"
	MarketHongKong Market = "hk"
)

// Quote holds the raw text fields of one quote line. Fields missing from a
// short response stay empty.
type Quote struct {
	Market       Market `json:"market"`
	Name         string `json:"name"`
	Code         string `json:"code"`
	LatestPrice  string `json:"latest_price"`
	ChangeAmount string `json:"change_amount"`
	ChangeRate   string `json:"change_rate"`
	PETTM        string `json:"pe_ttm"`
	MarketValue  string `json:"market_value"`
	PB           string `json:"pb"`
	FieldCount   int    `json:"field_count"`
}

type QuoteNumbers struct {
	LatestPrice  decimal.NullDecimal `json:"latest_price"`
	ChangeAmount decimal.NullDecimal `json:"change_amount"`
	ChangeRate   decimal.NullDecimal `json:"change_rate"`
	PETTM        decimal.NullDecimal `json:"pe_ttm"`
	MarketValue  decimal.NullDecimal `json:"market_value"`
	PB           decimal.NullDecimal `json:"pb"`
}

// Numbers parses the numeric fields. A field that is absent or not a number is
// reported as invalid rather than zero.
func (q *Quote) Numbers() QuoteNumbers {
	return QuoteNumbers{
		LatestPrice:  parseDecimal(q.LatestPrice),
		ChangeAmount: parseDecimal(q.ChangeAmount),
		ChangeRate:   parseDecimal(q.ChangeRate),
		PETTM:        parseDecimal(q.PETTM),
		MarketValue:  parseDecimal(q.MarketValue),
		PB:           parseDecimal(q.PB),
	}
}

func parseDecimal(s string) decimal.NullDecimal {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.NullDecimal{}
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: d, Valid: true}
}
