package provider

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/text/encoding/simplifiedchinese"
)

// quoteLayout holds the field positions of one market variant of the
// "~"-delimited quote line.
type quoteLayout struct {
	name         int
	code         int
	latestPrice  int
	changeAmount int
	changeRate   int
	peTTM        int
	marketValue  int
	pb           int
}

var (
	aShareLayout = quoteLayout{name: 1, code: 2, latestPrice: 3, changeAmount: 31, changeRate: 32, peTTM: 39, marketValue: 45, pb: 46}
	hkLayout     = quoteLayout{name: 1, code: 2, latestPrice: 3, changeAmount: 31, changeRate: 32, peTTM: 39, marketValue: 45, pb: 58}
)

// MarketFor routes a stock code to its quote market.
func MarketFor(code string) (Market, error) {
	switch {
	case len(code) == 6:
		switch code[0] {
		case '0', '3':
			return MarketShenzhen, nil
		case '6':
			return MarketShanghai, nil
		case '8', '4':
			return MarketBeijing, nil
		}
	case len(code) == 5 && code[0] == '0':
		return MarketHongKong, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedCode, code)
}

// QuoteProvider reads real-time quotes from the tencent-style quote API.
type QuoteProvider struct {
	client  *Client
	baseURL string
}

func NewQuoteProvider(client *Client, baseURL string) *QuoteProvider {
	return &QuoteProvider{
		client:  client,
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// GetQuote returns the latest quote for code, or false when the code is not
// routable or every attempt failed.
func (p *QuoteProvider) GetQuote(ctx context.Context, code string) (*Quote, bool) {
	code = strings.TrimSpace(code)
	market, err := MarketFor(code)
	if err != nil {
		slog.Debug("Skipping quote", "code", code, "error", err)
		return nil, false
	}

	data, err := p.client.Get(ctx, ProviderQuote, fmt.Sprintf("%s/q=%s%s", p.baseURL, market, code))
	if err != nil {
		slog.Warn("Quote request failed", "code", code, "error", err)
		return nil, false
	}

	decoded, err := simplifiedchinese.GBK.NewDecoder().Bytes(data)
	if err != nil {
		slog.Warn("Failed to decode quote response", "code", code, "error", err)
		return nil, false
	}

	quote, ok := parseQuote(decoded, market)
	if !ok {
		slog.Warn("Malformed quote response", "code", code)
		return nil, false
	}

	return quote, true
}

func parseQuote(body []byte, market Market) (*Quote, bool) {
	start := bytes.IndexByte(body, '"')
	if start < 0 {
		return nil, false
	}
	end := bytes.IndexByte(body[start+1:], '"')
	if end < 0 {
		return nil, false
	}

	fields := strings.Split(string(body[start+1:start+1+end]), "~")
	if len(fields) < 2 {
		return nil, false
	}

	layout := aShareLayout
	if market == MarketHongKong {
		layout = hkLayout
	}

	field := func(i int) string {
		if i < len(fields) {
			return fields[i]
		}
		return ""
	}

	return &Quote{
		Market:       market,
		Name:         field(layout.name),
		Code:         field(layout.code),
		LatestPrice:  field(layout.latestPrice),
		ChangeAmount: field(layout.changeAmount),
		ChangeRate:   field(layout.changeRate),
		PETTM:        field(layout.peTTM),
		MarketValue:  field(layout.marketValue),
		PB:           field(layout.pb),
		FieldCount:   len(fields),
	}, true
}
