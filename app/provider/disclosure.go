package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/lysyi3m/disclosure-comb/app/database"
	"github.com/shopspring/decimal"
)

const (
	tickerSearchPath = "/new/information/topSearch/query"
	announcementPath = "/new/hisAnnouncement/query"
	fullTextPath     = "/new/fulltextSearch/full"
	overviewPath     = "/data20/companyOverview/getHeadStripData"

	reportCategories = "category_ndbg_szsh;category_sf_szsh;"

	categoryAShare   = "A股"
	categoryHongKong = "港股"
)

var highlightMarkup = regexp.MustCompile(`</?em>`)

type segment struct {
	name   string
	column string
	plate  string
}

var (
	segmentShenzhen = segment{name: "shenzhen", column: "szse", plate: "sz"}
	segmentShanghai = segment{name: "shanghai", column: "sse", plate: "sh"}
	segmentBeijing  = segment{name: "beijing", column: "bj", plate: "bj;third"}
	segmentHongKong = segment{name: "hongkong", column: "hke", plate: "hke"}
)

// segmentFor maps a ticker match to the query parameters of its exchange.
func segmentFor(category, code string) (segment, bool) {
	switch category {
	case categoryHongKong:
		return segmentHongKong, true
	case categoryAShare:
		if code == "" {
			return segment{}, false
		}
		switch code[0] {
		case '0', '3':
			return segmentShenzhen, true
		case '6':
			return segmentShanghai, true
		case '8', '4':
			return segmentBeijing, true
		}
	}
	return segment{}, false
}

// Disclosure queries the cninfo-style announcement API.
type Disclosure struct {
	client    *Client
	baseURL   string
	staticURL *url.URL
	location  *time.Location
}

func NewDisclosure(client *Client, baseURL, staticURL string, location *time.Location) (*Disclosure, error) {
	static, err := url.Parse(staticURL)
	if err != nil {
		return nil, fmt.Errorf("invalid static URL %q: %w", staticURL, err)
	}
	if location == nil {
		location = time.Local
	}

	return &Disclosure{
		client:    client,
		baseURL:   strings.TrimRight(baseURL, "/"),
		staticURL: static,
		location:  location,
	}, nil
}

type tickerRecord struct {
	OrgID    string `json:"orgId"`
	Code     string `json:"code"`
	Name     string `json:"zwjc"`
	Category string `json:"category"`
	Pinyin   string `json:"pinyin"`
}

// SearchTickers returns the provider's suggestions for a code, name, pinyin
// or keyword. Failures yield an empty result.
func (d *Disclosure) SearchTickers(ctx context.Context, query string) []TickerMatch {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil
	}

	params := url.Values{}
	params.Set("keyWord", query)
	params.Set("maxNum", "10")

	data, err := d.client.PostForm(ctx, ProviderDisclosure, d.baseURL+tickerSearchPath+"?"+params.Encode(), nil)
	if err != nil {
		slog.Warn("Ticker search failed", "query", query, "error", err)
		return nil
	}

	var records []tickerRecord
	if err := json.Unmarshal(data, &records); err != nil {
		slog.Warn("Failed to decode ticker search response", "query", query, "error", err)
		return nil
	}

	matches := make([]TickerMatch, 0, len(records))
	for _, r := range records {
		matches = append(matches, TickerMatch{
			OrgID:    r.OrgID,
			Code:     r.Code,
			Name:     r.Name,
			Category: r.Category,
			Pinyin:   r.Pinyin,
		})
	}

	return matches
}

// flexibleID accepts announcement ids encoded either as JSON strings or numbers.
type flexibleID int64

func (f *flexibleID) UnmarshalJSON(b []byte) error {
	b = bytes.Trim(b, `"`)
	if len(b) == 0 || string(b) == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid announcement id %q: %w", b, err)
	}
	*f = flexibleID(v)
	return nil
}

type announcementRecord struct {
	SecCode    string     `json:"secCode"`
	SecName    string     `json:"secName"`
	OrgID      string     `json:"orgId"`
	ID         flexibleID `json:"announcementId"`
	Title      string     `json:"announcementTitle"`
	Time       int64      `json:"announcementTime"`
	AdjunctURL string     `json:"adjunctUrl"`
}

type announcementResponse struct {
	Announcements      []announcementRecord `json:"announcements"`
	TotalPages         int                  `json:"totalpages"`
	TotalAnnouncements int                  `json:"totalAnnouncement"`
}

// ListAnnouncements fetches the first page of announcements for code. Any
// failure, including an unknown code, yields an empty list.
func (d *Disclosure) ListAnnouncements(ctx context.Context, code string, pageSize int, category Category) []database.Announcement {
	matches := d.SearchTickers(ctx, code)
	if len(matches) == 0 {
		slog.Debug("No ticker match", "code", code)
		return nil
	}
	match := bestMatch(matches, code)

	seg, ok := segmentFor(match.Category, match.Code)
	if !ok {
		slog.Warn("Unsupported market segment", "code", match.Code, "category", match.Category)
		return nil
	}

	form := url.Values{}
	form.Set("stock", match.Code+","+match.OrgID)
	form.Set("pageSize", strconv.Itoa(pageSize))
	form.Set("pageNum", "1")
	form.Set("column", seg.column)
	form.Set("plate", seg.plate)
	form.Set("secid", "")
	form.Set("sortName", "")
	form.Set("sortType", "")
	form.Set("isHLtitle", "true")

	switch category {
	case CategoryReport:
		form.Set("tabName", "fulltext")
		form.Set("category", reportCategories)
	case CategoryRelation:
		form.Set("tabName", "relation")
		form.Set("category", "")
	default:
		form.Set("tabName", "")
		form.Set("category", "")
	}

	data, err := d.client.PostForm(ctx, ProviderDisclosure, d.baseURL+announcementPath, form)
	if err != nil {
		slog.Warn("Announcement query failed", "code", code, "segment", seg.name, "error", err)
		return nil
	}

	var resp announcementResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		slog.Warn("Failed to decode announcement response", "code", code, "error", err)
		return nil
	}

	return d.convert(resp.Announcements)
}

// bestMatch prefers the suggestion whose code equals the query. Suggestions
// are ranked loosely, e.g. "00700" may list 000700 before 00700.
func bestMatch(matches []TickerMatch, code string) TickerMatch {
	for _, match := range matches {
		if match.Code == code {
			return match
		}
	}
	return matches[0]
}

// SearchFullText runs a keyword search over all announcements, newest first.
func (d *Disclosure) SearchFullText(ctx context.Context, keyword string, pageNum int) FullTextPage {
	keyword = strings.TrimSpace(keyword)
	if keyword == "" {
		return FullTextPage{}
	}
	if pageNum < 1 {
		pageNum = 1
	}

	params := url.Values{}
	params.Set("searchkey", keyword)
	params.Set("sdate", "")
	params.Set("edate", "")
	params.Set("isfulltext", "false")
	params.Set("sortName", "pubdate")
	params.Set("sortType", "desc")
	params.Set("pageNum", strconv.Itoa(pageNum))

	data, err := d.client.Get(ctx, ProviderDisclosure, d.baseURL+fullTextPath+"?"+params.Encode())
	if err != nil {
		slog.Warn("Full-text search failed", "keyword", keyword, "page", pageNum, "error", err)
		return FullTextPage{}
	}

	var resp announcementResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		slog.Warn("Failed to decode full-text search response", "keyword", keyword, "error", err)
		return FullTextPage{}
	}

	return FullTextPage{
		Announcements:      d.convert(resp.Announcements),
		TotalPages:         resp.TotalPages,
		TotalAnnouncements: resp.TotalAnnouncements,
	}
}

type overviewResponse struct {
	Data struct {
		Records []struct {
			F020N json.RawMessage `json:"F020N"`
			F021N json.RawMessage `json:"F021N"`
			F041N json.RawMessage `json:"F041N"`
			F102N json.RawMessage `json:"F102N"`
			F005N json.RawMessage `json:"F005N"`
			F089N json.RawMessage `json:"F089N"`
			F109N json.RawMessage `json:"F109N"`
			F081N json.RawMessage `json:"F081N"`
			F115N json.RawMessage `json:"F115N"`
			F111N json.RawMessage `json:"F111N"`
		} `json:"records"`
	} `json:"data"`
}

func (d *Disclosure) CompanyOverview(ctx context.Context, code string) (*Overview, bool) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, false
	}

	data, err := d.client.Get(ctx, ProviderDisclosure, d.baseURL+overviewPath+"?scode="+url.QueryEscape(code))
	if err != nil {
		slog.Warn("Company overview request failed", "code", code, "error", err)
		return nil, false
	}

	var resp overviewResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		slog.Warn("Failed to decode company overview", "code", code, "error", err)
		return nil, false
	}
	if len(resp.Data.Records) == 0 {
		return nil, false
	}

	r := resp.Data.Records[0]
	return &Overview{
		TotalShares: rawDecimal(r.F020N),
		FloatShares: rawDecimal(r.F021N),
		DebtRatio:   rawDecimal(r.F041N),
		NetProfit:   rawDecimal(r.F102N),
		PledgeRatio: rawDecimal(r.F005N),
		Revenue:     rawDecimal(r.F089N),
		Cash:        rawDecimal(r.F109N),
		ROE:         rawDecimal(r.F081N),
		Goodwill:    rawDecimal(r.F115N),
		Receivables: rawDecimal(r.F111N),
	}, true
}

func rawDecimal(raw json.RawMessage) decimal.NullDecimal {
	return parseDecimal(strings.Trim(string(raw), `"`))
}

func (d *Disclosure) convert(records []announcementRecord) []database.Announcement {
	announcements := make([]database.Announcement, 0, len(records))
	for _, r := range records {
		if r.ID == 0 {
			continue
		}

		announcements = append(announcements, database.Announcement{
			ID:        int64(r.ID),
			StockCode: r.SecCode,
			StockName: StripHighlight(r.SecName),
			Title:     StripHighlight(r.Title),
			Date:      d.calendarDay(r.Time),
			URL:       d.documentURL(r.AdjunctURL),
			State:     database.StateUnread,
		})
	}

	return announcements
}

func (d *Disclosure) calendarDay(ms int64) time.Time {
	t := time.UnixMilli(ms).In(d.location)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func (d *Disclosure) documentURL(adjunct string) string {
	if adjunct == "" {
		return ""
	}
	ref, err := url.Parse(adjunct)
	if err != nil {
		return adjunct
	}
	return d.staticURL.ResolveReference(ref).String()
}

// StripHighlight removes the <em> search highlight markup.
func StripHighlight(s string) string {
	return highlightMarkup.ReplaceAllString(s, "")
}
