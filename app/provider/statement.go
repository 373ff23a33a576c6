package provider

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/text/encoding/simplifiedchinese"
)

// StatementProvider reads financial statements from the 163-style service.
// Errors are returned as-is; callers decide how to degrade.
type StatementProvider struct {
	client  *Client
	baseURL string
}

func NewStatementProvider(client *Client, baseURL string) *StatementProvider {
	return &StatementProvider{
		client:  client,
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// LatestReportDate reads the newest report period from the statement's
// summary page.
func (p *StatementProvider) LatestReportDate(ctx context.Context, code, category string) (string, error) {
	data, err := p.client.Get(ctx, ProviderStatement, fmt.Sprintf("%s/f10/%s_%s.html", p.baseURL, category, code))
	if err != nil {
		return "", fmt.Errorf("failed to fetch statement page: %w", err)
	}

	decoded, err := simplifiedchinese.GBK.NewDecoder().Bytes(data)
	if err != nil {
		return "", fmt.Errorf("failed to decode statement page: %w", err)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(decoded))
	if err != nil {
		return "", fmt.Errorf("failed to parse statement page: %w", err)
	}

	date := strings.TrimSpace(doc.Find("div.col_r table tr").First().Find("th").First().Text())
	if date == "" {
		return "", fmt.Errorf("no report date found for %s_%s", category, code)
	}

	return date, nil
}

// FetchStatement downloads the full statement table. Blank cells and empty
// rows are dropped.
func (p *StatementProvider) FetchStatement(ctx context.Context, code, category string) ([][]string, error) {
	data, err := p.client.Get(ctx, ProviderStatement, fmt.Sprintf("%s/service/%s_%s.html", p.baseURL, category, code))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch statement: %w", err)
	}

	decoded, err := simplifiedchinese.GBK.NewDecoder().Bytes(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode statement: %w", err)
	}

	table := ParseStatement(string(decoded))
	if len(table) == 0 {
		return nil, fmt.Errorf("empty statement for %s_%s", category, code)
	}

	return table, nil
}

func ParseStatement(text string) [][]string {
	var table [][]string
	for _, line := range strings.Split(text, "\n") {
		var row []string
		for _, cell := range strings.Split(line, ",") {
			cell = strings.Trim(cell, " \t\r")
			if cell == "" {
				continue
			}
			row = append(row, cell)
		}
		if len(row) > 0 {
			table = append(table, row)
		}
	}
	return table
}
