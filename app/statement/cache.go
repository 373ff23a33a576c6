package statement

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/lysyi3m/disclosure-comb/app/metrics"
	"golang.org/x/sync/singleflight"
)

var (
	ErrUnavailable = errors.New("statement unavailable")
	ErrInvalidKey  = errors.New("invalid statement key")
)

const (
	BalanceSheet    = "zcfzb"
	IncomeStatement = "lrb"
	CashFlow        = "xjllb"
)

var (
	codePattern = regexp.MustCompile(`^[0-9]{5,6}$`)
	datePattern = regexp.MustCompile(`^[0-9A-Za-z-]+$`)
)

// Table is a statement with period headers in row 0 and line items in column 0.
type Table [][]string

type Entry struct {
	Date  string `json:"date"`
	File  string `json:"file"`
	Stale bool   `json:"stale,omitempty"`
}

type Source interface {
	LatestReportDate(ctx context.Context, code, category string) (string, error)
	FetchStatement(ctx context.Context, code, category string) ([][]string, error)
}

// Cache keeps one CSV file per (code, category, report date). Entries are
// never invalidated: a newer report date simply adds a file.
type Cache struct {
	dir    string
	source Source
	group  singleflight.Group
}

func NewCache(dir string, source Source) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	return &Cache{dir: dir, source: source}, nil
}

func ValidCategory(category string) bool {
	switch category {
	case BalanceSheet, IncomeStatement, CashFlow:
		return true
	}
	return false
}

func validateKey(code, category string) error {
	if !codePattern.MatchString(code) {
		return fmt.Errorf("%w: code %q", ErrInvalidKey, code)
	}
	if !ValidCategory(category) {
		return fmt.Errorf("%w: category %q", ErrInvalidKey, category)
	}
	return nil
}

// fetchTimeout bounds a shared fetch, which does not follow the cancellation
// of any single caller.
const fetchTimeout = 2 * time.Minute

// Get returns the statement for the latest report date, fetching and storing
// it only when no file exists for that date yet.
func (c *Cache) Get(ctx context.Context, code, category string) (Table, error) {
	_, table, err := c.GetEntry(ctx, code, category)
	return table, err
}

// GetEntry is Get that also reports which cache entry was served.
func (c *Cache) GetEntry(ctx context.Context, code, category string) (Entry, Table, error) {
	if err := validateKey(code, category); err != nil {
		return Entry{}, nil, err
	}

	date, err := c.source.LatestReportDate(ctx, code, category)
	if err == nil && !datePattern.MatchString(date) {
		err = fmt.Errorf("unexpected report date %q", date)
	}
	if err != nil {
		slog.Warn("Latest report date lookup failed", "code", code, "category", category, "error", err)

		entries, listErr := c.Entries(code, category)
		if listErr == nil && len(entries) > 0 {
			metrics.StatementCache.WithLabelValues("stale").Inc()
			entry := entries[0]
			entry.Stale = true
			table, err := c.Load(code, category, entry.Date)
			return entry, table, err
		}
		return Entry{}, nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	name := fileName(code, category, date)
	entry := Entry{Date: date, File: name}

	// The shared fetch outlives any caller that gives up waiting for it.
	ch := c.group.DoChan(name, func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), fetchTimeout)
		defer cancel()
		return c.readOrFetch(fetchCtx, name, code, category)
	})

	select {
	case <-ctx.Done():
		return Entry{}, nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Entry{}, nil, res.Err
		}
		return entry, res.Val.(Table), nil
	}
}

func (c *Cache) readOrFetch(ctx context.Context, name, code, category string) (Table, error) {
	path := filepath.Join(c.dir, name)

	table, err := readTable(path)
	if err == nil {
		metrics.StatementCache.WithLabelValues("hit").Inc()
		return table, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		slog.Warn("Unreadable cache entry, refetching", "file", name, "error", err)
	}

	metrics.StatementCache.WithLabelValues("miss").Inc()

	rows, err := c.source.FetchStatement(ctx, code, category)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	if err := c.writeTable(name, rows); err != nil {
		slog.Error("Failed to store statement", "file", name, "error", err)
	} else {
		slog.Debug("Statement cached", "file", name, "rows", len(rows))
	}

	return Table(rows), nil
}

// Entries lists the cached report dates for (code, category), newest first.
func (c *Cache) Entries(code, category string) ([]Entry, error) {
	if err := validateKey(code, category); err != nil {
		return nil, err
	}

	prefix := code + "_" + category + "_"
	matches, err := filepath.Glob(filepath.Join(c.dir, prefix+"*.csv"))
	if err != nil {
		return nil, fmt.Errorf("failed to list cache entries: %w", err)
	}

	entries := make([]Entry, 0, len(matches))
	for _, match := range matches {
		base := filepath.Base(match)
		date := strings.TrimSuffix(strings.TrimPrefix(base, prefix), ".csv")
		if !datePattern.MatchString(date) {
			continue
		}
		entries = append(entries, Entry{Date: date, File: base})
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Date > entries[j].Date
	})

	return entries, nil
}

// Load reads a specific retained entry.
func (c *Cache) Load(code, category, date string) (Table, error) {
	if err := validateKey(code, category); err != nil {
		return nil, err
	}
	if !datePattern.MatchString(date) {
		return nil, fmt.Errorf("%w: date %q", ErrInvalidKey, date)
	}

	table, err := readTable(filepath.Join(c.dir, fileName(code, category, date)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	return table, nil
}

func fileName(code, category, date string) string {
	return fmt.Sprintf("%s_%s_%s.csv", code, category, date)
}

func readTable(path string) (Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", filepath.Base(path), err)
	}

	return Table(rows), nil
}

// writeTable writes to a temporary file and renames it into place, so readers
// only ever see complete entries.
func (c *Cache) writeTable(name string, rows [][]string) error {
	tmp, err := os.CreateTemp(c.dir, "."+name+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	w := csv.NewWriter(tmp)
	if err := w.WriteAll(rows); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write statement: %w", err)
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync statement: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmp.Name(), filepath.Join(c.dir, name)); err != nil {
		return fmt.Errorf("failed to move statement into place: %w", err)
	}

	return nil
}
