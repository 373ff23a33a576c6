package database

import (
	"fmt"
	"time"
)

var _ StockRepository = (*stockRepository)(nil)

type stockRepository struct {
	db *DB
}

func NewStockRepository(db *DB) StockRepository {
	return &stockRepository{db: db}
}

func (r *stockRepository) Add(code, name, category string) (bool, error) {
	result, err := r.db.Exec(`
		INSERT INTO stocks (code, name, category, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(code) DO NOTHING
	`, code, name, category, time.Now().UTC().Unix())
	if err != nil {
		return false, fmt.Errorf("failed to add stock %s: %w", code, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}

	return affected > 0, nil
}

func (r *stockRepository) Remove(code string) error {
	_, err := r.db.Exec(`DELETE FROM stocks WHERE code = ?`, code)
	if err != nil {
		return fmt.Errorf("failed to remove stock %s: %w", code, err)
	}

	return nil
}

// List returns watched codes in insertion order.
func (r *stockRepository) List() ([]string, error) {
	stocks, err := r.ListStocks()
	if err != nil {
		return nil, err
	}

	codes := make([]string, 0, len(stocks))
	for _, stock := range stocks {
		codes = append(codes, stock.Code)
	}

	return codes, nil
}

func (r *stockRepository) ListStocks() ([]Stock, error) {
	rows, err := r.db.Query(`SELECT code, name, category, created_at FROM stocks ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("failed to query stocks: %w", err)
	}
	defer rows.Close()

	var stocks []Stock
	for rows.Next() {
		var stock Stock
		var createdAt int64
		if err := rows.Scan(&stock.Code, &stock.Name, &stock.Category, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan stock: %w", err)
		}
		stock.CreatedAt = time.Unix(createdAt, 0).UTC()
		stocks = append(stocks, stock)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate stocks: %w", err)
	}

	return stocks, nil
}

func (r *stockRepository) Count() (int, error) {
	var count int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM stocks`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to get stock count: %w", err)
	}

	return count, nil
}
