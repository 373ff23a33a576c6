package database

import (
	"database/sql"
	"fmt"
	"time"
)

var _ AnnouncementRepository = (*announcementRepository)(nil)

type announcementRepository struct {
	db *DB
}

func NewAnnouncementRepository(db *DB) AnnouncementRepository {
	return &announcementRepository{db: db}
}

// Insert stores ann as UNREAD unless its id is already known, in which case
// the stored row is left untouched and false is returned.
func (r *announcementRepository) Insert(ann Announcement) (bool, error) {
	result, err := r.db.Exec(`
		INSERT INTO announcements (ann_id, code, name, title, ann_date, url, state, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(ann_id) DO NOTHING
	`, ann.ID, ann.StockCode, ann.StockName, ann.Title, ann.Date.Format(DateLayout), ann.URL,
		string(StateUnread), time.Now().UTC().Unix())
	if err != nil {
		return false, fmt.Errorf("failed to insert announcement %d: %w", ann.ID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}

	return affected > 0, nil
}

func (r *announcementRepository) SetState(id int64, state State) error {
	if !state.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidState, state)
	}

	_, err := r.db.Exec(`UPDATE announcements SET state = ? WHERE ann_id = ?`, string(state), id)
	if err != nil {
		return fmt.Errorf("failed to update announcement state: %w", err)
	}

	return nil
}

func (r *announcementRepository) List(order Order) ([]Announcement, error) {
	query := `
		SELECT ann_id, code, name, title, ann_date, url, state, created_at
		FROM announcements
		WHERE state IN ('UNREAD', 'READ')
	`
	if order == OrderAsc {
		query += ` ORDER BY ann_date ASC, ann_id ASC`
	} else {
		query += ` ORDER BY ann_date DESC, ann_id DESC`
	}

	rows, err := r.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to query announcements: %w", err)
	}
	defer rows.Close()

	var announcements []Announcement
	for rows.Next() {
		ann, err := scanAnnouncement(rows)
		if err != nil {
			return nil, err
		}
		announcements = append(announcements, *ann)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate announcements: %w", err)
	}

	return announcements, nil
}

func (r *announcementRepository) Get(id int64) (*Announcement, error) {
	row := r.db.QueryRow(`
		SELECT ann_id, code, name, title, ann_date, url, state, created_at
		FROM announcements
		WHERE ann_id = ?
	`, id)

	ann, err := scanAnnouncement(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return ann, nil
}

func (r *announcementRepository) CountByState() (map[State]int, error) {
	rows, err := r.db.Query(`SELECT state, COUNT(*) FROM announcements GROUP BY state`)
	if err != nil {
		return nil, fmt.Errorf("failed to count announcements: %w", err)
	}
	defer rows.Close()

	counts := map[State]int{
		StateUnread:  0,
		StateRead:    0,
		StateDeleted: 0,
	}
	for rows.Next() {
		var state string
		var count int
		if err := rows.Scan(&state, &count); err != nil {
			return nil, fmt.Errorf("failed to scan announcement count: %w", err)
		}
		counts[State(state)] = count
	}

	return counts, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAnnouncement(row rowScanner) (*Announcement, error) {
	var ann Announcement
	var date, state string
	var createdAt int64

	err := row.Scan(&ann.ID, &ann.StockCode, &ann.StockName, &ann.Title, &date, &ann.URL, &state, &createdAt)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan announcement: %w", err)
	}

	ann.Date, err = time.Parse(DateLayout, date)
	if err != nil {
		return nil, fmt.Errorf("failed to parse announcement date %q: %w", date, err)
	}
	ann.State = State(state)
	ann.CreatedAt = time.Unix(createdAt, 0).UTC()

	return &ann, nil
}
