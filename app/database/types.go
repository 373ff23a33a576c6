package database

import (
	"errors"
	"time"
)

// DateLayout is the storage format of announcement dates.
const DateLayout = "2006-01-02"

var ErrInvalidState = errors.New("invalid announcement state")

type State string

const (
	StateUnread  State = "UNREAD"
	StateRead    State = "READ"
	StateDeleted State = "DELETED"
)

func (s State) Valid() bool {
	switch s {
	case StateUnread, StateRead, StateDeleted:
		return true
	}
	return false
}

type Order string

const (
	OrderDesc Order = "desc"
	OrderAsc  Order = "asc"
)

type Announcement struct {
	ID        int64
	StockCode string
	StockName string
	Title     string
	Date      time.Time // calendar day, midnight UTC
	URL       string
	State     State
	CreatedAt time.Time
}

type Stock struct {
	Code      string
	Name      string
	Category  string
	CreatedAt time.Time
}
