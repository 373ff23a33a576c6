package quotes

import (
	"context"
	"sync"
	"time"

	"github.com/lysyi3m/disclosure-comb/app/provider"
)

type Source interface {
	GetQuote(ctx context.Context, code string) (*provider.Quote, bool)
}

type Item struct {
	Code      string                 `json:"code"`
	Available bool                   `json:"available"`
	Quote     *provider.Quote        `json:"quote,omitempty"`
	Numbers   *provider.QuoteNumbers `json:"numbers,omitempty"`
}

type Snapshot struct {
	Items     []Item    `json:"items"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Collect queries every code in order. Codes without a quote are kept in the
// snapshot as unavailable.
func Collect(ctx context.Context, source Source, codes []string) Snapshot {
	items := make([]Item, 0, len(codes))
	for _, code := range codes {
		if ctx.Err() != nil {
			break
		}

		item := Item{Code: code}
		if quote, ok := source.GetQuote(ctx, code); ok {
			numbers := quote.Numbers()
			item.Available = true
			item.Quote = quote
			item.Numbers = &numbers
		}
		items = append(items, item)
	}

	return Snapshot{Items: items, UpdatedAt: time.Now().UTC()}
}

// Board holds the latest quote snapshot and fans it out to subscribers.
// Publishing never blocks: a subscriber that has not consumed the previous
// snapshot gets it replaced by the new one.
type Board struct {
	mu     sync.RWMutex
	latest Snapshot
	subs   map[int]chan Snapshot
	nextID int
}

func NewBoard() *Board {
	return &Board{subs: make(map[int]chan Snapshot)}
}

func (b *Board) Publish(snapshot Snapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.latest = snapshot

	for _, ch := range b.subs {
		select {
		case ch <- snapshot:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snapshot:
			default:
			}
		}
	}
}

func (b *Board) Latest() Snapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.latest
}

// Subscribe returns a channel of snapshots and a function that cancels the
// subscription and closes the channel.
func (b *Board) Subscribe() (<-chan Snapshot, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan Snapshot, 1)
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subs, id)
			close(ch)
		})
	}
}
