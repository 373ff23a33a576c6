package tasks

import (
	"sync"
	"time"
)

const maxTrackedDownloads = 100

type DownloadStatus struct {
	ID        string    `json:"id"`
	Total     int       `json:"total"`
	Completed int       `json:"completed"`
	Failed    int       `json:"failed"`
	Percent   int       `json:"percent"`
	Message   string    `json:"message"`
	Files     []string  `json:"files"`
	Finished  bool      `json:"finished"`
	Retrying  bool      `json:"retrying"`
	UpdatedAt time.Time `json:"updated_at"`
}

const subscriberBuffer = 16

// DownloadTracker keeps the progress of recent download tasks for polling and
// fans progress out to subscribers.
type DownloadTracker struct {
	mu       sync.RWMutex
	statuses map[string]*DownloadStatus
	order    []string
	subs     map[string][]chan DownloadProgress
}

func NewDownloadTracker() *DownloadTracker {
	return &DownloadTracker{
		statuses: make(map[string]*DownloadStatus),
		subs:     make(map[string][]chan DownloadProgress),
	}
}

func (t *DownloadTracker) Register(id string, total int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.statuses[id]; ok {
		return
	}

	t.statuses[id] = &DownloadStatus{ID: id, Total: total, Files: []string{}, UpdatedAt: time.Now().UTC()}
	t.order = append(t.order, id)

	for len(t.order) > maxTrackedDownloads {
		delete(t.statuses, t.order[0])
		t.closeSubscribers(t.order[0])
		t.order = t.order[1:]
	}
}

func (t *DownloadTracker) Update(p DownloadProgress, file string, failed bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	status, ok := t.statuses[p.TaskID]
	if !ok {
		return
	}

	// A retry starts over from the first document
	if status.Retrying {
		status.Completed = 0
		status.Failed = 0
		status.Files = []string{}
		status.Retrying = false
	}

	if failed {
		status.Failed++
	} else {
		status.Completed++
		if file != "" {
			status.Files = append(status.Files, file)
		}
	}
	status.Percent = p.Percent
	status.Message = p.Message
	status.UpdatedAt = time.Now().UTC()

	// Slow subscribers miss intermediate progress; Get has the latest.
	for _, ch := range t.subs[p.TaskID] {
		select {
		case ch <- p:
		default:
		}
	}
}

func (t *DownloadTracker) Finish(id string, retrying bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if status, ok := t.statuses[id]; ok {
		status.Finished = !retrying
		status.Retrying = retrying
		status.UpdatedAt = time.Now().UTC()
	}

	if !retrying {
		t.closeSubscribers(id)
	}
}

// Subscribe returns a channel of progress for download id that is closed once
// the download finishes, and a function that cancels the subscription. The
// channel of an already finished download is closed immediately.
func (t *DownloadTracker) Subscribe(id string) (<-chan DownloadProgress, func(), bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	status, ok := t.statuses[id]
	if !ok {
		return nil, func() {}, false
	}

	ch := make(chan DownloadProgress, subscriberBuffer)
	if status.Finished {
		close(ch)
		return ch, func() {}, true
	}
	t.subs[id] = append(t.subs[id], ch)

	return ch, func() {
		t.mu.Lock()
		defer t.mu.Unlock()

		subs := t.subs[id]
		for i, sub := range subs {
			if sub == ch {
				t.subs[id] = append(subs[:i], subs[i+1:]...)
				close(ch)
				return
			}
		}
	}, true
}

func (t *DownloadTracker) closeSubscribers(id string) {
	for _, ch := range t.subs[id] {
		close(ch)
	}
	delete(t.subs, id)
}

func (t *DownloadTracker) Get(id string) (DownloadStatus, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	status, ok := t.statuses[id]
	if !ok {
		return DownloadStatus{}, false
	}

	out := *status
	out.Files = append([]string(nil), status.Files...)
	return out, true
}
