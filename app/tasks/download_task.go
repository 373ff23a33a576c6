package tasks

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/lysyi3m/disclosure-comb/app/database"
	"github.com/lysyi3m/disclosure-comb/app/provider"
)

const maxFileNameBytes = 200

type DocumentOpener interface {
	Open(ctx context.Context, provider, rawURL string) (*http.Response, error)
}

type AnnouncementGetter interface {
	Get(id int64) (*database.Announcement, error)
}

type DownloadProgress struct {
	TaskID  string `json:"task_id"`
	Percent int    `json:"percent"`
	Message string `json:"message"`
}

// DownloadTask saves announcement documents into a directory as
// "{name}：{title}.pdf", adding "_{id}" when another announcement already holds
// that name. Documents already saved are skipped, so a retry only fetches what
// is still missing.
type DownloadTask struct {
	Task
	ids     []int64
	repo    AnnouncementGetter
	opener  DocumentOpener
	dir     string
	tracker *DownloadTracker
}

// NewDownloadTask creates a download of ids. Progress is published through
// tracker, which may be nil.
func NewDownloadTask(ids []int64, repo AnnouncementGetter, opener DocumentOpener, dir string, tracker *DownloadTracker) *DownloadTask {
	task := &DownloadTask{
		Task:    NewTask(TaskTypeDownload, fmt.Sprintf("%d documents", len(ids))),
		ids:     ids,
		repo:    repo,
		opener:  opener,
		dir:     dir,
		tracker: tracker,
	}
	if tracker != nil {
		tracker.Register(task.ID, len(ids))
	}
	return task
}

func (t *DownloadTask) Execute(ctx context.Context) error {

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if err := os.MkdirAll(t.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create download directory: %w", err)
	}

	total := len(t.ids)
	failed := 0
	var files []string

	for i, id := range t.ids {
		if err := ctx.Err(); err != nil {
			return err
		}

		file, err := t.downloadOne(ctx, id)
		var message string
		switch {
		case err != nil:
			failed++
			message = fmt.Sprintf("Failed to download announcement %d: %v", id, err)
			slog.Warn("Document download failed", "id", id, "error", err)
		case file == "":
			message = fmt.Sprintf("Announcement %d not found", id)
		default:
			files = append(files, file)
			message = "Saved " + file
		}

		t.report(DownloadProgress{
			TaskID:  t.ID,
			Percent: (i + 1) * 100 / total,
			Message: message,
		}, file, err != nil)
	}

	if t.tracker != nil {
		t.tracker.Finish(t.ID, failed > 0 && t.CanRetry())
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d documents failed to download", failed, total)
	}

	slog.Info("Task completed",
		"type", "Download",
		"id", t.ID,
		"duration", t.GetDuration(),
		"documents", total,
		"saved", len(files))

	return nil
}

func (t *DownloadTask) report(p DownloadProgress, file string, failed bool) {
	if t.tracker != nil {
		t.tracker.Update(p, file, failed)
	}
}

// downloadOne returns the saved file name, or "" when the announcement is unknown.
func (t *DownloadTask) downloadOne(ctx context.Context, id int64) (string, error) {
	ann, err := t.repo.Get(id)
	if err != nil {
		return "", err
	}
	if ann == nil {
		return "", nil
	}
	if ann.URL == "" {
		return "", fmt.Errorf("announcement %d has no document URL", id)
	}

	name, saved, err := claimDocument(t.dir, id, ann.StockName, ann.Title)
	if err != nil {
		return "", err
	}
	if saved {
		return name, nil
	}
	dest := filepath.Join(t.dir, name)

	resp, err := t.opener.Open(ctx, provider.ProviderDocument, ann.URL)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	tmp, err := os.CreateTemp(t.dir, ".download-*.tmp")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		return "", fmt.Errorf("failed to write document: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to close document: %w", err)
	}

	if err := os.Rename(tmp.Name(), dest); err != nil {
		return "", fmt.Errorf("failed to move document into place: %w", err)
	}

	return name, nil
}

var fileNameReplacer = strings.NewReplacer(
	"/", "_", "\\", "_", ":", "_", "*", "_", "?", "_",
	"\"", "_", "<", "_", ">", "_", "|", "_",
)

// DocumentFileName builds "{name}：{title}.pdf" with characters that are not
// valid in file names replaced.
func DocumentFileName(name, title string) string {
	base := fileNameReplacer.Replace(strings.TrimSpace(name) + "：" + strings.TrimSpace(title))
	base = strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, base)

	for len(base) > maxFileNameBytes {
		_, size := utf8.DecodeLastRuneInString(base)
		base = base[:len(base)-size]
	}

	return base + ".pdf"
}
