package tasks

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

// indexFileName maps saved document names to the announcement they hold, so
// announcements sharing a name and title never overwrite or shadow each other.
const indexFileName = ".documents.json"

var indexMu sync.Mutex

// claimDocument picks the file name for announcement id and records it in the
// directory index. saved reports whether that file is already on disk.
func claimDocument(dir string, id int64, name, title string) (file string, saved bool, err error) {
	indexMu.Lock()
	defer indexMu.Unlock()

	index, err := readIndex(dir)
	if err != nil {
		return "", false, err
	}

	primary := DocumentFileName(name, title)
	fallback := documentFileNameWithID(name, title, id)

	for _, candidate := range []string{primary, fallback} {
		if owner, ok := index[candidate]; ok && owner == id {
			return candidate, fileExists(filepath.Join(dir, candidate)), nil
		}
	}

	file = fallback
	if _, taken := index[primary]; !taken && !fileExists(filepath.Join(dir, primary)) {
		file = primary
	}

	index[file] = id
	if err := writeIndex(dir, index); err != nil {
		return "", false, err
	}

	return file, false, nil
}

func documentFileNameWithID(name, title string, id int64) string {
	return strings.TrimSuffix(DocumentFileName(name, title), ".pdf") + "_" + strconv.FormatInt(id, 10) + ".pdf"
}

func readIndex(dir string) (map[string]int64, error) {
	data, err := os.ReadFile(filepath.Join(dir, indexFileName))
	if errors.Is(err, os.ErrNotExist) {
		return make(map[string]int64), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read document index: %w", err)
	}

	index := make(map[string]int64)
	if err := json.Unmarshal(data, &index); err != nil {
		return nil, fmt.Errorf("failed to parse document index: %w", err)
	}
	return index, nil
}

func writeIndex(dir string, index map[string]int64) error {
	data, err := json.MarshalIndent(index, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode document index: %w", err)
	}

	tmp, err := os.CreateTemp(dir, indexFileName+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write document index: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close document index: %w", err)
	}

	return os.Rename(tmp.Name(), filepath.Join(dir, indexFileName))
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
