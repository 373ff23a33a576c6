package watchlist

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

var codePattern = regexp.MustCompile(`^[0-9]{5,6}$`)

type Entry struct {
	Code     string `yaml:"code"`
	Name     string `yaml:"name"`
	Category string `yaml:"category"`
}

type Seed struct {
	Stocks []Entry `yaml:"stocks"`
}

type Registrar interface {
	Add(code, name, category string) (bool, error)
}

// ValidCode reports whether code looks like an A-share (6 digits) or Hong
// Kong (5 digits) stock code.
func ValidCode(code string) bool {
	return codePattern.MatchString(code)
}

// LoadSeed reads the seed file. A missing file yields an empty seed.
func LoadSeed(path string) (*Seed, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return &Seed{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var seed Seed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	for i := range seed.Stocks {
		seed.Stocks[i].Code = strings.TrimSpace(seed.Stocks[i].Code)
		seed.Stocks[i].Name = strings.TrimSpace(seed.Stocks[i].Name)
		seed.Stocks[i].Category = strings.TrimSpace(seed.Stocks[i].Category)
	}

	if err := validateSeed(&seed); err != nil {
		return nil, fmt.Errorf("invalid seed %s: %w", path, err)
	}

	return &seed, nil
}

func validateSeed(seed *Seed) error {
	seen := make(map[string]bool, len(seed.Stocks))
	for i, entry := range seed.Stocks {
		if entry.Code == "" {
			return fmt.Errorf("stock at index %d: code is required", i)
		}
		if !ValidCode(entry.Code) {
			return fmt.Errorf("stock at index %d: invalid code %q", i, entry.Code)
		}
		if seen[entry.Code] {
			slog.Debug("Duplicate seed entry", "code", entry.Code)
		}
		seen[entry.Code] = true
	}
	return nil
}

// Apply registers every seed entry that is not yet on the watchlist and
// returns how many were added.
func Apply(seed *Seed, repo Registrar) (int, error) {
	added := 0
	for _, entry := range seed.Stocks {
		ok, err := repo.Add(entry.Code, entry.Name, entry.Category)
		if err != nil {
			return added, fmt.Errorf("failed to register %s: %w", entry.Code, err)
		}
		if ok {
			added++
			slog.Debug("Stock registered from seed", "code", entry.Code, "name", entry.Name)
		}
	}
	return added, nil
}
