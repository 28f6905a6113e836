package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/eddiefleurent/scranton_backtester/internal/marketdata"
)

// JSONStorage keeps each cached series in its own JSON file under a directory.
type JSONStorage struct {
	mu  sync.RWMutex
	dir string
}

type storedSeries struct {
	FetchedAt time.Time         `json:"fetched_at"`
	Key       string            `json:"key"`
	Bars      marketdata.Series `json:"bars"`
}

func NewJSONStorage(dir string) (*JSONStorage, error) {
	if dir == "" {
		return nil, errors.New("cache directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}
	return &JSONStorage{dir: dir}, nil
}

func (s *JSONStorage) path(key Key) string {
	clean := strings.NewReplacer(":", "_", "/", "_", "\\", "_", " ", "_").Replace(key.Symbol)
	name := key.Day.Format("2006-01-02")
	if key.Kind == KindDaily {
		name += "_" + key.End.Format("2006-01-02")
	}
	return filepath.Join(s.dir, string(key.Kind), clean, name+".json")
}

func (s *JSONStorage) Get(key Key) (marketdata.Series, bool, error) {
	if err := key.Validate(); err != nil {
		return nil, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(s.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var stored storedSeries
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, false, fmt.Errorf("decoding %s: %w", key, err)
	}
	if stored.Bars == nil {
		stored.Bars = marketdata.Series{}
	}
	return stored.Bars, true, nil
}

func (s *JSONStorage) Put(key Key, series marketdata.Series) error {
	if err := key.Validate(); err != nil {
		return err
	}
	if series == nil {
		series = marketdata.Series{}
	}
	data, err := json.MarshalIndent(storedSeries{Key: key.String(), FetchedAt: time.Now().UTC(), Bars: series}, "", "  ")
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.path(key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return writeFileAtomic(path, data)
}

func (s *JSONStorage) Close() error {
	return nil
}

// writeFileAtomic writes to a temp file first, then renames it over path.
func writeFileAtomic(path string, data []byte) error {
	tmpFile := path + ".tmp"
	if err := os.WriteFile(tmpFile, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmpFile, path)
}
