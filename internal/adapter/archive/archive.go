// Package archive keeps a flat, append-only history of processed observations
// per city as zstd-compressed JSON lines. Each Append writes one zstd frame;
// readers decode the concatenated frames in one pass.
package archive

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/couchcryptid/parking-occupancy-etl/internal/domain"
	"github.com/klauspost/compress/zstd"
)

// Archive reads and appends city history files under a directory.
type Archive struct {
	dir string

	mu      sync.Mutex
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// New creates an archive rooted at dir. The directory is created on first append.
func New(dir string) (*Archive, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	return &Archive{dir: dir, encoder: enc, decoder: dec}, nil
}

// Path returns the history file of city.
func (a *Archive) Path(city string) string {
	return filepath.Join(a.dir, fileStem(city)+"_parking_history.jsonl.zst")
}

// Append writes rows to the city's history as one compressed frame.
func (a *Archive) Append(city string, rows []domain.ArchiveRow) error {
	if len(rows) == 0 {
		return nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for i := range rows {
		if err := enc.Encode(rows[i]); err != nil {
			return fmt.Errorf("encode archive row: %w", err)
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	frame := a.encoder.EncodeAll(buf.Bytes(), nil)
	if err := os.MkdirAll(a.dir, 0o755); err != nil {
		return fmt.Errorf("create archive dir: %w", err)
	}
	f, err := os.OpenFile(a.Path(city), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	if _, err := f.Write(frame); err != nil {
		f.Close()
		return fmt.Errorf("append archive: %w", err)
	}
	return f.Close()
}

// Load returns the city's history ordered by timestamp then location. Rows
// repeating a (location, timestamp) pair keep the last written value. A city
// without history yields no rows and no error.
func (a *Archive) Load(city string) ([]domain.ArchiveRow, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	compressed, err := os.ReadFile(a.Path(city))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read archive: %w", err)
	}

	data, err := a.decoder.DecodeAll(compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decompression failed: %w", err)
	}

	type key struct {
		name string
		ts   int64
	}
	latest := make(map[key]domain.ArchiveRow)

	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for sc.Scan() {
		line++
		b := bytes.TrimSpace(sc.Bytes())
		if len(b) == 0 {
			continue
		}
		var row domain.ArchiveRow
		if err := json.Unmarshal(b, &row); err != nil {
			return nil, fmt.Errorf("archive line %d: %w", line, err)
		}
		latest[key{row.LocationName, row.Timestamp.UnixNano()}] = row
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan archive: %w", err)
	}

	rows := make([]domain.ArchiveRow, 0, len(latest))
	for _, row := range latest {
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].Timestamp.Equal(rows[j].Timestamp) {
			return rows[i].Timestamp.Before(rows[j].Timestamp)
		}
		return rows[i].LocationName < rows[j].LocationName
	})
	return rows, nil
}

// Close releases the encoder and decoder.
func (a *Archive) Close() error {
	a.decoder.Close()
	return a.encoder.Close()
}

// fileStem turns a city label into a safe lowercase file name component.
func fileStem(city string) string {
	stem := strings.Map(func(r rune) rune {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			return unicode.ToLower(r)
		default:
			return '_'
		}
	}, strings.TrimSpace(city))
	if stem == "" {
		return "unknown"
	}
	return stem
}

