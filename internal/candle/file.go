package candle

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"main/internal/errors"
)

// FileSource reads candles from per-symbol CSV files laid out as
// <dir>/<MARKET>_<SYMBOL>_<resolutionSeconds>.csv with rows of
// closeTimeUnix,open,high,low,close,volume. Files are read forward
// only; a reader stays open between calls so incremental monthly
// loading does not rescan from the top, and Close releases every
// handle.
type FileSource struct {
	dir string

	mu      sync.Mutex
	readers map[string]*fileReader
}

type fileReader struct {
	f    *os.File
	csv  *csv.Reader
	next Candle
	done bool

	// servedThrough is the end of the furthest window served so far.
	// Rows before it are gone from the stream, so a start behind it
	// forces a reopen.
	servedThrough time.Time
}

// NewFileSource creates a source rooted at dir.
func NewFileSource(dir string) *FileSource {
	return &FileSource{dir: dir, readers: make(map[string]*fileReader)}
}

// GetHistory returns candles with close time in [start, end). Ranges
// must not move backwards between calls for the same symbol; a
// backwards range reopens the file.
func (s *FileSource) GetHistory(market, symbol string, resolution time.Duration, start, end time.Time) ([]Candle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := fmt.Sprintf("%s_%s_%d", market, symbol, int64(resolution.Seconds()))
	r, ok := s.readers[key]
	if ok && start.Before(r.servedThrough) {
		// range moved backwards, start over; an empty forward window
		// keeps the reader and its buffered row in place
		r.close()
		delete(s.readers, key)
		ok = false
	}
	if !ok {
		opened, err := s.open(key)
		if err != nil {
			return nil, err
		}
		r = opened
		s.readers[key] = r
	}

	var out []Candle
	for !r.done {
		if r.next.IsZero() {
			if err := r.advance(); err != nil {
				return nil, errors.Wrapf(err, "read %s", key)
			}
			continue
		}
		if !r.next.CloseTime.Before(end) {
			break
		}
		if !r.next.CloseTime.Before(start) {
			out = append(out, r.next)
		}
		r.next = Candle{}
	}
	if end.After(r.servedThrough) {
		r.servedThrough = end
	}
	return out, nil
}

// Close releases every open file handle.
func (s *FileSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var firstErr error
	for key, r := range s.readers {
		if err := r.close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(s.readers, key)
	}
	return firstErr
}

func (s *FileSource) open(key string) (*fileReader, error) {
	path := filepath.Join(s.dir, key+".csv")
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open history file")
	}
	cr := csv.NewReader(f)
	cr.FieldsPerRecord = 6
	return &fileReader{f: f, csv: cr}, nil
}

func (r *fileReader) advance() error {
	rec, err := r.csv.Read()
	if err == io.EOF {
		r.done = true
		return nil
	}
	if err != nil {
		return err
	}
	c, err := parseRecord(rec)
	if err != nil {
		return err
	}
	r.next = c
	return nil
}

func (r *fileReader) close() error {
	if r.f == nil {
		return nil
	}
	err := r.f.Close()
	r.f = nil
	return err
}

func parseRecord(rec []string) (Candle, error) {
	unix, err := strconv.ParseInt(strings.TrimSpace(rec[0]), 10, 64)
	if err != nil {
		return Candle{}, errors.Wrap(err, "parse close time")
	}
	vals := make([]float64, 5)
	for i := 0; i < 5; i++ {
		v, err := strconv.ParseFloat(strings.TrimSpace(rec[i+1]), 64)
		if err != nil {
			return Candle{}, errors.Wrapf(err, "parse field %d", i+1)
		}
		vals[i] = v
	}
	return Candle{
		Open:      vals[0],
		High:      vals[1],
		Low:       vals[2],
		Close:     vals[3],
		Volume:    vals[4],
		CloseTime: time.Unix(unix, 0).UTC(),
	}, nil
}
