package logstore

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// Store is an append-only JSONL file. One JSON object per line, newest
// last. Reads never load the whole file; Tail walks blocks backwards from
// the end so multi-year logs stay cheap to query.
type Store struct {
	mu   sync.Mutex
	path string
}

func New(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	return &Store{path: path}, nil
}

func (s *Store) Path() string {
	return s.path
}

// Append marshals v and writes it as one line. Marshal failures and write
// failures are returned; the file is opened per call so external rotation
// is safe.
func (s *Store) Append(v any) error {
	line, err := json.Marshal(v)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	line = append(line, '\n')
	_, err = f.Write(line)
	return err
}

const tailBlockSize = 8 * 1024

// TailLines returns up to n raw JSONL lines from the end of the file,
// oldest first. Lines that fail to split cleanly are skipped.
func (s *Store) TailLines(n int) ([][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size := info.Size()
	if size == 0 {
		return nil, nil
	}

	var lines [][]byte
	var carry []byte
	offset := size

	for offset > 0 && len(lines) < n {
		blockSize := int64(tailBlockSize)
		if offset < blockSize {
			blockSize = offset
		}
		offset -= blockSize

		block := make([]byte, blockSize)
		if _, err := f.ReadAt(block, offset); err != nil && err != io.EOF {
			return nil, err
		}

		buf := append(block, carry...)
		parts := bytes.Split(buf, []byte{'\n'})
		// The first part may be a partial line continued in the previous
		// block; keep it as carry unless we are at the file start.
		start := 1
		if offset == 0 {
			start = 0
			carry = nil
		} else {
			carry = append([]byte(nil), parts[0]...)
		}
		for i := len(parts) - 1; i >= start && len(lines) < n; i-- {
			p := bytes.TrimSpace(parts[i])
			if len(p) == 0 {
				continue
			}
			lines = append(lines, append([]byte(nil), p...))
		}
	}

	// Collected newest first; flip to chronological order.
	for i, j := 0, len(lines)-1; i < j; i, j = i+1, j-1 {
		lines[i], lines[j] = lines[j], lines[i]
	}
	return lines, nil
}

// Tail unmarshals the last n entries as T, oldest first. Unparseable
// lines are skipped.
func Tail[T any](s *Store, n int) ([]T, error) {
	lines, err := s.TailLines(n)
	if err != nil {
		return nil, err
	}
	entries := make([]T, 0, len(lines))
	for _, line := range lines {
		var entry T
		if err := json.Unmarshal(line, &entry); err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
