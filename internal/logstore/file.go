package logstore

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"sync"
)

// FileStore keeps one JSONL file per room under a data directory. Each
// line is one record; the line's position is the record's index. Appends
// are a single write on an O_APPEND handle, so a concurrent reader sees
// either the whole line or nothing.
type FileStore struct {
	dir string

	mu    sync.Mutex
	rooms map[string]*roomFile
}

type roomFile struct {
	mu   sync.Mutex
	file *os.File
	next int
}

// NewFileStore opens a file store rooted at dir, creating it if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("file store: data dir is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return &FileStore{
		dir:   dir,
		rooms: make(map[string]*roomFile),
	}, nil
}

func (s *FileStore) path(room string) string {
	// Escaping keeps arbitrary room names inside the data dir.
	return filepath.Join(s.dir, url.PathEscape(room)+".jsonl")
}

func (s *FileStore) room(room string) (*roomFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rf, ok := s.rooms[room]; ok {
		return rf, nil
	}

	path := s.path(room)
	next, err := countRecords(path)
	if err != nil {
		return nil, err
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open room log: %w", err)
	}

	rf := &roomFile{file: file, next: next}
	s.rooms[room] = rf
	return rf, nil
}

func countRecords(path string) (int, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("open room log: %w", err)
	}
	defer file.Close()

	count := 0
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), maxRecordBytes)
	for scanner.Scan() {
		if len(scanner.Bytes()) == 0 {
			continue
		}
		count++
	}
	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("scan room log: %w", err)
	}
	return count, nil
}

const maxRecordBytes = 1 << 20

// Append encodes rec as one JSONL line and writes it in a single call.
func (s *FileStore) Append(room string, rec Record) (int, error) {
	rf, err := s.room(room)
	if err != nil {
		return 0, err
	}

	line, err := json.Marshal(rec)
	if err != nil {
		return 0, fmt.Errorf("encode record: %w", err)
	}
	line = append(line, '\n')

	rf.mu.Lock()
	defer rf.mu.Unlock()

	if _, err := rf.file.Write(line); err != nil {
		return 0, fmt.Errorf("append record: %w", err)
	}
	index := rf.next
	rf.next++
	return index, nil
}

// Read scans the room's file and returns records at or after from.
func (s *FileStore) Read(room string, from int) ([]Record, error) {
	if from < 0 {
		from = 0
	}

	file, err := os.Open(s.path(room))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("open room log: %w", err)
	}
	defer file.Close()

	var records []Record
	index := 0
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), maxRecordBytes)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if index >= from {
			var rec Record
			if err := json.Unmarshal(line, &rec); err != nil {
				return nil, fmt.Errorf("decode record %d: %w", index, err)
			}
			records = append(records, rec)
		}
		index++
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan room log: %w", err)
	}
	return records, nil
}

// Close closes every open room handle.
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var firstErr error
	for _, rf := range s.rooms {
		rf.mu.Lock()
		if err := rf.file.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		rf.mu.Unlock()
	}
	s.rooms = make(map[string]*roomFile)
	return firstErr
}
