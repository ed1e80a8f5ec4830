// Package audit provides file-based audit persistence in JSON Lines format
// with daily and size-based rotation. Files are only ever appended to.
package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/Sentinel-Gate/infragate/internal/domain/audit"
)

const dateLayout = "2006-01-02"

// auditFileInfo holds parsed information about an audit file.
type auditFileInfo struct {
	name   string
	date   string
	suffix int
}

// auditFilePattern matches audit log filenames: audit-YYYY-MM-DD.jsonl or audit-YYYY-MM-DD-N.jsonl
var auditFilePattern = regexp.MustCompile(`^audit-(\d{4}-\d{2}-\d{2})(?:-(\d+))?\.jsonl$`)

func parseAuditFilename(name string) (auditFileInfo, bool) {
	matches := auditFilePattern.FindStringSubmatch(name)
	if matches == nil {
		return auditFileInfo{}, false
	}
	info := auditFileInfo{name: name, date: matches[1]}
	if matches[2] != "" {
		n, err := strconv.Atoi(matches[2])
		if err != nil {
			return auditFileInfo{}, false
		}
		info.suffix = n
	}
	return info, true
}

// sortAuditFiles sorts audit file info by date then suffix (chronological order).
func sortAuditFiles(files []auditFileInfo) {
	sort.Slice(files, func(i, j int) bool {
		if files[i].date != files[j].date {
			return files[i].date < files[j].date
		}
		return files[i].suffix < files[j].suffix
	})
}

// FileConfig holds configuration for the file-based audit store.
type FileConfig struct {
	// Dir is the directory where audit files are stored.
	Dir string
	// MaxFileSizeMB is the maximum file size in megabytes before rotation (default 100).
	MaxFileSizeMB int
}

// FileStore implements audit.Store on rotating JSON Lines files. Every
// Append is fsynced before it returns.
type FileStore struct {
	dir           string
	maxFileSize   int64
	currentFile   *os.File
	currentDate   string
	currentSize   int64
	currentSuffix int
	mu            sync.Mutex
	logger        *slog.Logger
	closed        bool
}

// NewFileStore creates the directory if needed and opens today's file.
func NewFileStore(cfg FileConfig, logger *slog.Logger) (*FileStore, error) {
	if cfg.MaxFileSizeMB <= 0 {
		cfg.MaxFileSizeMB = 100
	}
	if err := os.MkdirAll(cfg.Dir, 0700); err != nil {
		return nil, fmt.Errorf("create audit directory: %w", err)
	}

	s := &FileStore{
		dir:         cfg.Dir,
		maxFileSize: int64(cfg.MaxFileSizeMB) * 1024 * 1024,
		logger:      logger,
	}
	if err := s.openCurrentFile(time.Now().UTC().Format(dateLayout)); err != nil {
		return nil, fmt.Errorf("open audit file: %w", err)
	}
	return s, nil
}

// Append writes rec as one JSON line and syncs the file.
func (s *FileStore) Append(ctx context.Context, rec audit.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal audit record: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return audit.ErrStoreClosed
	}

	dateStr := rec.Timestamp.UTC().Format(dateLayout)
	if dateStr != s.currentDate {
		if err := s.rotateDateLocked(dateStr); err != nil {
			return fmt.Errorf("date rotation: %w", err)
		}
	}
	if s.currentSize >= s.maxFileSize {
		if err := s.rotateSizeLocked(); err != nil {
			return fmt.Errorf("size rotation: %w", err)
		}
	}

	n, err := s.currentFile.Write(append(data, '\n'))
	s.currentSize += int64(n)
	if err != nil {
		return fmt.Errorf("write audit record: %w", err)
	}
	if err := s.currentFile.Sync(); err != nil {
		return fmt.Errorf("sync audit file: %w", err)
	}
	return nil
}

// Query scans the files that can contain matching records, oldest first.
func (s *FileStore) Query(ctx context.Context, filter audit.Filter) ([]audit.Record, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, audit.ErrStoreClosed
	}
	files, err := s.listFiles()
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	var out []audit.Record
	skip := filter.Offset
	for _, f := range files {
		if !fileInRange(f.date, filter) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		done, err := s.scanFile(f.name, filter, &skip, &out)
		if err != nil {
			return nil, err
		}
		if done {
			break
		}
	}
	return out, nil
}

// Ping reports whether the current file is open and the directory exists.
func (s *FileStore) Ping(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.currentFile == nil {
		return audit.ErrStoreClosed
	}
	if _, err := os.Stat(s.dir); err != nil {
		return fmt.Errorf("audit directory unavailable: %w", err)
	}
	return nil
}

// Close syncs and closes the current file.
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	if s.currentFile != nil {
		_ = s.currentFile.Sync()
		err := s.currentFile.Close()
		s.currentFile = nil
		return err
	}
	return nil
}

func fileInRange(date string, f audit.Filter) bool {
	if !f.Start.IsZero() && date < f.Start.UTC().Format(dateLayout) {
		return false
	}
	if !f.End.IsZero() && date > f.End.UTC().Format(dateLayout) {
		return false
	}
	return true
}

// scanFile appends matching records from name to out after skipping *skip
// matches. It returns true once the filter limit is reached.
func (s *FileStore) scanFile(name string, filter audit.Filter, skip *int, out *[]audit.Record) (bool, error) {
	f, err := os.Open(filepath.Join(s.dir, name))
	if err != nil {
		return false, fmt.Errorf("open audit file %s: %w", name, err)
	}
	defer func() { _ = f.Close() }()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 256*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec audit.Record
		if err := json.Unmarshal(line, &rec); err != nil {
			s.logger.Warn("audit query: skipping malformed line", "file", name, "error", err)
			continue
		}
		if !filter.Matches(rec) {
			continue
		}
		if *skip > 0 {
			*skip--
			continue
		}
		*out = append(*out, rec)
		if len(*out) >= filter.Limit {
			return true, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return false, fmt.Errorf("read audit file %s: %w", name, err)
	}
	return false, nil
}

func (s *FileStore) listFiles() ([]auditFileInfo, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read audit directory: %w", err)
	}
	var files []auditFileInfo
	for _, e := range entries {
		if info, ok := parseAuditFilename(e.Name()); ok {
			files = append(files, info)
		}
	}
	sortAuditFiles(files)
	return files, nil
}

// openCurrentFile opens or creates the audit file for the given date,
// continuing the highest existing suffix.
func (s *FileStore) openCurrentFile(dateStr string) error {
	suffix := s.findHighestSuffix(dateStr)
	f, size, err := s.openFile(dateStr, suffix)
	if err != nil {
		return err
	}
	s.currentFile = f
	s.currentDate = dateStr
	s.currentSize = size
	s.currentSuffix = suffix
	return nil
}

func (s *FileStore) findHighestSuffix(dateStr string) int {
	files, err := s.listFiles()
	if err != nil {
		return 0
	}
	highest := 0
	for _, info := range files {
		if info.date == dateStr && info.suffix > highest {
			highest = info.suffix
		}
	}
	return highest
}

func (s *FileStore) openFile(dateStr string, suffix int) (*os.File, int64, error) {
	filename := buildFilename(dateStr, suffix)
	f, err := os.OpenFile(filepath.Join(s.dir, filename), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, 0, fmt.Errorf("open file %s: %w", filename, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, 0, fmt.Errorf("stat file %s: %w", filename, err)
	}
	return f, info.Size(), nil
}

func buildFilename(dateStr string, suffix int) string {
	if suffix == 0 {
		return fmt.Sprintf("audit-%s.jsonl", dateStr)
	}
	return fmt.Sprintf("audit-%s-%d.jsonl", dateStr, suffix)
}

// rotateDateLocked switches to the file for dateStr. Must be called with s.mu held.
func (s *FileStore) rotateDateLocked(dateStr string) error {
	s.closeCurrentLocked()
	s.currentSuffix = s.findHighestSuffix(dateStr)
	s.currentDate = dateStr
	f, size, err := s.openFile(dateStr, s.currentSuffix)
	if err != nil {
		return err
	}
	s.currentFile = f
	s.currentSize = size
	return nil
}

// rotateSizeLocked opens the next suffix for the current date. Must be called with s.mu held.
func (s *FileStore) rotateSizeLocked() error {
	s.closeCurrentLocked()
	s.currentSuffix++
	f, size, err := s.openFile(s.currentDate, s.currentSuffix)
	if err != nil {
		return err
	}
	s.currentFile = f
	s.currentSize = size
	return nil
}

func (s *FileStore) closeCurrentLocked() {
	if s.currentFile != nil {
		_ = s.currentFile.Sync()
		_ = s.currentFile.Close()
		s.currentFile = nil
	}
	s.currentSize = 0
}

// Compile-time interface verification.
var _ audit.Store = (*FileStore)(nil)
