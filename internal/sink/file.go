package sink

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Lutefd/botkit-telemetry/internal/logger"
	"github.com/Lutefd/botkit-telemetry/internal/model"
	"github.com/Lutefd/botkit-telemetry/internal/settings"
	"github.com/klauspost/compress/zip"
	"github.com/ncruces/go-strftime"
)

const (
	ArchiveDir    = "archive"
	archivePrefix = "archive_"
	archiveExt    = ".zip"

	endMarker       = "# === END OF FILE ===\n"
	startMarkerFmt  = "# === START OF FILE: %s ===\n"
	lineTimeLayout  = "2006-01-02 15:04:05"
	defaultLogExt   = ".log"
	filePermissions = 0o644
	dirPermissions  = 0o755
)

var filenameTokens = strings.NewReplacer("YY", "%y", "MM", "%m", "DD", "%d")

type FileOption func(*File)

// WithClock replaces the wall clock used for rotation decisions.
func WithClock(now func() time.Time) FileOption {
	return func(f *File) { f.now = now }
}

// File appends log lines to a date-keyed file under the configured
// directory. It is safe for concurrent use; the scheduled rotation and the
// consumer share it.
type File struct {
	mu       sync.Mutex
	cfg      settings.File
	zone     *time.Location
	now      func() time.Time
	file     *os.File
	path     string
	openedOn time.Time
}

// NewFile creates the directories and opens the file for the current date.
func NewFile(cfg settings.File, offsetHours int, opts ...FileOption) (*File, error) {
	f := &File{
		cfg:  cfg,
		zone: fixedZone(offsetHours),
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}

	if err := os.MkdirAll(filepath.Join(cfg.Directory, ArchiveDir), dirPermissions); err != nil {
		return nil, fmt.Errorf("failed to create log directories: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.rotate(true); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *File) WriteLog(event model.LogEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.rotate(false); err != nil {
		return err
	}
	if _, err := io.WriteString(f.file, f.formatLine(event)); err != nil {
		return fmt.Errorf("failed to write log line: %w", err)
	}
	return nil
}

// CheckRotation rotates when the open file is old enough.
func (f *File) CheckRotation() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rotate(false)
}

// Path returns the file currently written to.
func (f *File) Path() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.path
}

func (f *File) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.file == nil {
		return nil
	}
	err := f.file.Close()
	f.file = nil
	return err
}

func (f *File) formatLine(event model.LogEvent) string {
	ts := event.Timestamp
	if t, err := model.ParseTimestamp(event.Timestamp); err == nil {
		ts = t.In(f.zone).Format(lineTimeLayout)
	}
	return fmt.Sprintf("[%s] [%s] [%s] %s [code: %d]\n", ts, event.Level, event.Module, event.Message, event.StatusCode)
}

func (f *File) rotate(force bool) error {
	now := f.now().In(f.zone)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, f.zone)

	if f.file != nil && !force && daysBetween(f.openedOn, today) < f.cfg.ChangeDays {
		return nil
	}

	if f.file != nil {
		if _, err := io.WriteString(f.file, endMarker); err != nil {
			logger.Errorf("failed to write end marker to %s: %v", f.path, err)
		}
		if err := f.file.Close(); err != nil {
			logger.Errorf("failed to close %s: %v", f.path, err)
		}
		f.file = nil
	}

	path := filepath.Join(f.cfg.Directory, strftime.Format(filenameTokens.Replace(f.cfg.Filename), now))
	_, statErr := os.Stat(path)
	created := errors.Is(statErr, os.ErrNotExist)

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, filePermissions)
	if err != nil {
		return fmt.Errorf("failed to open log file %s: %w", path, err)
	}
	if created {
		if _, err := fmt.Fprintf(file, startMarkerFmt, now.Format(lineTimeLayout)); err != nil {
			file.Close()
			return fmt.Errorf("failed to write start marker to %s: %w", path, err)
		}
	}

	f.file = file
	f.path = path
	f.openedOn = today

	return f.enforceRetention()
}

// enforceRetention archives the oldest active files beyond MaxFiles and, when
// enabled, deletes the oldest archives beyond MaxArchives. The open file is
// never archived.
func (f *File) enforceRetention() error {
	active, err := filesByModTime(f.cfg.Directory, "*"+f.logExt())
	if err != nil {
		return err
	}

	excess := len(active) - f.cfg.MaxFiles
	for _, path := range active {
		if excess <= 0 {
			break
		}
		if path == f.path {
			continue
		}
		if err := archive(path, f.archivePath(path)); err != nil {
			return err
		}
		excess--
	}

	if !f.cfg.DeleteOld {
		return nil
	}

	archives, err := filesByModTime(filepath.Join(f.cfg.Directory, ArchiveDir), "*"+archiveExt)
	if err != nil {
		return err
	}
	for i := 0; i < len(archives)-f.cfg.MaxArchives; i++ {
		if err := os.Remove(archives[i]); err != nil {
			return fmt.Errorf("failed to delete archive %s: %w", archives[i], err)
		}
	}
	return nil
}

func (f *File) logExt() string {
	if ext := filepath.Ext(f.cfg.Filename); ext != "" {
		return ext
	}
	return defaultLogExt
}

// archivePath names the archive after the file's stem. Templates that repeat
// (such as MM.log) get a numeric suffix instead of replacing older archives.
func (f *File) archivePath(path string) string {
	base := filepath.Base(path)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	dir := filepath.Join(f.cfg.Directory, ArchiveDir)

	candidate := filepath.Join(dir, archivePrefix+stem+archiveExt)
	for n := 1; ; n++ {
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate
		}
		candidate = filepath.Join(dir, fmt.Sprintf("%s%s-%d%s", archivePrefix, stem, n, archiveExt))
	}
}

// archive writes src as the single deflated entry of dst, then removes src.
func archive(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open %s for archiving: %w", src, err)
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", src, err)
	}

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create archive %s: %w", dst, err)
	}

	zw := zip.NewWriter(out)
	header, err := zip.FileInfoHeader(info)
	if err != nil {
		out.Close()
		return fmt.Errorf("failed to build archive header: %w", err)
	}
	header.Name = filepath.Base(src)
	header.Method = zip.Deflate

	w, err := zw.CreateHeader(header)
	if err == nil {
		_, err = io.Copy(w, in)
	}
	if err == nil {
		err = zw.Close()
	}
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(dst)
		return fmt.Errorf("failed to archive %s: %w", src, err)
	}

	in.Close()
	if err := os.Remove(src); err != nil {
		return fmt.Errorf("failed to remove archived file %s: %w", src, err)
	}
	return nil
}

// filesByModTime lists regular files matching pattern, oldest first. Equal
// modification times fall back to name order.
func filesByModTime(dir, pattern string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}

	type entry struct {
		path    string
		modTime time.Time
	}
	entries := make([]entry, 0, len(matches))
	for _, path := range matches {
		info, err := os.Stat(path)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		entries = append(entries, entry{path: path, modTime: info.ModTime()})
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].modTime.Equal(entries[j].modTime) {
			return entries[i].path < entries[j].path
		}
		return entries[i].modTime.Before(entries[j].modTime)
	})

	paths := make([]string, len(entries))
	for i, e := range entries {
		paths[i] = e.path
	}
	return paths, nil
}

func daysBetween(from, to time.Time) int {
	return int(to.Sub(from).Hours() / 24)
}
