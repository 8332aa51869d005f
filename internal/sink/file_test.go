package sink_test

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Lutefd/botkit-telemetry/internal/model"
	"github.com/Lutefd/botkit-telemetry/internal/settings"
	"github.com/Lutefd/botkit-telemetry/internal/sink"
	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var day1 = time.Date(2024, time.July, 1, 10, 0, 0, 0, time.UTC)

func fileSettings(dir string) settings.File {
	return settings.File{
		Filename:    settings.DefaultFilename,
		ChangeDays:  1,
		Directory:   dir,
		MaxFiles:    10,
		MaxArchives: 60,
	}
}

func newFileSink(t *testing.T, cfg settings.File, offset int, clock *fakeClock) *sink.File {
	t.Helper()
	f, err := sink.NewFile(cfg, offset, sink.WithClock(clock.Now))
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })
	return f
}

func logAt(t time.Time, message string, code int) model.LogEvent {
	return model.NewLogEvent(t, model.LogLevelInfo, message, "bot", code)
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(b)
}

func listNames(t *testing.T, dir, pattern string) []string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(dir, pattern))
	require.NoError(t, err)
	names := make([]string, len(matches))
	for i, m := range matches {
		names[i] = filepath.Base(m)
	}
	sort.Strings(names)
	return names
}

func TestFile_NewCreatesDirectoriesAndStartMarker(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	clock := &fakeClock{now: day1}
	f := newFileSink(t, fileSettings(dir), 0, clock)

	assert.DirExists(t, filepath.Join(dir, sink.ArchiveDir))
	assert.Equal(t, filepath.Join(dir, "24-07-01.log"), f.Path())
	assert.Equal(t, "# === START OF FILE: 2024-07-01 10:00:00 ===\n", readFile(t, f.Path()))
}

func TestFile_WriteLogFormat(t *testing.T) {
	dir := t.TempDir()
	clock := &fakeClock{now: day1}
	f := newFileSink(t, fileSettings(dir), 3, clock)

	require.NoError(t, f.WriteLog(model.NewLogEvent(day1, model.LogLevelError, "db down", "db", 500)))
	require.NoError(t, f.WriteLog(model.LogEvent{Timestamp: "not-a-time", Level: model.LogLevelInfo, Module: "API", Message: "raw"}))

	lines := strings.Split(strings.TrimSuffix(readFile(t, f.Path()), "\n"), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "# === START OF FILE: 2024-07-01 13:00:00 ===", lines[0])
	assert.Equal(t, "[2024-07-01 13:00:00] [ERROR] [DB] db down [code: 500]", lines[1])
	assert.Equal(t, "[not-a-time] [INFO] [API] raw [code: 0]", lines[2])
}

func TestFile_OffsetMovesFileDate(t *testing.T) {
	dir := t.TempDir()
	clock := &fakeClock{now: time.Date(2024, time.July, 1, 22, 30, 0, 0, time.UTC)}
	f := newFileSink(t, fileSettings(dir), 3, clock)

	assert.Equal(t, filepath.Join(dir, "24-07-02.log"), f.Path())
}

func TestFile_ReopenExistingFileSkipsStartMarker(t *testing.T) {
	dir := t.TempDir()
	existing := filepath.Join(dir, "24-07-01.log")
	require.NoError(t, os.WriteFile(existing, []byte("previous run\n"), 0o644))

	clock := &fakeClock{now: day1}
	f := newFileSink(t, fileSettings(dir), 0, clock)
	require.NoError(t, f.WriteLog(logAt(day1, "again", 0)))

	assert.Equal(t, "previous run\n[2024-07-01 10:00:00] [INFO] [BOT] again [code: 0]\n", readFile(t, existing))
}

func TestFile_RotatesOncePerDayBoundary(t *testing.T) {
	dir := t.TempDir()
	clock := &fakeClock{now: day1}
	f := newFileSink(t, fileSettings(dir), 0, clock)

	for i := 0; i < 4; i++ {
		require.NoError(t, f.WriteLog(logAt(clock.Now(), "first", 0)))
		clock.Advance(6 * time.Hour)
		require.NoError(t, f.WriteLog(logAt(clock.Now(), "same day", 0)))
		clock.Advance(18 * time.Hour)
	}

	names := listNames(t, dir, "*.log")
	assert.Equal(t, []string{"24-07-01.log", "24-07-02.log", "24-07-03.log", "24-07-04.log"}, names)

	for i, name := range names {
		content := readFile(t, filepath.Join(dir, name))
		assert.True(t, strings.HasPrefix(content, "# === START OF FILE: "), name)
		assert.Equal(t, 1, strings.Count(content, "START OF FILE"), name)
		assert.Equal(t, 2, strings.Count(content, "[INFO]"), name)
		if i < len(names)-1 {
			assert.True(t, strings.HasSuffix(content, "# === END OF FILE ===\n"), name)
		} else {
			assert.NotContains(t, content, "END OF FILE", name)
		}
	}
}

func TestFile_ChangeDaysThreshold(t *testing.T) {
	dir := t.TempDir()
	cfg := fileSettings(dir)
	cfg.ChangeDays = 2
	clock := &fakeClock{now: day1}
	f := newFileSink(t, cfg, 0, clock)

	clock.Advance(24 * time.Hour)
	require.NoError(t, f.CheckRotation())
	assert.Equal(t, filepath.Join(dir, "24-07-01.log"), f.Path())

	clock.Advance(24 * time.Hour)
	require.NoError(t, f.CheckRotation())
	assert.Equal(t, filepath.Join(dir, "24-07-03.log"), f.Path())
}

func TestFile_RetentionArchivesOldest(t *testing.T) {
	dir := t.TempDir()
	cfg := fileSettings(dir)
	cfg.MaxFiles = 2
	clock := &fakeClock{now: day1}
	f := newFileSink(t, cfg, 0, clock)

	for i := 0; i < 5; i++ {
		require.NoError(t, f.WriteLog(logAt(clock.Now(), "entry", i)))
		clock.Advance(24 * time.Hour)
	}
	require.NoError(t, f.Close())

	assert.Equal(t, []string{"24-07-04.log", "24-07-05.log"}, listNames(t, dir, "*.log"))

	archiveDir := filepath.Join(dir, sink.ArchiveDir)
	archives := listNames(t, archiveDir, "*.zip")
	assert.Equal(t, []string{"archive_24-07-01.zip", "archive_24-07-02.zip", "archive_24-07-03.zip"}, archives)

	for i, name := range archives {
		r, err := zip.OpenReader(filepath.Join(archiveDir, name))
		require.NoError(t, err)
		require.Len(t, r.File, 1)
		assert.Equal(t, strings.TrimPrefix(strings.TrimSuffix(name, ".zip"), "archive_")+".log", r.File[0].Name)
		assert.Equal(t, zip.Deflate, r.File[0].Method)

		rc, err := r.File[0].Open()
		require.NoError(t, err)
		content, err := io.ReadAll(rc)
		require.NoError(t, err)
		rc.Close()
		r.Close()

		assert.Contains(t, string(content), fmt.Sprintf("[code: %d]", i))
		assert.True(t, strings.HasSuffix(string(content), "# === END OF FILE ===\n"))
	}
}

func TestFile_DeleteOldArchives(t *testing.T) {
	dir := t.TempDir()
	cfg := fileSettings(dir)
	cfg.MaxFiles = 1
	cfg.DeleteOld = true
	cfg.MaxArchives = 2
	clock := &fakeClock{now: day1}
	f := newFileSink(t, cfg, 0, clock)

	for i := 0; i < 5; i++ {
		require.NoError(t, f.WriteLog(logAt(clock.Now(), "entry", i)))
		clock.Advance(24 * time.Hour)
	}

	assert.Equal(t, []string{"24-07-05.log"}, listNames(t, dir, "*.log"))
	assert.Equal(t, []string{"archive_24-07-03.zip", "archive_24-07-04.zip"},
		listNames(t, filepath.Join(dir, sink.ArchiveDir), "*.zip"))
}

func TestFile_KeepsArchivesWithoutDeleteFlag(t *testing.T) {
	dir := t.TempDir()
	cfg := fileSettings(dir)
	cfg.MaxFiles = 1
	cfg.MaxArchives = 1
	clock := &fakeClock{now: day1}
	f := newFileSink(t, cfg, 0, clock)

	for i := 0; i < 4; i++ {
		require.NoError(t, f.WriteLog(logAt(clock.Now(), "entry", i)))
		clock.Advance(24 * time.Hour)
	}

	assert.Len(t, listNames(t, filepath.Join(dir, sink.ArchiveDir), "*.zip"), 3)
}

func TestFile_RetentionIgnoresOtherExtensions(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("keep"), 0o644))

	cfg := fileSettings(dir)
	cfg.MaxFiles = 1
	clock := &fakeClock{now: day1}
	newFileSink(t, cfg, 0, clock)

	assert.FileExists(t, filepath.Join(dir, "notes.txt"))
	assert.Empty(t, listNames(t, filepath.Join(dir, sink.ArchiveDir), "*.zip"))
}

func TestFile_WriteAfterCloseReopens(t *testing.T) {
	dir := t.TempDir()
	clock := &fakeClock{now: day1}
	f := newFileSink(t, fileSettings(dir), 0, clock)

	require.NoError(t, f.Close())
	require.NoError(t, f.Close())

	require.NoError(t, f.WriteLog(logAt(day1, "late", 0)))
	assert.Contains(t, readFile(t, f.Path()), "late")
}

func TestFile_RepeatingTemplateKeepsEarlierArchives(t *testing.T) {
	dir := t.TempDir()
	cfg := fileSettings(dir)
	cfg.Filename = "MM.log"
	cfg.MaxFiles = 1
	clock := &fakeClock{now: day1}
	f := newFileSink(t, cfg, 0, clock)

	steps := []time.Duration{31 * 24 * time.Hour, 334 * 24 * time.Hour, 31 * 24 * time.Hour}
	require.NoError(t, f.WriteLog(logAt(clock.Now(), "entry", 0)))
	for i, step := range steps {
		clock.Advance(step)
		require.NoError(t, f.WriteLog(logAt(clock.Now(), "entry", i+1)))
	}

	archiveDir := filepath.Join(dir, sink.ArchiveDir)
	assert.Equal(t, []string{"archive_07-1.zip", "archive_07.zip", "archive_08.zip"}, listNames(t, archiveDir, "*.zip"))

	readEntry := func(name string) string {
		r, err := zip.OpenReader(filepath.Join(archiveDir, name))
		require.NoError(t, err)
		defer r.Close()
		require.Len(t, r.File, 1)
		rc, err := r.File[0].Open()
		require.NoError(t, err)
		defer rc.Close()
		content, err := io.ReadAll(rc)
		require.NoError(t, err)
		return string(content)
	}

	assert.Contains(t, readEntry("archive_07.zip"), "[code: 0]")
	assert.Contains(t, readEntry("archive_07-1.zip"), "[code: 2]")
	assert.NotContains(t, readEntry("archive_07-1.zip"), "[code: 0]")
}
