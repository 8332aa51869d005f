package settings

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/valyala/fastjson"
)

const (
	KeySaveMethod = "log_save_method"
	KeyConsole    = "log_console_settings"
	KeyFile       = "log_file_settings"
	KeyTimezone   = "log_timezone"
)

const (
	DefaultTimeFormat = "%Y-%m-%d %H:%M:%S"
	DefaultFilename   = "YY-MM-DD.log"
	DefaultDirectory  = "./logs/"
	DefaultChangeDays = 1
	DefaultMaxFiles   = 10
	DefaultMaxArchive = 60

	minOffset = -12
	maxOffset = 14
)

// Source returns the raw JSON text of each requested key it knows about.
// Unknown keys are absent from the result.
type Source interface {
	Fetch(ctx context.Context, keys ...string) (map[string]string, error)
}

type ConfigError struct {
	Key string
	Err error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid setting %s: %v", e.Key, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

type SinkToggles struct {
	Console  bool
	File     bool
	Database bool
}

type ColumnStyle struct {
	Show      bool
	Color     string
	Highlight string
	Bold      bool
	Underline bool
}

type Console struct {
	Columns    []string
	Styles     map[string]ColumnStyle
	TimeFormat string
}

type File struct {
	Filename    string
	ChangeDays  int
	Directory   string
	DeleteOld   bool
	MaxFiles    int
	MaxArchives int
}

type Settings struct {
	Sinks          SinkToggles
	Console        Console
	File           File
	TimezoneOffset int
}

// Load fetches every telemetry setting once. Sinks are built from the result
// and never re-read it.
func Load(ctx context.Context, src Source) (Settings, error) {
	raw, err := src.Fetch(ctx, KeySaveMethod, KeyConsole, KeyFile, KeyTimezone)
	if err != nil {
		return Settings{}, fmt.Errorf("failed to fetch settings: %w", err)
	}

	var s Settings
	if s.Sinks, err = ParseSinkToggles(raw[KeySaveMethod]); err != nil {
		return Settings{}, err
	}

	consoleRaw, ok := raw[KeyConsole]
	if !ok {
		return Settings{}, &ConfigError{Key: KeyConsole, Err: fmt.Errorf("missing")}
	}
	if s.Console, err = ParseConsole(consoleRaw); err != nil {
		return Settings{}, err
	}

	fileRaw, ok := raw[KeyFile]
	if !ok {
		return Settings{}, &ConfigError{Key: KeyFile, Err: fmt.Errorf("missing")}
	}
	if s.File, err = ParseFile(fileRaw); err != nil {
		return Settings{}, err
	}

	tzRaw, ok := raw[KeyTimezone]
	if !ok {
		return Settings{}, &ConfigError{Key: KeyTimezone, Err: fmt.Errorf("missing")}
	}
	if s.TimezoneOffset, err = ParseTimezone(tzRaw); err != nil {
		return Settings{}, err
	}

	return s, nil
}

// ParseSinkToggles treats an empty value as "everything enabled".
func ParseSinkToggles(raw string) (SinkToggles, error) {
	toggles := SinkToggles{Console: true, File: true, Database: true}
	if strings.TrimSpace(raw) == "" {
		return toggles, nil
	}

	v, err := parseObject(KeySaveMethod, raw)
	if err != nil {
		return SinkToggles{}, err
	}
	if toggles.Console, err = getBool(v, KeySaveMethod, "console", true); err != nil {
		return SinkToggles{}, err
	}
	if toggles.File, err = getBool(v, KeySaveMethod, "file", true); err != nil {
		return SinkToggles{}, err
	}
	if toggles.Database, err = getBool(v, KeySaveMethod, "db", true); err != nil {
		return SinkToggles{}, err
	}
	return toggles, nil
}

func ParseConsole(raw string) (Console, error) {
	v, err := parseObject(KeyConsole, raw)
	if err != nil {
		return Console{}, err
	}

	c := Console{Styles: make(map[string]ColumnStyle)}
	if columns := v.Get("columns"); columns != nil && columns.Type() != fastjson.TypeNull {
		items, err := columns.Array()
		if err != nil {
			return Console{}, &ConfigError{Key: KeyConsole, Err: fmt.Errorf("columns: %w", err)}
		}
		for _, item := range items {
			name, err := item.StringBytes()
			if err != nil {
				return Console{}, &ConfigError{Key: KeyConsole, Err: fmt.Errorf("columns: %w", err)}
			}
			c.Columns = append(c.Columns, string(name))
		}
	}

	if styles := v.Get("styles"); styles != nil && styles.Type() != fastjson.TypeNull {
		obj, err := styles.Object()
		if err != nil {
			return Console{}, &ConfigError{Key: KeyConsole, Err: fmt.Errorf("styles: %w", err)}
		}
		var visitErr error
		obj.Visit(func(key []byte, style *fastjson.Value) {
			if visitErr != nil {
				return
			}
			var parsed ColumnStyle
			parsed, visitErr = parseColumnStyle(style)
			c.Styles[string(key)] = parsed
		})
		if visitErr != nil {
			return Console{}, visitErr
		}
	}

	if c.TimeFormat, err = getString(v, KeyConsole, "time_format", DefaultTimeFormat); err != nil {
		return Console{}, err
	}
	return c, nil
}

func parseColumnStyle(v *fastjson.Value) (ColumnStyle, error) {
	if v.Type() != fastjson.TypeObject {
		return ColumnStyle{}, &ConfigError{Key: KeyConsole, Err: fmt.Errorf("style must be an object, got %s", v.Type())}
	}
	var (
		style ColumnStyle
		err   error
	)
	if style.Show, err = getBool(v, KeyConsole, "show", false); err != nil {
		return ColumnStyle{}, err
	}
	if style.Color, err = getString(v, KeyConsole, "color", ""); err != nil {
		return ColumnStyle{}, err
	}
	if style.Highlight, err = getString(v, KeyConsole, "highlight", ""); err != nil {
		return ColumnStyle{}, err
	}
	if style.Bold, err = getBool(v, KeyConsole, "bold", false); err != nil {
		return ColumnStyle{}, err
	}
	if style.Underline, err = getBool(v, KeyConsole, "underline", false); err != nil {
		return ColumnStyle{}, err
	}
	return style, nil
}

func ParseFile(raw string) (File, error) {
	v, err := parseObject(KeyFile, raw)
	if err != nil {
		return File{}, err
	}

	var f File
	if f.Filename, err = getString(v, KeyFile, "filename", DefaultFilename); err != nil {
		return File{}, err
	}
	if f.Directory, err = getString(v, KeyFile, "directory", DefaultDirectory); err != nil {
		return File{}, err
	}
	if f.ChangeDays, err = getInt(v, KeyFile, "change_days", DefaultChangeDays); err != nil {
		return File{}, err
	}
	if f.DeleteOld, err = getBool(v, KeyFile, "delete_logs", false); err != nil {
		return File{}, err
	}
	if f.MaxFiles, err = getInt(v, KeyFile, "max_files", DefaultMaxFiles); err != nil {
		return File{}, err
	}
	if f.MaxArchives, err = getInt(v, KeyFile, "max_archive", DefaultMaxArchive); err != nil {
		return File{}, err
	}

	switch {
	case f.Filename == "":
		return File{}, &ConfigError{Key: KeyFile, Err: fmt.Errorf("filename must not be empty")}
	case f.ChangeDays < 1:
		return File{}, &ConfigError{Key: KeyFile, Err: fmt.Errorf("change_days must be at least 1, got %d", f.ChangeDays)}
	case f.MaxFiles < 1:
		return File{}, &ConfigError{Key: KeyFile, Err: fmt.Errorf("max_files must be at least 1, got %d", f.MaxFiles)}
	case f.MaxArchives < 0:
		return File{}, &ConfigError{Key: KeyFile, Err: fmt.Errorf("max_archive must not be negative, got %d", f.MaxArchives)}
	}
	return f, nil
}

// ParseTimezone accepts a bare integer, a JSON number or a JSON string
// holding an integer.
func ParseTimezone(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	offset, err := strconv.Atoi(raw)
	if err != nil {
		var p fastjson.Parser
		v, parseErr := p.Parse(raw)
		if parseErr != nil {
			return 0, &ConfigError{Key: KeyTimezone, Err: parseErr}
		}
		if offset, err = intValue(v); err != nil {
			return 0, &ConfigError{Key: KeyTimezone, Err: err}
		}
	}
	if offset < minOffset || offset > maxOffset {
		return 0, &ConfigError{Key: KeyTimezone, Err: fmt.Errorf("offset %d outside [%d, %d]", offset, minOffset, maxOffset)}
	}
	return offset, nil
}

func parseObject(key, raw string) (*fastjson.Value, error) {
	var p fastjson.Parser
	v, err := p.Parse(raw)
	if err != nil {
		return nil, &ConfigError{Key: key, Err: err}
	}
	if v.Type() != fastjson.TypeObject {
		return nil, &ConfigError{Key: key, Err: fmt.Errorf("expected an object, got %s", v.Type())}
	}
	return v, nil
}

func getBool(v *fastjson.Value, key, field string, def bool) (bool, error) {
	f := v.Get(field)
	if f == nil {
		return def, nil
	}
	switch f.Type() {
	case fastjson.TypeNull:
		return def, nil
	case fastjson.TypeTrue:
		return true, nil
	case fastjson.TypeFalse:
		return false, nil
	}
	return false, &ConfigError{Key: key, Err: fmt.Errorf("%s must be a boolean, got %s", field, f.Type())}
}

func getString(v *fastjson.Value, key, field, def string) (string, error) {
	f := v.Get(field)
	if f == nil || f.Type() == fastjson.TypeNull {
		return def, nil
	}
	b, err := f.StringBytes()
	if err != nil {
		return "", &ConfigError{Key: key, Err: fmt.Errorf("%s: %w", field, err)}
	}
	return string(b), nil
}

func getInt(v *fastjson.Value, key, field string, def int) (int, error) {
	f := v.Get(field)
	if f == nil || f.Type() == fastjson.TypeNull {
		return def, nil
	}
	n, err := intValue(f)
	if err != nil {
		return 0, &ConfigError{Key: key, Err: fmt.Errorf("%s: %w", field, err)}
	}
	return n, nil
}

func intValue(v *fastjson.Value) (int, error) {
	switch v.Type() {
	case fastjson.TypeNumber:
		return v.Int()
	case fastjson.TypeString:
		return strconv.Atoi(strings.TrimSpace(string(v.GetStringBytes())))
	}
	return 0, fmt.Errorf("expected an integer, got %s", v.Type())
}
