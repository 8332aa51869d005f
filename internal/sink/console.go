package sink

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/Lutefd/botkit-telemetry/internal/model"
	"github.com/Lutefd/botkit-telemetry/internal/settings"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"github.com/ncruces/go-strftime"
)

const (
	columnSeparator = " | "
	errorCodeFloor  = 200
)

// ANSI palette indexes for the color names the settings service uses.
var ansiColors = map[string]lipgloss.Color{
	"black":   lipgloss.Color("0"),
	"red":     lipgloss.Color("1"),
	"green":   lipgloss.Color("2"),
	"yellow":  lipgloss.Color("3"),
	"blue":    lipgloss.Color("4"),
	"magenta": lipgloss.Color("5"),
	"cyan":    lipgloss.Color("6"),
	"white":   lipgloss.Color("7"),
}

type Console struct {
	mu       sync.Mutex
	out      io.Writer
	cfg      settings.Console
	zone     *time.Location
	styles   map[string]lipgloss.Style
	errStyle lipgloss.Style
}

// NewConsole renders with a fixed 16-color profile so output does not depend
// on terminal detection.
func NewConsole(out io.Writer, cfg settings.Console, offsetHours int) *Console {
	renderer := lipgloss.NewRenderer(out, termenv.WithProfile(termenv.ANSI))
	renderer.SetColorProfile(termenv.ANSI)

	c := &Console{
		out:      out,
		cfg:      cfg,
		zone:     fixedZone(offsetHours),
		styles:   make(map[string]lipgloss.Style, len(cfg.Styles)),
		errStyle: renderer.NewStyle().Bold(true).Foreground(ansiColors["red"]),
	}
	for column, cs := range cfg.Styles {
		style := renderer.NewStyle().Bold(cs.Bold).Underline(cs.Underline)
		if color, ok := ansiColors[cs.Color]; ok {
			style = style.Foreground(color)
		}
		if highlight, ok := ansiColors[cs.Highlight]; ok {
			style = style.Background(highlight)
		}
		c.styles[column] = style
	}
	return c
}

// Render builds one line from the shown columns in configured order. Events
// with a status code above 200 ignore column styles and render in bold red.
func (c *Console) Render(event model.LogEvent) string {
	errorMode := event.StatusCode > errorCodeFloor

	parts := make([]string, 0, len(c.cfg.Columns))
	for _, column := range c.cfg.Columns {
		if !c.cfg.Styles[column].Show {
			continue
		}

		value := event.Field(column)
		if column == "timestamp" && value != "" {
			value = c.formatTimestamp(value)
		}

		if errorMode {
			parts = append(parts, c.errStyle.Render(value))
		} else {
			parts = append(parts, c.styles[column].Render(value))
		}
	}
	return strings.Join(parts, columnSeparator)
}

func (c *Console) WriteLog(event model.LogEvent) error {
	line := c.Render(event)

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := fmt.Fprintln(c.out, line); err != nil {
		return fmt.Errorf("failed to write console line: %w", err)
	}
	return nil
}

func (c *Console) formatTimestamp(raw string) string {
	t, err := model.ParseTimestamp(raw)
	if err != nil {
		return raw
	}
	return strftime.Format(c.cfg.TimeFormat, t.In(c.zone))
}

func fixedZone(offsetHours int) *time.Location {
	return time.FixedZone(fmt.Sprintf("UTC%+d", offsetHours), offsetHours*3600)
}
