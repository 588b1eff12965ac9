package notify

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/fatih/color"
)

// TerminalNotifier prints notifications to a terminal.
type TerminalNotifier struct {
	mu   sync.Mutex
	w    io.Writer
	bell bool

	red, yellow, green, cyan *color.Color
}

// NewTerminalNotifier writes to w, ringing the bell for errors when bell is set.
func NewTerminalNotifier(w io.Writer, bell bool) *TerminalNotifier {
	return &TerminalNotifier{
		w:      w,
		bell:   bell,
		red:    color.New(color.FgRed, color.Bold),
		yellow: color.New(color.FgYellow),
		green:  color.New(color.FgGreen),
		cyan:   color.New(color.FgCyan),
	}
}

func (tn *TerminalNotifier) Name() string { return "terminal" }

func (tn *TerminalNotifier) IsEnabled() bool { return tn.w != nil }

// Send prints n on one line.
func (tn *TerminalNotifier) Send(_ context.Context, n Notification) error {
	tn.mu.Lock()
	defer tn.mu.Unlock()

	if tn.bell && n.Type == NotificationError {
		fmt.Fprint(tn.w, "\a")
	}
	_, err := fmt.Fprintln(tn.w, tn.Format(n))
	return err
}

// Format renders n as "[15:04:05] LABEL | title | message".
func (tn *TerminalNotifier) Format(n Notification) string {
	var label string
	switch n.Type {
	case NotificationError:
		label = tn.red.Sprint("✗ ALERT")
	case NotificationStatus:
		label = tn.yellow.Sprint("● STATUS")
	case NotificationControl:
		label = tn.green.Sprint("✓ CONTROL")
	default:
		label = tn.cyan.Sprint("ℹ INFO")
	}

	line := fmt.Sprintf("[%s] %s | %s", n.Timestamp.Local().Format("15:04:05"), label, n.Title)
	if n.Message != "" && n.Message != n.Title {
		line += " | " + n.Message
	}
	return line
}
