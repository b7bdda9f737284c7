// Package diag is the kernel's debug-port logging, fatal-halt, and
// scheduler-profile-export surface: the single small logging/diagnostics
// layer every other package calls through, the way biscuit calls into a
// handful of print hooks rather than a general logging framework.
package diag

import (
	"io"
	"sync"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/valibali/cluu/archhooks"
)

/// Logger writes formatted diagnostic output to the debug port (or, in
/// tests, any io.Writer).
type Logger struct {
	mu  sync.Mutex
	out io.Writer
	p   *message.Printer
}

/// NewLogger builds a logger writing to w, formatted with p's English
/// conventions (biscuit has no i18n needs either; English is fixed rather
/// than configurable).
func NewLogger(w io.Writer) *Logger {
	return &Logger{out: w, p: message.NewPrinter(language.English)}
}

func (l *Logger) write(level, format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.p.Fprintf(l.out, "["+level+"] "+format+"\n", args...)
}

/// Logf writes an informational line.
func (l *Logger) Logf(format string, args ...interface{}) {
	l.write("info", format, args...)
}

/// Warnf writes a warning line.
func (l *Logger) Warnf(format string, args ...interface{}) {
	l.write("warn", format, args...)
}

/// Fatalf is the single implementation of "unrecoverable errors halt with a
/// description written to the debug port": it formats msg, disassembles a
/// 32-byte instruction window starting at rip (if rip != 0), and then
/// halts the CPU via env. It never returns.
func (l *Logger) Fatalf(env archhooks.Env, rip uintptr, format string, args ...interface{}) {
	l.write("fatal", format, args...)
	if rip != 0 {
		l.dumpInstructions(env, rip)
	}
	env.Halt()
}

func (l *Logger) dumpInstructions(env archhooks.Env, rip uintptr) {
	const window = 32
	code := env.ReadPhysBytes(rip, window)
	lines := Disassemble(code, rip)
	for _, line := range lines {
		l.write("fatal", "  %s", line)
	}
}
