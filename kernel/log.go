package kernel

import (
	"fmt"
	"io"
	"sync"

	"github.com/pkg/errors"
)

// Level is a log severity, ordered low to high.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	default:
		return "error"
	}
}

// earlyBufSize is the ring buffer's capacity: enough lines to dump
// useful history around a panic without growing unbounded. Grounded on
// gopheros/kernel/kfmt/ringbuf.go's fixed-size byte ring, which exists
// for the same reason -- buffering Printf output before a real console
// is wired up.
const earlyBufSize = 16384

// earlyLog is a fixed-size byte ring that keeps the most recent log
// output, so a panic handler can dump recent history even if the real
// console was never reached or has itself gone silent.
type earlyLog struct {
	mu             sync.Mutex
	buf            [earlyBufSize]byte
	rIndex, wIndex int
	full           bool
}

func (r *earlyLog) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, b := range p {
		r.buf[r.wIndex] = b
		r.wIndex = (r.wIndex + 1) % earlyBufSize
		if r.wIndex == r.rIndex {
			r.rIndex = (r.rIndex + 1) % earlyBufSize
			r.full = true
		}
	}
	return len(p), nil
}

// Dump returns the ring's current contents in write order, oldest byte
// first.
func (r *earlyLog) Dump() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.full && r.wIndex == r.rIndex {
		return nil
	}
	if !r.full {
		return append([]byte(nil), r.buf[r.rIndex:r.wIndex]...)
	}
	if r.rIndex <= r.wIndex {
		return append([]byte(nil), r.buf[r.rIndex:r.wIndex]...)
	}
	out := make([]byte, 0, earlyBufSize)
	out = append(out, r.buf[r.rIndex:]...)
	out = append(out, r.buf[:r.wIndex]...)
	return out
}

// Logger is a small leveled wrapper over an io.Writer, in the idiom of
// plain fmt.Printf status lines used elsewhere in this tree (mem's zone
// reporter prints "[mem] ..." lines this way), fanned out to an early ring buffer so a panic handler
// can recover recent history regardless of where the real console landed.
type Logger struct {
	mu    sync.Mutex
	out   io.Writer
	early *earlyLog
	min   Level
}

// NewLogger returns a Logger writing to out (typically hal.Console, or
// os.Stdout under cmd/nucleusd before the console is wired), filtering
// anything below min.
func NewLogger(out io.Writer, min Level) *Logger {
	return &Logger{out: out, early: &earlyLog{}, min: min}
}

func (l *Logger) log(level Level, format string, args ...interface{}) {
	line := fmt.Sprintf("[%s] "+format+"\n", append([]interface{}{level}, args...)...)
	l.early.Write([]byte(line))
	if level < l.min {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	io.WriteString(l.out, line)
}

func (l *Logger) Debugf(format string, args ...interface{}) { l.log(LevelDebug, format, args...) }
func (l *Logger) Infof(format string, args ...interface{})  { l.log(LevelInfo, format, args...) }
func (l *Logger) Warnf(format string, args ...interface{})  { l.log(LevelWarn, format, args...) }
func (l *Logger) Errorf(format string, args ...interface{}) { l.log(LevelError, format, args...) }

// History returns the early ring buffer's recent contents, for a panic
// handler to dump.
func (l *Logger) History() []byte { return l.early.Dump() }

// wrapf wraps cause with a boot-stage message, giving Boot's caller a
// diagnostic chain (stage -> underlying defs.Err_t-derived error)
// without changing the syscall-facing defs.Err_t values themselves.
func wrapf(cause error, stage string) error {
	return errors.Wrapf(cause, "boot: %s", stage)
}
