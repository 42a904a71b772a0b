// Package logging provides a non-blocking, env-gated debug logger so
// network-facing goroutines never stall behind slow log output.
package logging

import (
	"fmt"
	"os"
	"sync"
)

const queueSize = 2048

type logger struct {
	once sync.Once
	ch   chan string
}

var global logger

func enabled() bool {
	return os.Getenv("BITCHAT_DEBUG") == "1"
}

func (l *logger) start() {
	l.once.Do(func() {
		l.ch = make(chan string, queueSize)
		go func() {
			for msg := range l.ch {
				_, _ = os.Stderr.WriteString(msg)
			}
		}()
	})
}

// Errorf always logs, synchronously, regardless of BITCHAT_DEBUG: failures
// worth surfacing to an operator shouldn't be gated behind a debug flag.
func Errorf(format string, args ...any) {
	_, _ = os.Stderr.WriteString(fmt.Sprintf("[error] "+format+"\n", args...))
}

// Debugf logs only when BITCHAT_DEBUG=1, queued through a bounded channel
// so a saturated log sink drops messages instead of blocking the caller.
func Debugf(format string, args ...any) {
	if !enabled() {
		return
	}
	msg := fmt.Sprintf("[debug] "+format+"\n", args...)
	global.start()
	select {
	case global.ch <- msg:
	default:
		// Drop when saturated; debug logging must never block mesh I/O.
	}
}
