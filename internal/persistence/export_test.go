package persistence

import (
	"errors"
	"os"
)

// ErrTornWrite is returned by files opened through FailNextWrite.
var ErrTornWrite = errors.New("torn write")

type tornFile struct {
	*os.File
	failed bool
}

// Write writes half of the first line it is given, then reports failure.
func (f *tornFile) Write(p []byte) (int, error) {
	if f.failed {
		return f.File.Write(p)
	}
	f.failed = true
	n, _ := f.File.Write(p[:len(p)/2])
	return n, ErrTornWrite
}

// FailNextWrite makes the next file the log opens tear its first write.
// Files opened after that behave normally.
func FailNextWrite(l *EventLog) {
	armed := true
	l.open = func(path string) (logFile, error) {
		f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil || !armed {
			return f, err
		}
		armed = false
		return &tornFile{File: f}, nil
	}
}
