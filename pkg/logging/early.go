package logging

import (
	"fmt"
	"io"
	"os"
)

// EarlyLog writes plain lines to stderr before the structured logger exists.
type EarlyLog struct {
	w io.Writer
}

func NewEarlyLog() *EarlyLog {
	return &EarlyLog{w: os.Stderr}
}

func (l *EarlyLog) Error(msg string, args ...interface{}) {
	fmt.Fprintf(l.w, "ERROR: "+msg+"\n", args...)
}
