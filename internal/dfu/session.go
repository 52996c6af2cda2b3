package dfu

import (
	"time"

	"nrfdfu-tool/internal/dfupkg"
)

// Session is the transient state of one update attempt. A failed attempt
// discards its session; every retry gets a fresh one.
type Session struct {
	Package *dfupkg.Package

	// PRN is the packet receipt notification interval. Zero disables
	// flow control entirely.
	PRN uint16

	// StartDelay is the pause after the start command, for devices that
	// need time to erase and prepare flash before the size announcement.
	StartDelay time.Duration

	BytesSent int
}

func NewSession(pkg *dfupkg.Package, prn uint16, startDelay time.Duration) *Session {
	return &Session{Package: pkg, PRN: prn, StartDelay: startDelay}
}
