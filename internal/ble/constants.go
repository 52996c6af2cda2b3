package ble

import (
	"time"

	"tinygo.org/x/bluetooth"
)

// Nordic legacy DFU service and characteristic UUIDs.
var (
	DFUServiceUUID      = mustUUID("00001530-1212-efde-1523-785feabcd123")
	DFUControlPointUUID = mustUUID("00001531-1212-efde-1523-785feabcd123")
	DFUPacketUUID       = mustUUID("00001532-1212-efde-1523-785feabcd123")
)

const (
	// scanWindow is one full broadcast discovery sweep.
	scanWindow = 5 * time.Second

	// directFindTimeout bounds a targeted lookup by address.
	directFindTimeout = 10 * time.Second
)

func mustUUID(s string) bluetooth.UUID {
	u, err := bluetooth.ParseUUID(s)
	if err != nil {
		panic(err)
	}
	return u
}
