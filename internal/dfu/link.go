package dfu

import "context"

// Peripheral identifies a discovered device. The live connection is
// acquired separately, scoped to one operation.
type Peripheral struct {
	Address string
	Name    string
}

// Link is one live connection to a device's DFU service: the control
// point (acknowledged command writes plus notifications) and the packet
// channel (unacknowledged data writes).
type Link interface {
	Subscribe(handler func([]byte)) error
	WriteControl(data []byte) error
	WritePacket(data []byte) error
	Close() error
}

// DeviceFinder locates DFU targets. Each call is one full discovery
// strategy pass; the caller decides whether to retry.
type DeviceFinder interface {
	// FindAny scans once and returns the first device matching any of
	// the candidate names or addresses.
	FindAny(ctx context.Context, candidates []string) (Peripheral, error)

	// FindByAddress attempts a targeted lookup of one address.
	FindByAddress(ctx context.Context, address string) (Peripheral, error)

	// FindByService scans for a device advertising the DFU service.
	FindByService(ctx context.Context) (Peripheral, error)
}

// LinkOpener turns a located peripheral into a live DFU link.
type LinkOpener interface {
	Open(ctx context.Context, p Peripheral) (Link, error)
}
