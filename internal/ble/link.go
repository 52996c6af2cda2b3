package ble

import (
	"context"
	"fmt"

	"nrfdfu-tool/internal/config"
	"nrfdfu-tool/internal/dfu"
	"nrfdfu-tool/internal/util"

	"tinygo.org/x/bluetooth"
)

// Link is one live connection to a device's DFU service. Both channels
// are written without response: the control point also acknowledges at
// the protocol layer via 0x10 status notifications.
type Link struct {
	device  bluetooth.Device
	control *bluetooth.DeviceCharacteristic
	packet  *bluetooth.DeviceCharacteristic
}

// Open connects to a peripheral heard in an earlier sweep and resolves
// the DFU control point and packet characteristics.
func (c *Central) Open(ctx context.Context, p dfu.Peripheral) (dfu.Link, error) {
	if err := c.enable(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	result, ok := c.results[p.Address]
	c.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("no scan result for %s", p.Address)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	config.Debugf("connecting to %s...", p.Address)
	device, err := c.adapter.Connect(result.Address, bluetooth.ConnectionParams{})
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", p.Address, err)
	}

	services, err := device.DiscoverServices([]bluetooth.UUID{DFUServiceUUID})
	if err != nil || len(services) == 0 {
		device.Disconnect()
		return nil, fmt.Errorf("DFU service not found on %s: %w", p.Address, err)
	}

	chars, err := services[0].DiscoverCharacteristics([]bluetooth.UUID{DFUControlPointUUID, DFUPacketUUID})
	if err != nil {
		device.Disconnect()
		return nil, fmt.Errorf("discover DFU characteristics: %w", err)
	}

	link := &Link{device: device}
	for i := range chars {
		switch chars[i].UUID() {
		case DFUControlPointUUID:
			link.control = &chars[i]
		case DFUPacketUUID:
			link.packet = &chars[i]
		}
	}
	if link.control == nil || link.packet == nil {
		device.Disconnect()
		return nil, fmt.Errorf("DFU characteristics missing on %s", p.Address)
	}
	return link, nil
}

// Subscribe registers the handler for control-point notifications. The
// stack may reuse the notification buffer, so the handler gets a copy.
func (l *Link) Subscribe(handler func([]byte)) error {
	return l.control.EnableNotifications(func(buf []byte) {
		if config.Verbose {
			util.PrintHexDump(buf)
		}
		handler(append([]byte(nil), buf...))
	})
}

func (l *Link) WriteControl(data []byte) error {
	config.Debugf(">> control: % x", data)
	_, err := l.control.WriteWithoutResponse(data)
	return err
}

func (l *Link) WritePacket(data []byte) error {
	_, err := l.packet.WriteWithoutResponse(data)
	return err
}

func (l *Link) Close() error {
	return l.device.Disconnect()
}
