package ble

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"nrfdfu-tool/internal/config"
	"nrfdfu-tool/internal/dfu"

	"tinygo.org/x/bluetooth"
)

// Central wraps the system BLE adapter as the engine's device finder
// and link opener. Raw scan results are cached per address so a device
// selected from a sweep can be connected to later.
type Central struct {
	adapter *bluetooth.Adapter
	enabled bool

	mu      sync.Mutex
	results map[string]bluetooth.ScanResult
}

func NewCentral() *Central {
	return &Central{
		adapter: bluetooth.DefaultAdapter,
		results: make(map[string]bluetooth.ScanResult),
	}
}

func (c *Central) enable() error {
	if c.enabled {
		return nil
	}
	if err := c.adapter.Enable(); err != nil {
		return fmt.Errorf("enable bluetooth: %w", err)
	}
	c.enabled = true
	return nil
}

// sweep runs one discovery pass, merging repeated advertisements per
// address (scan responses fill in fields the first packet lacked). A
// non-nil stopOn predicate ends the pass early.
func (c *Central) sweep(ctx context.Context, timeout time.Duration, stopOn func(Advertisement) bool) ([]Advertisement, error) {
	if err := c.enable(); err != nil {
		return nil, err
	}

	var (
		mu    sync.Mutex
		index = make(map[string]int)
		seen  []Advertisement
	)

	timer := time.AfterFunc(timeout, func() { _ = c.adapter.StopScan() })
	defer timer.Stop()
	unhook := context.AfterFunc(ctx, func() { _ = c.adapter.StopScan() })
	defer unhook()

	err := c.adapter.Scan(func(adapter *bluetooth.Adapter, result bluetooth.ScanResult) {
		addr := strings.ToUpper(result.Address.String())

		c.mu.Lock()
		c.results[addr] = result
		c.mu.Unlock()

		adv := Advertisement{
			Address:    addr,
			Name:       result.LocalName(),
			DFUService: result.AdvertisementPayload.HasServiceUUID(DFUServiceUUID),
		}

		mu.Lock()
		if i, ok := index[addr]; ok {
			if seen[i].Name == "" {
				seen[i].Name = adv.Name
			}
			seen[i].DFUService = seen[i].DFUService || adv.DFUService
			adv = seen[i]
		} else {
			index[addr] = len(seen)
			seen = append(seen, adv)
			config.Debugf("found: %q (%s)", adv.Name, adv.Address)
		}
		mu.Unlock()

		if stopOn != nil && stopOn(adv) {
			_ = adapter.StopScan()
		}
	})
	if err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	mu.Lock()
	defer mu.Unlock()
	return seen, nil
}

// Sweep runs one timed broadcast discovery pass and returns everything
// heard, in first-seen order.
func (c *Central) Sweep(ctx context.Context, timeout time.Duration) ([]Advertisement, error) {
	if timeout <= 0 {
		timeout = scanWindow
	}
	return c.sweep(ctx, timeout, nil)
}

// FindAny scans once and returns the first device matching any of the
// candidate names or addresses.
func (c *Central) FindAny(ctx context.Context, candidates []string) (dfu.Peripheral, error) {
	seen, err := c.sweep(ctx, scanWindow, nil)
	if err != nil {
		return dfu.Peripheral{}, fmt.Errorf("%w: %v", dfu.ErrTransport, err)
	}
	if adv, ok := Select(seen, candidates, false); ok {
		return adv.peripheral(), nil
	}
	return dfu.Peripheral{}, fmt.Errorf("%w: no match for %v", dfu.ErrDeviceNotFound, candidates)
}

// FindByAddress performs a targeted lookup: the pass ends as soon as
// the address is heard, without a full sweep.
func (c *Central) FindByAddress(ctx context.Context, address string) (dfu.Peripheral, error) {
	want := strings.ToUpper(address)
	seen, err := c.sweep(ctx, directFindTimeout, func(adv Advertisement) bool {
		return adv.Address == want
	})
	if err != nil {
		return dfu.Peripheral{}, fmt.Errorf("%w: %v", dfu.ErrTransport, err)
	}
	for _, adv := range seen {
		if adv.Address == want {
			return adv.peripheral(), nil
		}
	}
	return dfu.Peripheral{}, fmt.Errorf("%w: %s", dfu.ErrDeviceNotFound, address)
}

// FindByService scans for any device advertising the DFU service.
func (c *Central) FindByService(ctx context.Context) (dfu.Peripheral, error) {
	seen, err := c.sweep(ctx, scanWindow, nil)
	if err != nil {
		return dfu.Peripheral{}, fmt.Errorf("%w: %v", dfu.ErrTransport, err)
	}
	if adv, ok := Select(seen, nil, true); ok {
		return adv.peripheral(), nil
	}
	return dfu.Peripheral{}, fmt.Errorf("%w: no DFU service advertised", dfu.ErrDeviceNotFound)
}

// Find locates a single target by name or address: a direct address
// lookup first (skipped by forceScan), then a broadcast sweep.
func (c *Central) Find(ctx context.Context, target string, forceScan bool) (dfu.Peripheral, error) {
	if !forceScan && looksLikeAddress(target) {
		if p, err := c.FindByAddress(ctx, target); err == nil {
			return p, nil
		}
	}
	return c.FindAny(ctx, []string{target})
}

func looksLikeAddress(s string) bool {
	return len(s) == 17 && strings.Count(s, ":") == 5
}

func (a Advertisement) peripheral() dfu.Peripheral {
	return dfu.Peripheral{Address: a.Address, Name: a.Name}
}
