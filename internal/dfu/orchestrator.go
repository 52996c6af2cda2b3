package dfu

import (
	"context"
	"errors"
	"fmt"
	"time"

	"nrfdfu-tool/internal/dfupkg"
)

const (
	defaultMaxRetries       = 3
	defaultProcedureTimeout = 300 * time.Second

	attemptBackoff  = 3 * time.Second
	jumpAttempts    = 3
	jumpBackoff     = 2 * time.Second
	jumpSettle      = 500 * time.Millisecond
	rebootSettle    = 1 * time.Second
	waitRescanDelay = 2 * time.Second
)

// Config holds the per-run parameters of the orchestrator.
type Config struct {
	// Targets are candidate device names or addresses; the first device
	// matching any of them is used.
	Targets []string

	PRN        uint16
	StartDelay time.Duration

	// MaxRetries bounds full update attempts. Zero means the default 3.
	MaxRetries int

	// Timeout bounds the whole procedure. Zero means the default 300s.
	Timeout time.Duration

	// Wait keeps scanning until one of the targets appears instead of
	// failing the attempt on an empty first sweep.
	Wait bool
}

// Orchestrator drives the full procedure: locate the target, jump it
// into the bootloader, rediscover it under its update-mode identity and
// run the update machine, with retry at two layers.
type Orchestrator struct {
	cfg    Config
	pkg    *dfupkg.Package
	finder DeviceFinder
	opener LinkOpener
	obs    Observer

	sleep func(context.Context, time.Duration) error
}

func NewOrchestrator(cfg Config, pkg *dfupkg.Package, finder DeviceFinder, opener LinkOpener, obs Observer) *Orchestrator {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultProcedureTimeout
	}
	return &Orchestrator{
		cfg:    cfg,
		pkg:    pkg,
		finder: finder,
		opener: opener,
		obs:    obs,
		sleep:  sleep,
	}
}

// Run performs the update, retrying failed attempts from the top with a
// fresh session each time. The configured timeout bounds everything.
func (o *Orchestrator) Run(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.Timeout)
	defer cancel()

	var lastErr error
	for attempt := 1; attempt <= o.cfg.MaxRetries; attempt++ {
		o.obs.Infof("DFU attempt %d/%d...", attempt, o.cfg.MaxRetries)

		err := o.attempt(ctx)
		if err == nil {
			o.obs.Infof("DFU complete.")
			return nil
		}
		lastErr = err
		o.obs.Errorf("Attempt %d failed: %v", attempt, err)

		if cerr := ctx.Err(); cerr != nil {
			return fmt.Errorf("%w after %d attempt(s): %v", ctxSentinel(cerr), attempt, lastErr)
		}
		if attempt < o.cfg.MaxRetries {
			o.obs.Infof("Retrying in %s...", attemptBackoff)
			if serr := o.sleep(ctx, attemptBackoff); serr != nil {
				return fmt.Errorf("%w after %d attempt(s): %v", ctxSentinel(serr), attempt, lastErr)
			}
		}
	}
	return fmt.Errorf("update failed after %d attempts: %w", o.cfg.MaxRetries, lastErr)
}

func (o *Orchestrator) attempt(ctx context.Context) error {
	app, err := o.locate(ctx)
	if err != nil {
		return err
	}
	o.obs.Infof("Found target: %s (%s)", app.Name, app.Address)

	if err := o.enterBootloader(ctx, &app); err != nil {
		return err
	}

	o.obs.Infof("Waiting for reboot (%s)...", rebootSettle)
	if err := o.sleep(ctx, rebootSettle); err != nil {
		return procTimeout(err)
	}

	boot, err := o.findBootloader(ctx, app.Address)
	if err != nil {
		return err
	}
	o.obs.Infof("Target bootloader: %s", boot.Address)

	link, err := o.opener.Open(ctx, boot)
	if err != nil {
		return fmt.Errorf("%w: connect bootloader: %v", ErrTransport, err)
	}
	defer link.Close()

	sess := NewSession(o.pkg, o.cfg.PRN, o.cfg.StartDelay)
	return NewMachine(link, sess, o.obs).Run(ctx)
}

func (o *Orchestrator) locate(ctx context.Context) (Peripheral, error) {
	o.obs.Infof("Scanning for target(s): %v...", o.cfg.Targets)
	for {
		p, err := o.finder.FindAny(ctx, o.cfg.Targets)
		if err == nil {
			return p, nil
		}
		if !o.cfg.Wait || !errors.Is(err, ErrDeviceNotFound) {
			return Peripheral{}, err
		}
		o.obs.Infof("No devices found. Retrying scan...")
		if serr := o.sleep(ctx, waitRescanDelay); serr != nil {
			return Peripheral{}, procTimeout(serr)
		}
	}
}

// enterBootloader retries the jump sub-step on its own schedule before
// the outer retry loop gets to count a failure.
func (o *Orchestrator) enterBootloader(ctx context.Context, app *Peripheral) error {
	var lastErr error
	for try := 0; try < jumpAttempts; try++ {
		if try > 0 {
			o.obs.Warnf("Retrying jump... (%d/%d)", try+1, jumpAttempts)
			if err := o.sleep(ctx, jumpBackoff); err != nil {
				return procTimeout(err)
			}
			// Re-scan for fresh advertisement data.
			fresh, err := o.finder.FindAny(ctx, o.cfg.Targets)
			if err != nil {
				lastErr = err
				continue
			}
			*app = fresh
		}
		if err := o.jump(ctx, *app); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return lastErr
}

// jump commands the device out of application mode. Write errors are
// expected here: the device drops the connection as soon as it reboots
// into the bootloader, so they count as success.
func (o *Orchestrator) jump(ctx context.Context, p Peripheral) error {
	o.obs.Infof("Connecting to %s (%s) for jump...", p.Name, p.Address)
	link, err := o.opener.Open(ctx, p)
	if err != nil {
		return fmt.Errorf("%w: connect for jump: %v", ErrTransport, err)
	}
	defer link.Close()

	if err := link.WriteControl(StartCommand()); err != nil {
		o.obs.Debugf("jump write ended (likely success): %v", err)
	}
	o.obs.Infof("Jump command sent.")
	if err := o.sleep(ctx, jumpSettle); err != nil {
		return procTimeout(err)
	}
	return nil
}

// findBootloader rediscovers the device under its update-mode identity:
// first by the advertised DFU service, then by the derived address some
// devices use in bootloader mode.
func (o *Orchestrator) findBootloader(ctx context.Context, appAddr string) (Peripheral, error) {
	o.obs.Infof("Scanning for bootloader (service UUID)...")
	p, err := o.finder.FindByService(ctx)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, ErrDeviceNotFound) {
		return Peripheral{}, err
	}

	hint, ok := BumpLastOctet(appAddr)
	if !ok {
		return Peripheral{}, fmt.Errorf("%w: bootloader not advertising and no address hint for %q", ErrDeviceNotFound, appAddr)
	}
	o.obs.Infof("Scanning for bootloader (hint: %s)...", hint)
	p, err = o.finder.FindByAddress(ctx, hint)
	if err != nil {
		return Peripheral{}, fmt.Errorf("could not locate DFU bootloader: %w", ErrDeviceNotFound)
	}
	return p, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
