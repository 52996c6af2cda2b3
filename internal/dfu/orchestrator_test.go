package dfu

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nrfdfu-tool/internal/dfupkg"
)

type fakeFinder struct {
	findAny       func(ctx context.Context, candidates []string) (Peripheral, error)
	findByAddress func(ctx context.Context, address string) (Peripheral, error)
	findByService func(ctx context.Context) (Peripheral, error)
}

func (f *fakeFinder) FindAny(ctx context.Context, candidates []string) (Peripheral, error) {
	if f.findAny == nil {
		return Peripheral{}, ErrDeviceNotFound
	}
	return f.findAny(ctx, candidates)
}

func (f *fakeFinder) FindByAddress(ctx context.Context, address string) (Peripheral, error) {
	if f.findByAddress == nil {
		return Peripheral{}, ErrDeviceNotFound
	}
	return f.findByAddress(ctx, address)
}

func (f *fakeFinder) FindByService(ctx context.Context) (Peripheral, error) {
	if f.findByService == nil {
		return Peripheral{}, ErrDeviceNotFound
	}
	return f.findByService(ctx)
}

type fakeOpener struct {
	open func(p Peripheral) (Link, error)
}

func (f *fakeOpener) Open(_ context.Context, p Peripheral) (Link, error) {
	return f.open(p)
}

const (
	testAppAddr  = "AA:BB:CC:DD:EE:01"
	testBootAddr = "AA:BB:CC:DD:EE:02"
)

// testRig wires a finder/opener pair that mimics the normal mode
// transition: the application device is found by name, and after the
// jump a simulated bootloader advertises the DFU service.
func testRig(imageSize int) (*fakeFinder, *fakeOpener, *captureLink) {
	jumpLink := &captureLink{}
	finder := &fakeFinder{
		findAny: func(context.Context, []string) (Peripheral, error) {
			return Peripheral{Address: testAppAddr, Name: "MyDevice"}, nil
		},
		findByService: func(context.Context) (Peripheral, error) {
			return Peripheral{Address: testBootAddr, Name: "DfuTarg"}, nil
		},
	}
	opener := &fakeOpener{
		open: func(p Peripheral) (Link, error) {
			if p.Address == testAppAddr {
				return jumpLink, nil
			}
			return newDeviceSim(imageSize), nil
		},
	}
	return finder, opener, jumpLink
}

func testOrchestrator(cfg Config, imageSize int, finder DeviceFinder, opener LinkOpener) (*Orchestrator, *[]time.Duration) {
	pkg := &dfupkg.Package{Image: testImage(imageSize), InitPacket: []byte{1, 2}}
	o := NewOrchestrator(cfg, pkg, finder, opener, Observer{})
	slept := &[]time.Duration{}
	o.sleep = func(_ context.Context, d time.Duration) error {
		*slept = append(*slept, d)
		return nil
	}
	return o, slept
}

func TestOrchestratorFirstAttemptSucceeds(t *testing.T) {
	finder, opener, _ := testRig(40)
	o, slept := testOrchestrator(Config{Targets: []string{"MyDevice"}}, 40, finder, opener)

	err := o.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{jumpSettle, rebootSettle}, *slept)
}

func TestOrchestratorRetriesThenSucceeds(t *testing.T) {
	finder, opener, _ := testRig(40)
	calls := 0
	finder.findAny = func(context.Context, []string) (Peripheral, error) {
		calls++
		if calls < 3 {
			return Peripheral{}, ErrDeviceNotFound
		}
		return Peripheral{Address: testAppAddr, Name: "MyDevice"}, nil
	}
	o, slept := testOrchestrator(Config{Targets: []string{"MyDevice"}}, 40, finder, opener)

	err := o.Run(context.Background())
	require.NoError(t, err)

	backoffs := 0
	for _, d := range *slept {
		if d == attemptBackoff {
			backoffs++
		}
	}
	assert.Equal(t, 2, backoffs, "two failed attempts, two backoffs")
}

func TestOrchestratorExhaustsRetries(t *testing.T) {
	finder := &fakeFinder{}
	opener := &fakeOpener{open: func(Peripheral) (Link, error) {
		t.Fatal("open must not be reached without a located device")
		return nil, nil
	}}
	o, slept := testOrchestrator(Config{Targets: []string{"Nope"}}, 40, finder, opener)

	err := o.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDeviceNotFound)
	assert.Contains(t, err.Error(), "after 3 attempts")
	assert.Equal(t, []time.Duration{attemptBackoff, attemptBackoff}, *slept)
}

func TestOrchestratorWaitKeepsScanning(t *testing.T) {
	finder, opener, _ := testRig(40)
	calls := 0
	finder.findAny = func(context.Context, []string) (Peripheral, error) {
		calls++
		if calls < 3 {
			return Peripheral{}, ErrDeviceNotFound
		}
		return Peripheral{Address: testAppAddr, Name: "MyDevice"}, nil
	}
	o, slept := testOrchestrator(Config{Targets: []string{"MyDevice"}, Wait: true}, 40, finder, opener)

	err := o.Run(context.Background())
	require.NoError(t, err)

	rescans := 0
	for _, d := range *slept {
		if d == waitRescanDelay {
			rescans++
		}
	}
	assert.Equal(t, 2, rescans)
	assert.NotContains(t, *slept, attemptBackoff, "wait mode retries inside one attempt")
}

func TestOrchestratorJumpRetry(t *testing.T) {
	finder, _, _ := testRig(40)
	opens := 0
	jumpLink := &captureLink{}
	opener := &fakeOpener{open: func(p Peripheral) (Link, error) {
		if p.Address == testAppAddr {
			opens++
			if opens < 3 {
				return nil, errors.New("connect failed")
			}
			return jumpLink, nil
		}
		return newDeviceSim(40), nil
	}}
	o, slept := testOrchestrator(Config{Targets: []string{"MyDevice"}}, 40, finder, opener)

	err := o.Run(context.Background())
	require.NoError(t, err)

	backoffs := 0
	for _, d := range *slept {
		if d == jumpBackoff {
			backoffs++
		}
	}
	assert.Equal(t, 2, backoffs)
	assert.NotContains(t, *slept, attemptBackoff)
}

func TestOrchestratorBootloaderAddressFallback(t *testing.T) {
	finder, opener, _ := testRig(40)
	finder.findByService = nil // not advertising the service
	var asked string
	finder.findByAddress = func(_ context.Context, address string) (Peripheral, error) {
		asked = address
		return Peripheral{Address: address}, nil
	}
	o, _ := testOrchestrator(Config{Targets: []string{"MyDevice"}}, 40, finder, opener)

	err := o.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "AA:BB:CC:DD:EE:02", asked, "fallback uses the bumped application address")
}

func TestOrchestratorCancelledIsAbort(t *testing.T) {
	finder := &fakeFinder{}
	opener := &fakeOpener{open: func(Peripheral) (Link, error) { return nil, errors.New("unreachable") }}
	o, _ := testOrchestrator(Config{Targets: []string{"MyDevice"}}, 40, finder, opener)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := o.Run(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAborted)
	assert.NotErrorIs(t, err, ErrProcedureTimeout)
}

func TestOrchestratorProcedureTimeout(t *testing.T) {
	finder := &fakeFinder{
		findAny: func(ctx context.Context, _ []string) (Peripheral, error) {
			<-ctx.Done()
			return Peripheral{}, ctx.Err()
		},
	}
	opener := &fakeOpener{open: func(Peripheral) (Link, error) { return nil, errors.New("unreachable") }}
	o, _ := testOrchestrator(Config{Targets: []string{"MyDevice"}, Timeout: 10 * time.Millisecond}, 40, finder, opener)

	err := o.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrProcedureTimeout)
}
