package cli

import (
	"context"
	"fmt"
	"time"

	"nrfdfu-tool/internal/ble"
	"nrfdfu-tool/internal/config"
	"nrfdfu-tool/internal/dfu"
	"nrfdfu-tool/internal/dfupkg"
	"nrfdfu-tool/internal/logging"
	"nrfdfu-tool/internal/tui"

	"github.com/charmbracelet/bubbles/progress"
)

// CLI is the root command structure for nrfdfu.
type CLI struct {
	Verbose bool `short:"v" help:"Enable verbose debug output"`

	Update  UpdateCmd  `cmd:"" help:"Run a full firmware update over BLE"`
	Scan    ScanCmd    `cmd:"" help:"Scan for nearby devices"`
	Jump    JumpCmd    `cmd:"" help:"Switch a device into DFU mode without updating"`
	Reset   ResetCmd   `cmd:"" help:"Send a reset command to a device in DFU mode"`
	Inspect InspectCmd `cmd:"" help:"Show the contents of a firmware package"`
}

// --- Update ---

type UpdateCmd struct {
	File   string   `arg:"" help:"Path to the ZIP firmware package"`
	Device []string `arg:"" help:"Device name(s) or BLE address(es); first match wins"`

	Prn     uint16        `default:"8" help:"Packet receipt notification interval (0 disables)"`
	Delay   float64       `default:"0.4" help:"Pause in seconds after the start command"`
	Retry   int           `default:"3" help:"Number of full update attempts"`
	Timeout time.Duration `default:"5m" help:"Deadline for the whole procedure"`
	Wait    bool          `help:"Keep scanning until one of the targets appears"`
	Tui     bool          `help:"Show an interactive progress view"`
}

func (c *UpdateCmd) Run(globals *CLI) error {
	config.Verbose = globals.Verbose

	pkg, err := dfupkg.Load(c.File)
	if err != nil {
		return fmt.Errorf("load package: %w", err)
	}

	cfg := dfu.Config{
		Targets:    c.Device,
		PRN:        c.Prn,
		StartDelay: time.Duration(c.Delay * float64(time.Second)),
		MaxRetries: c.Retry,
		Timeout:    c.Timeout,
		Wait:       c.Wait,
	}
	central := ble.NewCentral()

	if c.Tui {
		return tui.RunUpdate(cfg, pkg, central)
	}

	log := logging.New(globals.Verbose)
	defer log.Sync()
	if pkg.Source == "legacy" {
		log.Info("No manifest.json. Using legacy compatibility mode.")
	}
	log.Infof("Package: %d byte image, %d byte init packet", len(pkg.Image), len(pkg.InitPacket))

	obs := dfu.Observer{Log: log, Progress: progressPrinter()}
	return dfu.NewOrchestrator(cfg, pkg, central, central, obs).Run(context.Background())
}

// progressPrinter renders upload progress on one line, reusing the same
// bar style as the TUI.
func progressPrinter() func(int) {
	bar := progress.New(progress.WithDefaultGradient(), progress.WithWidth(40))
	last := -1
	return func(pct int) {
		if pct == last {
			return
		}
		last = pct
		fmt.Printf("\r%s %3d%%", bar.ViewAs(float64(pct)/100), pct)
		if pct >= 100 {
			fmt.Println()
		}
	}
}

// --- Scan ---

type ScanCmd struct {
	Duration time.Duration `default:"5s" help:"How long to listen"`
}

func (c *ScanCmd) Run(globals *CLI) error {
	config.Verbose = globals.Verbose

	fmt.Println("Scanning...")
	central := ble.NewCentral()
	seen, err := central.Sweep(context.Background(), c.Duration)
	if err != nil {
		return err
	}
	if len(seen) == 0 {
		fmt.Println("No devices found.")
		return nil
	}
	for _, adv := range seen {
		marker := ""
		if adv.DFUService {
			marker = "  [DFU]"
		}
		name := adv.Name
		if name == "" {
			name = "(no name)"
		}
		fmt.Printf("  %s  %s%s\n", adv.Address, name, marker)
	}
	return nil
}

// --- Jump ---

type JumpCmd struct {
	Device string `arg:"" help:"Device name or BLE address"`
	Scan   bool   `help:"Force a broadcast scan even if an address is given"`
}

func (c *JumpCmd) Run(globals *CLI) error {
	config.Verbose = globals.Verbose
	log := logging.New(globals.Verbose)
	defer log.Sync()

	central := ble.NewCentral()
	ctx := context.Background()

	p, err := central.Find(ctx, c.Device, c.Scan)
	if err != nil {
		return err
	}
	log.Infof("Connecting to %s (%s) for jump...", p.Name, p.Address)

	link, err := central.Open(ctx, p)
	if err != nil {
		return err
	}
	defer link.Close()

	// The connection usually drops as the device reboots into the
	// bootloader; a write error here is the expected outcome.
	if err := link.WriteControl(dfu.StartCommand()); err != nil {
		log.Debugf("jump write ended: %v", err)
	}
	log.Info("Jump command sent.")
	time.Sleep(500 * time.Millisecond)
	return nil
}

// --- Reset ---

type ResetCmd struct {
	Device string `arg:"" help:"Device name or BLE address"`
	Scan   bool   `help:"Force a broadcast scan even if an address is given"`
}

func (c *ResetCmd) Run(globals *CLI) error {
	config.Verbose = globals.Verbose
	log := logging.New(globals.Verbose)
	defer log.Sync()

	central := ble.NewCentral()
	ctx := context.Background()

	p, err := central.Find(ctx, c.Device, c.Scan)
	if err != nil {
		return err
	}
	link, err := central.Open(ctx, p)
	if err != nil {
		return err
	}
	defer link.Close()

	if err := link.WriteControl(dfu.ResetCommand()); err != nil {
		log.Debugf("reset write ended: %v", err)
	}
	log.Info("Reset command sent.")
	return nil
}

// --- Inspect ---

type InspectCmd struct {
	File string `arg:"" help:"Firmware package to inspect"`
}

func (c *InspectCmd) Run(globals *CLI) error {
	config.Verbose = globals.Verbose

	pkg, err := dfupkg.Load(c.File)
	if err != nil {
		return err
	}
	fmt.Printf("Package: %s\n", c.File)
	fmt.Printf("  Source:      %s\n", pkg.Source)
	fmt.Printf("  Image:       %d bytes\n", len(pkg.Image))
	fmt.Printf("  Init packet: %d bytes\n", len(pkg.InitPacket))
	return nil
}
