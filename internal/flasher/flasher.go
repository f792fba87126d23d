// Package flasher is the top-level firmware download flow: load an
// image, wait for the bootloader to enumerate, bring it to idle, erase
// what the image will cover, stream the image in negotiated-size
// chunks and finalize the manifest phase.
package flasher

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/Gl0w1amp/Affine-IO/internal/dfu"
	"github.com/Gl0w1amp/Affine-IO/internal/memlayout"
	"github.com/Gl0w1amp/Affine-IO/internal/usbdev"
)

// ProgressFunc receives completion percentages. Within one run the
// values never decrease and reach 100 only when the run succeeds.
type ProgressFunc func(percent int)

// StatusFunc receives short human-readable phase and error messages.
// After a failed run the last message delivered describes the cause.
type StatusFunc func(message string)

// Progress milestones. Writing maps onto [6..95]; 99 marks the
// manifest hand-off and 100 is reported by Flash only on success.
const (
	progressMassErase  = 3
	progressLazyErase  = 5
	progressWriteStart = 6
	progressWriteSpan  = 90
	progressWriteCap   = 95
	progressFinalize   = 99
)

// dataBlockNumber is the wValue used for every data DNLOAD. The write
// address is re-asserted before each block, so the block number does
// not need to advance.
const dataBlockNumber = 2

// maxStatusLen caps status messages delivered to the sink.
const maxStatusLen = 160

// Config holds the flasher configuration.
type Config struct {
	// VendorID and ProductID select the bootloader to wait for.
	VendorID  uint16
	ProductID uint16

	// BaseAddress is where the image is written.
	BaseAddress uint32

	// OpenTimeout is the discovery budget: how long to keep retrying
	// while the device re-enumerates.
	OpenTimeout time.Duration

	// ForceMassErase ignores the device-declared layout and erases the
	// whole chip up front.
	ForceMassErase bool

	// ShortEraseCommand selects the one-byte mass erase variant some
	// older bootloaders require.
	ShortEraseCommand bool

	// Progress and Status are optional sinks.
	Progress ProgressFunc
	Status   StatusFunc
}

func defaultConfig() Config {
	return Config{
		VendorID:    dfu.VendorID,
		ProductID:   dfu.ProductID,
		BaseAddress: dfu.BaseAddress,
		OpenTimeout: 10 * time.Second,
	}
}

// Option is a functional option for configuring the Flasher.
type Option func(*Config)

// WithDevice overrides the bootloader VID/PID to wait for.
func WithDevice(vendorID, productID uint16) Option {
	return func(c *Config) {
		c.VendorID = vendorID
		c.ProductID = productID
	}
}

// WithBaseAddress overrides the flash load address.
func WithBaseAddress(addr uint32) Option {
	return func(c *Config) {
		c.BaseAddress = addr
	}
}

// WithOpenTimeout sets the device discovery budget.
func WithOpenTimeout(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.OpenTimeout = d
		}
	}
}

// WithForceMassErase always erases the whole chip instead of the pages
// the image covers.
func WithForceMassErase(force bool) Option {
	return func(c *Config) {
		c.ForceMassErase = force
	}
}

// WithShortEraseCommand selects the one-byte mass erase payload.
func WithShortEraseCommand(short bool) Option {
	return func(c *Config) {
		c.ShortEraseCommand = short
	}
}

// WithProgress sets the percentage sink.
func WithProgress(fn ProgressFunc) Option {
	return func(c *Config) {
		c.Progress = fn
	}
}

// WithStatus sets the status message sink.
func WithStatus(fn StatusFunc) Option {
	return func(c *Config) {
		c.Status = fn
	}
}

// Flasher drives one firmware download at a time.
type Flasher struct {
	cfg Config

	lastPercent int
	lastStatus  string
}

// New creates a Flasher with the given options.
func New(opts ...Option) *Flasher {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Flasher{cfg: cfg, lastPercent: -1}
}

// LastStatus returns the most recent status message of the current or
// previous run.
func (f *Flasher) LastStatus() string {
	return f.lastStatus
}

// Flash loads the firmware image at path, waits for the bootloader to
// appear on the bus and programs it. Resources are released on every
// exit path; 100% is reported only on success and the status sink
// always holds a cause message after a failure.
func (f *Flasher) Flash(ctx context.Context, path string) error {
	f.lastPercent = -1
	f.lastStatus = ""

	err := f.run(ctx, path)
	if err != nil {
		f.setStatus("Error: %v", err)
		return err
	}

	f.report(100)
	return nil
}

func (f *Flasher) run(ctx context.Context, path string) error {
	f.report(0)

	f.setStatus("Loading firmware image...")
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read firmware image: %w", err)
	}
	if len(data) == 0 {
		return fmt.Errorf("firmware image %s is empty", path)
	}

	f.setStatus("Waiting for DFU device...")
	dev, err := usbdev.WaitFor(ctx, f.cfg.VendorID, f.cfg.ProductID, f.cfg.OpenTimeout)
	if err != nil {
		return err
	}
	defer dev.Close()

	if dev.AltName != "" {
		f.setStatus("Using DFU interface %d alt %d: %s", dev.InterfaceNumber, dev.AltSetting, dev.AltName)
	} else {
		f.setStatus("Using DFU interface %d alt %d", dev.InterfaceNumber, dev.AltSetting)
	}

	layout := memlayout.Parse(dev.AltName)
	if f.cfg.ForceMassErase {
		layout = nil
	}

	session := &dfu.Session{
		Transport:    dev,
		Interface:    dev.InterfaceNumber,
		TransferSize: dev.TransferSize,
		Layout:       layout,
	}
	return f.FlashImage(ctx, session, data)
}

// FlashImage programs an in-memory image through an established
// session. With a known layout only the pages the image touches are
// erased and chunks never cross a segment boundary; otherwise the
// whole chip is erased once up front.
func (f *Flasher) FlashImage(ctx context.Context, s *dfu.Session, data []byte) error {
	f.setStatus("Preparing device...")
	if err := s.PrepareIdle(ctx); err != nil {
		return fmt.Errorf("prepare device: %w", err)
	}

	if s.Layout.Known() {
		f.report(progressLazyErase)
	} else {
		f.setStatus("Erasing flash (mass erase)...")
		f.report(progressMassErase)
		if err := s.MassErase(ctx, f.cfg.ShortEraseCommand); err != nil {
			return err
		}
		if err := s.PrepareIdle(ctx); err != nil {
			return fmt.Errorf("prepare device after erase: %w", err)
		}
	}

	base := f.cfg.BaseAddress
	f.setStatus("Setting write address 0x%08X", base)
	if err := s.SetAddressPointer(ctx, base); err != nil {
		return err
	}

	f.report(progressWriteStart)
	f.setStatus("Writing firmware (%d bytes)...", len(data))

	written := 0
	for written < len(data) {
		addr := base + uint32(written)

		chunk := len(data) - written
		if max := s.ChunkSize(); chunk > max {
			chunk = max
		}

		if s.Layout.Known() {
			seg, ok := s.Layout.FindSegment(addr)
			if !ok {
				return &dfu.AddressError{Address: addr}
			}
			if left := int(seg.End - addr); chunk > left {
				chunk = left
			}
			if err := s.EnsureErased(ctx, addr, uint32(chunk)); err != nil {
				return err
			}
		}

		// The bootloader does not keep the address pointer across
		// vendor-command blocks, so it is re-asserted every chunk.
		if err := s.SetAddressPointer(ctx, addr); err != nil {
			return err
		}

		payload := data[written : written+chunk]
		if chunk%2 != 0 {
			// Flash writes are 16-bit; pad with the erased-state value
			// so the extra byte is a no-op on target memory.
			padded := make([]byte, chunk+1)
			copy(padded, payload)
			padded[chunk] = 0xFF
			payload = padded
		}

		if err := s.DownloadBlock(ctx, dataBlockNumber, payload, false); err != nil {
			return fmt.Errorf("write block at 0x%08X: %w", addr, err)
		}

		written += chunk
		percent := progressWriteStart + written*progressWriteSpan/len(data)
		if percent > progressWriteCap {
			percent = progressWriteCap
		}
		f.report(percent)
	}

	f.setStatus("Finalizing transfer...")
	if err := s.Finalize(ctx); err != nil {
		return err
	}
	f.report(progressFinalize)
	f.setStatus("Firmware written; device is rebooting")
	return nil
}

// report forwards a percentage to the sink, clamped so the sequence
// never decreases within a run.
func (f *Flasher) report(percent int) {
	if percent < f.lastPercent {
		return
	}
	f.lastPercent = percent
	if f.cfg.Progress != nil {
		f.cfg.Progress(percent)
	}
}

// setStatus formats, truncates and delivers a status message.
func (f *Flasher) setStatus(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if len(msg) > maxStatusLen {
		msg = msg[:maxStatusLen]
	}
	f.lastStatus = msg
	if f.cfg.Status != nil {
		f.cfg.Status(msg)
	}
}
