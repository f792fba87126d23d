// Package usbdev locates an ST DFU bootloader on the USB bus, claims
// its DFU interface and exposes the claimed device as a control
// transfer transport for the dfu package.
package usbdev

import (
	"context"
	"errors"
	"fmt"
	"syscall"
	"time"

	usb "github.com/kevmo314/go-usb"

	"github.com/Gl0w1amp/Affine-IO/internal/dfu"
)

// openRetryInterval is the pause between discovery attempts in WaitFor.
const openRetryInterval = 100 * time.Millisecond

var (
	// ErrNotFound means no device with the requested VID/PID was seen.
	ErrNotFound = errors.New("usbdev: no DFU device found")

	// ErrNoInterface means a matching device was found but none of its
	// interfaces speaks DFU mode.
	ErrNoInterface = errors.New("usbdev: device has no DFU interface")

	// ErrAccessDenied means the device node exists but cannot be
	// opened, which is almost always a udev permission or driver
	// binding problem rather than a device fault.
	ErrAccessDenied = errors.New("usbdev: cannot open DFU device; check udev rules or driver binding")
)

// Device is an opened DFU device with its interface claimed and the
// programming alt-setting selected. It implements dfu.Transport.
type Device struct {
	handle *usb.DeviceHandle

	InterfaceNumber uint8
	AltSetting      uint8
	TransferSize    uint16
	AltName         string
}

// Open makes a single pass over the bus and claims the first matching
// device that exposes a usable DFU interface.
func Open(vendorID, productID uint16) (*Device, error) {
	devices, err := usb.DeviceList()
	if err != nil {
		return nil, fmt.Errorf("usbdev: enumerate devices: %w", err)
	}

	var lastErr error
	for _, dev := range devices {
		if dev.Descriptor.VendorID != vendorID || dev.Descriptor.ProductID != productID {
			continue
		}

		handle, err := dev.Open()
		if err != nil {
			if errors.Is(err, usb.ErrPermissionDenied) {
				lastErr = fmt.Errorf("%w (%s)", ErrAccessDenied, dev.Path)
			} else {
				lastErr = fmt.Errorf("usbdev: open %s: %w", dev.Path, err)
			}
			continue
		}

		d, err := claim(handle)
		if err != nil {
			handle.Close()
			lastErr = err
			continue
		}
		return d, nil
	}

	if lastErr != nil {
		return nil, lastErr
	}
	return nil, fmt.Errorf("%w (vid=0x%04X pid=0x%04X)", ErrNotFound, vendorID, productID)
}

// claim selects the DFU interface on an opened handle and takes
// ownership of it.
func claim(handle *usb.DeviceHandle) (*Device, error) {
	cfg, err := handle.ConfigDescriptorByValue(0)
	if err != nil {
		return nil, fmt.Errorf("usbdev: read config descriptor: %w", err)
	}

	sel, ok := selectInterface(cfg, handle.StringDescriptor)
	if !ok {
		return nil, ErrNoInterface
	}

	// The kernel may have bound a driver to the interface; detaching is
	// best effort since most DFU interfaces have none.
	handle.DetachKernelDriver(sel.iface)

	if err := handle.ClaimInterface(sel.iface); err != nil {
		return nil, fmt.Errorf("usbdev: claim interface %d: %w", sel.iface, err)
	}
	if err := handle.SetInterfaceAltSetting(sel.iface, sel.alt); err != nil {
		return nil, fmt.Errorf("usbdev: select alt setting %d: %w", sel.alt, err)
	}

	return &Device{
		handle:          handle,
		InterfaceNumber: sel.iface,
		AltSetting:      sel.alt,
		TransferSize:    sel.transferSize,
		AltName:         sel.name,
	}, nil
}

// WaitFor repeatedly tries Open until a device appears or the budget
// runs out, surfacing the last observed error when it does. Bootloaders
// take a moment to re-enumerate after reset, so a fresh flash attempt
// usually needs a few rounds.
func WaitFor(ctx context.Context, vendorID, productID uint16, budget time.Duration) (*Device, error) {
	deadline := time.Now().Add(budget)

	var lastErr error
	for {
		d, err := Open(vendorID, productID)
		if err == nil {
			return d, nil
		}
		lastErr = err

		if time.Now().After(deadline) {
			return nil, lastErr
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(openRetryInterval):
		}
	}
}

// ControlTransfer issues a control request on the claimed interface,
// mapping a vanished device onto dfu.ErrDeviceGone so the state
// machine can treat a manifest-phase disconnect as success.
func (d *Device) ControlTransfer(requestType, request uint8, value, index uint16, data []byte, timeout time.Duration) (int, error) {
	n, err := d.handle.ControlTransfer(requestType, request, value, index, data, timeout)
	if err != nil && deviceGone(err) {
		return n, fmt.Errorf("control transfer: %w", dfu.ErrDeviceGone)
	}
	return n, err
}

func deviceGone(err error) bool {
	return errors.Is(err, syscall.ENODEV) ||
		errors.Is(err, syscall.ESHUTDOWN) ||
		errors.Is(err, usb.ErrDeviceNotFound)
}

// Close releases the claimed interface and the underlying handle. Safe
// to call after the device has already disconnected.
func (d *Device) Close() error {
	if d.handle == nil {
		return nil
	}
	d.handle.ReleaseInterface(d.InterfaceNumber)
	err := d.handle.Close()
	d.handle = nil
	return err
}

// Info describes one matching device found on the bus.
type Info struct {
	Path    string
	Bus     uint8
	Address uint8
}

// List reports every device on the bus matching the VID/PID without
// opening any of them.
func List(vendorID, productID uint16) ([]Info, error) {
	devices, err := usb.DeviceList()
	if err != nil {
		return nil, fmt.Errorf("usbdev: enumerate devices: %w", err)
	}

	var out []Info
	for _, dev := range devices {
		if dev.Descriptor.VendorID != vendorID || dev.Descriptor.ProductID != productID {
			continue
		}
		out = append(out, Info{Path: dev.Path, Bus: dev.Bus, Address: dev.Address})
	}
	return out, nil
}
