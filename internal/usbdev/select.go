package usbdev

import (
	"strings"

	usb "github.com/kevmo314/go-usb"
)

// DFU mode interfaces are application-class with subclass 1; protocol 2
// distinguishes the bootloader from the runtime (protocol 1) flavor.
const (
	classApplication = 0xFE
	subclassDFU      = 0x01
	protocolDFUMode  = 0x02
)

// The DFU functional descriptor is class-specific type 0x21 and at
// least 9 bytes; wTransferSize sits at offset 5.
const (
	descTypeDFUFunctional = 0x21
	dfuFunctionalLen      = 9
	transferSizeOffset    = 5
)

// selection is the interface/alt-setting chosen for programming.
type selection struct {
	iface        uint8
	alt          uint8
	transferSize uint16
	name         string
}

// selectInterface scans a configuration for DFU-mode alt-settings and
// picks the one best suited for writing internal flash: an alt-setting
// naming the internal flash wins outright, otherwise the default alt 0
// is preferred over whatever matched first. Alt-setting names are read
// best effort; a failed string descriptor read just yields "".
func selectInterface(cfg *usb.ConfigDescriptor, readString func(uint8) (string, error)) (selection, bool) {
	var sel selection
	found := false

	for _, iface := range cfg.Interfaces {
		for _, alt := range iface.AltSettings {
			if alt.InterfaceClass != classApplication ||
				alt.InterfaceSubClass != subclassDFU ||
				alt.InterfaceProtocol != protocolDFUMode {
				continue
			}

			name := ""
			if alt.InterfaceIndex != 0 && readString != nil {
				if s, err := readString(alt.InterfaceIndex); err == nil {
					name = s
				}
			}

			internalFlash := strings.Contains(name, "Internal Flash")
			defaultAlt := alt.AlternateSetting == 0

			if !found || internalFlash || (defaultAlt && sel.alt != 0) {
				sel = selection{
					iface:        alt.InterfaceNumber,
					alt:          alt.AlternateSetting,
					transferSize: parseTransferSize(alt.Extra),
					name:         name,
				}
				found = true
				if internalFlash {
					return sel, true
				}
			}
		}
	}

	return sel, found
}

// parseTransferSize walks the alt-setting's extra descriptor bytes
// looking for the DFU functional descriptor and returns its advertised
// transfer size, falling back to the ST default when the descriptor is
// missing, truncated or reports zero.
func parseTransferSize(extra []byte) uint16 {
	rest := extra
	for len(rest) >= 3 {
		length := int(rest[0])
		descType := rest[1]
		if length < 3 || length > len(rest) {
			break
		}
		if descType == descTypeDFUFunctional && length >= dfuFunctionalLen {
			size := uint16(rest[transferSizeOffset]) | uint16(rest[transferSizeOffset+1])<<8
			if size == 0 {
				return defaultTransferSize
			}
			return size
		}
		rest = rest[length:]
	}
	return defaultTransferSize
}

// defaultTransferSize mirrors what ST bootloaders negotiate when the
// functional descriptor is absent.
const defaultTransferSize = 2048
