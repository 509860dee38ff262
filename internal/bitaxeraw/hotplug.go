package bitaxeraw

import (
	"sort"
	"time"

	"go.bug.st/serial/enumerator"
)

// UsbDeviceInfo identifies one connected Bitaxe device: a pair of
// CDC-ACM ports sharing the same USB serial number.
type UsbDeviceInfo struct {
	Serial      string
	ControlPort string // lower-numbered CDC-ACM interface: bitaxe-raw
	DataPort    string // higher-numbered CDC-ACM interface: BM13xx UART
	VendorID    string
	ProductID   string
}

// HotplugEvent is emitted by Watcher when the set of connected devices
// changes.
type HotplugEvent struct {
	Connected    *UsbDeviceInfo
	Disconnected string // serial number
}

// bitaxeVendorID/ProductID identify the ESP32-S3 running bitaxe-raw.
// USB composite devices enumerate as two ports per physical board.
const (
	bitaxeVendorID  = "303A"
	bitaxeProductID = "4001"
)

// Watcher polls the OS port list for Bitaxe devices appearing and
// disappearing. There is no cross-platform USB hotplug-event API
// available (go.bug.st/serial, this repo's only serial dependency,
// exposes enumeration but not event notification), so this mirrors the
// polling loop the source implementation's platform layer uses
// internally: a fixed interval, diffed against the last known set.
type Watcher struct {
	interval time.Duration
	known    map[string]UsbDeviceInfo
}

// NewWatcher creates a watcher that polls every interval for USB
// enumeration changes.
func NewWatcher(interval time.Duration) *Watcher {
	return &Watcher{interval: interval, known: make(map[string]UsbDeviceInfo)}
}

// Poll returns the hotplug events observed since the last call.
func (w *Watcher) Poll() ([]HotplugEvent, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, err
	}

	current := groupBitaxePorts(ports)

	var events []HotplugEvent
	for serialNum, info := range current {
		if _, ok := w.known[serialNum]; !ok {
			infoCopy := info
			events = append(events, HotplugEvent{Connected: &infoCopy})
		}
	}
	for serialNum := range w.known {
		if _, ok := current[serialNum]; !ok {
			events = append(events, HotplugEvent{Disconnected: serialNum})
		}
	}
	w.known = current
	return events, nil
}

// Interval reports the configured poll period.
func (w *Watcher) Interval() time.Duration {
	return w.interval
}

// groupBitaxePorts pairs the two CDC-ACM interfaces of each Bitaxe
// device by serial number, assigning the lexicographically first path
// as the control port and the second as the data port (bitaxe-raw
// enumerates its control interface before its ASIC UART bridge).
func groupBitaxePorts(ports []*enumerator.PortDetails) map[string]UsbDeviceInfo {
	bySerial := make(map[string][]string)
	for _, p := range ports {
		if !p.IsUSB || p.VID != bitaxeVendorID || p.PID != bitaxeProductID {
			continue
		}
		bySerial[p.SerialNumber] = append(bySerial[p.SerialNumber], p.Name)
	}

	result := make(map[string]UsbDeviceInfo, len(bySerial))
	for serialNum, paths := range bySerial {
		if len(paths) < 2 {
			// Only one interface enumerated yet; wait for the pair
			// before reporting the device as connected.
			continue
		}
		sort.Strings(paths)
		result[serialNum] = UsbDeviceInfo{
			Serial:      serialNum,
			ControlPort: paths[0],
			DataPort:    paths[1],
			VendorID:    bitaxeVendorID,
			ProductID:   bitaxeProductID,
		}
	}
	return result
}
