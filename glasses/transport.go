package glasses

import "context"

// DiscoveredPeripheral is one advertising device seen during a scan.
type DiscoveredPeripheral struct {
	ID   string
	Name string
}

// Link is one established connection to an arm after GATT discovery. The
// notification channel is closed when the link drops, whatever the cause.
type Link interface {
	// Write sends one frame to the arm's TX characteristic.
	Write(data []byte, withResponse bool) error
	// Notifications streams RX characteristic values.
	Notifications() <-chan []byte
	Close() error
}

// Transport abstracts the platform BLE stack: scanning, connecting and GATT
// discovery. The BlueZ implementation lives in bluez.go; tests inject fakes.
type Transport interface {
	// Scan streams discovered peripherals until ctx is cancelled. The
	// filter runs on the advertised name before a peripheral is reported.
	Scan(ctx context.Context, filter func(name string) bool) (<-chan DiscoveredPeripheral, error)
	// Connect establishes a link to a previously discovered peripheral,
	// performing service/characteristic discovery and notify subscription.
	Connect(ctx context.Context, id string) (Link, error)
}
