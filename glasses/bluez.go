package glasses

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
)

// BluezTransport implements Transport over the BlueZ D-Bus API.
type BluezTransport struct {
	conn    *dbus.Conn
	adapter dbus.ObjectPath
}

// NewBluezTransport connects to the system bus and binds to one adapter.
func NewBluezTransport(adapterPath string) (*BluezTransport, error) {
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to system D-Bus: %w", err)
	}
	return &BluezTransport{
		conn:    conn,
		adapter: dbus.ObjectPath(adapterPath),
	}, nil
}

func formatDevicePath(adapter dbus.ObjectPath, address string) dbus.ObjectPath {
	return dbus.ObjectPath(string(adapter) + "/dev_" + strings.ReplaceAll(address, ":", "_"))
}

// Scan starts LE discovery and polls the object tree for devices whose name
// passes the filter, until ctx is cancelled.
func (t *BluezTransport) Scan(ctx context.Context, filter func(name string) bool) (<-chan DiscoveredPeripheral, error) {
	adapter := t.conn.Object(BLUEZ_BUS_NAME, t.adapter)

	discoveryFilter := map[string]interface{}{
		"Transport":     "le",
		"DuplicateData": false,
	}
	if err := adapter.Call(BLUEZ_ADAPTER_INTERFACE+".SetDiscoveryFilter", 0, discoveryFilter).Err; err != nil {
		// Some adapters don't support filters; scan anyway.
		log.Printf("BLE_LOG: failed to set discovery filter: %v", err)
	}
	if err := adapter.Call(BLUEZ_ADAPTER_INTERFACE+".StartDiscovery", 0).Err; err != nil {
		return nil, fmt.Errorf("failed to start discovery: %w", err)
	}

	out := make(chan DiscoveredPeripheral, 8)
	go func() {
		defer close(out)
		defer func() {
			if err := adapter.Call(BLUEZ_ADAPTER_INTERFACE+".StopDiscovery", 0).Err; err != nil {
				log.Printf("BLE_LOG: failed to stop discovery: %v", err)
			}
		}()

		ticker := time.NewTicker(1 * time.Second)
		defer ticker.Stop()
		reported := make(map[string]bool)

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for _, p := range t.listDevices(filter) {
					if reported[p.ID] {
						continue
					}
					reported[p.ID] = true
					select {
					case out <- p:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()
	return out, nil
}

// listDevices walks the BlueZ object tree for devices under the adapter.
func (t *BluezTransport) listDevices(filter func(name string) bool) []DiscoveredPeripheral {
	objects := make(map[dbus.ObjectPath]map[string]map[string]dbus.Variant)
	obj := t.conn.Object(BLUEZ_BUS_NAME, "/")
	if err := obj.Call("org.freedesktop.DBus.ObjectManager.GetManagedObjects", 0).Store(&objects); err != nil {
		log.Printf("BLE_LOG: failed to get managed objects during scan: %v", err)
		return nil
	}

	var found []DiscoveredPeripheral
	for path, interfaces := range objects {
		if !strings.HasPrefix(string(path), string(t.adapter)+"/dev_") {
			continue
		}
		deviceIface, ok := interfaces[BLUEZ_DEVICE_INTERFACE]
		if !ok {
			continue
		}
		addrVariant, ok := deviceIface["Address"]
		if !ok {
			continue
		}
		address, _ := addrVariant.Value().(string)

		var name string
		if nameVariant, ok := deviceIface["Name"]; ok {
			name, _ = nameVariant.Value().(string)
		}
		if name == "" || !filter(name) {
			continue
		}
		found = append(found, DiscoveredPeripheral{ID: address, Name: name})
	}
	return found
}

// Connect establishes the GATT connection, resolves the UART service and
// its TX/RX characteristics and subscribes to RX notifications.
func (t *BluezTransport) Connect(ctx context.Context, id string) (Link, error) {
	devicePath := formatDevicePath(t.adapter, id)
	device := t.conn.Object(BLUEZ_BUS_NAME, devicePath)

	if err := device.Call(BLUEZ_DEVICE_INTERFACE+".Connect", 0).Err; err != nil {
		return nil, fmt.Errorf("device connect: %w", err)
	}

	if err := t.waitServicesResolved(ctx, device); err != nil {
		device.Call(BLUEZ_DEVICE_INTERFACE+".Disconnect", 0)
		return nil, err
	}

	txPath, rxPath, err := t.findUartCharacteristics(devicePath)
	if err != nil {
		device.Call(BLUEZ_DEVICE_INTERFACE+".Disconnect", 0)
		return nil, err
	}

	link := &bluezLink{
		conn:       t.conn,
		devicePath: devicePath,
		txPath:     txPath,
		rxPath:     rxPath,
		notify:     make(chan []byte, 32),
	}
	if err := link.subscribe(); err != nil {
		device.Call(BLUEZ_DEVICE_INTERFACE+".Disconnect", 0)
		return nil, err
	}
	return link, nil
}

func (t *BluezTransport) waitServicesResolved(ctx context.Context, device dbus.BusObject) error {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		var variant dbus.Variant
		err := device.Call("org.freedesktop.DBus.Properties.Get", 0,
			BLUEZ_DEVICE_INTERFACE, "ServicesResolved").Store(&variant)
		if err == nil {
			if resolved, ok := variant.Value().(bool); ok && resolved {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("service discovery timed out")
		case <-ticker.C:
		}
	}
}

func (t *BluezTransport) findUartCharacteristics(devicePath dbus.ObjectPath) (tx, rx dbus.ObjectPath, err error) {
	objects := make(map[dbus.ObjectPath]map[string]map[string]dbus.Variant)
	obj := t.conn.Object(BLUEZ_BUS_NAME, "/")
	if err := obj.Call("org.freedesktop.DBus.ObjectManager.GetManagedObjects", 0).Store(&objects); err != nil {
		return "", "", fmt.Errorf("failed to get managed objects: %w", err)
	}

	var servicePath dbus.ObjectPath
	for path, interfaces := range objects {
		if !strings.HasPrefix(string(path), string(devicePath)+"/service") {
			continue
		}
		svcIface, ok := interfaces[BLUEZ_SERVICE_INTERFACE]
		if !ok {
			continue
		}
		if uuidVariant, ok := svcIface["UUID"]; ok {
			if uuid, _ := uuidVariant.Value().(string); strings.EqualFold(uuid, UartServiceUUID) {
				servicePath = path
				break
			}
		}
	}
	if servicePath == "" {
		return "", "", fmt.Errorf("UART service not found on %s", devicePath)
	}

	for path, interfaces := range objects {
		if !strings.HasPrefix(string(path), string(servicePath)+"/char") {
			continue
		}
		charIface, ok := interfaces[BLUEZ_CHAR_INTERFACE]
		if !ok {
			continue
		}
		uuidVariant, ok := charIface["UUID"]
		if !ok {
			continue
		}
		uuid, _ := uuidVariant.Value().(string)
		switch {
		case strings.EqualFold(uuid, UartTxCharUUID):
			tx = path
		case strings.EqualFold(uuid, UartRxCharUUID):
			rx = path
		}
	}
	if tx == "" || rx == "" {
		return "", "", fmt.Errorf("UART characteristics incomplete (tx=%q rx=%q)", tx, rx)
	}
	return tx, rx, nil
}

// bluezLink is one live GATT connection to an arm.
type bluezLink struct {
	conn       *dbus.Conn
	devicePath dbus.ObjectPath
	txPath     dbus.ObjectPath
	rxPath     dbus.ObjectPath

	notify    chan []byte
	sigChan   chan *dbus.Signal
	rxRule    string
	devRule   string
	closeOnce sync.Once
}

// subscribe enables RX notifications and routes PropertiesChanged signals
// for both the RX characteristic and the device's Connected property into
// the notification channel / link teardown.
func (l *bluezLink) subscribe() error {
	rxChar := l.conn.Object(BLUEZ_BUS_NAME, l.rxPath)
	if err := rxChar.Call(BLUEZ_CHAR_INTERFACE+".StartNotify", 0).Err; err != nil {
		return fmt.Errorf("start notify: %w", err)
	}

	l.rxRule = fmt.Sprintf("type='signal',interface='org.freedesktop.DBus.Properties',member='PropertiesChanged',path='%s'", l.rxPath)
	if err := l.conn.BusObject().Call("org.freedesktop.DBus.AddMatch", 0, l.rxRule).Err; err != nil {
		return fmt.Errorf("add match: %w", err)
	}
	l.devRule = fmt.Sprintf("type='signal',interface='org.freedesktop.DBus.Properties',member='PropertiesChanged',path='%s'", l.devicePath)
	if err := l.conn.BusObject().Call("org.freedesktop.DBus.AddMatch", 0, l.devRule).Err; err != nil {
		log.Printf("BLE_LOG: failed to watch device properties: %v", err)
	}

	l.sigChan = make(chan *dbus.Signal, 32)
	l.conn.Signal(l.sigChan)
	go l.monitor()
	return nil
}

func (l *bluezLink) monitor() {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("BLE_LOG: PANIC in link monitor: %v", r)
		}
		l.Close()
	}()

	for sig := range l.sigChan {
		if sig == nil || sig.Name != "org.freedesktop.DBus.Properties.PropertiesChanged" {
			continue
		}
		if len(sig.Body) < 2 {
			continue
		}
		changed, ok := sig.Body[1].(map[string]dbus.Variant)
		if !ok {
			continue
		}

		switch sig.Path {
		case l.rxPath:
			if valueVariant, exists := changed["Value"]; exists {
				if value, ok := valueVariant.Value().([]byte); ok {
					data := make([]byte, len(value))
					copy(data, value)
					select {
					case l.notify <- data:
					default:
						log.Println("BLE_LOG: notification buffer full, value dropped")
					}
				}
			}
		case l.devicePath:
			if connVariant, exists := changed["Connected"]; exists {
				if connected, ok := connVariant.Value().(bool); ok && !connected {
					log.Printf("BLE_LOG: device %s reported disconnect", l.devicePath)
					return
				}
			}
		}
	}
}

// Write sends one frame to the TX characteristic. withResponse selects a
// GATT write request over a write command.
func (l *bluezLink) Write(data []byte, withResponse bool) error {
	writeType := "command"
	if withResponse {
		writeType = "request"
	}
	tx := l.conn.Object(BLUEZ_BUS_NAME, l.txPath)
	options := map[string]interface{}{"type": writeType}
	if err := tx.Call(BLUEZ_CHAR_INTERFACE+".WriteValue", 0, data, options).Err; err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

func (l *bluezLink) Notifications() <-chan []byte {
	return l.notify
}

// Close tears the link down and closes the notification channel, which is
// the signal the manager's notify loop keys on.
func (l *bluezLink) Close() error {
	l.closeOnce.Do(func() {
		rxChar := l.conn.Object(BLUEZ_BUS_NAME, l.rxPath)
		rxChar.Call(BLUEZ_CHAR_INTERFACE+".StopNotify", 0)
		l.conn.BusObject().Call("org.freedesktop.DBus.RemoveMatch", 0, l.rxRule)
		l.conn.BusObject().Call("org.freedesktop.DBus.RemoveMatch", 0, l.devRule)
		if l.sigChan != nil {
			l.conn.RemoveSignal(l.sigChan)
			close(l.sigChan)
		}
		device := l.conn.Object(BLUEZ_BUS_NAME, l.devicePath)
		device.Call(BLUEZ_DEVICE_INTERFACE+".Disconnect", 0)
		close(l.notify)
	})
	return nil
}
