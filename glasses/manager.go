package glasses

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"strings"
	"sync"
	"time"
)

// MicDataFunc receives encoded microphone frames notified by an arm.
type MicDataFunc func(side Side, seq byte, frame []byte)

type armLink struct {
	state LinkState
	id    string
	name  string
	link  Link
}

// Manager owns the dual-arm connection state machine: discovery, connect,
// GATT setup, init handshake, heartbeat, telemetry and the supervised
// reconnect loop. It is the only writer of the two LinkStates; the command
// queue observes ack signals through the registry and nothing else.
type Manager struct {
	cfg       *Config
	transport Transport
	codec     *Codec
	queue     *CommandQueue

	mu       sync.RWMutex
	running  bool
	searchID string
	arms     [2]armLink
	pair     PairState

	telemetry   Telemetry
	haveBattery [2]bool
	lastMerged  int

	// views exist for the process lifetime and are overwritten in place.
	views         [2]ViewState
	activeSurface Surface

	micData MicDataFunc

	heartbeatStop        chan struct{}
	heartbeatSeq         byte
	heartbeatOutstanding int

	linkDown chan Side
	stopChan chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	orders      chan DeviceOrder
	telemetryCh chan Telemetry
	statusCh    chan PairState
}

// NewManager wires a manager around a transport. The command queue is owned
// by the manager and started/stopped with it.
func NewManager(cfg *Config, transport Transport) *Manager {
	m := &Manager{
		cfg:         cfg,
		transport:   transport,
		codec:       NewCodec(),
		lastMerged:  -1,
		linkDown:    make(chan Side, 2),
		stopChan:    make(chan struct{}),
		done:        make(chan struct{}),
		orders:      make(chan DeviceOrder, 16),
		telemetryCh: make(chan Telemetry, 8),
		statusCh:    make(chan PairState, 8),
	}
	m.queue = NewCommandQueue(cfg, m)
	return m
}

// Orders streams device-order events (head movement, taps, case, AI trigger).
func (m *Manager) Orders() <-chan DeviceOrder { return m.orders }

// Telemetry streams merged telemetry snapshots; an event fires only when the
// merged battery level or the case flags actually change.
func (m *Manager) Telemetry() <-chan Telemetry { return m.telemetryCh }

// Status streams pair-state transitions.
func (m *Manager) Status() <-chan PairState { return m.statusCh }

// OnMicData registers the sink for microphone frames coming off the arms.
func (m *Manager) OnMicData(fn MicDataFunc) {
	m.mu.Lock()
	m.micData = fn
	m.mu.Unlock()
}

// Start begins scanning for a pair whose advertised name carries searchID
// and supervises it until Stop. Start is non-blocking.
func (m *Manager) Start(searchID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return fmt.Errorf("manager already running")
	}
	m.running = true
	m.searchID = searchID
	m.queue.Start()
	go m.supervise()
	log.Printf("BLE_LOG: manager started, search id %q", searchID)
	return nil
}

// Stop tears everything down: heartbeat, links, queue, supervisor.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stopChan) })
	<-m.done
	m.teardownPair(LinkDisconnected)
	m.queue.Stop()
	m.mu.Lock()
	m.running = false
	m.mu.Unlock()
	log.Println("BLE_LOG: manager stopped")
}

// PairState returns the current combined readiness.
func (m *Manager) PairState() PairState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pair
}

// CurrentTelemetry returns the latest merged telemetry snapshot.
func (m *Manager) CurrentTelemetry() Telemetry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.telemetry
}

// ArmReady implements ArmWriter.
func (m *Manager) ArmReady(side Side) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.arms[side].state == LinkReady || m.arms[side].state == LinkInitializing
}

// WriteArm implements ArmWriter.
func (m *Manager) WriteArm(side Side, data []byte) error {
	m.mu.RLock()
	link := m.arms[side].link
	m.mu.RUnlock()
	if link == nil {
		return fmt.Errorf("%s arm not connected", side)
	}
	return link.Write(data, true)
}

// supervise runs the connect / monitor / reconnect cycle. A lost arm is a
// supervised retry, never fatal to the process.
func (m *Manager) supervise() {
	defer close(m.done)
	for {
		select {
		case <-m.stopChan:
			return
		default:
		}

		if err := m.connectPair(); err != nil {
			log.Printf("BLE_LOG: connect cycle failed: %v", err)
			m.teardownPair(LinkDisconnected)
			select {
			case <-time.After(m.cfg.ReconnectDelay):
				continue
			case <-m.stopChan:
				return
			}
		}

		select {
		case side := <-m.linkDown:
			log.Printf("BLE_LOG: %s arm lost, starting reconnect", side)
			m.teardownPair(LinkReconnecting)
			select {
			case <-time.After(m.cfg.ReconnectDelay):
			case <-m.stopChan:
				return
			}
		case <-m.stopChan:
			return
		}
	}
}

// connectPair takes both arms from scan to BothReady.
func (m *Manager) connectPair() error {
	m.setPair(PairConnecting)

	ids, err := m.discoverArms()
	if err != nil {
		return err
	}

	for _, side := range []Side{Left, Right} {
		if err := m.connectArm(side, ids[side]); err != nil {
			return fmt.Errorf("%s arm: %w", side, err)
		}
	}

	// Init handshake; only a successful ack from both arms makes the pair
	// ready for high-level traffic.
	for _, side := range []Side{Left, Right} {
		if err := m.initArm(side); err != nil {
			return fmt.Errorf("%s arm init: %w", side, err)
		}
	}

	m.mu.Lock()
	m.arms[Left].state = LinkReady
	m.arms[Right].state = LinkReady
	m.heartbeatOutstanding = 0
	m.heartbeatStop = make(chan struct{})
	hbStop := m.heartbeatStop
	m.mu.Unlock()

	m.setPair(PairBothReady)
	log.Println("BLE_LOG: both arms ready")

	go m.heartbeatLoop(hbStop)
	m.sendView(m.currentSurface())
	return nil
}

// discoverArms scans until one peripheral per side matches the search id
// and the side marker, or the scan window closes.
func (m *Manager) discoverArms() (map[Side]string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.ScanTimeout)
	defer cancel()
	go func() {
		select {
		case <-m.stopChan:
			cancel()
		case <-ctx.Done():
		}
	}()

	m.mu.RLock()
	searchID := m.searchID
	m.mu.RUnlock()

	filter := func(name string) bool {
		if !strings.Contains(name, searchID) {
			return false
		}
		return strings.Contains(name, "_L_") || strings.Contains(name, "_R_")
	}

	peripherals, err := m.transport.Scan(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}

	ids := make(map[Side]string)
	for p := range peripherals {
		side := Right
		if strings.Contains(p.Name, "_L_") {
			side = Left
		}
		if _, seen := ids[side]; seen {
			continue
		}
		ids[side] = p.ID
		m.setArmState(side, LinkDiscovered)
		log.Printf("BLE_LOG: discovered %s arm %q (%s)", side, p.Name, p.ID)
		if len(ids) == 2 {
			cancel()
			break
		}
	}
	if len(ids) != 2 {
		return nil, fmt.Errorf("both arms required, found %d", len(ids))
	}
	return ids, nil
}

func (m *Manager) connectArm(side Side, id string) error {
	m.setArmState(side, LinkConnecting)
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.ConnectTimeout)
	defer cancel()

	m.setArmState(side, LinkServicesDiscovering)
	link, err := m.transport.Connect(ctx, id)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.arms[side].id = id
	m.arms[side].link = link
	m.arms[side].state = LinkInitializing
	m.mu.Unlock()

	go m.notifyLoop(side, link)
	return nil
}

func (m *Manager) initArm(side Side) error {
	target := TargetLeft
	if side == Right {
		target = TargetRight
	}
	result := make(chan error, 1)
	cmd := &Command{
		Opcode:      CmdInit,
		Packets:     [][]byte{InitCommand()},
		Targets:     target,
		AckRequired: true,
		Result:      result,
	}
	if err := m.queue.Enqueue(cmd); err != nil {
		return err
	}
	select {
	case err := <-result:
		return err
	case <-m.stopChan:
		return ErrQueueStopped
	}
}

// notifyLoop drains one arm's RX notifications until the link drops.
func (m *Manager) notifyLoop(side Side, link Link) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("BLE_LOG: PANIC in %s notify loop: %v", side, r)
			m.reportLinkDown(side, link)
		}
	}()

	for data := range link.Notifications() {
		m.handleNotification(side, data)
	}
	m.reportLinkDown(side, link)
}

// reportLinkDown signals the supervisor once per lost link. Stale signals
// from links the manager already replaced are ignored.
func (m *Manager) reportLinkDown(side Side, link Link) {
	m.mu.Lock()
	if m.arms[side].link != link {
		m.mu.Unlock()
		return
	}
	m.arms[side].link = nil
	m.arms[side].state = LinkDisconnected
	m.mu.Unlock()

	select {
	case m.linkDown <- side:
	default:
	}
}

// handleNotification decodes one RX value and routes it. Malformed bytes
// are logged and discarded; they never tear down the link.
func (m *Manager) handleNotification(side Side, data []byte) {
	n, err := DecodeNotification(data)
	if err != nil {
		log.Printf("BLE_LOG: %s arm sent malformed notification: %v", side, err)
		return
	}

	switch n.Kind {
	case NotifyHeartbeat:
		// The heartbeat response doubles as its ack and carries the
		// battery/voltage telemetry payload.
		m.queue.Acks().Deliver(side, CmdHeartbeat, m.cfg.ackByte(CmdHeartbeat))
		m.updateBattery(side, n.Battery)

	case NotifyAck:
		m.queue.Acks().Deliver(side, n.Opcode, n.Status)

	case NotifyDeviceOrder:
		m.handleOrder(side, n.Order)

	case NotifyMicData:
		m.mu.RLock()
		fn := m.micData
		m.mu.RUnlock()
		if fn != nil {
			fn(side, n.Seq, n.Audio)
		}
	}
}

// updateBattery coalesces per-arm readings into min(left, right) and emits
// telemetry only when the merged value changes.
func (m *Manager) updateBattery(side Side, reading BatteryReading) {
	m.mu.Lock()
	if side == Left {
		m.telemetry.BatteryLeft = reading.Percent
	} else {
		m.telemetry.BatteryRight = reading.Percent
	}
	m.haveBattery[side] = true

	merged := -1
	if m.haveBattery[Left] {
		merged = m.telemetry.BatteryLeft
	}
	if m.haveBattery[Right] && (merged < 0 || m.telemetry.BatteryRight < merged) {
		merged = m.telemetry.BatteryRight
	}

	changed := merged >= 0 && merged != m.lastMerged
	if changed {
		m.lastMerged = merged
		m.telemetry.BatteryLevel = merged
	}
	snapshot := m.telemetry
	m.mu.Unlock()

	if changed {
		m.emitTelemetry(snapshot)
	}
}

func (m *Manager) handleOrder(side Side, order byte) {
	event := DeviceOrder{Side: side, Order: order}
	log.Printf("BLE_LOG: %s arm order: %s", side, event.Name())

	switch order {
	case OrderHeadUp:
		m.setSurface(SurfaceDashboard)
	case OrderHeadDown:
		m.setSurface(SurfaceNormal)
	case OrderCaseOpen, OrderCaseClosed, OrderCaseCharging:
		m.mu.Lock()
		m.telemetry.CaseOpen = order == OrderCaseOpen
		m.telemetry.CaseCharging = order == OrderCaseCharging
		snapshot := m.telemetry
		m.mu.Unlock()
		m.emitTelemetry(snapshot)
	}

	select {
	case m.orders <- event:
	default:
		log.Println("BLE_LOG: order channel full, event dropped")
	}
}

// setSurface records the newly active surface and re-sends its view, so a
// head-up/head-down transition restores whatever that surface last showed.
func (m *Manager) setSurface(s Surface) {
	m.mu.Lock()
	changed := m.activeSurface != s
	m.activeSurface = s
	m.mu.Unlock()
	if changed {
		m.sendView(s)
	}
}

func (m *Manager) currentSurface() Surface {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.activeSurface
}

// heartbeatLoop pings both arms on a jittered interval. More than
// HeartbeatMissMax consecutive unacked heartbeats flags the pair as gone
// and hands control back to the reconnect supervisor.
func (m *Manager) heartbeatLoop(stop chan struct{}) {
	for {
		interval := m.cfg.HeartbeatMin
		if jitter := m.cfg.HeartbeatMax - m.cfg.HeartbeatMin; jitter > 0 {
			interval += time.Duration(rand.Int63n(int64(jitter)))
		}

		select {
		case <-time.After(interval):
		case <-stop:
			return
		case <-m.stopChan:
			return
		}

		if m.PairState() != PairBothReady {
			return
		}

		m.mu.Lock()
		m.heartbeatSeq++
		seq := m.heartbeatSeq
		m.mu.Unlock()

		result := make(chan error, 1)
		cmd := &Command{
			Opcode:      CmdHeartbeat,
			Packets:     [][]byte{HeartbeatCommand(seq)},
			Targets:     TargetBoth,
			AckRequired: true,
			MaxAttempts: 1,
			Result:      result,
		}
		if err := m.queue.Enqueue(cmd); err != nil {
			log.Printf("BLE_LOG: heartbeat enqueue: %v", err)
			continue
		}

		select {
		case err := <-result:
			m.mu.Lock()
			if err != nil {
				m.heartbeatOutstanding++
			} else {
				m.heartbeatOutstanding = 0
			}
			missed := m.heartbeatOutstanding
			m.mu.Unlock()

			if missed > m.cfg.HeartbeatMissMax {
				log.Printf("BLE_LOG: %d heartbeats unacknowledged, forcing reconnect", missed)
				select {
				case m.linkDown <- Left:
				default:
				}
				return
			}
		case <-stop:
			return
		case <-m.stopChan:
			return
		}
	}
}

// teardownPair closes both links and cancels the heartbeat. Safe to call
// repeatedly.
func (m *Manager) teardownPair(next LinkState) {
	m.mu.Lock()
	if m.heartbeatStop != nil {
		close(m.heartbeatStop)
		m.heartbeatStop = nil
	}
	var links []Link
	for i := range m.arms {
		if m.arms[i].link != nil {
			links = append(links, m.arms[i].link)
			m.arms[i].link = nil
		}
		m.arms[i].state = next
	}
	m.mu.Unlock()

	for _, l := range links {
		l.Close()
	}

	// Drop any pending link-down signals from links just closed.
	for {
		select {
		case <-m.linkDown:
		default:
			m.setPair(PairDisconnected)
			return
		}
	}
}

func (m *Manager) setArmState(side Side, state LinkState) {
	m.mu.Lock()
	m.arms[side].state = state
	m.mu.Unlock()
}

func (m *Manager) setPair(p PairState) {
	m.mu.Lock()
	changed := m.pair != p
	m.pair = p
	m.mu.Unlock()
	if changed {
		select {
		case m.statusCh <- p:
		default:
		}
	}
}

func (m *Manager) emitTelemetry(t Telemetry) {
	select {
	case m.telemetryCh <- t:
	default:
	}
}

// Display overwrites one surface's view and pushes it to the glasses when
// that surface is the active one.
func (m *Manager) Display(surface Surface, view ViewState) error {
	m.mu.Lock()
	m.views[surface] = view
	active := m.activeSurface == surface
	m.mu.Unlock()
	if !active {
		return nil
	}
	return m.sendView(surface)
}

// sendView frames and enqueues the stored view for a surface.
func (m *Manager) sendView(surface Surface) error {
	m.mu.RLock()
	view := m.views[surface]
	m.mu.RUnlock()

	if view.LayoutType == "" {
		return nil
	}

	var packets [][]byte
	switch view.LayoutType {
	case "double_text_wall":
		packets = m.codec.EncodeDoubleColumnChunks(view.TopText, view.BottomText)
	default:
		packets = m.codec.EncodeTextChunks(view.Text)
	}

	return m.queue.Enqueue(&Command{
		Opcode:      CmdText,
		Packets:     packets,
		Targets:     TargetBoth,
		AckRequired: true,
	})
}

// SendText shows plain text on the normal surface.
func (m *Manager) SendText(text string) error {
	return m.Display(SurfaceNormal, ViewState{LayoutType: "text_wall", Text: text})
}

// SendDashboard shows a two-column layout on the dashboard surface.
func (m *Manager) SendDashboard(top, bottom string) error {
	return m.Display(SurfaceDashboard, ViewState{
		LayoutType: "double_text_wall",
		TopText:    top,
		BottomText: bottom,
	})
}

func (m *Manager) enqueueSimple(opcode byte, packet []byte) error {
	return m.queue.Enqueue(&Command{
		Opcode:      opcode,
		Packets:     [][]byte{packet},
		Targets:     TargetBoth,
		AckRequired: true,
	})
}

// SetBrightness adjusts display brightness (0..63) with an auto flag.
func (m *Manager) SetBrightness(level byte, auto bool) error {
	return m.enqueueSimple(CmdBrightness, BrightnessCommand(level, auto))
}

// SetSilentMode toggles the display-off silent mode.
func (m *Manager) SetSilentMode(on bool) error {
	return m.enqueueSimple(CmdSilentMode, SilentModeCommand(on))
}

// SetMicEnabled toggles the onboard microphone. Only the right arm hosts
// the mic control path.
func (m *Manager) SetMicEnabled(on bool) error {
	return m.queue.Enqueue(&Command{
		Opcode:      CmdMic,
		Packets:     [][]byte{MicCommand(on)},
		Targets:     TargetRight,
		AckRequired: true,
	})
}

// SetDashboardPosition moves the dashboard overlay.
func (m *Manager) SetDashboardPosition(height, depth byte) error {
	return m.enqueueSimple(CmdDashboardPosition, DashboardPositionCommand(height, depth))
}

// SetHeadUpAngle configures the tilt threshold for head-up detection.
func (m *Manager) SetHeadUpAngle(angle byte) error {
	return m.enqueueSimple(CmdHeadUpAngle, HeadUpAngleCommand(angle))
}

// SendWhitelist pushes the notification app whitelist.
func (m *Manager) SendWhitelist(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("whitelist marshal: %w", err)
	}
	return m.queue.Enqueue(&Command{
		Opcode:      CmdWhitelist,
		Packets:     m.codec.EncodeWhitelistChunks(data),
		Targets:     TargetBoth,
		AckRequired: true,
	})
}

// ExitApp dismisses the active feature on both arms.
func (m *Manager) ExitApp() error {
	return m.enqueueSimple(CmdExit, ExitCommand())
}
