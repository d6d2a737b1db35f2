package paging

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"
	"github.com/oklog/ulid/v2"
)

// ErrNotConnected is returned by Send while the adapter is not connected.
// There is no offline queue: the caller must treat the paging channel as
// failed for this dispatch rather than block on reconnection.
var ErrNotConnected = xerrors.New("paging adapter not connected")

// ErrUnknownMessage is returned when acknowledging an id that was never sent.
var ErrUnknownMessage = xerrors.New("unknown paging message id")

const (
	defaultHeartbeatInterval = 30 * time.Second
	writeTimeout             = 5 * time.Second

	// ESPA-style control bytes for the wire frame.
	soh = 0x01
	stx = 0x02
	etx = 0x03
	us  = 0x1f
	rs  = 0x1e

	// heartbeat is a bare ENQ byte; the network echoes nothing.
	enq = 0x05
)

// DialFunc opens the transport to the paging network.
type DialFunc func(ctx context.Context, addr string) (net.Conn, error)

// DeviceLoader fetches the current device registry from the network.
type DeviceLoader func(ctx context.Context) ([]Device, error)

// Adapter manages the connection to the paging network and the outbound
// message log used for acknowledgment correlation.
type Adapter struct {
	addr        string
	systemTag   string
	hbInterval  time.Duration
	dial        DialFunc
	loadDevices DeviceLoader
	logger      log.Logger

	mu    sync.Mutex
	state State
	conn  net.Conn

	devMu   sync.RWMutex
	devices map[string]*Device // device ID -> device

	outMu    sync.Mutex
	outbound map[string]*Message // message ID -> log entry
	outLog   []*Message          // append-only, audit order

	hbStop chan struct{}
	hbBusy atomic.Bool
}

// Options configures an Adapter.
type Options struct {
	Addr              string
	SystemTag         string
	HeartbeatInterval time.Duration
	Dial              DialFunc
	LoadDevices       DeviceLoader
}

// NewAdapter creates a disconnected adapter.
func NewAdapter(opts Options, logger log.Logger) *Adapter {
	if logger == nil {
		logger = log.Nop()
	}
	if opts.Dial == nil {
		opts.Dial = func(ctx context.Context, addr string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "tcp", addr)
		}
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = defaultHeartbeatInterval
	}
	if opts.SystemTag == "" {
		opts.SystemTag = "muster"
	}
	return &Adapter{
		addr:        opts.Addr,
		systemTag:   opts.SystemTag,
		hbInterval:  opts.HeartbeatInterval,
		dial:        opts.Dial,
		loadDevices: opts.LoadDevices,
		logger:      logger,
		state:       StateDisconnected,
		devices:     make(map[string]*Device),
		outbound:    make(map[string]*Message),
	}
}

// State returns the current connection state.
func (a *Adapter) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Connect opens the transport, loads the device registry, and starts the
// recurring heartbeat. It can be cancelled through ctx before completion,
// in which case no heartbeat timer is left running.
func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	if a.state != StateDisconnected {
		a.mu.Unlock()
		return nil
	}
	a.state = StateConnecting
	a.mu.Unlock()

	conn, err := a.dial(ctx, a.addr)
	if err != nil {
		a.setState(StateDisconnected)
		return fmt.Errorf("paging: dial %s: %w", a.addr, err)
	}
	if err := ctx.Err(); err != nil {
		_ = conn.Close()
		a.setState(StateDisconnected)
		return err
	}

	if a.loadDevices != nil {
		if err := a.RefreshDevices(ctx); err != nil {
			_ = conn.Close()
			a.setState(StateDisconnected)
			return fmt.Errorf("paging: load device registry: %w", err)
		}
	}

	a.mu.Lock()
	a.conn = conn
	a.state = StateConnected
	a.hbStop = make(chan struct{})
	go a.heartbeatLoop(a.hbStop)
	a.mu.Unlock()

	a.logger.Info(ctx, "paging adapter connected", "addr", a.addr, "devices", a.deviceCount())
	return nil
}

// Close stops the heartbeat and closes the transport.
func (a *Adapter) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.disconnectLocked()
}

// Send formats one message per resolved target device and transmits each
// individually (no batching). nil targets addresses all active devices.
// Every sent message is appended to the outbound log for acknowledgment
// correlation. Fails fast with ErrNotConnected when disconnected.
func (a *Adapter) Send(ctx context.Context, body string, priority int, targetIDs []string) ([]*Message, error) {
	a.mu.Lock()
	if a.state != StateConnected {
		a.mu.Unlock()
		return nil, ErrNotConnected
	}
	conn := a.conn
	a.mu.Unlock()

	if priority < 1 || priority > 4 {
		return nil, xerrors.New("paging priority must be 1..4")
	}

	devices := a.resolveTargets(targetIDs)
	if len(devices) == 0 {
		return nil, nil
	}

	var sent []*Message
	for _, dev := range devices {
		msg := &Message{
			ID:        ulid.Make().String(),
			Timestamp: time.Now(),
			Priority:  priority,
			Address:   dev.Address,
			Body:      a.formatBody(body, priority),
		}

		if err := a.transmit(conn, msg); err != nil {
			a.logger.Error(ctx, err, "paging transmit failed",
				"message_id", msg.ID, "address", dev.Address)
			a.mu.Lock()
			a.disconnectLocked()
			a.mu.Unlock()
			return sent, fmt.Errorf("paging: transmit to %s: %w", dev.Address, err)
		}

		a.outMu.Lock()
		a.outbound[msg.ID] = msg
		a.outLog = append(a.outLog, msg)
		a.outMu.Unlock()

		sent = append(sent, msg)
	}

	a.logger.Info(ctx, "paging messages sent", "count", len(sent), "priority", priority)
	return sent, nil
}

// Ack marks the matching log entry acknowledged exactly once. A second
// acknowledgment for the same id is a no-op, not an error; the message is
// returned unchanged either way.
func (a *Adapter) Ack(messageID, who string) (*Message, error) {
	a.outMu.Lock()
	defer a.outMu.Unlock()

	msg, ok := a.outbound[messageID]
	if !ok {
		return nil, ErrUnknownMessage
	}
	if msg.Acknowledged {
		cp := *msg
		return &cp, nil
	}
	msg.Acknowledged = true
	msg.AckedBy = who
	msg.AckedAt = time.Now()
	cp := *msg
	return &cp, nil
}

// Outbound returns a copy of the append-only outbound log.
func (a *Adapter) Outbound() []*Message {
	a.outMu.Lock()
	defer a.outMu.Unlock()
	out := make([]*Message, 0, len(a.outLog))
	for _, m := range a.outLog {
		cp := *m
		out = append(out, &cp)
	}
	return out
}

// RefreshDevices reloads the device registry, replacing each entry
// atomically by id.
func (a *Adapter) RefreshDevices(ctx context.Context) error {
	if a.loadDevices == nil {
		return nil
	}
	devices, err := a.loadDevices(ctx)
	if err != nil {
		return err
	}
	fresh := make(map[string]*Device, len(devices))
	for i := range devices {
		cp := devices[i]
		fresh[cp.ID] = &cp
	}
	a.devMu.Lock()
	a.devices = fresh
	a.devMu.Unlock()
	return nil
}

// Devices returns copies of the known devices.
func (a *Adapter) Devices() []*Device {
	a.devMu.RLock()
	defer a.devMu.RUnlock()
	out := make([]*Device, 0, len(a.devices))
	for _, d := range a.devices {
		cp := *d
		out = append(out, &cp)
	}
	return out
}

// formatBody prefixes the priority glyph and a timestamp and suffixes the
// originating system tag.
func (a *Adapter) formatBody(body string, priority int) string {
	return fmt.Sprintf("%s [%s] %s · %s",
		priorityGlyphs[priority], time.Now().Format("15:04"), body, a.systemTag)
}

// transmit writes one ESPA-style frame:
// SOH "1" STX "1" US addr RS "2" US body RS "3" US priority ETX
func (a *Adapter) transmit(conn net.Conn, msg *Message) error {
	frame := make([]byte, 0, len(msg.Body)+len(msg.Address)+16)
	frame = append(frame, soh, '1', stx)
	frame = append(frame, '1', us)
	frame = append(frame, msg.Address...)
	frame = append(frame, rs, '2', us)
	frame = append(frame, msg.Body...)
	frame = append(frame, rs, '3', us)
	frame = append(frame, byte('0'+msg.Priority))
	frame = append(frame, etx)

	if err := conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	_, err := conn.Write(frame)
	return err
}

// heartbeatLoop sends a bare ENQ on a fixed interval. A tick that has not
// completed by the next tick is skipped, not queued. A failed heartbeat
// flips the adapter to disconnected and stops the loop.
func (a *Adapter) heartbeatLoop(stop chan struct{}) {
	ticker := time.NewTicker(a.hbInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if !a.hbBusy.CompareAndSwap(false, true) {
				continue // previous beat still in flight
			}
			go func() {
				defer a.hbBusy.Store(false)
				if err := a.beat(); err != nil {
					a.logger.Error(context.Background(), err, "paging heartbeat failed", "addr", a.addr)
					a.mu.Lock()
					a.disconnectLocked()
					a.mu.Unlock()
				}
			}()
		}
	}
}

func (a *Adapter) beat() error {
	a.mu.Lock()
	conn := a.conn
	connected := a.state == StateConnected
	a.mu.Unlock()
	if !connected || conn == nil {
		return nil
	}
	if err := conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	_, err := conn.Write([]byte{enq})
	return err
}

func (a *Adapter) resolveTargets(targetIDs []string) []*Device {
	a.devMu.RLock()
	defer a.devMu.RUnlock()

	var out []*Device
	if targetIDs == nil {
		for _, d := range a.devices {
			if d.Active {
				cp := *d
				out = append(out, &cp)
			}
		}
		return out
	}
	for _, id := range targetIDs {
		d, ok := a.devices[id]
		if !ok || !d.Active {
			continue
		}
		cp := *d
		out = append(out, &cp)
	}
	return out
}

func (a *Adapter) setState(s State) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.state = s
}

// disconnectLocked tears down the connection and heartbeat. Caller holds mu.
func (a *Adapter) disconnectLocked() {
	if a.hbStop != nil {
		close(a.hbStop)
		a.hbStop = nil
	}
	if a.conn != nil {
		_ = a.conn.Close()
		a.conn = nil
	}
	a.state = StateDisconnected
}

func (a *Adapter) deviceCount() int {
	a.devMu.RLock()
	defer a.devMu.RUnlock()
	return len(a.devices)
}
