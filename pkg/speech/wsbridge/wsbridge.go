// Package wsbridge implements [speech.Platform] over a single WebSocket
// connection to a client that owns the actual recognition capability.
//
// The client multiplexes two kinds of frames onto the connection: text frames
// carrying JSON control messages (recognition results, platform errors,
// lifecycle end, permission state) and binary frames carrying raw 16-bit
// little-endian PCM for level metering. The server side sends JSON control
// frames back (start/stop, permission prompts, audio levels).
package wsbridge

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"github.com/coder/websocket"

	"github.com/valet-labs/valet/pkg/speech"
)

// Frame type discriminators used on the wire, both directions.
const (
	frameResult            = "result"
	frameError             = "error"
	frameEnd               = "end"
	framePermission        = "permission"
	frameStart             = "start"
	frameStop              = "stop"
	frameRequestPermission = "request_permission"
	frameLevel             = "level"
)

// controlFrame is the JSON envelope for every text frame on the connection.
// Only the fields relevant to Type are populated.
type controlFrame struct {
	Type string `json:"type"`

	// result
	Transcript string  `json:"transcript,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
	IsFinal    bool    `json:"is_final,omitempty"`

	// error
	Code string `json:"code,omitempty"`

	// permission
	State string `json:"state,omitempty"`

	// start
	Language       string `json:"language,omitempty"`
	InterimResults bool   `json:"interim_results,omitempty"`

	// level
	Level float64 `json:"level,omitempty"`
}

// ErrClosed is returned by Bridge operations after the connection is torn down.
var ErrClosed = errors.New("wsbridge: connection closed")

// Bridge adapts one WebSocket connection to the [speech.Platform] interface.
// It is created by the HTTP handler that accepted the connection and lives
// until the peer disconnects or Close is called.
type Bridge struct {
	conn     *websocket.Conn
	logger   *slog.Logger
	outbound chan controlFrame

	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup

	mu          sync.Mutex
	permission  speech.Permission
	permWaiters []chan speech.Permission
	recognizer  *recognizer
	meter       *meter
}

// Option customizes a Bridge.
type Option func(*Bridge)

// WithLogger sets the logger used for protocol-level diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bridge) { b.logger = logger }
}

// New wraps an accepted WebSocket connection and starts its read and write
// loops. The caller retains ownership of the connection's lifetime through
// Close.
func New(conn *websocket.Conn, opts ...Option) *Bridge {
	b := &Bridge{
		conn:     conn,
		logger:   slog.Default(),
		outbound: make(chan controlFrame, 16),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}

	b.wg.Add(2)
	go b.readLoop()
	go b.writeLoop()
	return b
}

// Done is closed when the connection terminates for any reason. The HTTP
// handler that owns the connection blocks on this to keep the request alive.
func (b *Bridge) Done() <-chan struct{} { return b.done }

// Close tears the bridge down: pending streams are closed and the underlying
// connection is shut down. Safe to call more than once.
func (b *Bridge) Close() error {
	b.once.Do(func() {
		close(b.done)
		// Closing the connection unblocks the read loop.
		b.conn.Close(websocket.StatusNormalClosure, "session closed")
		b.wg.Wait()

		b.mu.Lock()
		rec, m := b.recognizer, b.meter
		waiters := b.permWaiters
		b.recognizer, b.meter, b.permWaiters = nil, nil, nil
		b.mu.Unlock()

		if rec != nil {
			rec.terminate()
		}
		if m != nil {
			m.terminate()
		}
		for _, w := range waiters {
			close(w)
		}
	})
	return nil
}

// Permission reports the permission state last announced by the client. A
// client that has not sent a permission frame yet is in the unknown state.
func (b *Bridge) Permission(ctx context.Context) (speech.Permission, error) {
	select {
	case <-b.done:
		return speech.PermissionUnknown, ErrClosed
	default:
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.permission, nil
}

// RequestPermission asks the client to prompt the user for microphone access
// and blocks until the client reports the outcome.
func (b *Bridge) RequestPermission(ctx context.Context) (speech.Permission, error) {
	waiter := make(chan speech.Permission, 1)
	b.mu.Lock()
	b.permWaiters = append(b.permWaiters, waiter)
	b.mu.Unlock()

	if err := b.send(ctx, controlFrame{Type: frameRequestPermission}); err != nil {
		b.removeWaiter(waiter)
		return speech.PermissionUnknown, err
	}

	select {
	case state, ok := <-waiter:
		if !ok {
			return speech.PermissionUnknown, ErrClosed
		}
		return state, nil
	case <-b.done:
		return speech.PermissionUnknown, ErrClosed
	case <-ctx.Done():
		b.removeWaiter(waiter)
		return speech.PermissionUnknown, ctx.Err()
	}
}

// removeWaiter unregisters a permission waiter that will no longer be
// received from, so abandoned requests do not pile up on the connection.
func (b *Bridge) removeWaiter(w chan speech.Permission) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, pw := range b.permWaiters {
		if pw == w {
			b.permWaiters = append(b.permWaiters[:i], b.permWaiters[i+1:]...)
			return
		}
	}
}

// OpenRecognizer instructs the client to start a recognition instance and
// returns the stream of its events. Only one recognizer may be open at a time
// on a single connection.
func (b *Bridge) OpenRecognizer(ctx context.Context, cfg speech.Config) (speech.Recognizer, error) {
	rec := &recognizer{
		bridge: b,
		events: make(chan speech.Event, 16),
	}

	b.mu.Lock()
	if b.recognizer != nil {
		b.mu.Unlock()
		return nil, errors.New("wsbridge: recognizer already open")
	}
	b.recognizer = rec
	b.mu.Unlock()

	frame := controlFrame{
		Type:           frameStart,
		Language:       cfg.Language,
		InterimResults: cfg.InterimResults,
	}
	if err := b.send(ctx, frame); err != nil {
		b.mu.Lock()
		b.recognizer = nil
		b.mu.Unlock()
		return nil, err
	}
	return rec, nil
}

// OpenMeter returns the stream of PCM frames the client sends as binary
// messages. Only one meter may be open at a time on a single connection.
func (b *Bridge) OpenMeter(ctx context.Context) (speech.MeterStream, error) {
	select {
	case <-b.done:
		return nil, ErrClosed
	default:
	}

	m := &meter{
		bridge: b,
		frames: make(chan []int16, 16),
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.meter != nil {
		return nil, errors.New("wsbridge: meter already open")
	}
	b.meter = m
	return m, nil
}

// SendLevel pushes an audio level reading to the client for visualization.
// Levels are best effort: a reading is dropped when the write queue is full.
func (b *Bridge) SendLevel(level float64) {
	select {
	case b.outbound <- controlFrame{Type: frameLevel, Level: level}:
	case <-b.done:
	default:
	}
}

// send queues a control frame for the write loop.
func (b *Bridge) send(ctx context.Context, frame controlFrame) error {
	select {
	case b.outbound <- frame:
		return nil
	case <-b.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// writeLoop serializes all outbound control frames onto the connection.
func (b *Bridge) writeLoop() {
	defer b.wg.Done()
	ctx := context.Background()
	for {
		select {
		case frame := <-b.outbound:
			data, err := json.Marshal(frame)
			if err != nil {
				b.logger.Warn("encoding control frame", "type", frame.Type, "error", err)
				continue
			}
			if err := b.conn.Write(ctx, websocket.MessageText, data); err != nil {
				return
			}
		case <-b.done:
			return
		}
	}
}

// readLoop receives frames from the client and dispatches them: text frames
// are decoded as control messages, binary frames become meter PCM.
func (b *Bridge) readLoop() {
	defer b.wg.Done()
	for {
		typ, data, err := b.conn.Read(context.Background())
		if err != nil {
			go b.Close()
			return
		}

		switch typ {
		case websocket.MessageText:
			var frame controlFrame
			if err := json.Unmarshal(data, &frame); err != nil {
				b.logger.Warn("malformed control frame", "error", err)
				continue
			}
			b.dispatch(frame)
		case websocket.MessageBinary:
			b.dispatchAudio(decodePCM(data))
		}
	}
}

// dispatch routes a decoded control frame to the interested party.
func (b *Bridge) dispatch(frame controlFrame) {
	switch frame.Type {
	case frameResult:
		b.deliverEvent(speech.Event{
			Type: speech.EventResult,
			Result: speech.Result{
				Transcript: frame.Transcript,
				Confidence: frame.Confidence,
				IsFinal:    frame.IsFinal,
			},
		})
	case frameError:
		b.deliverEvent(speech.Event{
			Type: speech.EventError,
			Code: speech.Code(frame.Code),
		})
	case frameEnd:
		b.deliverEvent(speech.Event{Type: speech.EventEnd})
	case framePermission:
		b.setPermission(parsePermission(frame.State))
	default:
		b.logger.Debug("ignoring unknown control frame", "type", frame.Type)
	}
}

func (b *Bridge) deliverEvent(ev speech.Event) {
	b.mu.Lock()
	rec := b.recognizer
	b.mu.Unlock()
	if rec != nil {
		rec.deliver(ev)
	}
}

func (b *Bridge) dispatchAudio(frame []int16) {
	b.mu.Lock()
	m := b.meter
	b.mu.Unlock()
	if m != nil {
		m.deliver(frame)
	}
}

func (b *Bridge) setPermission(state speech.Permission) {
	b.mu.Lock()
	b.permission = state
	waiters := b.permWaiters
	b.permWaiters = nil
	b.mu.Unlock()
	for _, w := range waiters {
		w <- state
	}
}

// parsePermission maps a wire permission state to the platform enum. Unknown
// strings map to the unknown state.
func parsePermission(state string) speech.Permission {
	switch state {
	case "granted":
		return speech.PermissionGranted
	case "denied":
		return speech.PermissionDenied
	default:
		return speech.PermissionUnknown
	}
}

// decodePCM converts little-endian 16-bit sample bytes to samples. A trailing
// odd byte is ignored.
func decodePCM(data []byte) []int16 {
	samples := make([]int16, 0, len(data)/2)
	for i := 0; i+1 < len(data); i += 2 {
		samples = append(samples, int16(binary.LittleEndian.Uint16(data[i:])))
	}
	return samples
}

// recognizer is the client-side recognition instance as seen by the capture
// controller. Events flow in through the bridge's read loop.
type recognizer struct {
	bridge *Bridge

	mu     sync.Mutex
	closed bool
	events chan speech.Event
}

var _ speech.Recognizer = (*recognizer)(nil)

func (r *recognizer) Events() <-chan speech.Event { return r.events }

// deliver pushes an event to the consumer. Events are dropped once the
// instance is closed or when the consumer falls far behind.
func (r *recognizer) deliver(ev speech.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	select {
	case r.events <- ev:
	default:
	}
}

// Close detaches the recognizer from the bridge and tells the client to stop
// the instance.
func (r *recognizer) Close() error {
	if r.shutdown() {
		_ = r.bridge.send(context.Background(), controlFrame{Type: frameStop})
	}
	return nil
}

// terminate closes the event stream without a stop frame; used when the
// connection itself is gone.
func (r *recognizer) terminate() { r.shutdown() }

// shutdown closes the event stream once and detaches from the bridge. It
// reports whether this call performed the teardown.
func (r *recognizer) shutdown() bool {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return false
	}
	r.closed = true
	close(r.events)
	r.mu.Unlock()

	b := r.bridge
	b.mu.Lock()
	if b.recognizer == r {
		b.recognizer = nil
	}
	b.mu.Unlock()
	return true
}

// meter is the PCM stream fed by the client's binary frames.
type meter struct {
	bridge *Bridge

	mu     sync.Mutex
	closed bool
	frames chan []int16
}

var _ speech.MeterStream = (*meter)(nil)

func (m *meter) Frames() <-chan []int16 { return m.frames }

// deliver pushes a PCM frame to the consumer. Metering is lossy: stale frames
// are dropped when the consumer falls behind.
func (m *meter) deliver(frame []int16) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	select {
	case m.frames <- frame:
	default:
	}
}

func (m *meter) Close() error {
	m.shutdown()
	return nil
}

func (m *meter) terminate() { m.shutdown() }

func (m *meter) shutdown() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	close(m.frames)
	m.mu.Unlock()

	b := m.bridge
	b.mu.Lock()
	if b.meter == m {
		b.meter = nil
	}
	b.mu.Unlock()
}
