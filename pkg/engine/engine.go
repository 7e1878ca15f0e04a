// Package engine implements the link-layer protocol engine: the state
// machine that owns timers, counters, the RTS intent, and
// retransmission bookkeeping, and drives the serial adapter. It is the
// union of the flag set (flags.go), the receive classifier
// (classifier.go), the transmit actions (actions.go), and the decision
// ladder (ladder.go) run from a single loop (engine.go).
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/serialtp/ptp-link/pkg/filesource"
)

// Transport is the subset of pkg/serialport.Adapter the engine drives: a
// non-blocking write and a reopen-in-place for the choose_port contract.
// Kept as an interface so the engine can be exercised with a fake in
// tests, separating the state machine from the concrete port wrapper.
type Transport interface {
	Write(frame []byte) error
	Reopen(name string) error
}

// stats holds the upward telemetry contract: ACKs sent, data frames
// sent, and the running byte-level error rate.
type stats struct {
	mu             sync.Mutex
	acksSent       int
	dataFramesSent int
	validBytes     int
	errorBytes     int
}

// Snapshot is the read-only telemetry view handed to pkg/control.
type Snapshot struct {
	AcksSent       int
	DataFramesSent int
	ValidBytes     int
	ErrorBytes     int
	// ErrorRatePct is error_bytes / (error_bytes + valid_bytes) * 100, or 0
	// when no bytes have been classified yet.
	ErrorRatePct float64
}

// Engine is the protocol engine driving one link. Exactly one Engine
// drives one Transport and one filesource.Source.
type Engine struct {
	flags *flagSet
	rx    *recvBuffer
	stats stats

	logger    *slog.Logger
	source    *filesource.Source
	transport Transport

	// onPayload is invoked with the 512-byte payload whenever the ladder
	// accepts a data frame ("payload received" upward).
	onPayload func([]byte)
	// onPacketSent is invoked after send_frame transmits a data frame
	// ("packet sent" upward notification).
	onPacketSent func()

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// Options configures a new Engine. Logger and the two upward callbacks
// may be nil; Logger defaults to slog.Default(), and nil callbacks are
// simply not invoked.
type Options struct {
	Logger       *slog.Logger
	OnPayload    func([]byte)
	OnPacketSent func()
	// Seed seeds the jitter generator. Zero uses the current time, which
	// is what production wiring should leave it at; tests pin it for
	// deterministic jitter.
	Seed int64
}

// New builds an Engine around source and transport. Neither is started
// until Run is called.
func New(source *filesource.Source, transport Transport, opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	seed := opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	e := &Engine{
		flags:        newFlagSet(seed),
		rx:           newRecvBuffer(logger),
		logger:       logger.With("component", "engine"),
		source:       source,
		transport:    transport,
		onPayload:    opts.OnPayload,
		onPacketSent: opts.OnPacketSent,
		stopCh:       make(chan struct{}),
	}
	e.flags.bits = flagFIN
	return e
}

// OnReadable is the serial adapter's inbound callback; wire it in at
// construction time (serialport.Open's third argument).
func (e *Engine) OnReadable(data []byte) {
	e.onReadable(data)
}

// Run drives the engine's own loop: tick, honor a
// pending reverse-interrupt escape, evaluate the ladder, sleep ~100ms.
// It returns when ctx is cancelled or Shutdown is called.
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("engine loop stopping: context cancelled")
			return
		case <-e.stopCh:
			e.logger.Info("engine loop stopping: shutdown requested")
			return
		case <-ticker.C:
			e.flags.tick()

			if e.flags.has(flagSENDRVI) {
				e.sendRvi()
				continue
			}

			e.runLadder()
		}
	}
}

// SelectFile implements the downward select_file(path) contract.
func (e *Engine) SelectFile(path string) error {
	if err := e.source.Select(path); err != nil {
		return fmt.Errorf("engine: select_file: %w", err)
	}
	return nil
}

// SendFile implements the downward send_file() contract: raise RTS.
func (e *Engine) SendFile() {
	e.flags.set(flagRTS, true)
}

// RequestReverseInterrupt implements the downward
// request_reverse_interrupt() contract: set SEND_RVI, honored at the top
// of the next loop iteration.
func (e *Engine) RequestReverseInterrupt() {
	e.flags.set(flagSENDRVI, true)
}

// ChoosePort implements the downward choose_port(name) contract.
func (e *Engine) ChoosePort(name string) error {
	if err := e.transport.Reopen(name); err != nil {
		return fmt.Errorf("engine: choose_port: %w", err)
	}
	return nil
}

// Shutdown stops the loop after the current iteration; the caller is
// responsible for closing the adapter afterward.
func (e *Engine) Shutdown() {
	select {
	case <-e.stopCh:
	default:
		close(e.stopCh)
	}
}

// Stats returns a point-in-time telemetry snapshot.
func (e *Engine) Stats() Snapshot {
	e.stats.mu.Lock()
	defer e.stats.mu.Unlock()

	total := e.stats.errorBytes + e.stats.validBytes
	var rate float64
	if total > 0 {
		rate = float64(e.stats.errorBytes) / float64(total) * 100
	}
	return Snapshot{
		AcksSent:       e.stats.acksSent,
		DataFramesSent: e.stats.dataFramesSent,
		ValidBytes:     e.stats.validBytes,
		ErrorBytes:     e.stats.errorBytes,
		ErrorRatePct:   rate,
	}
}
