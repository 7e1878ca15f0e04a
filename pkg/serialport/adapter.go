// Package serialport is the byte-oriented transport the engine drives: a
// thin, non-blocking wrapper over a real RS-232 port. It performs no
// framing and no timing of its own — that is the engine's job.
package serialport

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"go.bug.st/serial"
)

// readTimeout bounds how long a single Read blocks, so the read loop can
// notice Close/Reopen promptly instead of hanging on an idle port.
const readTimeout = 200 * time.Millisecond

// writeQueueDepth is how many outbound frames can be queued ahead of the
// port actually draining them. The protocol is stop-and-wait, so only ever
// one or two frames are in flight; this is generous headroom, not a
// backpressure mechanism.
const writeQueueDepth = 8

// Adapter is the serial port adapter: configure(), a non-blocking
// write(bytes), and an on_readable(bytes) upcall delivering bytes in
// arrival order.
type Adapter struct {
	mu     sync.Mutex
	port   serial.Port
	name   string
	baud   int
	logger *slog.Logger

	onReadable func([]byte)

	writeCh chan []byte
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// mode is the serial line configuration required by the protocol: 9600
// baud, 8 data bits, no parity, 1 stop bit, no hardware flow control.
// The adapter is the only place baud is allowed to vary (via Open's
// argument); parity/data bits/stop bits are fixed by the protocol.
func mode(baud int) *serial.Mode {
	return &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
}

// Open opens name at baud and starts the background read/write loops.
// onReadable is invoked from the read loop with bytes in the exact order
// the port delivered them; it must not block for long, since it runs
// inline with the next Read.
func Open(name string, baud int, onReadable func([]byte), logger *slog.Logger) (*Adapter, error) {
	if logger == nil {
		logger = slog.Default()
	}
	port, err := serial.Open(name, mode(baud))
	if err != nil {
		return nil, fmt.Errorf("serialport: open %q: %w", name, err)
	}
	if err := port.SetReadTimeout(readTimeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("serialport: set read timeout on %q: %w", name, err)
	}

	a := &Adapter{
		port:       port,
		name:       name,
		baud:       baud,
		logger:     logger.With("component", "serialport", "device", name),
		onReadable: onReadable,
		writeCh:    make(chan []byte, writeQueueDepth),
		stopCh:     make(chan struct{}),
	}

	a.wg.Add(2)
	go a.readLoop()
	go a.writeLoop()

	return a, nil
}

// Write enqueues frame for transmission and returns immediately; it never
// blocks the caller for the duration of the actual I/O. Frames are
// written to the port in the order Write was called.
func (a *Adapter) Write(frame []byte) error {
	a.mu.Lock()
	stopCh := a.stopCh
	a.mu.Unlock()

	cp := append([]byte(nil), frame...)
	select {
	case a.writeCh <- cp:
		return nil
	case <-stopCh:
		return fmt.Errorf("serialport: write to %q after close", a.name)
	}
}

// Reopen closes whatever port is currently open (if any) and opens name
// in its place, keeping the same read/write loops and callback. It
// implements the downward choose_port contract.
func (a *Adapter) Reopen(name string) error {
	port, err := serial.Open(name, mode(a.baud))
	if err != nil {
		return fmt.Errorf("serialport: reopen %q: %w", name, err)
	}
	if err := port.SetReadTimeout(readTimeout); err != nil {
		port.Close()
		return fmt.Errorf("serialport: set read timeout on %q: %w", name, err)
	}

	a.mu.Lock()
	old := a.port
	a.port = port
	a.name = name
	a.mu.Unlock()

	if old != nil {
		old.Close()
	}
	a.logger.Info("reopened serial port", "device", name)
	return nil
}

// Close stops the read/write loops and closes the underlying port.
func (a *Adapter) Close() error {
	a.mu.Lock()
	select {
	case <-a.stopCh:
		a.mu.Unlock()
		return nil
	default:
		close(a.stopCh)
	}
	port := a.port
	a.mu.Unlock()

	a.wg.Wait()
	if port == nil {
		return nil
	}
	return port.Close()
}

func (a *Adapter) readLoop() {
	defer a.wg.Done()

	buf := make([]byte, 4096)
	for {
		select {
		case <-a.stopCh:
			return
		default:
		}

		a.mu.Lock()
		port := a.port
		a.mu.Unlock()
		if port == nil {
			time.Sleep(readTimeout)
			continue
		}

		n, err := port.Read(buf)
		if err != nil {
			if err != io.EOF {
				a.logger.Warn("read error", "error", err)
			}
			continue
		}
		if n == 0 {
			continue
		}
		if a.onReadable != nil {
			a.onReadable(buf[:n])
		}
	}
}

func (a *Adapter) writeLoop() {
	defer a.wg.Done()

	for {
		select {
		case frame := <-a.writeCh:
			a.mu.Lock()
			port := a.port
			a.mu.Unlock()
			if port == nil {
				continue
			}
			if _, err := port.Write(frame); err != nil {
				a.logger.Warn("write error", "error", err)
				continue
			}
			if err := port.Drain(); err != nil {
				a.logger.Warn("drain error", "error", err)
			}
		case <-a.stopCh:
			return
		}
	}
}
