package engine

import (
	"log/slog"
	"sync"

	"github.com/serialtp/ptp-link/pkg/wire"
)

// recvBuffer is the engine's receive buffer & classifier: it accumulates
// inbound bytes and, on every append, scans for a control
// frame or a candidate data frame. A match latches the corresponding
// RCV_* flag(s) on the shared flagSet and clears the whole buffer — the
// buffer-clear-on-any-match is deliberate and only correct because the
// link is half-duplex (at most one frame is ever in flight).
type recvBuffer struct {
	mu   sync.Mutex
	buf  []byte
	logger *slog.Logger
}

func newRecvBuffer(logger *slog.Logger) *recvBuffer {
	return &recvBuffer{logger: logger}
}

// onReadable is the adapter's inbound callback: append the delivered
// bytes and classify. It is invoked from the adapter's own goroutine, so
// all flag mutations it makes go through flagSet's lock, exactly as the
// engine loop's do.
func (e *Engine) onReadable(data []byte) {
	rb := e.rx
	rb.mu.Lock()
	rb.buf = append(rb.buf, data...)
	buf := rb.buf
	rb.mu.Unlock()

	e.classify(buf)
}

// classify scans buf for control and data frames. Multiple distinct
// control-frame patterns present at once all latch
// their flags before the buffer is cleared.
func (e *Engine) classify(buf []byte) {
	matchedControl := false

	if wire.IndexControlFrame(buf, wire.ENQ) != -1 {
		e.flags.set(flagRCVENQ, true)
		matchedControl = true
	}
	if wire.IndexControlFrame(buf, wire.ACK) != -1 {
		e.flags.set(flagRCVACK, true)
		e.flags.set(flagTOR, false)
		matchedControl = true
	}
	if wire.IndexControlFrame(buf, wire.EOT) != -1 {
		e.flags.set(flagRCVEOT, true)
		matchedControl = true
	}
	if wire.IndexControlFrame(buf, wire.RVI) != -1 {
		e.flags.set(flagRCVRVI, true)
		matchedControl = true
	}

	if matchedControl {
		e.clearRecvBuf()
	}

	if idx, found := wire.HasSYNSTX(buf); found {
		e.checkPotentialDataFrame(buf, idx)
	}
}

// checkPotentialDataFrame handles a candidate data frame found at idx in
// buf: cut DataFrameSize bytes and validate. A valid frame latches
// RCV_DATA and records the payload; an invalid one latches RCV_DATA and
// RCV_ERR and arms the long (ACK-wait-grade) timeout so the peer gets a
// chance to retransmit.
func (e *Engine) checkPotentialDataFrame(buf []byte, idx int) {
	end := idx + wire.DataFrameSize
	if end > len(buf) {
		// Not enough bytes yet to judge this candidate; wait for more.
		return
	}
	candidate := buf[idx:end]

	payload, ok := wire.ValidateDataFrame(candidate)
	e.recordByteStats(candidate[2:2+wire.PayloadSize], ok)

	if ok {
		e.flags.setLastReceivedPayload(payload)
		e.flags.set(flagRCVDATA, true)
		e.flags.set(flagRCVERR, false)
		e.clearRecvBuf()
		e.logger.Debug("data frame valid")
		return
	}

	e.flags.set(flagRCVDATA, true)
	e.flags.set(flagRCVERR, true)
	e.flags.arm(longTimeout)
	e.clearRecvBuf()
	e.logger.Debug("data frame invalid, arming long timeout")
}

// recordByteStats updates the running bit-error-rate accumulators: every
// classified frame's non-NUL byte count is added to the error or valid
// accumulator depending on whether the frame validated. The NUL padding
// itself never counts toward either bucket.
func (e *Engine) recordByteStats(block []byte, valid bool) {
	nonNUL := 0
	for _, b := range block {
		if b != 0 {
			nonNUL++
		}
	}
	e.stats.mu.Lock()
	if valid {
		e.stats.validBytes += nonNUL
	} else {
		e.stats.errorBytes += nonNUL
	}
	e.stats.mu.Unlock()
}

func (e *Engine) clearRecvBuf() {
	e.rx.mu.Lock()
	e.rx.buf = e.rx.buf[:0]
	e.rx.mu.Unlock()
}
