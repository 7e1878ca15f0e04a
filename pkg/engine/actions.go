package engine

import "github.com/serialtp/ptp-link/pkg/wire"

// This file is the engine's transmit-action vocabulary: sendEnq, sendAck,
// sendEot, sendRvi, sendFrame, resendFrame, and the two reset variants.
// Every action writes through e.transport and never holds the flag lock
// across that write.

// sendEnq establishes the request-to-send.
func (e *Engine) sendEnq() {
	e.write(wire.ControlFrame(wire.ENQ))
	e.flags.set(flagSENTENQ, true)
	e.flags.arm(nominalTimeout)
	e.logger.Debug("sent ENQ")
}

// sendAck commits the receiver to the next data frame or EOT.
func (e *Engine) sendAck() {
	e.write(wire.ControlFrame(wire.ACK))
	e.flags.set(flagSENTACK, true)
	e.flags.set(flagRCVDATA, false)
	e.flags.arm(longTimeout)
	e.stats.mu.Lock()
	e.stats.acksSent++
	e.stats.mu.Unlock()
	e.logger.Debug("sent ACK")
}

// sendEot ends a burst, whether because the file is exhausted or the
// ten-frame cap was reached, and forces a short cooling period.
func (e *Engine) sendEot() {
	e.write(wire.ControlFrame(wire.EOT))
	e.flags.set(flagSENTEOT, true)
	e.flags.set(flagFIN, true)
	e.flags.set(flagSENTENQ, false)
	e.flags.setTxFrameCount(0)
	e.flags.arm(nominalTimeout)
	e.logger.Debug("sent EOT")
}

// sendRvi is the local operator's "give me the line" escape.
func (e *Engine) sendRvi() {
	e.write(wire.ControlFrame(wire.RVI))
	e.flags.set(flagSENDRVI, false)
	e.flags.reset(false)
	e.logger.Debug("sent RVI, reset without timeout")
}

// sendFrame transmits the next data frame of the burst, or yields the
// line with EOT if the file is exhausted or the burst cap is reached.
func (e *Engine) sendFrame() {
	if e.flags.txFrameCountValue() >= maxTxFrameCount {
		e.logger.Debug("tx burst cap reached, yielding")
		e.sendEot()
		return
	}

	e.flags.setRtxCount(0)

	if e.source.AtEnd() {
		e.flags.set(flagRTS, false)
		e.sendEot()
		return
	}

	block, err := e.source.NextBlock()
	if err != nil {
		e.logger.Warn("next_block failed, yielding burst", "error", err)
		e.flags.set(flagRTS, false)
		e.sendEot()
		return
	}

	e.write(wire.BuildDataFrame(block))
	e.flags.set(flagSENTDATA, true)
	e.flags.set(flagRCVACK, false)
	e.flags.incTxFrameCount()
	e.flags.arm(nominalTimeout)

	e.stats.mu.Lock()
	e.stats.dataFramesSent++
	e.stats.mu.Unlock()

	if e.onPacketSent != nil {
		e.onPacketSent()
	}
	e.logger.Debug("sent data frame", "tx_frame_count", e.flags.txFrameCountValue())
}

// resendFrame retransmits the replay slot, or gives up on the frame
// after three attempts.
func (e *Engine) resendFrame() {
	if e.flags.rtxCountValue() >= maxRtxCount {
		e.logger.Warn("retransmit budget exhausted, resetting")
		e.flags.reset(true)
		return
	}

	block := e.source.PreviousBlock()
	e.write(wire.BuildDataFrame(block))
	e.flags.set(flagSENTDATA, true)
	e.flags.set(flagRCVACK, false)
	e.flags.incRtxCount()
	e.flags.arm(nominalTimeout)
	e.logger.Debug("resent data frame", "rtx_count", e.flags.rtxCountValue())
}

// write is the engine's single choke point for outbound bytes: never
// called with the flag lock held, since the lock must not be held across
// I/O. A transport error is treated as an implicit timeout: it is logged
// and otherwise ignored, since the absence of a reply will eventually
// lapse TOR and the engine resets.
func (e *Engine) write(frame []byte) {
	if err := e.transport.Write(frame); err != nil {
		e.logger.Warn("transport write failed", "error", err)
	}
}
