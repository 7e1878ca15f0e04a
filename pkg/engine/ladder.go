package engine

// runLadder evaluates the per-iteration priority ladder: receive-side
// obligations first, then transmit-side desires. The first matching
// action fires and the rest of the ladder is skipped for this
// iteration.
func (e *Engine) runLadder() {
	if e.flags.has(flagRCVENQ) {
		e.ladderReceiveObligation()
		return
	}
	e.ladderTransmitDesire()
}

// ladderReceiveObligation handles the RCV_ENQ-latched branch of the
// ladder.
func (e *Engine) ladderReceiveObligation() {
	if !e.flags.has(flagFIN) {
		// A transmission is ongoing locally: ignore the peer's new bid
		// by clearing RCV_ENQ.
		e.flags.set(flagRCVENQ, false)
		return
	}

	if !e.flags.has(flagSENTACK) {
		e.sendAck()
		return
	}

	switch {
	case e.flags.has(flagRCVEOT):
		// Peer has ended its burst.
		e.flags.reset(true)
	case e.flags.has(flagRCVDATA):
		if e.flags.has(flagRCVERR) {
			e.flags.set(flagRCVERR, false)
			e.flags.set(flagRCVDATA, false)
			// Remain in wait: the peer will retransmit or our own ACK's
			// long timeout will lapse.
		} else {
			payload := e.flags.getLastReceivedPayload()
			e.sendAck() // also clears RCV_DATA
			if e.onPayload != nil && payload != nil {
				e.onPayload(payload)
			}
		}
	default:
		if !e.flags.has(flagTOR) {
			// Peer went silent.
			e.flags.reset(true)
		}
	}
}

// ladderTransmitDesire handles the branch where RCV_ENQ is not latched.
func (e *Engine) ladderTransmitDesire() {
	if e.flags.has(flagRCVRVI) {
		e.flags.set(flagRCVRVI, false)
		e.flags.setTxFrameCount(0)
		e.flags.setRtxCount(0)
		e.flags.reset(true)
		return
	}

	if !e.flags.has(flagRTS) {
		return
	}

	if e.flags.has(flagFIN) {
		if e.flags.has(flagTOR) {
			// Back-off period: keep waiting.
			return
		}
		e.flags.set(flagFIN, false)
		return
	}

	// Not FIN: we have already left Idle to contend for the line.
	if !e.flags.has(flagSENTENQ) {
		e.sendEnq()
		return
	}

	if e.flags.has(flagRCVACK) {
		e.sendFrame()
		return
	}

	if e.flags.has(flagSENTDATA) {
		if !e.flags.has(flagTOR) {
			e.resendFrame()
		}
		return
	}

	if !e.flags.has(flagTOR) {
		e.flags.reset(true)
	}
}
