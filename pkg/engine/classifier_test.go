package engine

import (
	"log/slog"
	"testing"

	"github.com/serialtp/ptp-link/pkg/wire"
)

func testEngineForClassifier(t *testing.T) *Engine {
	t.Helper()
	e := &Engine{
		flags:  newFlagSet(1),
		rx:     newRecvBuffer(slog.Default()),
		logger: slog.Default(),
	}
	return e
}

func TestClassifyControlFrames(t *testing.T) {
	cases := []struct {
		name string
		kind byte
		flag flag
	}{
		{"enq", wire.ENQ, flagRCVENQ},
		{"ack", wire.ACK, flagRCVACK},
		{"eot", wire.EOT, flagRCVEOT},
		{"rvi", wire.RVI, flagRCVRVI},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := testEngineForClassifier(t)
			e.onReadable(wire.ControlFrame(tc.kind))
			if !e.flags.has(tc.flag) {
				t.Fatalf("expected flag %d set for %s", tc.flag, tc.name)
			}
			if len(e.rx.buf) != 0 {
				t.Fatal("expected receive buffer cleared after control frame match")
			}
		})
	}
}

func TestClassifyAckClearsTOR(t *testing.T) {
	e := testEngineForClassifier(t)
	e.flags.arm(nominalTimeout)
	if !e.flags.has(flagTOR) {
		t.Fatal("setup: expected TOR armed")
	}
	e.onReadable(wire.ControlFrame(wire.ACK))
	if e.flags.has(flagTOR) {
		t.Fatal("expected TOR cleared on RCV_ACK")
	}
}

func TestClassifyValidDataFrame(t *testing.T) {
	e := testEngineForClassifier(t)
	frame := wire.BuildDataFrame([]byte("hello"))
	e.onReadable(frame)

	if !e.flags.has(flagRCVDATA) {
		t.Fatal("expected RCV_DATA set")
	}
	if e.flags.has(flagRCVERR) {
		t.Fatal("expected RCV_ERR clear")
	}
	if len(e.rx.buf) != 0 {
		t.Fatal("expected buffer cleared after a valid data frame")
	}
	payload := e.flags.getLastReceivedPayload()
	if string(payload[:5]) != "hello" {
		t.Fatalf("payload = %q", payload[:5])
	}
}

func TestClassifyCorruptDataFrameArmsLongTimeout(t *testing.T) {
	e := testEngineForClassifier(t)
	frame := wire.BuildDataFrame([]byte("hello"))
	frame[2] ^= 0x01 // flip bit 0 of payload byte 0

	e.onReadable(frame)

	if !e.flags.has(flagRCVDATA) {
		t.Fatal("expected RCV_DATA set even on a corrupt frame")
	}
	if !e.flags.has(flagRCVERR) {
		t.Fatal("expected RCV_ERR set on a corrupt frame")
	}
	if !e.flags.has(flagTOR) {
		t.Fatal("expected the long timeout armed")
	}
	if len(e.rx.buf) != 0 {
		t.Fatal("expected buffer cleared even after an invalid data frame")
	}
}

func TestClassifyByteStatsSplitByValidity(t *testing.T) {
	e := testEngineForClassifier(t)

	good := wire.BuildDataFrame([]byte("AB"))
	e.onReadable(good)

	bad := wire.BuildDataFrame([]byte("CD"))
	bad[2] ^= 0x01
	e.onReadable(bad)

	e.stats.mu.Lock()
	valid, errs := e.stats.validBytes, e.stats.errorBytes
	e.stats.mu.Unlock()

	if valid != 2 {
		t.Fatalf("validBytes = %d, want 2", valid)
	}
	if errs != 2 {
		t.Fatalf("errorBytes = %d, want 2", errs)
	}
}

func TestClassifyIncompleteDataFrameWaitsForMoreBytes(t *testing.T) {
	e := testEngineForClassifier(t)
	frame := wire.BuildDataFrame([]byte("hi"))

	e.onReadable(frame[:10]) // only the header and a few payload bytes
	if e.flags.has(flagRCVDATA) {
		t.Fatal("expected no classification yet on a truncated candidate")
	}
	if len(e.rx.buf) != 10 {
		t.Fatalf("expected the partial candidate retained, got %d bytes", len(e.rx.buf))
	}

	e.onReadable(frame[10:])
	if !e.flags.has(flagRCVDATA) {
		t.Fatal("expected classification once the full frame has arrived")
	}
}

func TestClassifyMultipleControlFramesAtOnce(t *testing.T) {
	e := testEngineForClassifier(t)
	buf := append(wire.ControlFrame(wire.ENQ), wire.ControlFrame(wire.EOT)...)
	e.onReadable(buf)

	if !e.flags.has(flagRCVENQ) {
		t.Fatal("expected RCV_ENQ set")
	}
	if !e.flags.has(flagRCVEOT) {
		t.Fatal("expected RCV_EOT set")
	}
}
