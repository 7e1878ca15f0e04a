// Package control is the downward/upward surface that replaces the
// graphical shell: a Redis-backed command queue plus telemetry and
// received-payload publication, carrying this protocol's five-operation
// contract.
package control

import "github.com/fxamacker/cbor/v2"

// Op names the downward operation a Command carries.
type Op string

const (
	OpSelectFile             Op = "select_file"
	OpSendFile               Op = "send_file"
	OpRequestReverseInterrupt Op = "request_reverse_interrupt"
	OpChoosePort             Op = "choose_port"
	OpShutdown               Op = "shutdown"
)

// Command is the CBOR envelope pushed onto the commands list. Path and
// Port are only meaningful for their respective Op; the others leave
// them empty — only the fields a given message type needs are
// populated.
type Command struct {
	Op   Op     `cbor:"op"`
	Path string `cbor:"path,omitempty"`
	Port string `cbor:"port,omitempty"`
}

// EncodeCommand marshals a Command to CBOR for a caller pushing onto the
// commands list (a test harness, or a CLI front-end).
func EncodeCommand(c Command) ([]byte, error) {
	return cbor.Marshal(c)
}

// DecodeCommand unmarshals a CBOR-encoded Command popped off the
// commands list.
func DecodeCommand(raw []byte) (Command, error) {
	var c Command
	err := cbor.Unmarshal(raw, &c)
	return c, err
}

// PayloadEnvelope is the CBOR envelope published on KeyData whenever the
// engine accepts a data frame ("payload received").
type PayloadEnvelope struct {
	Payload []byte `cbor:"payload"`
}

// EncodePayload wraps payload in a PayloadEnvelope and marshals it.
func EncodePayload(payload []byte) ([]byte, error) {
	return cbor.Marshal(PayloadEnvelope{Payload: payload})
}

// DecodePayload unmarshals a PayloadEnvelope.
func DecodePayload(raw []byte) (PayloadEnvelope, error) {
	var p PayloadEnvelope
	err := cbor.Unmarshal(raw, &p)
	return p, err
}
