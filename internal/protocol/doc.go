// Package protocol implements the protocol abstraction layer for the Gray Logic
// integration core.
//
// It separates "how to talk to a device" from "what the device does". The
// rest of the core only ever sees protocol-neutral values:
//
//   - Command: an operation from the generic vocabulary plus typed arguments
//   - Ack: confirmation that a device accepted a command
//   - RawEvent: anything a device sent back (acknowledgements, state reports)
//
// # Architecture
//
//	┌──────────────┐   Command    ┌──────────────────────────┐   frames   ┌────────┐
//	│    Bridge    │─────────────▶│ Backend (engine + Codec) │───────────▶│  Link  │──▶ device
//	│              │◀─────────────│                          │◀───────────│        │◀── device
//	└──────────────┘ Ack/RawEvent └──────────────────────────┘            └────────┘
//
// A Backend is one manufacturer variant. Variants form a closed set selected
// by Kind at construction time (see New):
//
//   - KindLumen: JSON documents over MQTT, zigbee2mqtt style
//   - KindKNX:   binary telegrams using KNX datapoint types (DPT 1/5/9)
//   - KindHue:   Philips Hue style JSON built on huego.State
//
// Each variant only contributes a Codec, the translation table between the
// generic vocabulary and its wire syntax. Connection handling, ack matching and
// report queueing are shared.
//
// The Link is the seam to the physical or simulated transport and is the only
// place real I/O happens.
//
// # Thread Safety
//
// Backends are safe for concurrent use. SendCommand and ReceiveData may be
// called from different goroutines; only one command is outstanding at a time.
package protocol
