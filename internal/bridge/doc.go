// Package bridge implements the communication bridge: the single translation
// seam between device adapters and a protocol backend.
//
// A Bridge owns exactly one protocol.Backend, injected at construction, and is
// the only writer of that backend's ProtocolBinding. It knows nothing about
// device categories; it moves protocol-neutral commands down and raw events up.
//
// # Connection state machine
//
//	disconnected ──Initialize──▶ connecting ──ok──▶ connected
//	      ▲                          │                  │
//	      └──────────failure─────────┴──────failure─────┘
//	                                 │
//	             MaxRetries consecutive failures
//	                                 ▼
//	                             exhausted (terminal)
//
// Connection failures (ErrDisconnected, ErrTransport, ack timeouts) are
// retried inside Send with exponential backoff. A success resets the
// consecutive-failure counter. Once the counter reaches MaxRetries the bridge
// becomes exhausted and every later call fails fast with ErrExhausted.
//
// Protocol errors (protocol.ErrMalformed) are never retried and leave the
// binding untouched.
package bridge
