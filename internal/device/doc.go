// Package device provides the Device Record Store for SMS Gate.
//
// The store is the canonical catalogue of registered devices. Each record
// carries a caller-supplied secret key, a server-generated public identifier
// used both for addressing commands and for authenticating the device's
// persistent connection, and a weak reference to the currently bound live
// connection.
//
// # Architecture
//
//	┌────────────────────────────────────────────────────────────┐
//	│                     Device Record Store                     │
//	│                                                             │
//	│  ┌────────────────┐     ┌─────────────────┐                 │
//	│  │     Store      │     │  FileRepository │                 │
//	│  │   (store.go)   │────▶│   (persist.go)  │                 │
//	│  │                │     │                 │                 │
//	│  │ • dual indices │     │ • JSON document │                 │
//	│  │ • dirty flag   │     │ • atomic rewrite│                 │
//	│  │ • bindings     │     │ • load on boot  │                 │
//	│  └────────────────┘     └─────────────────┘                 │
//	│           ▲                      ▲                           │
//	│           │                      │                           │
//	│   gateway / broker / API      Flusher (periodic, dirty-gated)│
//	└────────────────────────────────────────────────────────────┘
//
// # Persistence strategy
//
// Mutations only set a dirty flag; a background Flusher rewrites the full
// device list to disk on a fixed interval when the flag is set. This bounds
// crash data loss to one flush interval while avoiding a full rewrite on
// every connect/disconnect.
//
// All public methods are safe for concurrent use.
package device
