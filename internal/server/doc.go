// Package server implements kvstored's TCP front end: one acceptor goroutine
// feeding a fixed-size pool of connection workers, each running a serial
// request/response pipeline over the wire protocol against a shared store
// and AOL writer.
//
//	 net.Listener
//	      │ Accept()
//	      ▼
//	 ┌─────────┐   conns chan net.Conn   ┌────────────────────────┐
//	 │ acceptor│ ───────────────────────▶│ worker (x N)           │
//	 └─────────┘                        │  HEADER → BODY →        │
//	                                     │  DISPATCH → HEADER/...  │
//	                                     └──────────┬─────────────┘
//	                                                │ Get/Set/Remove
//	                                                ▼
//	                                          store.Map ◀── aol.Writer
//
// Workers are fixed at startup (Options.Workers); a connection occupies one
// worker for its entire lifetime, so a busy connection cannot starve others
// beyond the pool size. Shutdown stops the acceptor first, drains in-flight
// connections, then flushes the AOL.
package server
