// Package session keeps per-session conversation histories so that a
// multi-turn chat can continue across independent requests.
//
// The Store interface is what callers depend on; InMemoryStore is the
// process-local implementation. Durable backends can be added in
// sub-packages without changing calling code.
package session
