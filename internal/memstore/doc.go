// Package memstore keeps polls, votes, chat and participants in process memory.
// Each store serializes access with its own mutex, which gives the same per-record
// atomicity the PostgreSQL repositories get from their constraints. Selected with
// STORE_DRIVER=memory and used by tests.
package memstore
