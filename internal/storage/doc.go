package storage

// Package storage mirrors the relay's persistent document slots to disk.
//
// Each persisted slot is one external document, overwritten wholesale on
// every update. Persistence is best-effort: a failed write is logged by the
// caller and the in-memory state stands.
