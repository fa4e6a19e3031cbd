package core

// Frame is one encoded wire event.
type Frame []byte

// SignalConnection abstracts for a system messaging transport
// Owned by the adapter; the adapter must Close() it.
// TrySend must never block the caller.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}
