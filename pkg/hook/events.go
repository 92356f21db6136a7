package hook

// ChainRebuiltEvent is fired after the chain of a hooked function was
// rebuilt. Nodes is 0 if the last interceptor was removed.
type ChainRebuiltEvent struct {
	Address uintptr
	Nodes   int
}

// RebuildFailedEvent is fired when a chain could not be rebuilt.
// Restored reports whether the chain was put back into its previous
// state; otherwise the function is left unhooked.
type RebuildFailedEvent struct {
	Address  uintptr
	Err      error
	Restored bool
}
