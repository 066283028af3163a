package messagelog

// PruneObserver is called after each garbage-collection batch commits with
// the id range it removed. Implementations must not block.
type PruneObserver interface {
	ObservePrune(namespace string, minID, maxID uint64, count int)
}

type noopObserver struct{}

func (noopObserver) ObservePrune(string, uint64, uint64, int) {}
