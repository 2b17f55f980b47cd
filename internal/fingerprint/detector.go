package fingerprint

import "fmt"

// Detector decides whether a segment changed since its last successful run.
// It is the only component that reads or writes the store.
type Detector struct {
	store Store
}

// NewDetector wraps store.
func NewDetector(store Store) *Detector {
	return &Detector{store: store}
}

// ShouldSkip reports whether the store holds exactly digest for name.
// No stored entry never skips.
func (d *Detector) ShouldSkip(name, digest string) bool {
	prev, ok := d.store.Get(name)
	return ok && prev == digest
}

// Commit records digest for name. Call only after the whole segment,
// including every script invocation, completed without abort.
func (d *Detector) Commit(name, digest string) error {
	if err := d.store.Put(name, digest); err != nil {
		return fmt.Errorf("commit fingerprint for %s: %w", name, err)
	}
	return nil
}

// Forget drops the stored digest so the next run archives name again.
func (d *Detector) Forget(name string) error {
	return d.store.Delete(name)
}

// Close closes the underlying store.
func (d *Detector) Close() error {
	return d.store.Close()
}
