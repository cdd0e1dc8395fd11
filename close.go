package branchfs

// Close releases resources held by this BranchFS instance.
//
// Any running Serve loop should be stopped (via context cancellation)
// before calling Close. Stores created by Open are closed here; stores
// injected with WithBackstore are left to their owner.
func (fs *BranchFS) Close() error {
	if fs == nil {
		return nil
	}
	fs.closeOnce.Do(func() {
		fs.closed.Store(true)
		if fs.ownsStore {
			fs.closeErr = fs.store.Close()
		}
	})
	return fs.closeErr
}
