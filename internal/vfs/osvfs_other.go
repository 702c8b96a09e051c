//go:build !unix

package vfs

// On non-unix platforms Lock and Unlock take no lock at all, within or
// across processes, and CheckReservedLock always reports false.
func (o *osFile) Lock(level LockLevel) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return nil
}

func (o *osFile) Unlock(level LockLevel) error {
	return nil
}

func (o *osFile) CheckReservedLock() (bool, error) {
	return false, nil
}
