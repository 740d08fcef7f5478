package authsession

// waitProviderEvents blocks until every SIGNED_IN verification started by
// the current watch has finished.
func (m *Manager) waitProviderEvents() {
	m.mu.Lock()
	w := m.watcher
	m.mu.Unlock()
	if w != nil {
		w.wg.Wait()
	}
}
