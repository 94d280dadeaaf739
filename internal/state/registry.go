package state

import "sort"

// Swap registers handle as the monitor of symbol and returns the handle it
// replaced, if any. The caller cancels the old handle.
func (s *Store) Swap(userID, symbol string, handle MonitorHandle) MonitorHandle {
	u := s.user(userID)
	u.mu.Lock()
	defer u.mu.Unlock()

	var old MonitorHandle
	if e, ok := u.monitors[symbol]; ok {
		old = e.handle
	}
	u.monitors[symbol] = &monitorEntry{handle: handle, phase: PhaseHolding, startedAt: s.now()}
	return old
}

// Remove deregisters whatever monitor symbol has and returns it.
func (s *Store) Remove(userID, symbol string) MonitorHandle {
	u, ok := s.existing(userID)
	if !ok {
		return nil
	}
	u.mu.Lock()
	defer u.mu.Unlock()

	e, ok := u.monitors[symbol]
	if !ok {
		return nil
	}
	delete(u.monitors, symbol)
	return e.handle
}

// Release deregisters handle if it is still the monitor of symbol.
func (s *Store) Release(userID, symbol string, handle MonitorHandle) bool {
	u, ok := s.existing(userID)
	if !ok {
		return false
	}
	u.mu.Lock()
	defer u.mu.Unlock()

	if !u.owns(symbol, handle) || handle == nil {
		return false
	}
	delete(u.monitors, symbol)
	return true
}

// ReleaseAll deregisters every monitor of the user and returns their handles.
func (s *Store) ReleaseAll(userID string) []MonitorHandle {
	u, ok := s.existing(userID)
	if !ok {
		return nil
	}
	u.mu.Lock()
	defer u.mu.Unlock()

	out := make([]MonitorHandle, 0, len(u.monitors))
	for symbol, e := range u.monitors {
		out = append(out, e.handle)
		delete(u.monitors, symbol)
	}
	return out
}

// IsCurrent reports whether handle is the registered monitor of symbol.
func (s *Store) IsCurrent(userID, symbol string, handle MonitorHandle) bool {
	u, ok := s.existing(userID)
	if !ok || handle == nil {
		return false
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.owns(symbol, handle)
}

// SetPhase records what the monitor is doing.
func (s *Store) SetPhase(userID, symbol string, handle MonitorHandle, phase Phase) bool {
	return s.withEntry(userID, symbol, handle, func(e *monitorEntry) { e.phase = phase })
}

// RecordFailure bumps the consecutive failure count and returns it, or -1 if
// handle is stale.
func (s *Store) RecordFailure(userID, symbol string, handle MonitorHandle) int {
	n := -1
	s.withEntry(userID, symbol, handle, func(e *monitorEntry) {
		e.failures++
		n = e.failures
	})
	return n
}

// ResetFailures clears the consecutive failure count.
func (s *Store) ResetFailures(userID, symbol string, handle MonitorHandle) {
	s.withEntry(userID, symbol, handle, func(e *monitorEntry) { e.failures = 0 })
}

// Monitored lists the symbols with a registered monitor.
func (s *Store) Monitored(userID string) []string {
	u, ok := s.existing(userID)
	if !ok {
		return nil
	}
	u.mu.Lock()
	defer u.mu.Unlock()

	out := make([]string, 0, len(u.monitors))
	for symbol := range u.monitors {
		out = append(out, symbol)
	}
	sort.Strings(out)
	return out
}

func (s *Store) withEntry(userID, symbol string, handle MonitorHandle, fn func(*monitorEntry)) bool {
	u, ok := s.existing(userID)
	if !ok {
		return false
	}
	u.mu.Lock()
	defer u.mu.Unlock()

	e, ok := u.monitors[symbol]
	if !ok || e.handle != handle {
		return false
	}
	fn(e)
	return true
}
