package storage

// Package storage persists state that should survive restarts:
//   - The notification preference snapshot (settings)
//   - A delivery audit trail (what was dispatched or suppressed, and why)
