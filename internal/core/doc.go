// Package core provides the shared types of the experiment server.
//
// This package contains the protocol envelope, the persisted record types,
// the error taxonomy and the value normalization used by every other
// internal package. core imports nothing internal, so it stays the
// foundational layer with no circular dependencies.
//
// Key design constraints:
//   - Parameter and outcome values are float64 and are never rounded
//   - Parameter names and metadata keys are NFC normalized at the boundary
//   - All JSON tags use snake_case
//   - Trial ordering uses trial ids, never wall-clock timestamps
package core
