// Package acquisition locates the model weights file, loads it into the
// inference engine exactly once, and then serves prompts against the loaded
// handle. It is structured into small files by concern:
//
//   - controller.go: Controller type, constructor, simple getters.
//   - config.go: Config and package defaults; New applies defaults.
//   - types.go: State, ModelSource, Snapshot, Callbacks.
//   - errors.go: error kinds and helpers (IsNotInitialized, IsTooBusy, ...).
//   - acquire.go: Init and the bundled -> installed pack -> download -> load
//     state machine.
//   - admission.go: bounded queue and the single in-flight generation slot.
//   - ask.go: Ask/AskSync and temperature control.
//   - close.go: draining shutdown that releases the engine handle.
//   - status_report.go, sanity.go: read-only reporting.
//   - events.go, eventpub_*.go: lifecycle events for observers.
//   - metrics.go: Prometheus collectors.
//
// The engine and the delivery service are opaque collaborators (see
// packages engine and delivery). No stage retries automatically: a failed
// attempt stays failed until Init is called again.
package acquisition
