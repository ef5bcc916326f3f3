// Package engine implements the geofence Coordinator.
//
// The Coordinator owns the geofence store, the monitored-region table, the
// pending location queue, the crossing pipeline and the notification
// templates. It is constructed by the composition root and shared by
// reference; there is no package-level instance.
//
// ARCHITECTURE:
//
// Single-Writer Event Loop:
// Application calls and platform callbacks race with each other, so both are
// turned into tasks on one FIFO queue and executed by Run on a single
// goroutine. This keeps:
// - location requests resolved in the order they were made
// - the buffered crossing event last-write-wins
// - add/remove never interleaved with a reconciliation step
//
// Task Processing Flow:
// 1. A public method (Add, RequestLocation, ...) or Deliver enqueues a task
// 2. Run dequeues tasks one at a time and stamps each with Clock.Next()
// 3. The task mutates the owned components and may call the platform
// 4. The platform answers later through Deliver, which enqueues another task
//
// Methods that return a value wait for their task to run, never for the
// platform. Completions, responders and observers are invoked on the Run
// goroutine and must not call back into the Coordinator synchronously.
//
// ERROR HANDLING: a failing task is logged and the loop continues. Nothing
// the platform reports is fatal.
package engine
