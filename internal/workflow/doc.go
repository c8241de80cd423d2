// Package workflow implements the session-scoped upload, validate, confirm
// and push flow.
//
// A Session owns one Store (the datasets and selections), a Controller that
// gates confirmation, and a PushOrchestrator that drives the upload through
// Idle, PendingConfirmation, Processing and Succeeded or Failed. All session
// state is guarded by a single lock; only the upload call itself runs
// outside it, so a cancel request is served while the upload is running.
package workflow
