// Package services implements the business logic layer of promoflow. It sits
// between the HTTP handlers and the workflow sessions.
//
// # Architecture
//
// Services follow these principles:
//
//  1. Interface-driven collaborators for testability
//  2. Context propagation for cancellation and tracing
//  3. Dependency injection for loose coupling
//
// # Available Services
//
//   - WorkflowService: owns the session registry and drives each session
//     through upload, validation, market choice, confirmation and push
//   - HealthService: reports liveness and the state of the warehouse
//
// # Error Handling
//
// Services return the workflow's typed errors unchanged so handlers can map
// them to problem details: *rules.SchemaError, *workflow.PreconditionError,
// *workflow.TransitionError, workflow.ErrPushInFlight, plus ErrSessionNotFound
// and *InputError from this package.
package services
