// Package app wires the promoflow service together and manages its
// lifecycle.
//
// # Initialization Flow
//
//  1. Load configuration from defaults, the YAML file and the environment
//  2. Initialize logging and OpenTelemetry
//  3. Open the warehouse and start the WebSocket hub
//  4. Build the workflow and health services
//  5. Set up HTTP handlers and middleware
//  6. Start the HTTP server and the idle-session janitor
//
// # Graceful Shutdown
//
// On SIGINT or SIGTERM the server stops accepting requests, running uploads
// are given until the shutdown timeout to finish, WebSocket clients are
// disconnected and the warehouse connection is closed.
package app
