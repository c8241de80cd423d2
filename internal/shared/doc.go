// Package shared holds code used across packages that belongs to no single
// domain layer. Today that is only testutil, the test fixtures and slog
// capture handler shared by package tests.
package shared
