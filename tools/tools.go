//go:build tools
// +build tools

// Package tools documents development tool dependencies for fleetpush.
// They are installed with `go install` and not tracked in go.mod.
package tools

// Development tools:
//
// mockgen - regenerates internal/mocks from the repository ports in internal/core
//   Run: go generate ./internal/mocks (pinned to go.uber.org/mock v0.6.0)
//
// golangci-lint - static analysis; the forbidigo and ireturn nolint markers in cmd/ target it
//   Install: go install github.com/golangci/golangci-lint/v2/cmd/golangci-lint@v2.4.0
//
// Air - live reload while running `fleetpush` with SERVICES=http,dispatcher,monitor,reaper
//   Install: go install github.com/air-verse/air@v1.63.0
