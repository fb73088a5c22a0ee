// Package cmd implements the command-line interface for the harmony
// collaboration hub. It provides a hierarchical command structure with
// operations for running the hub server and interacting with it as a
// client.
//
// The package is organized into several subpackages:
//
//   - serve: Commands for starting and configuring the hub server
//   - project: Commands for managing projects over the REST API
//   - jam: Commands for joining a project room as a collaborator
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// See harmony -help for a list of all commands.
package cmd
