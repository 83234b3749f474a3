// Package handlers contains HTTP handlers for the coursebuilder HTTP API.
//
// This package provides handlers for:
//   - The git webhook that requests course updates
//   - Course administration, update history and build logs
//   - Publishing and health endpoints
//
// Errors are reported through the foundation/errors HTTPErrorAdapter so every
// endpoint shares one JSON error shape.
package handlers
