// Package api implements the HTTP REST API and WebSocket server for Pill Fleet Core.
//
// This package provides:
//   - REST endpoints for doctors, patients, dispensers, modules and schedules
//   - Device action endpoints (dispense, refill, reset, hard mode, settings)
//   - The event log read endpoint
//   - WebSocket hub relaying inbound device events and alerts
//   - Middleware stack (request ID, logging, recovery, CORS, rate limiting)
//
// # Architecture
//
// The server sits in front of the clinic, dispenser and schedule services.
// Every mutation commits to SQLite first and then hands the resulting device
// command to the publisher. Responses of device-affecting endpoints carry a
// "delivery" field (sent, queued, failed, no_device) so a committed change
// with a failed publish is visible to the caller without being an error.
//
// # Graceful Degradation
//
// The server operates without a broker connection. Reads and writes work;
// commands report delivery "failed" until the broker is back.
package api
