// Package sinks contains the built-in consumers for job lifecycle events:
// structured logs, Prometheus metrics, and a result publisher.
package sinks
