// Package telemetry provides OpenTelemetry initialization and helpers for the
// beacon servers.
//
// The package configures OTLP HTTP export for traces and logs, and replays
// span trees finished by the observe pipeline into the OTel tracer so they
// reach the same backend as the HTTP instrumentation.
package telemetry
