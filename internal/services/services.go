// Package services contains the adapters to external systems: the hosted LLM providers, the tool-result
// cache, and the telemetry publisher.
package services

const errLoggerKey = "error"
