// Package telemetry provides logging, tracing and metrics for solo.
//
// Logging uses zerolog. NewTelemetry installs the configured logger as the
// global zerolog logger, which the library packages write to through
// zerolog/log.
//
// Tracing uses OpenTelemetry with stdout, OTLP gRPC or no exporter. Task
// phases and resource actions each run inside a span.
//
// Metrics are Prometheus collectors registered on a private registry:
//
//	solo_remote_commands_total{name,status}
//	solo_remote_command_duration_seconds{name}
//	solo_connections_opened_total
//	solo_reconnects_total
//	solo_task_phases_total{phase,status}
//	solo_task_phase_duration_seconds{phase}
//	solo_resource_operations_total{type,action,status}
//	solo_resource_operation_duration_seconds{type,action}
//	solo_errors_by_class_total{class,code}
//
// A nil *Metrics is a valid no-op collector.
package telemetry
