// Package fleet maintains long-lived client connections to a fleet of MCP
// servers across stdio, SSE, and streamable HTTP transports. Each server
// gets one session owning its connection lifecycle, circuit breaker, and
// call statistics; a manager aggregates sessions behind a global index of
// callable tools, readable resources, and prompt templates, and keeps
// connections alive with an adaptive heartbeat.
package fleet
