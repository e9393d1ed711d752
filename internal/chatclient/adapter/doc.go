// Package adapter contains implementations of interfaces defined in app.
// The HTTP auth client and the websocket transport live here.
package adapter

import "go.opentelemetry.io/otel"

var tracer = otel.Tracer("chatclient/adapter")
