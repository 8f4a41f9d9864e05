// Package correlation resolves the id that ties a record or a request to its
// logs, spans and dead letters.
package correlation

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
)

// Header names a correlation id is read from.
const (
	HeaderCorrelationID  = "streamview-correlation-id"
	HeaderXCorrelationID = "x-correlation-id"
	HeaderXRequestID     = "x-request-id"
	HeaderTraceparent    = "traceparent"
)

// SourceGenerated is the Source of an id no header supplied.
const SourceGenerated = "generated"

// priority lists the headers in the order they are consulted.
var priority = []string{HeaderCorrelationID, HeaderXCorrelationID, HeaderXRequestID, HeaderTraceparent}

// ID is a correlation id and the header it was taken from.
type ID struct {
	Value  string
	Source string
}

// ExtractOrGenerate resolves the correlation id of a record from its headers.
// The first non-blank header in priority order wins; a traceparent yields its
// trace id. Without any, a new UUID is generated.
func ExtractOrGenerate(headers map[string]string) ID {
	return resolve(func(name string) string { return headers[name] })
}

// FromRequest resolves the correlation id of an HTTP request. Header names
// match case-insensitively.
func FromRequest(r *http.Request) ID {
	return resolve(r.Header.Get)
}

func resolve(get func(name string) string) ID {
	for _, name := range priority {
		v := strings.TrimSpace(get(name))
		if name == HeaderTraceparent {
			v = traceIDOf(v)
		}
		if v != "" {
			return ID{Value: v, Source: name}
		}
	}
	return ID{Value: uuid.NewString(), Source: SourceGenerated}
}

// traceIDOf returns the trace id of a W3C traceparent
// (version-traceid-parentid-flags), or "" if it has none.
func traceIDOf(traceparent string) string {
	parts := strings.Split(traceparent, "-")
	if len(parts) != 4 {
		return ""
	}
	id, err := trace.TraceIDFromHex(parts[1])
	if err != nil {
		return ""
	}
	return id.String()
}
