package middleware

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/rembraille/rembraille/pkg/protocol"
	"github.com/rembraille/rembraille/pkg/transport"
)

const defaultTracerName = "rembraille"

// OTelConfig configures the OpenTelemetry middleware.
type OTelConfig struct {
	// TracerName is the name of the tracer (default: "rembraille").
	TracerName string

	// Filter determines which messages to trace. Return true to
	// trace the message, false to skip. If nil, all messages are
	// traced.
	Filter func(msg protocol.Message) bool

	// AttributeExtractor extracts custom attributes per message.
	AttributeExtractor func(msg protocol.Message) []attribute.KeyValue

	tracer trace.Tracer
}

// OTelOption configures the OpenTelemetry middleware.
type OTelOption func(*OTelConfig)

// WithTracerName sets the tracer name.
func WithTracerName(name string) OTelOption {
	return func(c *OTelConfig) {
		c.TracerName = name
	}
}

// WithMessageFilter sets a filter function for messages.
func WithMessageFilter(filter func(msg protocol.Message) bool) OTelOption {
	return func(c *OTelConfig) {
		c.Filter = filter
	}
}

// WithAttributeExtractor sets a custom attribute extractor.
func WithAttributeExtractor(extractor func(msg protocol.Message) []attribute.KeyValue) OTelOption {
	return func(c *OTelConfig) {
		c.AttributeExtractor = extractor
	}
}

// OpenTelemetry creates dispatch middleware that opens a span around
// every handled message.
//
// The middleware:
//   - Creates a span named "rembraille.<type>" for each message
//   - Records the message type and payload size as attributes
//   - Records handler errors and sets span status
//
// The tracer uses the global OpenTelemetry tracer provider. Configure
// it in your main() before starting the endpoint:
//
//	tp := sdktrace.NewTracerProvider(
//	    sdktrace.WithBatcher(exporter),
//	)
//	otel.SetTracerProvider(tp)
func OpenTelemetry(opts ...OTelOption) transport.Middleware {
	config := OTelConfig{TracerName: defaultTracerName}
	for _, opt := range opts {
		opt(&config)
	}

	config.tracer = otel.Tracer(config.TracerName)

	return func(next transport.Handler) transport.Handler {
		return func(msg protocol.Message) error {
			if config.Filter != nil && !config.Filter(msg) {
				return next(msg)
			}

			mt := msg.MessageType()
			attrs := []attribute.KeyValue{
				attribute.String("rembraille.message_type", mt.String()),
			}
			switch m := msg.(type) {
			case protocol.DisplayCells:
				attrs = append(attrs, attribute.Int("rembraille.cell_count", len(m.Cells)))
			case protocol.KeyEvent:
				attrs = append(attrs,
					attribute.Int64("rembraille.key_id", int64(m.KeyID)),
					attribute.Bool("rembraille.pressed", m.Pressed),
				)
			}
			if config.AttributeExtractor != nil {
				attrs = append(attrs, config.AttributeExtractor(msg)...)
			}

			_, span := config.tracer.Start(
				context.Background(),
				fmt.Sprintf("rembraille.%s", mt),
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(attrs...),
				trace.WithTimestamp(time.Now()),
			)
			defer span.End()

			err := next(msg)

			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			} else {
				span.SetStatus(codes.Ok, "")
			}

			return err
		}
	}
}
