// Package tracing wraps OpenTelemetry so callers start and end spans without
// touching the SDK. Until Init installs a provider, spans are no-ops.
package tracing

import (
	"context"
	"io"
	"net/http"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/nemanja-m/gojob"

// ShutdownFunc flushes and stops the installed provider.
type ShutdownFunc func(context.Context) error

// Init installs a tracer provider exporting spans with the stdout exporter.
// An empty output writes to os.Stdout; otherwise spans go to that file.
func Init(serviceName, output string) (ShutdownFunc, error) {
	var w io.Writer = os.Stdout
	var file *os.File
	if output != "" {
		f, err := os.Create(output)
		if err != nil {
			return nil, err
		}
		w, file = f, f
	}

	exporter, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err != nil {
		return nil, err
	}

	shutdown, err := InitWithExporter(serviceName, exporter)
	if err != nil {
		return nil, err
	}
	if file == nil {
		return shutdown, nil
	}
	return func(ctx context.Context) error {
		err := shutdown(ctx)
		if cerr := file.Close(); err == nil {
			err = cerr
		}
		return err
	}, nil
}

// InitWithExporter installs a tracer provider backed by the given exporter.
func InitWithExporter(serviceName string, exporter sdktrace.SpanExporter) (ShutdownFunc, error) {
	res, err := resource.New(context.Background(),
		resource.WithAttributes(attribute.String("service.name", serviceName)),
	)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSpanProcessor(sdktrace.NewSimpleSpanProcessor(exporter)),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	return tp.Shutdown, nil
}

// Inject writes the span context carried by ctx into outgoing headers.
func Inject(ctx context.Context, h http.Header) {
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(h))
}

// Extract returns ctx extended with the remote span context found in h.
func Extract(ctx context.Context, h http.Header) context.Context {
	return otel.GetTextMapPropagator().Extract(ctx, propagation.HeaderCarrier(h))
}

// Span wraps an OpenTelemetry span.
type Span struct {
	span trace.Span
}

// StartSpan starts a child span of whatever span ctx carries.
func StartSpan(ctx context.Context, name string, kind trace.SpanKind, attrs map[string]string) (context.Context, *Span) {
	kvs := make([]attribute.KeyValue, 0, len(attrs))
	for k, v := range attrs {
		if v != "" {
			kvs = append(kvs, attribute.String(k, v))
		}
	}

	ctx, span := otel.Tracer(instrumentationName).Start(ctx, name,
		trace.WithSpanKind(kind),
		trace.WithAttributes(kvs...),
	)
	return ctx, &Span{span: span}
}

// SetAttribute records a string attribute on the span.
func (s *Span) SetAttribute(key, value string) {
	if s == nil {
		return
	}
	s.span.SetAttributes(attribute.String(key, value))
}

// SetStatusFromHTTPCode marks 4xx and 5xx responses as errors.
func (s *Span) SetStatusFromHTTPCode(code int) {
	if s == nil {
		return
	}
	s.span.SetAttributes(attribute.Int("http.status_code", code))
	switch {
	case code >= 500:
		s.span.SetStatus(codes.Error, "server error")
	case code >= 400:
		s.span.SetStatus(codes.Error, "client error")
	}
}

// End finishes the span, recording err when it is not nil.
func (s *Span) End(err error) {
	if s == nil {
		return
	}
	if err != nil {
		s.span.RecordError(err)
		s.span.SetStatus(codes.Error, err.Error())
	}
	s.span.End()
}
