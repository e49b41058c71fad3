package context

import "context"

type requestIDKey struct{}

type machineKey struct{}

// WithRequestID stores the inbound request id on ctx.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey{}).(string); ok {
		return v
	}
	return ""
}

// WithMachine stores the machine reference an ingest request targets.
func WithMachine(ctx context.Context, machine string) context.Context {
	if machine == "" {
		return ctx
	}
	return context.WithValue(ctx, machineKey{}, machine)
}

func MachineFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(machineKey{}).(string); ok {
		return v
	}
	return ""
}
