package farmauth

import "context"

type flowIDContextKey struct{}

// WithFlowID attaches the login attempt identifier to ctx. The Engine copies it
// into audit events so a session can be traced back to the attempt that created it.
func WithFlowID(ctx context.Context, flowID string) context.Context {
	return context.WithValue(ctx, flowIDContextKey{}, flowID)
}

// FlowIDFromContext returns the identifier set by [WithFlowID], or "".
func FlowIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}

	id, _ := ctx.Value(flowIDContextKey{}).(string)
	return id
}
