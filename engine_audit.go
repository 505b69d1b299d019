package farmauth

import (
	"context"
	"errors"
	"time"
)

const (
	auditEventSessionEstablished = "session_established"
	auditEventSessionRejected    = "session_rejected"
	auditEventSessionTerminated  = "session_terminated"
	auditEventStorageUnavailable = "storage_unavailable"
)

// Audit event types raised by the login flow through [Engine.EmitAudit].
const (
	AuditEventLoginSuccess         = "login_success"
	AuditEventLoginFailure         = "login_failure"
	AuditEventProviderCancelled    = "provider_cancelled"
	AuditEventVerificationRequest  = "verification_request"
	AuditEventVerificationFailure  = "verification_failure"
	AuditEventFlowClosed           = "flow_closed"
	AuditEventStaleResultDiscarded = "stale_result_discarded"
)

// AuditErrorCode is the stable error classification written to audit events.
type AuditErrorCode string

const (
	auditErrValidation        AuditErrorCode = "validation"
	auditErrProviderCancelled AuditErrorCode = "provider_cancelled"
	auditErrProvider          AuditErrorCode = "provider_error"
	auditErrBackendRejection  AuditErrorCode = "backend_rejection"
	auditErrStorage           AuditErrorCode = "storage_unavailable"
	auditErrInvalidAssertion  AuditErrorCode = "invalid_assertion"
	auditErrInternal          AuditErrorCode = "internal_error"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	userEmail string,
	provider ProviderKind,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		UserEmail: userEmail,
		FlowID:    FlowIDFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if provider != 0 {
		event.Provider = provider.String()
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

// EmitAudit records an event on behalf of a component assembled around the
// engine. It is a no-op when auditing is disabled.
func (e *Engine) EmitAudit(ctx context.Context, eventType string, success bool, userEmail string, provider ProviderKind, err error) {
	e.emitAudit(ctx, eventType, success, userEmail, provider, err, nil)
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrValidation):
		return auditErrValidation
	case errors.Is(err, ErrProviderCancelled):
		return auditErrProviderCancelled
	case errors.Is(err, ErrProvider):
		return auditErrProvider
	case errors.Is(err, ErrBackendRejection):
		return auditErrBackendRejection
	case IsStorageUnavailable(err):
		return auditErrStorage
	case errors.Is(err, ErrInvalidAssertion):
		return auditErrInvalidAssertion
	default:
		return auditErrInternal
	}
}
