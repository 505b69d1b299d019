package farmauth

import (
	"io"
	"time"

	internalaudit "github.com/MrEthical07/farmauth/internal/audit"
)

// ProviderKind identifies which identity path produced an assertion.
type ProviderKind uint8

const (
	// ProviderFederated is the OpenID Connect popup path.
	ProviderFederated ProviderKind = iota + 1
	// ProviderBackendOTP is the backend email sign-in / verification-code path.
	ProviderBackendOTP
)

func (p ProviderKind) String() string {
	switch p {
	case ProviderFederated:
		return "federated"
	case ProviderBackendOTP:
		return "backend_otp"
	default:
		return "unknown"
	}
}

// IdentityAssertion is the verified result of either identity path. OpaqueToken
// is a bearer credential; its format is never inspected.
type IdentityAssertion struct {
	SubjectEmail string
	OpaqueToken  string
	Provider     ProviderKind
	IssuedAt     time.Time
}

// Validate reports [ErrInvalidAssertion] when the token or the email is empty.
func (a IdentityAssertion) Validate() error {
	if a.OpaqueToken == "" || a.SubjectEmail == "" {
		return ErrInvalidAssertion
	}
	return nil
}

// Session is the single active (token, email) pair of a profile.
type Session struct {
	Token     string
	UserEmail string
}

// EventKind classifies a [SessionEvent].
type EventKind uint8

const (
	// EventEstablished is delivered after a session was written to the store.
	EventEstablished EventKind = iota + 1
	// EventTerminated is delivered after the store was cleared.
	EventTerminated
)

func (k EventKind) String() string {
	switch k {
	case EventEstablished:
		return "established"
	case EventTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// SessionEvent is delivered to [Engine.Subscribe] listeners.
type SessionEvent struct {
	Kind      EventKind
	UserEmail string
	Provider  ProviderKind
	Reason    string
	At        time.Time
}

// Termination reasons carried in [SessionEvent.Reason].
const (
	ReasonLogout       = "logout"
	ReasonMissingToken = "missing_token"
	ReasonUnauthorized = "unauthorized"
)

// AuditEvent is a structured audit record emitted by the engine.
type AuditEvent = internalaudit.Event

// AuditSink receives [AuditEvent] values from the engine's audit dispatcher.
type AuditSink = internalaudit.Sink

// NoOpSink is an [AuditSink] that discards all events.
type NoOpSink = internalaudit.NoOpSink

// ChannelSink is a buffered channel-based [AuditSink].
type ChannelSink = internalaudit.ChannelSink

// JSONWriterSink writes one JSON object per line to an [io.Writer].
type JSONWriterSink = internalaudit.JSONWriterSink

// LogrusSink forwards audit events to a logrus logger.
type LogrusSink = internalaudit.LogrusSink

// NewChannelSink creates a [ChannelSink] with the given buffer capacity.
func NewChannelSink(buffer int) *ChannelSink {
	return internalaudit.NewChannelSink(buffer)
}

// NewJSONWriterSink creates a [JSONWriterSink] that writes to w.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return internalaudit.NewJSONWriterSink(w)
}
