package loginflow

import "time"

// State is a stage of the login flow.
type State uint8

const (
	StateIdle State = iota
	StateProviderChoice
	StateFederatedPending
	StateCredentialEntry
	StateOtpRequestPending
	StateOtpEntryPending
	StateVerifying
	StateSuccess
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateProviderChoice:
		return "provider_choice"
	case StateFederatedPending:
		return "federated_pending"
	case StateCredentialEntry:
		return "credential_entry"
	case StateOtpRequestPending:
		return "otp_request_pending"
	case StateOtpEntryPending:
		return "otp_entry_pending"
	case StateVerifying:
		return "verifying"
	case StateSuccess:
		return "success"
	default:
		return "unknown"
	}
}

// Busy reports whether a network call is in flight for this state.
func (s State) Busy() bool {
	switch s {
	case StateFederatedPending, StateOtpRequestPending, StateVerifying:
		return true
	default:
		return false
	}
}

// View selects between the returning-user and new-user forms of the backend path.
type View uint8

const (
	ViewSignIn View = iota
	ViewSignUp
)

func (v View) String() string {
	if v == ViewSignUp {
		return "sign_up"
	}
	return "sign_in"
}

// PendingRegistration is held between "code sent" and "code confirmed". It is
// never persisted. RequestedAt is refreshed on every successful resend.
type PendingRegistration struct {
	Email       string
	Username    string
	RequestedAt time.Time
}

// Snapshot is a copy of the flow for rendering.
type Snapshot struct {
	FlowID   string
	Open     bool
	State    State
	View     View
	Email    string
	Username string
	Code     string
	CodeSent bool
	Busy     bool
	// Error is the user-facing message of the last failure on this step.
	Error   string
	Err     error
	Pending *PendingRegistration
}
