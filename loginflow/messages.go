package loginflow

import (
	"errors"
	"net/url"

	"github.com/MrEthical07/farmauth"
)

// Message turns an error from any step into the single line shown to the user.
// Backend-supplied text is shown verbatim; internal detail never is.
func Message(err error) string {
	if err == nil {
		return ""
	}

	var (
		verr *farmauth.ValidationError
		rerr *farmauth.RejectionError
		uerr *url.Error
	)
	switch {
	case errors.As(err, &verr):
		switch verr.Field {
		case "email":
			return "Please enter your email."
		case "username":
			return "Please enter a username."
		case "code":
			return "Please enter the verification code."
		}
		return "Please fill in all required fields."
	case errors.Is(err, ErrBusy):
		return "Please wait for the current request to finish."
	case errors.Is(err, ErrFederatedUnavailable):
		return "This sign-in option is not available."
	case errors.Is(err, farmauth.ErrProviderCancelled):
		return "Sign-in was cancelled."
	case errors.Is(err, farmauth.ErrProvider):
		return "Sign-in with the identity provider failed. Please try again."
	case errors.As(err, &rerr):
		if rerr.Message != "" {
			return rerr.Message
		}
		return "The server rejected the request. Please try again."
	case farmauth.IsStorageUnavailable(err):
		return "Your session could not be saved. Please try again."
	case errors.As(err, &uerr):
		return "Could not reach the server. Please try again."
	default:
		return "Something went wrong. Please try again."
	}
}
