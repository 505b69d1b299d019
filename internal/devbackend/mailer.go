package devbackend

import (
	"context"

	"github.com/sirupsen/logrus"
)

// Mailer delivers a verification code to the user out of band.
type Mailer interface {
	SendCode(ctx context.Context, email, username, code string) error
}

// LogMailer "delivers" codes by logging them. Local use only.
type LogMailer struct {
	Logger logrus.FieldLogger
}

func (m LogMailer) SendCode(_ context.Context, email, username, code string) error {
	logger := m.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	logger.WithFields(logrus.Fields{
		"email":    email,
		"username": username,
		"code":     code,
	}).Info("verification code issued")
	return nil
}
