package services

import (
	"fmt"

	"github.com/avdeyev/authcore/internal/server/mail"
	"github.com/avdeyev/authcore/internal/token"
)

func (s *AccountService) signUpMail(email string, t token.Token, code string) mail.Message {
	return mail.Message{
		To:      email,
		Subject: "Verify your email address",
		Body: fmt.Sprintf(
			"Confirm your email address to finish creating your account:\n\n"+
				"%s/sign-up/verify?token=%s\n\n"+
				"Or enter this code on the sign-up page: %s\n\n"+
				"If you did not request this, you can ignore this message.",
			s.baseURL, t, code),
	}
}

func (s *AccountService) accountExistsMail(email string) mail.Message {
	return mail.Message{
		To:      email,
		Subject: "You already have an account",
		Body: fmt.Sprintf(
			"Someone tried to sign up with this address, but an account already exists.\n\n"+
				"If that was you, sign in instead, or reset your password:\n\n"+
				"%s/password-reset", s.baseURL),
	}
}

func (s *AccountService) passwordResetMail(email string, t token.Token) mail.Message {
	return mail.Message{
		To:      email,
		Subject: "Reset your password",
		Body: fmt.Sprintf(
			"Use this link to set a new password:\n\n"+
				"%s/password-reset/fulfill?token=%s\n\n"+
				"If you did not request this, you can ignore this message; "+
				"your password has not changed.",
			s.baseURL, t),
	}
}

func (s *AccountService) emailChangeMail(email string, t token.Token) mail.Message {
	return mail.Message{
		To:      email,
		Subject: "Confirm your new email address",
		Body: fmt.Sprintf(
			"Confirm that this is your new address:\n\n"+
				"%s/email-change/verify?token=%s\n\n"+
				"If you did not request this, you can ignore this message.",
			s.baseURL, t),
	}
}
