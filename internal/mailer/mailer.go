package mailer

import (
	"context"
	"log"
)

type SignupInvite struct {
	To          string
	StoreName   string
	StoreID     string
	SignupToken string
}

// Mailer dispatches provisioning emails. Delivery happens after the store
// transaction commits; a failed send is reported to the caller for logging
// and never unwinds the provisioned store.
type Mailer interface {
	SendSignupInvite(ctx context.Context, invite SignupInvite) error
}

// LogMailer writes the invite to the process log instead of sending it.
// Used in development and in deployments where delivery is handled by an
// external relay watching the log stream.
type LogMailer struct{}

func (LogMailer) SendSignupInvite(_ context.Context, invite SignupInvite) error {
	log.Printf("[mailer] signup invite to=%s store=%s (%s)", invite.To, invite.StoreID, invite.StoreName)
	return nil
}
