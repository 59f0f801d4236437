// Package mail defines the outbound mail boundary. The server only ever
// composes and hands off messages; delivery is a collaborator concern.
package mail

import "context"

// Message is one outbound email.
type Message struct {
	To      string
	Subject string
	Body    string
}

// Mailer delivers messages. Implementations must be safe for concurrent use.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}
