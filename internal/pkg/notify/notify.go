package notify

// Mailer delivers login links to users.
type Mailer interface {
	// SendMagicLink delivers the single-use login link to the address.
	SendMagicLink(toEmail string, link string) error
}
