package mailer

// Message is a fully prepared outbound email.
type Message struct {
	From        string
	To          []string
	Cc          []string
	Bcc         []string
	Subject     string
	Content     string
	IsHTML      bool
	Attachments []Attachment
}

// Attachment is a binary file sent with a message.
type Attachment struct {
	Filename    string
	Content     []byte
	ContentType string
}

// ValidateAddresses checks the format of the sender and every recipient.
func (m Message) ValidateAddresses() error {
	if !IsValidAddress(m.From) {
		return &AddressError{Field: "fromEmail", Address: m.From}
	}
	fields := []struct {
		name   string
		values []string
	}{
		{"toEmails", m.To},
		{"ccEmails", m.Cc},
		{"bccEmails", m.Bcc},
	}
	for _, field := range fields {
		for _, address := range field.values {
			if !IsValidAddress(address) {
				return &AddressError{Field: field.name, Address: address}
			}
		}
	}
	return nil
}
