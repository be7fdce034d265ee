package documentstore

import (
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/gosimple/slug"
)

// Kind identifies which of an invoice's two documents a key refers to.
type Kind string

const (
	KindInvoice Kind = "invoice"
	KindAS      Kind = "as"
)

func ParseKind(raw string) (Kind, bool) {
	switch Kind(strings.ToLower(strings.TrimSpace(raw))) {
	case KindInvoice:
		return KindInvoice, true
	case KindAS:
		return KindAS, true
	default:
		return "", false
	}
}

func (k Kind) prefix() string {
	if k == KindAS {
		return "AS"
	}
	return "Invoice"
}

// DefaultFilename is used when a key has no usable last segment.
func (k Kind) DefaultFilename() string {
	if k == KindAS {
		return "as.pdf"
	}
	return "invoice.pdf"
}

// KeyParams names the invoice a document belongs to.
type KeyParams struct {
	InvoiceID     string
	Kind          Kind
	From          string
	To            string
	InvoiceNumber int
	Date          time.Time
}

// BuildKey returns invoices/{id}/{Kind}_{from}_{to}_N{number}_{YYYY-MM-DD}.pdf.
func BuildKey(p KeyParams) string {
	name := fmt.Sprintf("%s_%s_%s_N%d_%s.pdf",
		p.Kind.prefix(),
		keySegment(p.From),
		keySegment(p.To),
		p.InvoiceNumber,
		p.Date.Format("2006-01-02"),
	)
	return path.Join("invoices", p.InvoiceID, name)
}

// FilenameFromKey returns the last key segment, falling back to the kind default.
func FilenameFromKey(key string, kind Kind) string {
	key = strings.TrimRight(strings.TrimSpace(key), "/")
	if key == "" {
		return kind.DefaultFilename()
	}
	name := key[strings.LastIndex(key, "/")+1:]
	if name == "" {
		return kind.DefaultFilename()
	}
	return name
}

func keySegment(label string) string {
	s := slug.Make(label)
	if s == "" {
		return "unknown"
	}
	return s
}
