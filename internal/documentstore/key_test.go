package documentstore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBuildKey(t *testing.T) {
	key := BuildKey(KeyParams{
		InvoiceID:     "42",
		Kind:          KindInvoice,
		From:          "Acme Holdings",
		To:            "Globex",
		InvoiceNumber: 5,
		Date:          time.Date(2026, 2, 20, 0, 0, 0, 0, time.UTC),
	})
	assert.Equal(t, "invoices/42/Invoice_acme-holdings_globex_N5_2026-02-20.pdf", key)

	as := BuildKey(KeyParams{
		InvoiceID:     "42",
		Kind:          KindAS,
		InvoiceNumber: 5,
		Date:          time.Date(2026, 2, 20, 0, 0, 0, 0, time.UTC),
	})
	assert.Equal(t, "invoices/42/AS_unknown_unknown_N5_2026-02-20.pdf", as)
}

func TestFilenameFromKey(t *testing.T) {
	assert.Equal(t, "Invoice_a_b_N1_2026-01-01.pdf", FilenameFromKey("invoices/1/Invoice_a_b_N1_2026-01-01.pdf", KindInvoice))
	assert.Equal(t, "invoice.pdf", FilenameFromKey("", KindInvoice))
	assert.Equal(t, "as.pdf", FilenameFromKey("   ", KindAS))
}

func TestParseKind(t *testing.T) {
	kind, ok := ParseKind("AS")
	assert.True(t, ok)
	assert.Equal(t, KindAS, kind)

	_, ok = ParseKind("receipt")
	assert.False(t, ok)
}
