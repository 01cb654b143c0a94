// Package narration turns invoices and dashboard statistics into the text
// that is read aloud.
package narration

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/MrWong99/invoicevox/internal/config"
)

// Status is the payment state of an invoice.
type Status string

const (
	StatusPaid    Status = "paid"
	StatusUnpaid  Status = "unpaid"
	StatusOverdue Status = "overdue"
)

var arabicStatus = map[Status]string{
	StatusPaid:    "مدفوعة",
	StatusUnpaid:  "غير مدفوعة",
	StatusOverdue: "متأخرة",
}

// IsValid reports whether s is a known status.
func (s Status) IsValid() bool {
	_, ok := arabicStatus[s]
	return ok
}

// Label returns the spoken name of s in lang.
func (s Status) Label(lang config.Language) string {
	if lang == config.LanguageArabic {
		if l, ok := arabicStatus[s]; ok {
			return l
		}
	}
	return string(s)
}

// UnmarshalText accepts the English identifiers as well as the Arabic labels.
func (s *Status) UnmarshalText(b []byte) error {
	v := strings.TrimSpace(string(b))
	if st := Status(strings.ToLower(v)); st.IsValid() {
		*s = st
		return nil
	}
	for st, label := range arabicStatus {
		if v == label {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("narration: unknown invoice status %q", v)
}

// Invoice is the subset of an invoice that is narrated.
type Invoice struct {
	ID          string  `json:"id"`
	ClientName  string  `json:"client_name"`
	Amount      float64 `json:"amount"`
	Date        string  `json:"date"`
	Status      Status  `json:"status"`
	Description string  `json:"description,omitempty"`
}

// Stats aggregates a set of invoices for the dashboard summary.
type Stats struct {
	Total       int     `json:"total"`
	Paid        int     `json:"paid"`
	Unpaid      int     `json:"unpaid"`
	Overdue     int     `json:"overdue"`
	TotalAmount float64 `json:"total_amount"`
}

// ComputeStats counts invoices per status and sums every amount, whatever
// its status.
func ComputeStats(invoices []Invoice) Stats {
	st := Stats{Total: len(invoices)}
	for _, inv := range invoices {
		switch inv.Status {
		case StatusPaid:
			st.Paid++
		case StatusUnpaid:
			st.Unpaid++
		case StatusOverdue:
			st.Overdue++
		}
		st.TotalAmount += inv.Amount
	}
	return st
}

// InvoiceText returns the read-aloud text for inv. The notes sentence is left
// out when the invoice has no description.
func InvoiceText(lang config.Language, inv Invoice) string {
	var b strings.Builder
	if lang == config.LanguageEnglish {
		fmt.Fprintf(&b, "Invoice for client %s. Amount: %s riyals. Date: %s. Status: %s.",
			inv.ClientName, formatAmount(inv.Amount), inv.Date, inv.Status.Label(lang))
		if d := strings.TrimSpace(inv.Description); d != "" {
			fmt.Fprintf(&b, " Notes: %s", d)
		}
		return b.String()
	}

	fmt.Fprintf(&b, "فاتورة للعميل %s. القيمة: %s ريال. التاريخ: %s. الحالة: %s.",
		inv.ClientName, formatAmount(inv.Amount), inv.Date, inv.Status.Label(config.LanguageArabic))
	if d := strings.TrimSpace(inv.Description); d != "" {
		fmt.Fprintf(&b, " الملاحظات: %s", d)
	}
	return b.String()
}

// SummaryText returns the read-aloud dashboard summary for st.
func SummaryText(lang config.Language, st Stats) string {
	if lang == config.LanguageEnglish {
		return fmt.Sprintf("Dashboard summary. You have %d invoices totalling %s riyals. Of these, %d are paid, %d are unpaid, and %d are overdue.",
			st.Total, formatAmount(st.TotalAmount), st.Paid, st.Unpaid, st.Overdue)
	}
	return fmt.Sprintf("ملخص لوحة المعلومات. لديك %d فواتير بإجمالي مبلغ %s ريال. منها %d مدفوعة، و %d غير مدفوعة، و %d متأخرة.",
		st.Total, formatAmount(st.TotalAmount), st.Paid, st.Unpaid, st.Overdue)
}

// formatAmount prints the shortest decimal form: 12000 stays "12000" and
// 4500.5 stays "4500.5".
func formatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
