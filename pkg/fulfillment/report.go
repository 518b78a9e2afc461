package fulfillment

import (
	"bytes"
	"io"
	"math"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Report is the end-of-run summary.
type Report struct {
	TotalRecipients      int      `json:"totalRecipients"`
	DuplicatesRemoved    int      `json:"duplicatesRemoved"`
	UniqueRecipients     int      `json:"uniqueRecipients"`
	OrdersCreated        int      `json:"ordersCreated"`
	OrdersFailed         int      `json:"ordersFailed"`
	OrdersCreatedPercent int      `json:"ordersCreatedPercent"`
	EmailsRendered       int      `json:"emailsRendered"`
	EmailsSent           int      `json:"emailsSent"`
	EmailsSentPercent    int      `json:"emailsSentPercent"`
	EmailsFailed         int      `json:"emailsFailed"`
	FailedEmails         []string `json:"failedEmails"`
}

// ReportInput carries the stage counts a Report is built from.
type ReportInput struct {
	Total         int
	Unique        int
	OrdersCreated int
	Rendered      int
	EmailsSent    int
	FailedEmails  []string
}

// BuildReport aggregates stage counts. It has no side effects.
func BuildReport(in ReportInput) Report {
	failed := make([]string, len(in.FailedEmails))
	copy(failed, in.FailedEmails)
	return Report{
		TotalRecipients:      in.Total,
		DuplicatesRemoved:    in.Total - in.Unique,
		UniqueRecipients:     in.Unique,
		OrdersCreated:        in.OrdersCreated,
		OrdersFailed:         in.Unique - in.OrdersCreated,
		OrdersCreatedPercent: percent(in.OrdersCreated, in.Unique),
		EmailsRendered:       in.Rendered,
		EmailsSent:           in.EmailsSent,
		EmailsSentPercent:    percent(in.EmailsSent, in.OrdersCreated),
		EmailsFailed:         len(failed),
		FailedEmails:         failed,
	}
}

func percent(part, whole int) int {
	if whole <= 0 {
		return 0
	}
	return int(math.Round(float64(part) / float64(whole) * 100))
}

// DisplayedFailures returns at most FailedDisplayLimit addresses and how
// many were left out.
func (r Report) DisplayedFailures() ([]string, int) {
	if len(r.FailedEmails) <= FailedDisplayLimit {
		return r.FailedEmails, 0
	}
	return r.FailedEmails[:FailedDisplayLimit], len(r.FailedEmails) - FailedDisplayLimit
}

// WriteTo prints the summary block.
func (r Report) WriteTo(w io.Writer) (int64, error) {
	var buf bytes.Buffer
	p := message.NewPrinter(language.English)
	rule := strings.Repeat("=", 60)

	p.Fprintf(&buf, "\n%s\nSUMMARY\n%s\n", rule, rule)
	p.Fprintf(&buf, "Recipients processed:     %d\n", r.TotalRecipients)
	p.Fprintf(&buf, "Duplicates removed:       %d\n", r.DuplicatesRemoved)
	p.Fprintf(&buf, "Unique recipients:        %d\n", r.UniqueRecipients)
	p.Fprintf(&buf, "Orders created:           %d (%d%%)\n", r.OrdersCreated, r.OrdersCreatedPercent)
	p.Fprintf(&buf, "Orders failed:            %d\n", r.OrdersFailed)
	p.Fprintf(&buf, "Emails sent:              %d (%d%% of created orders)\n", r.EmailsSent, r.EmailsSentPercent)
	p.Fprintf(&buf, "Emails failed:            %d\n", r.EmailsFailed)

	if r.OrdersFailed > 0 {
		p.Fprintf(&buf, "\nSome orders failed to create. Check the logs above for details.\n")
	}
	if r.EmailsFailed > 0 {
		p.Fprintf(&buf, "\nSome emails failed to send:\n")
		shown, more := r.DisplayedFailures()
		for _, email := range shown {
			p.Fprintf(&buf, "   - %s\n", email)
		}
		if more > 0 {
			p.Fprintf(&buf, "   ... and %d more\n", more)
		}
	}
	p.Fprintf(&buf, "%s\n", rule)

	n, err := w.Write(buf.Bytes())
	return int64(n), err
}
