// Package render builds the complimentary ticket email body.
package render

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"
	"net/url"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/TropTix/troptix/pkg/domain"
)

//go:embed templates/*.html
var templatesFS embed.FS

var templates = template.Must(template.ParseFS(templatesFS, "templates/*.html"))

const (
	displayZone    = "America/New_York"
	dateTimeLayout = "Mon, Jan 2, 3:04 PM"
	timeLayout     = "3:04 PM"

	campaignQuery = "utm_source=complementary_email&utm_medium=email&utm_campaign=complementary_tickets"
)

type Renderer struct {
	baseURL string
	loc     *time.Location
}

type ticketGroup struct {
	Name     string
	Quantity string
}

type emailView struct {
	BaseURL   string
	TicketURL string
	EventName string
	ImageURL  string
	Address   string
	When      string
	OrderID   string
	Groups    []ticketGroup
}

func New(baseURL string) (*Renderer, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	loc, err := time.LoadLocation(displayZone)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", displayZone, err)
	}
	return &Renderer{baseURL: baseURL, loc: loc}, nil
}

// Render returns the HTML body for one order.
func (r *Renderer) Render(ctx context.Context, d domain.OrderDetail) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if strings.TrimSpace(d.Event.Name) == "" {
		return "", fmt.Errorf("order %s has no event", d.ID)
	}

	view := emailView{
		BaseURL:   r.baseURL,
		TicketURL: TicketURL(r.baseURL, d.ID),
		EventName: d.Event.Name,
		ImageURL:  d.Event.ImageURL,
		Address:   d.Event.Address,
		When:      r.when(d.Event),
		OrderID:   d.ID,
		Groups:    groupTickets(d.Tickets),
	}

	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, "complimentary_ticket", view); err != nil {
		return "", fmt.Errorf("execute template: %w", err)
	}
	return buf.String(), nil
}

// TicketURL links the recipient to their order's tickets with campaign tags.
func TicketURL(baseURL, orderID string) string {
	return strings.TrimRight(baseURL, "/") + "/orders/" + url.PathEscape(orderID) + "/tickets?" + campaignQuery
}

func (r *Renderer) when(e domain.Event) string {
	s := e.StartDate.In(r.loc).Format(dateTimeLayout)
	if e.EndDate != nil {
		s += " – " + e.EndDate.In(r.loc).Format(timeLayout)
	}
	return s
}

// groupTickets counts tickets per ticket type in first-seen order.
func groupTickets(tickets []domain.TicketDetail) []ticketGroup {
	type group struct {
		name  string
		count int
	}
	var order []string
	byKey := map[string]*group{}
	for _, t := range tickets {
		key, name := "Unknown", "Ticket"
		if t.TicketType != nil {
			key = t.TicketType.ID
			if t.TicketType.Name != "" {
				name = t.TicketType.Name
			}
		}
		g, ok := byKey[key]
		if !ok {
			g = &group{name: name}
			byKey[key] = g
			order = append(order, key)
		}
		g.count++
	}

	out := make([]ticketGroup, 0, len(order))
	for _, key := range order {
		g := byKey[key]
		out = append(out, ticketGroup{Name: g.name, Quantity: quantityLabel(g.count)})
	}
	return out
}

func quantityLabel(n int) string {
	if n == 1 {
		return "1 ticket"
	}
	return fmt.Sprintf("%d tickets", n)
}
