// Package notify delivers auction events to people through chat webhooks.
// Every configured sender receives each event that passes the type filter.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/bidengine/internal/domain"
)

// Message is one rendered notification.
type Message struct {
	Title string
	Body  string
	Event domain.AuctionEvent
}

// Sender is a notification channel.
type Sender interface {
	Send(ctx context.Context, msg Message) error
	Name() string
}

// Notifier fans auction events out to its senders. It implements
// domain.EventNotifier.
type Notifier struct {
	senders []Sender
	events  map[domain.EventType]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier. Only event types listed in events are
// forwarded; an empty list forwards everything.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[domain.EventType]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[domain.EventType(e)] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Enabled reports whether any sender is configured.
func (n *Notifier) Enabled() bool { return len(n.senders) > 0 }

// Notify renders ev and sends it to every sender. Failures are logged.
func (n *Notifier) Notify(ctx context.Context, ev domain.AuctionEvent) {
	if len(n.events) > 0 && !n.events[ev.Type] {
		return
	}
	if err := n.dispatch(ctx, Render(ev)); err != nil {
		n.logger.WarnContext(ctx, "notification incomplete",
			slog.String("event", string(ev.Type)),
			slog.String("auction_id", ev.AuctionID),
			slog.String("error", err.Error()),
		)
	}
}

// dispatch sends msg to all senders; one failing sender does not stop the
// others.
func (n *Notifier) dispatch(ctx context.Context, msg Message) error {
	var errs []string
	for _, s := range n.senders {
		if err := s.Send(ctx, msg); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", msg.Title),
		)
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}

// Render turns an event into a human-readable message.
func Render(ev domain.AuctionEvent) Message {
	price := ev.Amount.StringFixed(2) + " " + ev.Currency
	var title, body string
	switch ev.Type {
	case domain.EventAuctionStarted:
		title, body = "Auction started", fmt.Sprintf("Bidding is open until %s.", ev.EndTime.Format("2006-01-02 15:04 MST"))
	case domain.EventBidAccepted:
		title, body = "New bid", fmt.Sprintf("Current price is %s.", price)
	case domain.EventOutbid:
		title, body = "You have been outbid", fmt.Sprintf("Bidder %s was outbid. Current price is %s.", ev.BidderID, price)
	case domain.EventAuctionExtended:
		title, body = "Auction extended", fmt.Sprintf("Late bid moved the close to %s.", ev.EndTime.Format("2006-01-02 15:04:05 MST"))
	case domain.EventAuctionSold:
		title, body = "Auction sold", fmt.Sprintf("Won by %s at %s.", ev.BidderID, price)
	case domain.EventAuctionUnsold:
		title, body = "Auction closed unsold", ev.Detail
	case domain.EventAuctionCancelled:
		title, body = "Auction cancelled", ev.Detail
	case domain.EventOrderCreated:
		title, body = "Order created", "Order "+ev.Detail+" was created for the winning bid."
	default:
		title, body = strings.ReplaceAll(string(ev.Type), "_", " "), price
	}
	return Message{
		Title: fmt.Sprintf("%s [%s]", title, ev.AuctionID),
		Body:  body,
		Event: ev,
	}
}

var _ domain.EventNotifier = (*Notifier)(nil)
