package telegram

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"tickethunter/internal/domain"
	"tickethunter/internal/ports"
)

// Notifier pushes ticket alerts to a Telegram chat via the bot API.
type Notifier struct {
	botToken string
	chatID   string
	client   *http.Client
}

var _ ports.Notifier = (*Notifier)(nil)

// NewNotifier registers bot token and chat identifier.
func NewNotifier(botToken, chatID string) *Notifier {
	return &Notifier{
		botToken: botToken,
		chatID:   chatID,
		client:   &http.Client{Timeout: 5 * time.Second},
	}
}

// AlertTicket posts a Markdown summary of the extracted listing.
func (n *Notifier) AlertTicket(ctx context.Context, ticket domain.Ticket) error {
	if n.botToken == "" || n.chatID == "" || n.client == nil {
		return fmt.Errorf("telegram notifier misconfigured")
	}

	endpoint := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", n.botToken)
	form := url.Values{}
	form.Set("chat_id", n.chatID)
	form.Set("text", formatTicket(ticket))
	form.Set("parse_mode", "Markdown")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram error: %s", resp.Status)
	}

	return nil
}

func formatTicket(t domain.Ticket) string {
	var b strings.Builder
	fmt.Fprintf(&b, "*%s*\n", t.EventName)
	if t.City != "" {
		fmt.Fprintf(&b, "City: %s\n", t.City)
	}
	if t.EventDate != "" {
		fmt.Fprintf(&b, "Date: %s\n", t.EventDate)
	}
	if t.Price != "" {
		fmt.Fprintf(&b, "Price: %s\n", t.Price)
	}
	if t.Quantity != "" {
		fmt.Fprintf(&b, "Quantity: %s\n", t.Quantity)
	}
	if t.Contact != "" {
		fmt.Fprintf(&b, "Contact: %s\n", t.Contact)
	}
	b.WriteString(t.NoteURL)
	return b.String()
}
