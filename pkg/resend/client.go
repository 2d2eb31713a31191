// Package resend wraps the Resend email API.
package resend

import (
	"context"
	"errors"
	"fmt"
	"strings"

	resendsdk "github.com/resend/resend-go/v2"

	"github.com/angelmondragon/invite-ledger/pkg/config"
)

// Message is a single outbound email.
type Message struct {
	To      string
	Subject string
	HTML    string
	Text    string
	Tags    map[string]string
}

type emailSender interface {
	SendWithContext(ctx context.Context, params *resendsdk.SendEmailRequest) (*resendsdk.SendEmailResponse, error)
}

// Client sends mail from a fixed sender address.
type Client struct {
	emails emailSender
	from   string
}

// NewClient builds a client from the Resend settings.
func NewClient(cfg config.ResendConfig) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("resend api key required")
	}
	if strings.TrimSpace(cfg.From) == "" {
		return nil, errors.New("resend from address required")
	}
	sdk := resendsdk.NewClient(cfg.APIKey)
	return &Client{emails: sdk.Emails, from: cfg.From}, nil
}

// Send delivers msg and returns the provider message id.
func (c *Client) Send(ctx context.Context, msg Message) (string, error) {
	if strings.TrimSpace(msg.To) == "" {
		return "", errors.New("recipient required")
	}
	req := &resendsdk.SendEmailRequest{
		From:    c.from,
		To:      []string{msg.To},
		Subject: msg.Subject,
		Html:    msg.HTML,
		Text:    msg.Text,
	}
	for name, value := range msg.Tags {
		req.Tags = append(req.Tags, resendsdk.Tag{Name: name, Value: value})
	}
	resp, err := c.emails.SendWithContext(ctx, req)
	if err != nil {
		return "", fmt.Errorf("resend send: %w", err)
	}
	if resp == nil {
		return "", errors.New("resend send: empty response")
	}
	return resp.Id, nil
}
