package notifications

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"strings"

	pkgerrors "github.com/angelmondragon/invite-ledger/pkg/errors"
	"github.com/angelmondragon/invite-ledger/pkg/logger"
	"github.com/angelmondragon/invite-ledger/pkg/resend"
)

const (
	providerResend = "resend"
	inviteSubject  = "Your membership invitation"
)

//go:embed templates/invite.html
var templateFS embed.FS

var inviteTemplate = template.Must(template.ParseFS(templateFS, "templates/invite.html"))

type mailer interface {
	Send(ctx context.Context, msg resend.Message) (string, error)
}

// EmailNotifier renders the invitation email and sends it through Resend.
type EmailNotifier struct {
	mail mailer
	logg *logger.Logger
}

var _ Notifier = (*EmailNotifier)(nil)

// NewEmailNotifier wires the notifier to a mail client.
func NewEmailNotifier(mail mailer, logg *logger.Logger) (*EmailNotifier, error) {
	if mail == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "mail client required")
	}
	if logg == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "logger required")
	}
	return &EmailNotifier{mail: mail, logg: logg}, nil
}

func (n *EmailNotifier) Send(ctx context.Context, inv Invitation) (Receipt, error) {
	if strings.TrimSpace(inv.To) == "" {
		return Receipt{}, pkgerrors.New(pkgerrors.CodeValidation, "recipient email required")
	}
	if strings.TrimSpace(inv.Reference) == "" {
		return Receipt{}, pkgerrors.New(pkgerrors.CodeValidation, "invitation reference required")
	}

	html, err := RenderHTML(inv)
	if err != nil {
		return Receipt{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "render invitation email")
	}

	id, err := n.mail.Send(ctx, resend.Message{
		To:      inv.To,
		Subject: inviteSubject,
		HTML:    html,
		Text:    RenderText(inv),
		Tags:    map[string]string{"category": "invite"},
	})
	if err != nil {
		return Receipt{}, pkgerrors.Wrap(pkgerrors.CodeNotifierFailure, err, "send invitation email")
	}
	if id == "" {
		return Receipt{}, pkgerrors.Wrap(pkgerrors.CodeNotifierFailure, errors.New("missing message id"), "send invitation email")
	}

	n.logg.Info(n.logg.WithFields(ctx, map[string]any{"provider": providerResend, "message_id": id}), "invitation email sent")
	return Receipt{Provider: providerResend, MessageID: id}, nil
}

// RenderHTML renders the invitation body. Values are escaped by html/template.
func RenderHTML(inv Invitation) (string, error) {
	var buf bytes.Buffer
	err := inviteTemplate.Execute(&buf, struct {
		Name      string
		Reference string
		Token     string
	}{
		Name:      inv.Greeting(),
		Reference: inv.Reference,
		Token:     inv.Token,
	})
	if err != nil {
		return "", err
	}
	return buf.String(), nil
}

// RenderText is the plain-text alternative body.
func RenderText(inv Invitation) string {
	greeting := "Hi there,"
	if name := inv.Greeting(); name != "" {
		greeting = fmt.Sprintf("Hi %s,", name)
	}
	return fmt.Sprintf("%s\n\nThanks for your purchase. Accept your membership invitation here:\n%s\n\nYour invitation code: %s\n",
		greeting, inv.Reference, inv.Token)
}
