package mailer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/angelmondragon/tishcommerce-checkout/pkg/config"
	"github.com/angelmondragon/tishcommerce-checkout/pkg/logger"
)

// Message is a plain-text email.
type Message struct {
	To      string
	Subject string
	Text    string
}

// Sender delivers a single message. Implementations must not retry.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

var errRecipientRequired = errors.New("mail recipient is required")

// New returns the sender for the configured provider.
func New(cfg config.MailConfig, siteName string, logg *logger.Logger) (Sender, error) {
	from := formatFrom(siteName, senderAddress(cfg))
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case config.MailProviderSMTP:
		return NewSMTPSender(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPassword, from)
	case config.MailProviderResend:
		return NewResendSender(cfg.ResendBaseURL, cfg.ResendAPIKey, from, nil)
	case config.MailProviderLog, "":
		return NewLogSender(logg, from), nil
	default:
		return nil, fmt.Errorf("unsupported mail provider %q", cfg.Provider)
	}
}

func senderAddress(cfg config.MailConfig) string {
	if from := strings.TrimSpace(cfg.From); from != "" {
		return from
	}
	return strings.TrimSpace(cfg.SMTPUser)
}

func formatFrom(siteName, address string) string {
	if siteName == "" {
		return address
	}
	return fmt.Sprintf("%q <%s>", siteName, address)
}

func validate(msg Message) error {
	if strings.TrimSpace(msg.To) == "" {
		return errRecipientRequired
	}
	return nil
}
