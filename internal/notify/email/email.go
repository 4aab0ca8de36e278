// Package email sends the welcome e-mail to newly registered users.
package email

import (
	"bytes"
	"crypto/tls"
	"embed"
	"fmt"
	"html/template"
	"time"

	"github.com/charmbracelet/log"
	"github.com/jon4hz/feedbackr/internal/config"
	mail "github.com/xhit/go-simple-mail/v2"
)

//go:embed templates/*.html
var templatesFS embed.FS

var templates = template.Must(template.New("").ParseFS(templatesFS, "templates/*.html"))

// Welcome contains the data for a welcome e-mail.
type Welcome struct {
	Email      string
	Username   string
	FirstName  string
	ProfileURL string
}

// Mailer sends welcome e-mails over SMTP.
type Mailer struct {
	config *config.EmailConfig
}

// New creates a new Mailer.
func New(cfg *config.EmailConfig) *Mailer {
	return &Mailer{
		config: cfg,
	}
}

// Enabled reports whether e-mails are sent at all.
func (m *Mailer) Enabled() bool {
	return m != nil && m.config != nil && m.config.Enabled
}

// SendWelcome greets a new user. It is a no-op when e-mails are disabled.
func (m *Mailer) SendWelcome(welcome Welcome) error {
	if !m.Enabled() {
		log.Debug("Email is disabled, skipping welcome mail", "username", welcome.Username)
		return nil
	}
	if welcome.Email == "" {
		log.Warn("User email is empty, skipping welcome mail", "username", welcome.Username)
		return nil
	}

	body, err := renderWelcome(welcome)
	if err != nil {
		return fmt.Errorf("failed to generate email body: %w", err)
	}

	return m.send(welcome.Email, fmt.Sprintf("[%s] Welcome, %s", m.fromName(), welcome.Username), body)
}

func renderWelcome(welcome Welcome) (string, error) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, "welcome.html", welcome); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func (m *Mailer) fromName() string {
	if m.config.FromName == "" {
		return "Feedbackr"
	}
	return m.config.FromName
}

func (m *Mailer) send(to, subject, body string) error {
	server := mail.NewSMTPClient()
	server.Host = m.config.SMTPHost
	server.Port = m.config.SMTPPort
	server.Username = m.config.Username
	server.Password = m.config.Password

	switch {
	case m.config.UseSSL:
		server.Encryption = mail.EncryptionSSLTLS
	case m.config.UseTLS:
		server.Encryption = mail.EncryptionSTARTTLS
	default:
		server.Encryption = mail.EncryptionNone
	}

	if m.config.InsecureSkipVerify {
		server.TLSConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
	}

	server.KeepAlive = false
	server.ConnectTimeout = 10 * time.Second
	server.SendTimeout = 10 * time.Second

	smtpClient, err := server.Connect()
	if err != nil {
		return fmt.Errorf("failed to connect to SMTP server: %w", err)
	}
	defer func() {
		if closeErr := smtpClient.Close(); closeErr != nil {
			log.Warn("Failed to close SMTP client", "error", closeErr)
		}
	}()

	msg := mail.NewMSG()
	msg.SetFrom(fmt.Sprintf("%s <%s>", m.fromName(), m.config.FromEmail))
	msg.AddTo(to)
	msg.SetSubject(subject)
	msg.SetBody(mail.TextHTML, body)

	if err := msg.Send(smtpClient); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}

	log.Info("Welcome email sent", "to", to)
	return nil
}
