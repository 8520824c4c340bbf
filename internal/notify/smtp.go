package notify

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/mail"
	"net/smtp"
	"time"

	"github.com/jordan-wright/email"
	"github.com/rs/zerolog"

	"github.com/shohag/reclaim/internal/config"
	"github.com/shohag/reclaim/internal/models"
)

const defaultSMTPTimeout = 10 * time.Second

type SMTP struct {
	addr    string
	host    string
	auth    smtp.Auth
	from    string
	timeout time.Duration
	log     zerolog.Logger
}

func NewSMTP(cfg config.SMTPConfig, log zerolog.Logger) *SMTP {
	var auth smtp.Auth
	if cfg.Username != "" && cfg.Password != "" {
		auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultSMTPTimeout
	}
	return &SMTP{
		addr:    net.JoinHostPort(cfg.Host, fmt.Sprint(cfg.Port)),
		host:    cfg.Host,
		auth:    auth,
		from:    cfg.From,
		timeout: timeout,
		log:     log,
	}
}

func (s *SMTP) Send(ctx context.Context, t models.NotificationType, p *models.FailedPayment) error {
	msg, err := Compose(t, p)
	if err != nil {
		return err
	}

	e := email.NewEmail()
	e.From = s.from
	e.To = []string{msg.To}
	e.Subject = msg.Subject
	e.Text = []byte(msg.Body)

	if err := s.deliver(ctx, e); err != nil {
		return fmt.Errorf("send %s email for %s: %w", t, p.ID, err)
	}

	s.log.Info().
		Str("payment_id", p.ID).
		Str("type", string(t)).
		Str("to", msg.To).
		Msg("notification email sent")
	return nil
}

// deliver runs one SMTP session on a connection whose deadline is the earlier
// of ctx's deadline and the configured timeout. Cancelling ctx aborts any
// pending read or write.
func (s *SMTP) deliver(ctx context.Context, e *email.Email) error {
	raw, err := e.Bytes()
	if err != nil {
		return fmt.Errorf("render message: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", s.addr)
	if err != nil {
		return err
	}
	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(deadline); err != nil {
			conn.Close()
			return err
		}
	}
	stop := context.AfterFunc(ctx, func() { conn.SetDeadline(time.Now()) })
	defer stop()

	c, err := smtp.NewClient(conn, s.host)
	if err != nil {
		conn.Close()
		return err
	}
	defer c.Close()

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: s.host}); err != nil {
			return err
		}
	}
	if s.auth != nil {
		if ok, _ := c.Extension("AUTH"); ok {
			if err := c.Auth(s.auth); err != nil {
				return err
			}
		}
	}
	from, err := mail.ParseAddress(s.from)
	if err != nil {
		return fmt.Errorf("parse from address: %w", err)
	}
	if err := c.Mail(from.Address); err != nil {
		return err
	}
	for _, rcpt := range e.To {
		if err := c.Rcpt(rcpt); err != nil {
			return err
		}
	}
	w, err := c.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(raw); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return c.Quit()
}
