// Package mail delivers verification emails. Delivery is fire-and-forget
// from the session manager's perspective: a failed send is logged by the
// caller, never rolled back into the token flow.
package mail

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"time"
)

// Mailer sends a verification link carrying the raw token to the recipient.
type Mailer interface {
	SendVerificationEmail(ctx context.Context, to, username, token string) error
}

// SMTPMailer delivers over plain SMTP with optional STARTTLS and AUTH.
type SMTPMailer struct {
	host     string
	port     int
	username string
	password string
	from     string
	baseURL  string
	timeout  time.Duration
}

func NewSMTPMailer(host string, port int, username, password, from, baseURL string, timeout time.Duration) *SMTPMailer {
	return &SMTPMailer{
		host:     host,
		port:     port,
		username: username,
		password: password,
		from:     from,
		baseURL:  baseURL,
		timeout:  timeout,
	}
}

func (m *SMTPMailer) SendVerificationEmail(ctx context.Context, to, username, token string) error {
	link := fmt.Sprintf("%s/api/auth/confirmed_email/%s", strings.TrimSuffix(m.baseURL, "/"), token)

	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", m.from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: Confirm your email\r\n")
	fmt.Fprintf(&b, "MIME-Version: 1.0\r\nContent-Type: text/html; charset=utf-8\r\n\r\n")
	fmt.Fprintf(&b, "<p>Hi %s,</p><p>Please confirm your email address by following "+
		"<a href=%q>this link</a>. The link is valid for seven days.</p>", username, link)

	return m.send(ctx, to, []byte(b.String()))
}

// send dials with a deadline derived from ctx so a stuck mail server cannot
// hang the caller. net/smtp has no context support of its own.
func (m *SMTPMailer) send(ctx context.Context, to string, msg []byte) error {
	addr := net.JoinHostPort(m.host, fmt.Sprintf("%d", m.port))

	d := net.Dialer{Timeout: m.timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dialing smtp server: %w", err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	} else {
		conn.SetDeadline(time.Now().Add(m.timeout))
	}

	c, err := smtp.NewClient(conn, m.host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("smtp handshake: %w", err)
	}
	defer c.Close()

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: m.host}); err != nil {
			return fmt.Errorf("starttls: %w", err)
		}
	}
	if m.username != "" {
		auth := smtp.PlainAuth("", m.username, m.password, m.host)
		if err := c.Auth(auth); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}

	if err := c.Mail(m.from); err != nil {
		return fmt.Errorf("smtp mail: %w", err)
	}
	if err := c.Rcpt(to); err != nil {
		return fmt.Errorf("smtp rcpt: %w", err)
	}
	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("smtp data: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		w.Close()
		return fmt.Errorf("writing message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("closing message: %w", err)
	}
	return c.Quit()
}

// Noop discards mail. Used when SMTP is not configured and in tests.
type Noop struct{}

func (Noop) SendVerificationEmail(ctx context.Context, to, username, token string) error {
	return nil
}
