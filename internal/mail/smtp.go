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

// AuthError reports a failed SMTP authentication. It is retried like a
// connectivity error, but the message tells operators to check credentials
// rather than the network.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("smtp authentication failed (check your app password): %v", e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// ConnectError reports a failure to reach or keep a connection to the SMTP
// server.
type ConnectError struct {
	Err error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("smtp connection failed: %v", e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// ProtocolError reports an SMTP-level failure after a session was
// established and authenticated.
type ProtocolError struct {
	Err error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("smtp protocol error: %v", e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// SMTPTransport delivers messages over SMTP with STARTTLS. A fresh session is
// opened and closed for every Send call.
type SMTPTransport struct {
	Host     string
	Port     int
	Username string
	Password string
	UseTLS   bool
	Timeout  time.Duration
}

// Send opens a session, authenticates, and submits the message.
func (t *SMTPTransport) Send(ctx context.Context, msg Message) error {
	addr := fmt.Sprintf("%s:%d", t.Host, t.Port)
	dialer := net.Dialer{Timeout: t.Timeout}

	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return &ConnectError{Err: err}
	}

	client, err := smtp.NewClient(conn, t.Host)
	if err != nil {
		conn.Close()
		return &ConnectError{Err: err}
	}
	defer client.Close()

	if t.UseTLS {
		if err := client.StartTLS(&tls.Config{ServerName: t.Host}); err != nil {
			return &ConnectError{Err: fmt.Errorf("starttls: %w", err)}
		}
	}

	auth := smtp.PlainAuth("", t.Username, t.Password, t.Host)
	if err := client.Auth(auth); err != nil {
		return &AuthError{Err: err}
	}

	if err := client.Mail(msg.From); err != nil {
		return &ProtocolError{Err: fmt.Errorf("mail from: %w", err)}
	}
	if err := client.Rcpt(msg.To); err != nil {
		return &ProtocolError{Err: fmt.Errorf("rcpt to: %w", err)}
	}
	w, err := client.Data()
	if err != nil {
		return &ProtocolError{Err: fmt.Errorf("data: %w", err)}
	}
	if _, err := w.Write([]byte(formatMessage(msg))); err != nil {
		w.Close()
		return &ProtocolError{Err: fmt.Errorf("write body: %w", err)}
	}
	if err := w.Close(); err != nil {
		return &ProtocolError{Err: fmt.Errorf("close data: %w", err)}
	}
	if err := client.Quit(); err != nil {
		return &ProtocolError{Err: fmt.Errorf("quit: %w", err)}
	}
	return nil
}

// formatMessage renders the RFC 5322 wire form of a plain-text message.
func formatMessage(msg Message) string {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", msg.From)
	fmt.Fprintf(&b, "To: %s\r\n", msg.To)
	fmt.Fprintf(&b, "Subject: %s\r\n", msg.Subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=\"utf-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(msg.Body)
	return b.String()
}
