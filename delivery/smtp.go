package delivery

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"
	"mime"
	"net"
	"net/mail"
	"net/smtp"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/samber/oops"

	"github.com/avilainc/arkana"
)

//go:embed templates/*.html
var templatesFS embed.FS

var templates = template.Must(template.ParseFS(templatesFS, "templates/*.html"))

// SMTPConfig configures [SMTPSender]. The env tags match the service
// environment (ARKANA_SMTP_*).
type SMTPConfig struct {
	Host        string        `env:"HOST" koanf:"host"`
	Port        int           `env:"PORT" koanf:"port"`
	Username    string        `env:"USERNAME" koanf:"username"`
	Password    string        `env:"PASSWORD" koanf:"password"`
	From        string        `env:"FROM" koanf:"from"`
	AppName     string        `env:"APP_NAME" koanf:"app_name"`
	VerifyURL   string        `env:"VERIFY_URL" koanf:"verify_url"`
	ResetURL    string        `env:"RESET_URL" koanf:"reset_url"`
	VerifyTTL   time.Duration `env:"VERIFY_TTL" koanf:"verify_ttl"`
	ResetTTL    time.Duration `env:"RESET_TTL" koanf:"reset_ttl"`
	SendTimeout time.Duration `env:"SEND_TIMEOUT" koanf:"send_timeout"`
}

// DefaultSMTPConfig mirrors the public deployment.
func DefaultSMTPConfig() SMTPConfig {
	return SMTPConfig{
		Port:        587,
		AppName:     "Ávila Auth Service",
		VerifyURL:   "https://arkana.avila.inc/verify",
		ResetURL:    "https://arkana.avila.inc/reset-password",
		VerifyTTL:   24 * time.Hour,
		ResetTTL:    time.Hour,
		SendTimeout: 10 * time.Second,
	}
}

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTPSender sends verification and reset links as HTML mail. smtp.SendMail
// upgrades to STARTTLS when the server offers it.
type SMTPSender struct {
	cfg  SMTPConfig
	from mail.Address
	auth smtp.Auth
	send sendFunc
}

var _ arkana.Delivery = (*SMTPSender)(nil)

// NewSMTPSender validates cfg.
func NewSMTPSender(cfg SMTPConfig) (*SMTPSender, error) {
	if strings.TrimSpace(cfg.Host) == "" {
		return nil, oops.Code("SMTP_CONFIG").Errorf("smtp host required")
	}
	if cfg.Port <= 0 {
		return nil, oops.Code("SMTP_CONFIG").With("port", cfg.Port).Errorf("smtp port must be > 0")
	}
	from, err := mail.ParseAddress(cfg.From)
	if err != nil {
		return nil, oops.Code("SMTP_CONFIG").With("from", cfg.From).Wrap(err)
	}
	for _, raw := range []string{cfg.VerifyURL, cfg.ResetURL} {
		if _, err := url.ParseRequestURI(raw); err != nil {
			return nil, oops.Code("SMTP_CONFIG").With("url", raw).Wrap(err)
		}
	}
	if from.Name == "" {
		from.Name = cfg.AppName
	}

	s := &SMTPSender{cfg: cfg, from: *from, send: smtp.SendMail}
	if cfg.Username != "" {
		s.auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}
	return s, nil
}

func (s *SMTPSender) SendVerificationLink(ctx context.Context, to arkana.Identity, token string) error {
	return s.deliver(ctx, to, "verify.html", "Verify your email - "+s.cfg.AppName, s.cfg.VerifyURL, token, s.cfg.VerifyTTL)
}

func (s *SMTPSender) SendResetLink(ctx context.Context, to arkana.Identity, token string) error {
	return s.deliver(ctx, to, "reset.html", "Reset your password - "+s.cfg.AppName, s.cfg.ResetURL, token, s.cfg.ResetTTL)
}

type mailData struct {
	Name    string
	AppName string
	Link    string
	Expires string
}

func (s *SMTPSender) deliver(ctx context.Context, to arkana.Identity, tmpl, subject, base, token string, ttl time.Duration) error {
	link, err := withToken(base, token)
	if err != nil {
		return oops.Code("SMTP_LINK").With("template", tmpl).Wrap(err)
	}

	var body bytes.Buffer
	if err := templates.ExecuteTemplate(&body, tmpl, mailData{
		Name:    to.FullName,
		AppName: s.cfg.AppName,
		Link:    link,
		Expires: humanDuration(ttl),
	}); err != nil {
		return oops.Code("SMTP_TEMPLATE").With("template", tmpl).Wrap(err)
	}

	rcpt := mail.Address{Name: to.FullName, Address: to.Email}
	msg := buildMessage(s.from, rcpt, subject, body.Bytes())
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.send(addr, s.auth, s.from.Address, []string{rcpt.Address}, msg)
	}()

	timeout := s.cfg.SendTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-errCh:
		if err != nil {
			return oops.Code("SMTP_SEND_FAILED").With("template", tmpl).With("addr", addr).Wrap(err)
		}
		return nil
	case <-timer.C:
		return oops.Code("SMTP_SEND_TIMEOUT").With("template", tmpl).With("addr", addr).Errorf("smtp send exceeded %s", timeout)
	case <-ctx.Done():
		return oops.Code("SMTP_SEND_CANCELLED").With("template", tmpl).Wrap(ctx.Err())
	}
}

func buildMessage(from, to mail.Address, subject string, html []byte) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "From: %s\r\n", from.String())
	fmt.Fprintf(&b, "To: %s\r\n", to.String())
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", subject))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=\"UTF-8\"\r\n")
	b.WriteString("\r\n")
	b.Write(html)
	return b.Bytes()
}

func withToken(base, token string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func humanDuration(d time.Duration) string {
	switch {
	case d <= 0:
		return "a short while"
	case d%(24*time.Hour) == 0:
		return plural(int(d/(24*time.Hour)), "day")
	case d%time.Hour == 0:
		return plural(int(d/time.Hour), "hour")
	default:
		return plural(int(d.Round(time.Minute)/time.Minute), "minute")
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return strconv.Itoa(n) + " " + unit + "s"
}
