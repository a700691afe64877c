package mail

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"
	"go.uber.org/zap"

	"github.com/noah-isme/discipline-portal-api/pkg/config"
)

const (
	sendGridHost     = "https://api.sendgrid.com"
	sendGridEndpoint = "/v3/mail/send"
)

// Message is a plain notification email.
type Message struct {
	To      []string
	Subject string
	Text    string
	HTML    string
}

// Sender delivers messages.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// New picks the SendGrid sender when an API key is configured and the log sender otherwise.
func New(cfg config.MailConfig, logger *zap.Logger) Sender {
	if strings.TrimSpace(cfg.SendGridAPIKey) == "" {
		return NewLogSender(logger)
	}
	return NewSendGridSender(cfg, logger)
}

// SendGridSender posts messages to the SendGrid v3 API.
type SendGridSender struct {
	key        string
	from       *sgmail.Email
	subjPrefix string
	logger     *zap.Logger
	api        func(req requestBody) (int, string, error)
}

type requestBody struct {
	key  string
	body []byte
}

// NewSendGridSender builds a sender from mail configuration.
func NewSendGridSender(cfg config.MailConfig, logger *zap.Logger) *SendGridSender {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &SendGridSender{
		key:        cfg.SendGridAPIKey,
		from:       sgmail.NewEmail(cfg.FromName, cfg.FromEmail),
		subjPrefix: "[" + cfg.FromName + "] ",
		logger:     logger,
	}
	s.api = s.post
	return s
}

// Send renders and delivers msg. Messages without recipients are skipped.
func (s *SendGridSender) Send(ctx context.Context, msg Message) error {
	if len(msg.To) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	status, body, err := s.api(requestBody{key: s.key, body: sgmail.GetRequestBody(s.prepare(msg))})
	if err != nil {
		return fmt.Errorf("send mail: %w", err)
	}
	if status >= http.StatusBadRequest {
		return fmt.Errorf("send mail: sendgrid status %d: %s", status, body)
	}
	s.logger.Debug("mail sent", zap.Strings("to", msg.To), zap.String("subject", msg.Subject))
	return nil
}

func (s *SendGridSender) prepare(msg Message) *sgmail.SGMailV3 {
	p := sgmail.NewPersonalization()
	p.Subject = s.subjPrefix + msg.Subject
	for _, to := range msg.To {
		p.AddTos(sgmail.NewEmail("", to))
	}

	m := sgmail.NewV3Mail()
	m.SetFrom(s.from)
	m.AddPersonalizations(p)
	m.AddContent(sgmail.NewContent("text/plain", msg.Text))
	if msg.HTML != "" {
		m.AddContent(sgmail.NewContent("text/html", msg.HTML))
	}
	return m
}

func (s *SendGridSender) post(rb requestBody) (int, string, error) {
	req := sendgrid.GetRequest(rb.key, sendGridEndpoint, sendGridHost)
	req.Method = http.MethodPost
	req.Body = rb.body

	res, err := sendgrid.API(req)
	if err != nil {
		return 0, "", err
	}
	return res.StatusCode, res.Body, nil
}

// LogSender writes messages to the logger instead of delivering them.
type LogSender struct {
	logger *zap.Logger
}

// NewLogSender builds the development sender.
func NewLogSender(logger *zap.Logger) *LogSender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSender{logger: logger}
}

// Send logs the message.
func (s *LogSender) Send(_ context.Context, msg Message) error {
	s.logger.Info("mail not delivered, no sendgrid key configured",
		zap.Strings("to", msg.To),
		zap.String("subject", msg.Subject),
		zap.String("body", msg.Text),
	)
	return nil
}
