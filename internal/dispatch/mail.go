package dispatch

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	gomail "github.com/wneessen/go-mail"
)

type MailConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// MailWorker consumes dispatched email jobs and delivers them over SMTP.
type MailWorker struct {
	cfg    MailConfig
	conn   *nats.Conn
	logger zerolog.Logger
	sub    *nats.Subscription
}

func NewMailWorker(natsURL string, cfg MailConfig, logger zerolog.Logger) (*MailWorker, error) {
	if cfg.Host == "" || cfg.Username == "" {
		return nil, fmt.Errorf("SMTP not configured (SMTP_HOST / SMTP_USERNAME missing)")
	}
	nc, err := nats.Connect(natsURL)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return &MailWorker{cfg: cfg, conn: nc, logger: logger}, nil
}

// Start subscribes to email jobs. Delivery failures are logged, never
// surfaced back to the run that enqueued the job.
func (slf *MailWorker) Start() error {
	sub, err := slf.conn.Subscribe(subjectPrefix+"email", func(msg *nats.Msg) {
		var job EmailJob
		if err := json.Unmarshal(msg.Data, &job); err != nil {
			slf.logger.Error().Err(err).Msg("Bad email job payload")
			return
		}
		if err := slf.send(job); err != nil {
			slf.logger.Error().Err(err).Strs("to", job.To).Msg("Failed to send email")
			return
		}
		slf.logger.Info().Strs("to", job.To).Str("subject", job.Subject).Msg("Email sent")
	})
	if err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}
	slf.sub = sub
	return nil
}

func (slf *MailWorker) send(job EmailJob) error {
	if len(job.To) == 0 {
		return fmt.Errorf("no recipients specified")
	}

	from := slf.cfg.From
	if from == "" {
		from = slf.cfg.Username
	}

	m := gomail.NewMsg()
	if err := m.From(from); err != nil {
		return fmt.Errorf("failed to set from: %w", err)
	}
	if err := m.To(job.To...); err != nil {
		return fmt.Errorf("failed to set to: %w", err)
	}
	if len(job.CC) > 0 {
		if err := m.Cc(job.CC...); err != nil {
			return fmt.Errorf("failed to set cc: %w", err)
		}
	}
	m.Subject(job.Subject)
	if job.IsHTML {
		m.SetBodyString(gomail.TypeTextHTML, job.Body)
	} else {
		m.SetBodyString(gomail.TypeTextPlain, job.Body)
	}

	client, err := gomail.NewClient(slf.cfg.Host,
		gomail.WithPort(slf.cfg.Port),
		gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
		gomail.WithUsername(slf.cfg.Username),
		gomail.WithPassword(slf.cfg.Password),
	)
	if err != nil {
		return fmt.Errorf("failed to create mail client: %w", err)
	}

	return client.DialAndSendWithContext(context.Background(), m)
}

// Close drains the worker's NATS connection.
func (slf *MailWorker) Close() {
	if slf.sub != nil {
		_ = slf.sub.Unsubscribe()
	}
	if err := slf.conn.Drain(); err != nil {
		slf.logger.Warn().Err(err).Msg("Failed to drain NATS connection")
	}
}
