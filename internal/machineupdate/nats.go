package machineupdate

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	logx "socialsim/pkg/logx"

	"github.com/nats-io/nats.go"
)

// NATSSubmitter publishes updates as JSON on one subject. Create waits for
// the server to acknowledge the flush so a returned nil means delivered to
// the broker.
type NATSSubmitter struct {
	nc      *nats.Conn
	subject string
	log     logx.Logger
}

func NewNATS(cfg Config, log logx.Logger) (*NATSSubmitter, error) {
	url := strings.TrimSpace(cfg.URL)
	if url == "" {
		return nil, errors.New("queue.url is required for nats")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	subject := strings.TrimSpace(cfg.Subject)
	if subject == "" {
		subject = DefaultSubject
	}

	nc, err := nats.Connect(url,
		nats.Name("socialsim"),
		nats.Timeout(timeout),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("nats disconnected", logx.Err(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info("nats reconnected", logx.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, err
	}
	log.Info("nats connected", logx.String("url", nc.ConnectedUrl()), logx.String("subject", subject))
	return &NATSSubmitter{nc: nc, subject: subject, log: log}, nil
}

func (s *NATSSubmitter) Create(ctx context.Context, u MachineUpdate) error {
	b, err := json.Marshal(u)
	if err != nil {
		return err
	}
	msg := nats.NewMsg(s.subject)
	msg.Data = b
	if u.MachineID != "" {
		msg.Header.Set("Machine-Id", u.MachineID)
	}
	if err := s.nc.PublishMsg(msg); err != nil {
		return err
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
	}
	return s.nc.FlushWithContext(ctx)
}

func (s *NATSSubmitter) Close() error {
	if s == nil || s.nc == nil {
		return nil
	}
	if err := s.nc.Drain(); err != nil {
		s.nc.Close()
		return err
	}
	return nil
}
