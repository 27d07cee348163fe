package machineupdate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	logx "socialsim/pkg/logx"
)

var ErrUnknownDriver = errors.New("unknown queue driver")

// Submitter accepts machine updates. Create must be safe for concurrent use.
type Submitter interface {
	Create(ctx context.Context, u MachineUpdate) error
	Close() error
}

// Config selects and configures a submitter.
type Config struct {
	Driver  string // log (default), nats, kafka
	URL     string
	Subject string
	Brokers []string
	Topic   string
	Timeout time.Duration
}

const (
	DefaultSubject = "socialsim.machine_updates"
	DefaultTopic   = "machine-updates"
)

// New opens the configured submitter.
func New(cfg Config, log logx.Logger) (Submitter, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	log = log.Component("queue").With(logx.String("driver", driver))
	switch driver {
	case "", "log":
		return NewLogSubmitter(log), nil
	case "nats":
		return NewNATS(cfg, log)
	case "kafka":
		return NewKafka(cfg, log)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownDriver, driver)
	}
}

// LogSubmitter records updates in the log only. It is the default when no
// broker is configured.
type LogSubmitter struct {
	log logx.Logger
}

func NewLogSubmitter(log logx.Logger) *LogSubmitter { return &LogSubmitter{log: log} }

func (s *LogSubmitter) Create(ctx context.Context, u MachineUpdate) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.log.Info("machine update",
		logx.String("machine", u.MachineID),
		logx.String("username", u.Username),
		logx.String("type", u.Type),
		logx.Int("bytes", len(u.Update)),
	)
	return nil
}

func (s *LogSubmitter) Close() error { return nil }
