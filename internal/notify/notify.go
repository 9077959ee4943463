// Package notify alerts an operator when a run fails for good.
package notify

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/lox/weatherlanding/internal/metrics"
)

const (
	BackendLog = "log"
	BackendSNS = "sns"
	BackendSES = "ses"
)

type Notifier interface {
	Notify(ctx context.Context, subject, message string) error
}

type Options struct {
	Backend  string
	Region   string
	TopicARN string
	From     string
	To       []string
}

// Open builds the notifier named by opts.Backend.
func Open(ctx context.Context, opts Options, log *zap.Logger) (Notifier, error) {
	switch opts.Backend {
	case BackendLog, "":
		return NewLogNotifier(log), nil
	case BackendSNS:
		if opts.TopicARN == "" {
			return nil, errors.New("sns: topic arn is required")
		}
		cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(opts.Region))
		if err != nil {
			return nil, errors.Wrap(err, "load aws config")
		}
		return NewSNSNotifier(newSNSClient(cfg), opts.TopicARN), nil
	case BackendSES:
		if opts.From == "" || len(opts.To) == 0 {
			return nil, errors.New("ses: from and to addresses are required")
		}
		cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(opts.Region))
		if err != nil {
			return nil, errors.Wrap(err, "load aws config")
		}
		return NewSESNotifier(newSESClient(cfg), opts.From, opts.To), nil
	default:
		return nil, errors.Newf("unknown notify backend %q", opts.Backend)
	}
}

// LogNotifier only logs. It is the default when no channel is configured.
type LogNotifier struct {
	log *zap.Logger
}

func NewLogNotifier(log *zap.Logger) *LogNotifier {
	return &LogNotifier{log: log.Named("notify")}
}

func (n *LogNotifier) Notify(ctx context.Context, subject, message string) error {
	n.log.Error(subject, zap.String("message", message))
	metrics.Notifications.WithLabelValues(BackendLog, "sent").Inc()
	return nil
}

func record(backend string, err error) error {
	status := "sent"
	if err != nil {
		status = "error"
	}
	metrics.Notifications.WithLabelValues(backend, status).Inc()
	return err
}
