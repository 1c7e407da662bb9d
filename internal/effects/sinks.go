package effects

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/tphakala/idconsensus/internal/errors"
	"github.com/tphakala/idconsensus/internal/logger"
)

// FanOut delivers to every sink in order. An envelope counts as delivered
// only when all sinks accept it, so a retry may reach a sink twice.
type FanOut struct {
	sinks []Sink
}

// NewFanOut combines sinks. Nil sinks are skipped.
func NewFanOut(sinks ...Sink) *FanOut {
	f := &FanOut{}
	for _, s := range sinks {
		if s != nil {
			f.sinks = append(f.sinks, s)
		}
	}
	return f
}

func (f *FanOut) Name() string {
	names := make([]string, len(f.sinks))
	for i, s := range f.sinks {
		names[i] = s.Name()
	}
	return "fanout(" + strings.Join(names, ",") + ")"
}

// Len returns the number of sinks.
func (f *FanOut) Len() int { return len(f.sinks) }

func (f *FanOut) Deliver(ctx context.Context, env Envelope) error {
	var errs []error
	for _, s := range f.sinks {
		if err := s.Deliver(ctx, env); err != nil {
			errs = append(errs, errors.New(err).
				Component("effects").
				Category(errors.CategoryDispatch).
				Context("sink", s.Name()).
				Build())
		}
	}
	return errors.Join(errs...)
}

// LogSink writes envelopes to the log. It is the sink of last resort when
// no broker is configured.
type LogSink struct {
	log logger.Logger
}

func NewLogSink(log logger.Logger) *LogSink {
	if log == nil {
		log = logger.NewDiscardLogger()
	}
	return &LogSink{log: log.Module("effects").Module("log_sink")}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Deliver(ctx context.Context, env Envelope) error {
	s.log.WithContext(ctx).Info("effect",
		logger.String("message_id", env.MessageID),
		logger.String("kind", string(env.Kind)),
		logger.String("key", env.Key),
		logger.String("payload", string(env.Payload)))
	return nil
}

func marshalEnvelope(env Envelope) ([]byte, error) {
	data, err := json.Marshal(env)
	if err != nil {
		return nil, errors.New(err).
			Component("effects").
			Category(errors.CategoryValidation).
			Context("message_id", env.MessageID).
			Build()
	}
	return data, nil
}
