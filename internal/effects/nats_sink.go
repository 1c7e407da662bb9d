package effects

import (
	"context"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/tphakala/idconsensus/internal/conf"
	"github.com/tphakala/idconsensus/internal/errors"
	"github.com/tphakala/idconsensus/internal/logger"
)

const (
	defaultStream        = "IDCONSENSUS_EFFECTS"
	defaultSubjectPrefix = "idconsensus.effects"
	natsConnectTimeout   = 10 * time.Second
)

// JetStreamPublisher is the part of jetstream.JetStream used by NATSSink.
type JetStreamPublisher interface {
	Publish(ctx context.Context, subject string, data []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// NATSSink publishes envelopes to JetStream on <prefix>.<kind>. The message
// id is set to the envelope's MessageID so the stream drops redeliveries
// inside its duplicate window.
type NATSSink struct {
	js     JetStreamPublisher
	prefix string
	conn   *nats.Conn
	log    logger.Logger
}

// NewNATSSink wraps an existing publisher.
func NewNATSSink(js JetStreamPublisher, subjectPrefix string, log logger.Logger) *NATSSink {
	if subjectPrefix == "" {
		subjectPrefix = defaultSubjectPrefix
	}
	if log == nil {
		log = logger.NewDiscardLogger()
	}
	return &NATSSink{js: js, prefix: subjectPrefix, log: log.Module("effects").Module("nats")}
}

// DialNATS connects, ensures the stream exists and returns a sink that owns
// the connection.
func DialNATS(ctx context.Context, settings conf.NATSSettings, log logger.Logger) (*NATSSink, error) {
	nc, err := nats.Connect(settings.URL,
		nats.Name("idconsensus"),
		nats.Timeout(natsConnectTimeout),
		nats.MaxReconnects(-1))
	if err != nil {
		return nil, brokerError(err, "connect", logger.RedactSensitiveData(settings.URL))
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, brokerError(err, "jetstream", settings.Stream)
	}

	stream := settings.Stream
	if stream == "" {
		stream = defaultStream
	}
	prefix := settings.SubjectPrefix
	if prefix == "" {
		prefix = defaultSubjectPrefix
	}
	if _, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:       stream,
		Subjects:   []string{prefix + ".>"},
		Storage:    jetstream.FileStorage,
		Duplicates: 10 * time.Minute,
	}); err != nil {
		nc.Close()
		return nil, brokerError(err, "create_stream", stream)
	}

	sink := NewNATSSink(js, prefix, log)
	sink.conn = nc
	sink.log.Info("connected to NATS",
		logger.String("url", logger.RedactSensitiveData(settings.URL)),
		logger.String("stream", stream))
	return sink, nil
}

func (s *NATSSink) Name() string { return "nats" }

// Subject returns the subject an envelope of kind is published to.
func (s *NATSSink) Subject(kind Kind) string {
	return s.prefix + "." + string(kind)
}

func (s *NATSSink) Deliver(ctx context.Context, env Envelope) error {
	data, err := marshalEnvelope(env)
	if err != nil {
		return err
	}
	if _, err := s.js.Publish(ctx, s.Subject(env.Kind), data, jetstream.WithMsgID(env.MessageID)); err != nil {
		return brokerError(err, "publish", s.Subject(env.Kind))
	}
	return nil
}

// Close drains the connection opened by DialNATS.
func (s *NATSSink) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Drain()
}

func brokerError(err error, op, target string) error {
	return errors.New(err).
		Component("effects").
		Category(errors.CategoryBroker).
		Context("operation", op).
		Context("target", target).
		Build()
}
