package bridge

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/Tyrowin/chatify/internal/logging"
	"github.com/Tyrowin/chatify/internal/store"
)

// ConnectNATS dials the NATS servers at url, reconnecting forever.
func ConnectNATS(url, name string, log *zap.Logger) (*nats.Conn, error) {
	log = logging.OrNop(log).Named("nats")
	opts := []nats.Option{
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(500 * time.Millisecond),
		nats.ReconnectJitter(100*time.Millisecond, 500*time.Millisecond),
		nats.Timeout(3 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("Disconnected from NATS", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("Reconnected to NATS", zap.String("url", nc.ConnectedUrl()))
		}),
	}
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "nats: connect")
	}
	return nc, nil
}

// NATSPublisher publishes persisted messages on a subject for a
// NATSSubscriber to hand to the router.
type NATSPublisher struct {
	nc      *nats.Conn
	subject string
	log     *zap.Logger
}

// NewNATSPublisher creates a publishing bridge.
func NewNATSPublisher(nc *nats.Conn, subject string, log *zap.Logger) *NATSPublisher {
	return &NATSPublisher{nc: nc, subject: subject, log: logging.OrNop(log).Named("bridge")}
}

// Deliver implements Bridge. Publish failures are logged only.
func (p *NATSPublisher) Deliver(_ context.Context, msg store.Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		p.log.Warn("Failed to encode persisted message", zap.String("message_id", msg.ID), zap.Error(err))
		return
	}
	if err := p.nc.Publish(p.subject, data); err != nil {
		p.log.Warn("Failed to publish persisted message",
			zap.String("subject", p.subject), zap.String("message_id", msg.ID), zap.Error(err))
	}
}

// NATSSubscriber feeds messages published by a NATSPublisher to the router.
type NATSSubscriber struct {
	router Deliverer
	sub    *nats.Subscription
	log    *zap.Logger
}

// SubscribeNATS starts consuming subject.
func SubscribeNATS(nc *nats.Conn, subject string, router Deliverer, log *zap.Logger) (*NATSSubscriber, error) {
	s := &NATSSubscriber{router: router, log: logging.OrNop(log).Named("bridge")}
	sub, err := nc.Subscribe(subject, s.handle)
	if err != nil {
		return nil, errors.Wrapf(err, "nats: subscribe %s", subject)
	}
	s.sub = sub
	return s, nil
}

func (s *NATSSubscriber) handle(m *nats.Msg) {
	var msg store.Message
	if err := json.Unmarshal(m.Data, &msg); err != nil {
		s.log.Warn("Dropping undecodable persisted message", zap.String("subject", m.Subject), zap.Error(err))
		return
	}
	s.router.DeliverPersistedMessage(msg)
}

// Close stops consuming.
func (s *NATSSubscriber) Close() error {
	if s.sub == nil {
		return nil
	}
	return errors.Wrap(s.sub.Unsubscribe(), "nats: unsubscribe")
}
