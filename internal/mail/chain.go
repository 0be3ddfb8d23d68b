package mail

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

var (
	// mailSends counts delivery attempts per transport and outcome.
	mailSends = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mail_transport_sends_total",
			Help: "Outbound mail attempts by transport and result.",
		},
		[]string{"transport", "result"},
	)

	// mailFallbacks counts messages that degraded past the primary transport.
	mailFallbacks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "mail_fallback_total",
			Help: "Messages delivered by a non-primary transport.",
		},
	)
)

func init() {
	prometheus.MustRegister(mailSends, mailFallbacks)
}

// Chain tries each transport in order and stops at the first success.
type Chain struct {
	transports []Transport
}

func NewChain(transports ...Transport) *Chain {
	return &Chain{transports: transports}
}

// Send delivers msg through the first transport that accepts it and returns
// that transport's name. When every transport fails, the joined errors come
// back so the caller can record each cause.
func (c *Chain) Send(ctx context.Context, msg *Message) (string, error) {
	log := zerolog.Ctx(ctx)

	var errs []error
	for i, t := range c.transports {
		err := t.Send(ctx, msg)
		if err == nil {
			mailSends.WithLabelValues(t.Name(), "ok").Inc()
			if i > 0 {
				mailFallbacks.Inc()
				log.Warn().Str("transport", t.Name()).Str("kind", string(msg.Kind)).
					Msg("message delivered by fallback transport")
			}
			return t.Name(), nil
		}
		mailSends.WithLabelValues(t.Name(), "error").Inc()
		log.Warn().Err(err).Str("transport", t.Name()).Str("kind", string(msg.Kind)).
			Msg("transport failed, trying next")
		errs = append(errs, fmt.Errorf("%s: %w", t.Name(), err))
	}
	if len(errs) == 0 {
		return "", errors.New("no transports configured")
	}
	return "", errors.Join(errs...)
}
