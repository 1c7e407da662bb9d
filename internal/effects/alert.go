package effects

import (
	"context"
	"fmt"
	"io"
	"log"
	"slices"
	"time"

	shoutrrr "github.com/nicholas-fedor/shoutrrr"
	router "github.com/nicholas-fedor/shoutrrr/pkg/router"
	stypes "github.com/nicholas-fedor/shoutrrr/pkg/types"
	"golang.org/x/time/rate"

	"github.com/tphakala/idconsensus/internal/errors"
	"github.com/tphakala/idconsensus/internal/logger"
)

const (
	defaultAlertTimeout = 10 * time.Second
	alertInterval       = time.Minute
	alertBurst          = 5
)

// notifier is the part of router.ServiceRouter the alerter uses.
type notifier interface {
	Send(message string, params *stypes.Params) []error
}

// ShoutrrrAlerter posts dead-lettered effects to shoutrrr service URLs.
// Alerts beyond a burst of five per minute are dropped and logged.
type ShoutrrrAlerter struct {
	sender  notifier
	limiter *rate.Limiter
	log     logger.Logger
}

// NewShoutrrrAlerter validates urls and builds the sender.
func NewShoutrrrAlerter(urls []string, log logger.Logger) (*ShoutrrrAlerter, error) {
	if len(urls) == 0 {
		return nil, errors.Newf("at least one alert URL is required").
			Component("effects").
			Category(errors.CategoryConfiguration).
			Build()
	}
	sender, err := shoutrrr.CreateSender(slices.Clone(urls)...)
	if err != nil {
		return nil, errors.New(fmt.Errorf("invalid alert URL: %s", logger.RedactSensitiveData(err.Error()))).
			Component("effects").
			Category(errors.CategoryConfiguration).
			Build()
	}
	configureSender(sender)
	return newShoutrrrAlerter(sender, log), nil
}

func configureSender(sender *router.ServiceRouter) {
	sender.Timeout = defaultAlertTimeout
	sender.SetLogger(log.New(io.Discard, "", 0))
}

func newShoutrrrAlerter(sender notifier, log logger.Logger) *ShoutrrrAlerter {
	if log == nil {
		log = logger.NewDiscardLogger()
	}
	return &ShoutrrrAlerter{
		sender:  sender,
		limiter: rate.NewLimiter(rate.Every(alertInterval/alertBurst), alertBurst),
		log:     log.Module("effects").Module("alert"),
	}
}

func (a *ShoutrrrAlerter) Alert(ctx context.Context, env Envelope, cause error) error {
	if !a.limiter.Allow() {
		a.log.WithContext(ctx).Warn("dead-letter alert suppressed by rate limit",
			logger.String("message_id", env.MessageID))
		return nil
	}

	params := stypes.Params{}
	params.SetTitle(fmt.Sprintf("idconsensus: %s effect failed", env.Kind))
	body := fmt.Sprintf("Effect %s (%s) for observation %d failed after %d attempts: %s",
		env.MessageID, env.Key, env.ObservationID, env.Attempt, logger.RedactSensitiveData(cause.Error()))

	for _, err := range a.sender.Send(body, &params) {
		if err != nil {
			return errors.New(err).
				Component("effects").
				Category(errors.CategoryNetwork).
				Context("message_id", env.MessageID).
				Build()
		}
	}
	return nil
}
