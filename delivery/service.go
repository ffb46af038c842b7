package delivery

import (
	"time"

	"food-delivery/dispatch/store"
)

// Notifier delivers events to live client connections. Best-effort; callers
// never see delivery failures.
type Notifier interface {
	SendToAgent(agentID, event string, payload interface{})
	SendToCustomer(userID, event string, payload interface{})
}

// EventLog appends dispatch events to the audit stream.
type EventLog interface {
	Log(event string, fields map[string]interface{})
}

// OTPSender delivers a delivery confirmation code to a customer.
type OTPSender interface {
	SendCode(recipient, code string) error
}

// RetryQueue schedules a starved broadcast for another attempt.
type RetryQueue interface {
	Publish(orderID, shopOrderID string) error
}

type Config struct {
	BroadcastRadiusMeters float64
	DeliveryFee           float64
	OTPTTL                time.Duration
}

func (c Config) withDefaults() Config {
	if c.BroadcastRadiusMeters == 0 {
		c.BroadcastRadiusMeters = 5000
	}
	if c.DeliveryFee == 0 {
		c.DeliveryFee = 50
	}
	if c.OTPTTL == 0 {
		c.OTPTTL = 5 * time.Minute
	}
	return c
}

// Service is the dispatch core: order placement, the shop-order status state
// machine, assignment broadcasting, acceptance arbitration and OTP-gated
// completion.
type Service struct {
	store    store.Store
	notifier Notifier
	events   EventLog
	otp      OTPSender
	retry    RetryQueue
	cfg      Config

	now func() time.Time
}

func NewService(st store.Store, notifier Notifier, events EventLog, otp OTPSender, retry RetryQueue, cfg Config) *Service {
	return &Service{
		store:    st,
		notifier: notifier,
		events:   events,
		otp:      otp,
		retry:    retry,
		cfg:      cfg.withDefaults(),
		now:      time.Now,
	}
}

func (s *Service) logEvent(event string, fields map[string]interface{}) {
	if s.events != nil {
		s.events.Log(event, fields)
	}
}

func (s *Service) sendToAgent(agentID, event string, payload interface{}) {
	if s.notifier != nil {
		s.notifier.SendToAgent(agentID, event, payload)
	}
}

func (s *Service) sendToCustomer(userID, event string, payload interface{}) {
	if s.notifier != nil {
		s.notifier.SendToCustomer(userID, event, payload)
	}
}
