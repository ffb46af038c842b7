package events

import (
	"encoding/json"
	"log"
	"time"

	"github.com/Shopify/sarama"
)

// Dispatch event names written to the log topic.
const (
	OrderPlaced           = "order_placed"
	StatusUpdated         = "status_updated"
	AssignmentBroadcasted = "assignment_broadcasted"
	DispatchStarved       = "dispatch_starved"
	AssignmentAccepted    = "assignment_accepted"
	OrderDelivered        = "order_delivered"
	OTPIssued             = "otp_issued"
)

// Logger appends dispatch events to a Kafka topic. Logging is best-effort:
// a produce failure is logged locally and never fails the operation that
// emitted the event.
type Logger struct {
	producer sarama.SyncProducer
	topic    string
}

func NewLogger(brokers []string, topic string) (*Logger, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, err
	}
	return &Logger{producer: producer, topic: topic}, nil
}

func (l *Logger) Log(event string, fields map[string]interface{}) {
	if fields == nil {
		fields = make(map[string]interface{})
	}
	fields["event"] = event
	fields["timestamp"] = time.Now().Unix()

	data, err := json.Marshal(fields)
	if err != nil {
		log.Printf("events: marshal %s: %v", event, err)
		return
	}
	if _, _, err := l.producer.SendMessage(&sarama.ProducerMessage{
		Topic: l.topic,
		Value: sarama.StringEncoder(data),
	}); err != nil {
		log.Printf("events: send %s: %v", event, err)
	}
}

func (l *Logger) Close() error {
	return l.producer.Close()
}
