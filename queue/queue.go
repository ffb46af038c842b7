package queue

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/streadway/amqp"
)

// RetryMessage identifies a shop-order whose broadcast found no agents and
// should be attempted again.
type RetryMessage struct {
	OrderID     string `json:"order_id"`
	ShopOrderID string `json:"shop_order_id"`
}

// Dial connects to RabbitMQ with retries.
func Dial(url string) (*amqp.Connection, error) {
	var conn *amqp.Connection
	var err error
	for i := 0; i < 5; i++ {
		log.Printf("Attempting to connect to RabbitMQ (attempt %d/5)...", i+1)
		conn, err = amqp.Dial(url)
		if err == nil {
			return conn, nil
		}
		if i < 4 {
			log.Printf("Failed to connect to RabbitMQ: %v. Retrying in 5 seconds...", err)
			time.Sleep(5 * time.Second)
		}
	}
	return nil, fmt.Errorf("failed to connect to RabbitMQ after 5 attempts: %v", err)
}

// Redispatch is the starved-broadcast retry queue.
type Redispatch struct {
	conn  *amqp.Connection
	name  string
	delay time.Duration
}

func NewRedispatch(conn *amqp.Connection, name string, delay time.Duration) *Redispatch {
	return &Redispatch{conn: conn, name: name, delay: delay}
}

func (q *Redispatch) Publish(orderID, shopOrderID string) error {
	ch, err := q.conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	if _, err := ch.QueueDeclare(q.name, true, false, false, false, nil); err != nil {
		return err
	}
	body, err := json.Marshal(RetryMessage{OrderID: orderID, ShopOrderID: shopOrderID})
	if err != nil {
		return err
	}
	return ch.Publish("", q.name, false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
	})
}

// Consume delivers retry messages to fn, waiting the configured delay before
// each attempt so a starved shop-order is not rebroadcast in a tight loop.
// Blocks until the channel closes.
func (q *Redispatch) Consume(fn func(msg RetryMessage)) error {
	ch, err := q.conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	if _, err := ch.QueueDeclare(q.name, true, false, false, false, nil); err != nil {
		return err
	}
	msgs, err := ch.Consume(q.name, "", true, false, false, false, nil)
	if err != nil {
		return err
	}
	for msg := range msgs {
		var m RetryMessage
		if err := json.Unmarshal(msg.Body, &m); err != nil {
			log.Printf("queue: bad retry message: %v", err)
			continue
		}
		time.Sleep(q.delay)
		fn(m)
	}
	return nil
}
