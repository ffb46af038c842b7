package notify

import "log"

// Event names on the wire. Existing clients depend on the exact strings.
const (
	EventNewAssignment    = "newAssignment"
	EventAssignmentTaken  = "assignmentTaken"
	EventUpdateStatus     = "update-status"
	EventNewOrder         = "newOrder"
	EventDeliveryLocation = "updateDeliveryLocation"
)

// Message is the websocket envelope.
type Message struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

// Gateway delivers events to live connections. Delivery is best-effort and
// fire-and-forget: a missing connection is a silent skip, a write error is
// logged and never surfaced to the caller.
type Gateway struct {
	registry *Registry
}

func NewGateway(registry *Registry) *Gateway {
	return &Gateway{registry: registry}
}

func (g *Gateway) SendToAgent(agentID, event string, payload interface{}) {
	g.send(agentID, event, payload)
}

func (g *Gateway) SendToCustomer(userID, event string, payload interface{}) {
	g.send(userID, event, payload)
}

func (g *Gateway) send(userID, event string, payload interface{}) {
	conn, ok := g.registry.Lookup(userID)
	if !ok {
		return
	}
	if err := conn.WriteJSON(Message{Event: event, Data: payload}); err != nil {
		log.Printf("notify: send %s to %s: %v", event, userID, err)
	}
}

// Broadcast sends the event to every live connection. Used for agent location
// fan-out to tracking screens.
func (g *Gateway) Broadcast(event string, payload interface{}) {
	for _, conn := range g.registry.all() {
		if err := conn.WriteJSON(Message{Event: event, Data: payload}); err != nil {
			log.Printf("notify: broadcast %s: %v", event, err)
		}
	}
}
