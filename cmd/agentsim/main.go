// agentsim simulates delivery agents for manual end-to-end runs: each agent
// connects to the dispatch websocket, streams a random-walk location and
// accepts the first assignment it is offered.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/gorilla/websocket"
)

type wsEnvelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type assignmentOffer struct {
	AssignmentID string `json:"assignmentId"`
	OrderID      string `json:"orderId"`
	ShopName     string `json:"shopName"`
}

func main() {
	server := flag.String("server", "localhost:8080", "dispatch server host:port")
	agents := flag.Int("agents", 3, "number of simulated agents")
	lat := flag.Float64("lat", 41.2995, "base latitude")
	lon := flag.Float64("lon", 69.2401, "base longitude")
	secret := flag.String("secret", "my-secret-key", "jwt secret")
	flag.Parse()

	rand.Seed(time.Now().UnixNano())

	var wg sync.WaitGroup
	for i := 0; i < *agents; i++ {
		agentID := fmt.Sprintf("sim-agent-%d", i+1)
		wg.Add(1)
		go func() {
			defer wg.Done()
			runAgent(*server, agentID, *secret, *lat, *lon)
		}()
	}
	wg.Wait()
}

func runAgent(server, agentID, secret string, baseLat, baseLon float64) {
	token, err := signToken(agentID, secret)
	if err != nil {
		log.Printf("[%s] sign token: %v", agentID, err)
		return
	}

	wsURL := url.URL{
		Scheme:   "ws",
		Host:     server,
		Path:     "/ws",
		RawQuery: url.Values{"token": {token}, "user_id": {agentID}}.Encode(),
	}
	conn, _, err := websocket.DefaultDialer.Dial(wsURL.String(), nil)
	if err != nil {
		log.Printf("[%s] dial: %v", agentID, err)
		return
	}
	defer conn.Close()
	log.Printf("[%s] connected", agentID)

	go listenForOffers(conn, server, agentID, token)

	// Random walk around the base point, roughly a city block per tick.
	lat, lon := baseLat+rand.Float64()*0.02-0.01, baseLon+rand.Float64()*0.02-0.01
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for range ticker.C {
		lat += rand.Float64()*0.002 - 0.001
		lon += rand.Float64()*0.002 - 0.001
		err := conn.WriteJSON(map[string]interface{}{
			"event":     "updateLocation",
			"latitude":  lat,
			"longitude": lon,
		})
		if err != nil {
			log.Printf("[%s] write location: %v", agentID, err)
			return
		}
	}
}

func listenForOffers(conn *websocket.Conn, server, agentID, token string) {
	for {
		var msg wsEnvelope
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		if msg.Event != "newAssignment" {
			continue
		}
		var offer assignmentOffer
		if err := json.Unmarshal(msg.Data, &offer); err != nil {
			continue
		}
		log.Printf("[%s] offered assignment %s from %s", agentID, offer.AssignmentID, offer.ShopName)
		acceptAssignment(server, agentID, token, offer.AssignmentID)
	}
}

func acceptAssignment(server, agentID, token, assignmentID string) {
	req, err := http.NewRequest(http.MethodGet,
		fmt.Sprintf("http://%s/api/order/accept-order/%s", server, assignmentID), nil)
	if err != nil {
		return
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		log.Printf("[%s] accept %s: %v", agentID, assignmentID, err)
		return
	}
	defer resp.Body.Close()
	log.Printf("[%s] accept %s: %s", agentID, assignmentID, resp.Status)
}

func signToken(agentID, secret string) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"userId": agentID,
		"exp":    time.Now().Add(24 * time.Hour).Unix(),
	})
	return token.SignedString([]byte(secret))
}
