package api

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"tradebridge/internal/events"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// streamedEvents are pushed to every websocket client.
var streamedEvents = []events.Event{
	events.EventPriceTick,
	events.EventHeartbeat,
	events.EventOrderFilled,
	events.EventOrderFailed,
	events.EventOrderRejected,
	events.EventOrderCanceled,
	events.EventRiskAlert,
}

type wsFrame struct {
	Event   events.Event `json:"event"`
	Payload any          `json:"payload"`
}

func (s *Server) websocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("ws upgrade error: %v", err)
		return
	}
	defer conn.Close()

	if s.Bus == nil {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"bus not ready"}`))
		return
	}

	// Fan several event subscriptions into one outgoing stream.
	merged := make(chan wsFrame, 256)
	done := make(chan struct{})
	defer close(done)

	for _, e := range streamedEvents {
		stream, unsub := s.Bus.Subscribe(e, 64)
		defer unsub()
		go func(e events.Event, stream <-chan any) {
			for msg := range stream {
				select {
				case merged <- wsFrame{Event: e, Payload: msg}:
				case <-done:
					return
				default:
					// drop for slow clients, same policy as the bus
				}
			}
		}(e, stream)
	}

	// The read pump is the only reader; it notices disconnects and close
	// frames so the handler can tear down without waiting for the next
	// outgoing event.
	clientGone := make(chan struct{})
	go func() {
		defer close(clientGone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case frame := <-merged:
			if err := conn.WriteJSON(frame); err != nil {
				log.Printf("ws write error: %v", err)
				return
			}
		case <-clientGone:
			return
		}
	}
}
