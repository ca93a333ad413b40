// Package server exposes the control plane over HTTP: a websocket event
// stream with simulation controls, a small read-only REST surface and the
// usual health and metrics endpoints.
package server

import (
	"context"
	"encoding/json"
	"log/slog"

	"fleetwatch/internal/events"
	"fleetwatch/internal/logging"
)

// subscriberBuffer sizes both the bus subscription and each client's send
// queue. Slow clients drop events rather than stall the simulation.
const subscriberBuffer = 256

// Hub fans bus events out to all connected websocket clients and routes
// their control frames to the simulation.
type Hub struct {
	bus      *events.Bus
	controls Controls

	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte
	logger     *slog.Logger
}

// Controls is the slice of the scheduler the stream needs.
type Controls interface {
	Start(startDay int) error
	Stop()
	Reset()
	Snapshot() any
}

// NewHub wires a hub to the bus and the simulation controls.
func NewHub(bus *events.Bus, controls Controls) *Hub {
	return &Hub{
		bus:        bus,
		controls:   controls,
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte, subscriberBuffer),
		logger:     logging.New("server.hub"),
	}
}

// Run owns the client set until ctx is cancelled. It also holds the hub's
// bus subscription, so events flow only while Run is active.
func (h *Hub) Run(ctx context.Context) {
	evCh := make(chan events.Event, subscriberBuffer)
	h.bus.Subscribe("ws-hub", evCh)
	defer h.bus.Unsubscribe("ws-hub")

	for {
		select {
		case <-ctx.Done():
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			return

		case client := <-h.register:
			h.clients[client] = true
			h.logger.Info("stream client connected", "remote", client.remote)
			// New subscribers get the full state before any deltas.
			client.enqueue(h.encode(events.TypeState, h.controls.Snapshot()))

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				h.logger.Info("stream client disconnected", "remote", client.remote)
			}

		case ev := <-evCh:
			msg, err := json.Marshal(ev)
			if err != nil {
				h.logger.Error("event encode", "type", string(ev.Type), "error", err)
				continue
			}
			for client := range h.clients {
				if !client.enqueue(msg) {
					delete(h.clients, client)
					close(client.send)
					h.logger.Warn("stream client dropped, send queue full", "remote", client.remote)
				}
			}

		case msg := <-h.broadcast:
			for client := range h.clients {
				if !client.enqueue(msg) {
					delete(h.clients, client)
					close(client.send)
				}
			}
		}
	}
}

func (h *Hub) encode(typ events.Type, payload any) []byte {
	msg, err := json.Marshal(map[string]any{"event": typ, "data": payload})
	if err != nil {
		h.logger.Error("snapshot encode", "error", err)
		return []byte(`{"event":"error"}`)
	}
	return msg
}

// handleControl executes one client control frame.
func (h *Hub) handleControl(c *Client, frame controlFrame) {
	switch frame.Action {
	case "start":
		if err := h.controls.Start(frame.StartDay); err != nil {
			c.enqueue(h.encode("error", map[string]string{"error": err.Error()}))
		}
	case "stop":
		h.controls.Stop()
	case "reset":
		h.controls.Reset()
	case "state":
		c.enqueue(h.encode(events.TypeState, h.controls.Snapshot()))
	default:
		c.enqueue(h.encode("error", map[string]string{"error": "unknown action " + frame.Action}))
	}
}

// controlFrame is one inbound websocket message.
type controlFrame struct {
	Action   string `json:"action"`
	StartDay int    `json:"startDay,omitempty"`
}
