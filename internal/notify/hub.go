// Package notify pushes lifecycle events to the organizations and students they concern
// over websockets.
package notify

import (
	"context"
	"sync"

	"github.com/gorilla/websocket"

	"taskbridge/internal/domain"
)

// Delivery addresses a payload to actor ids. Admin clients receive every delivery.
type Delivery struct {
	Recipients []string
	Payload    []byte
}

// Hub manages active clients keyed by the actor they authenticated as.
type Hub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	deliver    chan Delivery
	done       chan struct{}
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		deliver:    make(chan Delivery),
		done:       make(chan struct{}),
	}
}

// Run owns the client set until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for client := range h.clients {
				delete(h.clients, client)
				close(client.Send)
			}
			return
		case client := <-h.register:
			h.clients[client] = true
		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.Send)
			}
		case d := <-h.deliver:
			for client := range h.clients {
				if !client.wants(d.Recipients) {
					continue
				}
				select {
				case client.Send <- d.Payload:
				default:
					delete(h.clients, client)
					close(client.Send)
				}
			}
		}
	}
}

// Deliver hands a payload to the hub loop. It returns false once the hub stopped.
func (h *Hub) Deliver(recipients []string, payload []byte) bool {
	select {
	case h.deliver <- Delivery{Recipients: recipients, Payload: payload}:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) Register(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
	}
}

func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// Client represents a websocket connection.
type Client struct {
	Conn  *websocket.Conn
	Hub   *Hub
	Send  chan []byte
	mu    sync.RWMutex
	actor domain.Actor
}

func NewClient(hub *Hub, conn *websocket.Conn, actor domain.Actor) *Client {
	return &Client{
		Conn:  conn,
		Hub:   hub,
		Send:  make(chan []byte, 256),
		actor: actor,
	}
}

func (c *Client) Actor() domain.Actor {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.actor
}

func (c *Client) wants(recipients []string) bool {
	actor := c.Actor()
	if actor.Role == domain.RoleAdmin {
		return true
	}
	for _, id := range recipients {
		if id != "" && id == actor.ID {
			return true
		}
	}
	return false
}
