package websocket

import "github.com/rs/zerolog/log"

type delivery struct {
	userID  string
	client  *Client // when set, only this connection receives the message
	message []byte
}

// Hub maintains the set of active clients and routes messages to the
// connections of a single user. All map access happens on the Run goroutine.
type Hub struct {
	// A map of user IDs to the set of that user's open connections.
	clients map[string]map[*Client]bool

	// Register requests from the clients.
	Register chan *Client

	// Unregister requests from clients.
	Unregister chan *Client

	deliver chan delivery
	done    chan struct{}
}

// NewHub creates a new Hub.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[string]map[*Client]bool),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		deliver:    make(chan delivery, 64),
		done:       make(chan struct{}),
	}
}

// Run starts the Hub's message processing loop. It returns after Stop.
func (h *Hub) Run() {
	for {
		select {
		case <-h.done:
			for _, set := range h.clients {
				for client := range set {
					close(client.Send)
				}
			}
			h.clients = make(map[string]map[*Client]bool)
			log.Info().Msg("Websocket hub stopped")
			return
		case client := <-h.Register:
			if h.clients[client.UserID] == nil {
				h.clients[client.UserID] = make(map[*Client]bool)
			}
			h.clients[client.UserID][client] = true
			log.Info().Str("user_id", client.UserID).Int("user_clients", len(h.clients[client.UserID])).Msg("Client connected")
		case client := <-h.Unregister:
			if h.remove(client) {
				log.Info().Str("user_id", client.UserID).Msg("Client disconnected")
			}
		case d := <-h.deliver:
			for client := range h.clients[d.userID] {
				if d.client != nil && d.client != client {
					continue
				}
				select {
				case client.Send <- d.message:
				default:
					// slow consumer
					h.remove(client)
				}
			}
		}
	}
}

// Stop ends the Run loop and closes every client's send queue.
func (h *Hub) Stop() {
	close(h.done)
}

// NotifyUser queues a message for every open connection of userID. It never
// blocks on a slow hub; the message is dropped instead.
func (h *Hub) NotifyUser(userID, action string, payload interface{}) {
	msg := NewMessage(action, payload)
	if msg == nil {
		return
	}
	h.enqueue(delivery{userID: userID, message: msg})
}

func (h *Hub) enqueue(d delivery) {
	select {
	case h.deliver <- d:
	case <-h.done:
	default:
		log.Warn().Str("user_id", d.userID).Msg("Websocket hub busy, dropping message")
	}
}

// Attach registers a client unless the hub has stopped.
func (h *Hub) Attach(client *Client) bool {
	select {
	case h.Register <- client:
		return true
	case <-h.done:
		return false
	}
}

// Detach unregisters a client. It is a no-op after Stop.
func (h *Hub) Detach(client *Client) {
	select {
	case h.Unregister <- client:
	case <-h.done:
	}
}

func (h *Hub) remove(client *Client) bool {
	set, ok := h.clients[client.UserID]
	if !ok || !set[client] {
		return false
	}
	delete(set, client)
	close(client.Send)
	if len(set) == 0 {
		delete(h.clients, client.UserID)
	}
	return true
}
