package sockets

import (
	"net/http"
	"time"
)

func WithPingInterval(d time.Duration) func(*Hub) {
	return func(h *Hub) {
		h.pingInterval = d
	}
}

// WithQueueSize bounds the messages buffered per client.
func WithQueueSize(n int) func(*Hub) {
	return func(h *Hub) {
		h.queueSize = n
	}
}

// AllowAnyOrigin accepts cross origin upgrades.
func AllowAnyOrigin() func(*Hub) {
	return func(h *Hub) {
		h.upgrader.CheckOrigin = func(*http.Request) bool { return true }
	}
}

func OnError(f func(error)) func(*Hub) {
	return func(h *Hub) {
		h.onError = f
	}
}

func OnConnected(f func(Connection)) func(*Hub) {
	return func(h *Hub) {
		h.onConnected = f
	}
}
