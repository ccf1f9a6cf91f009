// telemetry/room.go
// Copyright(c) 2024-2025 multicopter contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package telemetry

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/mmp/multicopter/log"

	"github.com/gorilla/websocket"
)

const (
	socketBufferSize  = 1024
	messageBufferSize = 8
	writeWait         = time.Second
)

var upgrader = &websocket.Upgrader{ReadBufferSize: socketBufferSize, WriteBufferSize: socketBufferSize}

// Room fans messages out to every connected websocket client. A client
// that falls behind misses messages rather than slowing the others. New
// clients are sent the most recent message on joining.
type Room struct {
	forward chan []byte
	latest  []byte
	join    chan *client
	leave   chan *client
	done    chan struct{}
	clients map[*client]struct{}
	count   chan int
	lg      *log.Logger
}

type client struct {
	socket  *websocket.Conn
	send    chan []byte
	dropped int
}

func NewRoom(lg *log.Logger) *Room {
	return &Room{
		forward: make(chan []byte),
		join:    make(chan *client),
		leave:   make(chan *client),
		done:    make(chan struct{}),
		clients: make(map[*client]struct{}),
		count:   make(chan int),
		lg:      lg,
	}
}

// Run services the room until ctx is canceled, at which point all
// clients are disconnected.
func (r *Room) Run(ctx context.Context) {
	defer r.lg.CatchAndReportCrash()
	defer close(r.done)
	defer func() {
		for c := range r.clients {
			close(c.send)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case c := <-r.join:
			r.clients[c] = struct{}{}
			if r.latest != nil {
				c.send <- r.latest
			}
			r.lg.Info("telemetry client joined", slog.String("remote", c.socket.RemoteAddr().String()),
				slog.Int("clients", len(r.clients)))

		case c := <-r.leave:
			if _, ok := r.clients[c]; ok {
				delete(r.clients, c)
				close(c.send)
				r.lg.Info("telemetry client left", slog.String("remote", c.socket.RemoteAddr().String()),
					slog.Int("dropped", c.dropped), slog.Int("clients", len(r.clients)))
			}

		case msg := <-r.forward:
			r.latest = msg
			for c := range r.clients {
				select {
				case c.send <- msg:
				default:
					c.dropped++
				}
			}

		case r.count <- len(r.clients):
		}
	}
}

// Broadcast queues msg for every client. It returns false if the room is
// no longer running.
func (r *Room) Broadcast(msg []byte) bool {
	select {
	case r.forward <- msg:
		return true
	case <-r.done:
		return false
	}
}

// Clients returns the number of connected clients, or zero if the room
// is not running.
func (r *Room) Clients() int {
	select {
	case n := <-r.count:
		return n
	case <-r.done:
		return 0
	}
}

func (r *Room) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	socket, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.lg.Warnf("telemetry websocket upgrade: %v", err)
		return
	}
	c := &client{
		socket: socket,
		send:   make(chan []byte, messageBufferSize),
	}

	select {
	case r.join <- c:
	case <-r.done:
		socket.Close()
		return
	}
	defer func() {
		select {
		case r.leave <- c:
		case <-r.done:
		}
	}()

	go c.write()
	c.read()
}

// read discards anything the client sends and returns when the
// connection closes.
func (c *client) read() {
	defer c.socket.Close()
	for {
		if _, _, err := c.socket.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *client) write() {
	defer c.socket.Close()
	for msg := range c.send {
		c.socket.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.socket.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
	c.socket.SetWriteDeadline(time.Now().Add(writeWait))
	c.socket.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}
