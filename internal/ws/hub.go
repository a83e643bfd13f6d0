package ws

import (
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/d1618033/simplechat/internal/chat"
	"github.com/d1618033/simplechat/internal/metrics"

	"github.com/rs/zerolog/log"
)

// Hub 把网关事件推送给 WebSocket 订阅者，每个房间一个 RoomHub，首次订阅时创建。
type Hub struct {
	mu    sync.RWMutex
	rooms map[uint]*RoomHub
}

func NewHub() *Hub { return &Hub{rooms: make(map[uint]*RoomHub)} }

// GetRoom 按需创建并启动房间的 RoomHub。
func (h *Hub) GetRoom(roomID uint) *RoomHub {
	h.mu.RLock()
	room := h.rooms[roomID]
	h.mu.RUnlock()
	if room != nil {
		return room
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	room = h.rooms[roomID]
	if room != nil {
		return room
	}
	room = NewRoomHub(roomID)
	h.rooms[roomID] = room
	go room.run()
	return room
}

func (h *Hub) Online(roomID uint) int {
	h.mu.RLock()
	room := h.rooms[roomID]
	h.mu.RUnlock()
	if room == nil {
		return 0
	}
	return room.Online()
}

// Publish 实现 chat.Notifier。没有订阅者的房间直接跳过；广播缓冲满时丢弃事件，
// 轮询客户端仍能读到。
func (h *Hub) Publish(roomID uint, evt chat.Event) {
	h.mu.RLock()
	room := h.rooms[roomID]
	h.mu.RUnlock()
	if room == nil {
		return
	}
	b, err := json.Marshal(evt)
	if err != nil {
		log.Error().Err(err).Uint("room_id", roomID).Str("type", evt.Type).Msg("marshal event")
		return
	}
	out := outbound{payload: b}
	if evt.Type == chat.EventLeave && evt.Participant != nil {
		out.leave = evt.Participant.ID
	}
	select {
	case room.broadcast <- out:
	default:
		log.Warn().Uint("room_id", roomID).Str("type", evt.Type).Msg("broadcast buffer full, event dropped")
	}
}

// outbound 是一条待广播的事件；leave 非零时，广播后断开该参与者的所有连接。
type outbound struct {
	payload []byte
	leave   uint
}

type RoomHub struct {
	roomID     uint
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan outbound
	online     int32
}

func NewRoomHub(roomID uint) *RoomHub {
	return &RoomHub{
		roomID:     roomID,
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan outbound, 256),
	}
}

func (rh *RoomHub) run() {
	for {
		select {
		case c := <-rh.register:
			rh.clients[c] = true
			metrics.WsConnections.Inc()
			rh.syncOnline()
		case c := <-rh.unregister:
			rh.drop(c)
		case msg := <-rh.broadcast:
			for c := range rh.clients {
				select {
				case c.send <- msg.payload:
				default:
					// 慢客户端，直接断开
					rh.drop(c)
				}
			}
			if msg.leave != 0 {
				rh.kick(msg.leave)
			}
		}
	}
}

func (rh *RoomHub) drop(c *Client) {
	if _, ok := rh.clients[c]; !ok {
		return
	}
	delete(rh.clients, c)
	close(c.send)
	metrics.WsConnections.Dec()
	rh.syncOnline()
}

// kick 断开已登出参与者的订阅，会话已被吊销。
func (rh *RoomHub) kick(participantID uint) {
	for c := range rh.clients {
		if c.participantID == participantID {
			rh.drop(c)
		}
	}
}

func (rh *RoomHub) syncOnline() {
	atomic.StoreInt32(&rh.online, int32(len(rh.clients)))
}

// Online 返回房间当前在线的订阅者数量。
func (rh *RoomHub) Online() int { return int(atomic.LoadInt32(&rh.online)) }
