package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/rawblock/kyt-engine/pkg/models"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all for local dashboard
	},
}

// Hub maintains the set of active websocket clients and broadcasts risk
// alerts to them.
type Hub struct {
	clients   map[*websocket.Conn]bool
	broadcast chan []byte
	mutex     sync.Mutex
	log       *zap.SugaredLogger
}

func NewHub(log *zap.SugaredLogger) *Hub {
	return &Hub{
		broadcast: make(chan []byte, 256),
		clients:   make(map[*websocket.Conn]bool),
		log:       log,
	}
}

func (h *Hub) Run() {
	for message := range h.broadcast {
		h.mutex.Lock()
		for client := range h.clients {
			// Write deadline prevents a blocked client from hanging the hub
			_ = client.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := client.WriteMessage(websocket.TextMessage, message); err != nil {
				h.log.Warnw("websocket write failed", "error", err)
				client.Close()
				delete(h.clients, client)
			}
		}
		h.mutex.Unlock()
	}
}

// riskAlert is the wire shape pushed to stream subscribers when an analysis
// comes back HIGH.
type riskAlert struct {
	Type       string    `json:"type"`
	TxID       string    `json:"txid"`
	Chain      string    `json:"chain"`
	Score      int       `json:"score"`
	Level      string    `json:"level"`
	Flagged    int       `json:"flagged"`
	AnalyzedAt time.Time `json:"analyzedAt"`
}

// BroadcastRiskAlert pushes a HIGH-risk report summary to all subscribers.
// Non-blocking: if the hub's buffer is full the alert is dropped.
func (h *Hub) BroadcastRiskAlert(report *models.RiskReport) {
	alert := riskAlert{
		Type:       "risk_alert",
		TxID:       report.TxID,
		Chain:      report.Chain,
		Score:      report.RiskScore.Score,
		Level:      string(report.RiskScore.Level),
		Flagged:    len(report.Flagged),
		AnalyzedAt: report.AnalyzedAt,
	}
	data, err := json.Marshal(alert)
	if err != nil {
		return
	}
	select {
	case h.broadcast <- data:
	default:
		h.log.Warnw("alert dropped, broadcast buffer full", "txid", report.TxID)
	}
}

// Subscribe handles incoming websocket connections.
func (h *Hub) Subscribe(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warnw("websocket upgrade failed", "error", err)
		return
	}

	h.mutex.Lock()
	h.clients[conn] = true
	total := len(h.clients)
	h.mutex.Unlock()
	h.log.Infow("websocket client connected", "total", total)

	// Push-only stream, but we must read to notice disconnects.
	go func() {
		defer func() {
			h.mutex.Lock()
			delete(h.clients, conn)
			h.mutex.Unlock()
			conn.Close()
			h.log.Infow("websocket client disconnected")
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					h.log.Warnw("websocket read failed", "error", err)
				}
				return
			}
		}
	}()
}
