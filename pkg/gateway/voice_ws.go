package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nescampos/coralmultichannel/pkg/channel"
	"github.com/nescampos/coralmultichannel/pkg/logger"
)

var voiceUpgrader = websocket.Upgrader{
	ReadBufferSize:  1 << 16,
	WriteBufferSize: 1 << 16,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// handleVoiceSocket runs a browser voice session: each connection gets
// its own identity, and every typed frame is routed through the same
// channel pipeline as the HTTP webhook.
func (s *Server) handleVoiceSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := voiceUpgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.WarnCF("gateway", "voice socket upgrade failed", map[string]interface{}{"error": err.Error()})
		return
	}
	defer conn.Close()

	session := uuid.NewString()
	logger.InfoCF("gateway", "voice session opened", map[string]interface{}{"session": session})
	defer logger.InfoCF("gateway", "voice session closed", map[string]interface{}{"session": session})

	for {
		var frame map[string]interface{}
		if err := conn.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.WarnCF("gateway", "voice socket read failed", map[string]interface{}{
					"session": session, "error": err.Error(),
				})
			}
			return
		}
		frame["sessionId"] = session

		if reply := s.processVoiceFrame(r, frame); reply != nil {
			if err := conn.WriteMessage(websocket.TextMessage, reply); err != nil {
				return
			}
		}
	}
}

func (s *Server) processVoiceFrame(r *http.Request, frame map[string]interface{}) []byte {
	ctx := r.Context()

	msg, err := s.router.Parse(ctx, frame)
	if err != nil {
		return voiceError(err)
	}

	if event := msg.Meta["event"]; event == "call_start" || event == "call_end" {
		ack, _ := json.Marshal(map[string]interface{}{"type": "ack", "event": event})
		return ack
	}

	reply, err := s.engine.ProcessMessage(ctx, string(msg.Kind), msg.From, msg.Text)
	if err != nil {
		logger.ErrorCF("gateway", "voice frame processing failed", map[string]interface{}{
			"session": msg.From, "error": err.Error(),
		})
		return voiceError(err)
	}

	result, err := s.router.Send(ctx, msg.Kind, channel.SendRequest{
		To:        msg.From,
		Text:      reply,
		WantAudio: msg.IsAudio,
		Reply:     msg.Meta,
	})
	if err != nil {
		return voiceError(err)
	}
	return result.Body
}

func voiceError(err error) []byte {
	payload, _ := json.Marshal(map[string]interface{}{"type": "error", "error": err.Error()})
	return payload
}
