package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/ash-1hat/Pre-Screening-Tool/internal/capture"
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  65536,
	WriteBufferSize: 65536,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsCommand is one inbound JSON message from the kiosk. Binary messages carry
// raw 16 kHz PCM microphone audio instead.
type wsCommand struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
	On   bool   `json:"on,omitempty"`
}

func (s *Server) handleWS(c echo.Context) error {
	sess := s.reg.Get(c.Param("id"))
	if sess == nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "unknown session"})
	}

	conn, err := wsUpgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	sess.attach(conn)
	go s.readLoop(sess, conn)
	return nil
}

// readLoop is the single reader for one socket: binary frames feed the
// microphone device, text frames carry kiosk commands.
func (s *Server) readLoop(sess *Session, conn *websocket.Conn) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[%s] ws reader panic: %v", sess.ID, r)
		}
		sess.detach(conn)
	}()

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("[%s] ws read ended: %v", sess.ID, err)
			}
			return
		}
		sess.touch()

		if msgType == websocket.BinaryMessage {
			sess.device.Push(data)
			continue
		}

		var cmd wsCommand
		if err := json.Unmarshal(data, &cmd); err != nil {
			log.Printf("[%s] bad ws command: %v", sess.ID, err)
			continue
		}
		s.applyCommand(sess, cmd)
	}
}

func (s *Server) applyCommand(sess *Session, cmd wsCommand) {
	switch cmd.Type {
	case "answer":
		sess.machine.SubmitTyped(cmd.Text)
	case "submit", "voice_stop":
		sess.machine.SubmitVoice()
	case "skip":
		sess.machine.ForceUnknown()
	case "voice_start":
		go func() {
			if err := sess.engine.Start(context.Background()); err != nil {
				if errors.Is(err, capture.ErrPermissionDenied) {
					return
				}
				sess.machine.NotifyRecognitionFailure(err.Error())
			}
		}()
	case "mic_denied":
		sess.device.Deny()
		sess.engine.MarkUnavailable()
	case "tts":
		sess.machine.SetSpeechEnabled(cmd.On)
	case "restart":
		sess.machine.Restart()
		sess.machine.Start()
	case "retry":
		sess.machine.Retry()
	default:
		log.Printf("[%s] unknown ws command %q", sess.ID, cmd.Type)
	}
}
