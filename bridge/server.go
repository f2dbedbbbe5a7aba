// Package bridge implements the wire protocol between the automation
// caller and the emulated device: a websocket server that runs beside the
// device and translates decoded actions into adb invocations, and the
// matching host-side client.
package bridge

import (
	"encoding/base64"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"androidbox/adb"
)

const (
	writeWait = 10 * time.Second
	pongWait  = 60 * time.Second
)

var upgrader = websocket.Upgrader{
	// The control port is only reachable through the negotiated container
	// mapping, so cross-origin checks buy nothing here.
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  1024,
	WriteBufferSize: 2 * 1024 * 1024, // screenshots are whole PNGs
}

// Server serves the bridge wire protocol. Each connection is independent:
// no session state is shared between them, and device state lives entirely
// in the device.
type Server struct {
	client *adb.Client
}

func NewServer(client *adb.Client) *Server {
	return &Server{client: client}
}

// Router builds the gin engine: a health probe plus the websocket
// endpoint. Historical clients dial either / or /ws.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ready", "platform": "android"})
	})
	router.GET("/", s.handleWS)
	router.GET("/ws", s.handleWS)
	return router
}

func (s *Server) handleWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()
	log.Printf("Client connected from %s", conn.RemoteAddr())

	conn.SetReadLimit(1 << 20)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))

		// Every request gets exactly one response; a bad request is an
		// error payload, never a dropped connection.
		response := s.handle(c, message)
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(response); err != nil {
			log.Printf("Write failed, closing connection: %v", err)
			return
		}
	}
}

func (s *Server) handle(c *gin.Context, raw []byte) map[string]interface{} {
	action, err := adb.Decode(raw)
	if err != nil {
		return map[string]interface{}{"success": false, "error": "malformed request: " + err.Error()}
	}
	log.Printf("Handling command: %s", action.Kind())
	return WireResponse(s.client.Do(c.Request.Context(), action))
}

// WireResponse flattens a normalized action result onto the wire shape.
func WireResponse(resp adb.Response) map[string]interface{} {
	out := map[string]interface{}{
		"success": resp.Success,
		"action":  resp.Action,
	}
	switch resp.Action {
	case "version":
		out["version"] = adb.BridgeVersion
		out["platform"] = "android"
	case "screenshot":
		if resp.Success {
			out["image"] = base64.StdEncoding.EncodeToString(resp.Image)
			out["format"] = "png"
		}
	case "get_screen_size":
		if resp.Success {
			out["size"] = map[string]int{"width": resp.Width, "height": resp.Height}
		}
	}
	if resp.Status != "" {
		out["status"] = resp.Status
	}
	if resp.Err != "" {
		out["error"] = resp.Err
	}
	return out
}
