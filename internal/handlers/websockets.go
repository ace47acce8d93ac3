package handlers

import (
	"net/http"
	"time"

	"livedetect/internal/logger"
	"livedetect/internal/services/websocket"

	gorilla "github.com/gorilla/websocket"
)

const viewerReadTimeout = 60 * time.Second

var Upgrader = gorilla.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ViewWebsocketHandler registers the connection as a viewer of detection events until it goes away.
func ViewWebsocketHandler(hub *websocket.HubService, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		connection, err := Upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warning("WebSocket upgrade error: %v", err)
			return
		}
		connection.SetReadLimit(512)
		connection.SetReadDeadline(time.Now().Add(viewerReadTimeout))
		connection.SetPongHandler(func(appData string) error {
			connection.SetReadDeadline(time.Now().Add(viewerReadTimeout))
			return nil
		})

		hub.Register(connection)
		defer hub.Unregister(connection)

		for {
			if _, _, err := connection.ReadMessage(); err != nil {
				logger.Debug("Viewer read ended: %v", err)
				return
			}
			connection.SetReadDeadline(time.Now().Add(viewerReadTimeout))
		}
	}
}
