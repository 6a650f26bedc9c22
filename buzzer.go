/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

// Buzzbox Quiz Buzzer
//
// A host creates a session with up to eight colored teams and shares the
// participant link (or QR code). Participants pick a team and press the
// buzzer; the first press of a round sets the round start, and every screen
// shows the ranking of presses by time since that start. The host resets
// the round between questions.
//
// Routes:
//   - /api/game/create, /api/game/state/:gameid, /api/game/buzz, /api/game/reset
//   - /buzzer              host page
//   - /buzzer/:gameid      participant page
//   - /buzzer/:gameid/ws   live events for one session, plus buzz/reset commands
//   - /buzzer/:gameid/qr   PNG QR code for the participant page

package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/Seednode/buzzbox/broadcast"
	"github.com/Seednode/buzzbox/session"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/rs/zerolog/log"
	"github.com/skip2/go-qrcode"
)

const (
	maxRequestBody = 4 << 10

	eventBuzzResult  = "buzz-result"
	eventResetResult = "reset-result"
	eventError       = "error"
)

type createRequest struct {
	NumTeams int `json:"numTeams"`
}

type createResponse struct {
	GameID string   `json:"gameId"`
	Teams  []string `json:"teams"`
}

type buzzRequest struct {
	GameID string `json:"gameId"`
	Name   string `json:"name"`
	Team   string `json:"team"`
}

type buzzResponse struct {
	Success bool         `json:"success"`
	Buzz    session.Buzz `json:"buzz"`
}

type resetRequest struct {
	GameID string `json:"gameId"`
}

type successResponse struct {
	Success bool `json:"success"`
}

// errorResponse is the body of every failed API call.
type errorResponse struct {
	Message string `json:"message"`
	Code    int    `json:"code"`
}

func writeJSON(w http.ResponseWriter, status int, data any) error {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)

	return json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	_ = writeJSON(w, status, errorResponse{Message: message, Code: status})
}

// statusFor maps command errors onto HTTP status codes. Anything it does
// not recognize is an internal failure.
func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrInvalidTeamCount),
		errors.Is(err, session.ErrInvalidTeam),
		errors.Is(err, session.ErrInvalidName):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrSessionBusy):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeCommandError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)

	message := err.Error()
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Str("path", r.URL.Path).Str("ip", realIP(r)).Msg("command failed")

		message = "internal error"
	}
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "1")
	}

	writeError(w, status, message)
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)

	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")

		return false
	}

	return true
}

func logRequest(r *http.Request, startTime time.Time, status int) {
	log.Debug().
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Str("ip", realIP(r)).
		Int("status", status).
		Dur("duration", time.Since(startTime).Round(time.Microsecond)).
		Msg("api request")
}

func serveCreate(cfg *Config, m *session.Manager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		startTime := time.Now()
		securityHeaders(cfg, w)

		var req createRequest
		if !decodeBody(w, r, &req) {
			logRequest(r, startTime, http.StatusBadRequest)

			return
		}

		id, teams, err := m.CreateSession(r.Context(), req.NumTeams)
		if err != nil {
			writeCommandError(w, r, err)
			logRequest(r, startTime, statusFor(err))

			return
		}

		_ = writeJSON(w, http.StatusOK, createResponse{GameID: id, Teams: teams})
		logRequest(r, startTime, http.StatusOK)
	}
}

func serveState(cfg *Config, m *session.Manager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		startTime := time.Now()
		securityHeaders(cfg, w)
		w.Header().Set("Cache-Control", "no-store")

		snap, err := m.Snapshot(r.Context(), p.ByName("gameid"))
		if err != nil {
			writeCommandError(w, r, err)
			logRequest(r, startTime, statusFor(err))

			return
		}

		_ = writeJSON(w, http.StatusOK, snap)
		logRequest(r, startTime, http.StatusOK)
	}
}

func serveBuzz(cfg *Config, m *session.Manager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		startTime := time.Now()
		securityHeaders(cfg, w)

		var req buzzRequest
		if !decodeBody(w, r, &req) {
			logRequest(r, startTime, http.StatusBadRequest)

			return
		}

		if req.GameID == "" || req.Team == "" {
			writeError(w, http.StatusBadRequest, "missing required fields: gameId, name, team")
			logRequest(r, startTime, http.StatusBadRequest)

			return
		}

		b, err := m.SubmitBuzz(r.Context(), req.GameID, req.Name, req.Team)
		if err != nil {
			writeCommandError(w, r, err)
			logRequest(r, startTime, statusFor(err))

			return
		}

		_ = writeJSON(w, http.StatusOK, buzzResponse{Success: true, Buzz: b})
		logRequest(r, startTime, http.StatusOK)
	}
}

func serveReset(cfg *Config, m *session.Manager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		startTime := time.Now()
		securityHeaders(cfg, w)

		var req resetRequest
		if !decodeBody(w, r, &req) {
			logRequest(r, startTime, http.StatusBadRequest)

			return
		}

		if req.GameID == "" {
			writeError(w, http.StatusBadRequest, "missing required field: gameId")
			logRequest(r, startTime, http.StatusBadRequest)

			return
		}

		if err := m.ResetBuzzes(r.Context(), req.GameID); err != nil {
			writeCommandError(w, r, err)
			logRequest(r, startTime, statusFor(err))

			return
		}

		_ = writeJSON(w, http.StatusOK, successResponse{Success: true})
		logRequest(r, startTime, http.StatusOK)
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// clientMessage is a command sent by a websocket client.
type clientMessage struct {
	Type string `json:"type"` // "buzz", "reset"
	Name string `json:"name,omitempty"`
	Team string `json:"team,omitempty"`
}

type commandResult struct {
	Success bool          `json:"success"`
	Buzz    *session.Buzz `json:"buzz,omitempty"`
	Message string        `json:"message,omitempty"`
}

// Client is one websocket connection. Session events arrive on sub.Send;
// replies to this client's own commands go through replies. Only writePump
// writes to conn. revision is the session revision of the state message the
// client started from.
type Client struct {
	conn     *websocket.Conn
	sub      *broadcast.Subscriber
	replies  chan []byte
	gameID   string
	revision int64
	timeout  time.Duration
}

func serveWS(cfg *Config, m *session.Manager, hub *broadcast.Hub) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		gameID := p.ByName("gameid")

		// Subscribe before reading the snapshot so no event falls between
		// the two. Events the snapshot already covers are dropped by
		// writePump.
		sub := hub.Subscribe(broadcast.Topic(gameID))

		snap, err := m.Snapshot(r.Context(), gameID)
		if err != nil {
			hub.Unsubscribe(sub)
			securityHeaders(cfg, w)
			writeCommandError(w, r, err)

			return
		}

		state, err := broadcast.NewEvent(broadcast.EventSessionState, snap)
		if err != nil {
			hub.Unsubscribe(sub)
			securityHeaders(cfg, w)
			writeCommandError(w, r, err)

			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			hub.Unsubscribe(sub)
			log.Debug().Err(err).Str("ip", realIP(r)).Msg("websocket upgrade failed")

			return
		}

		client := &Client{
			conn:     conn,
			sub:      sub,
			replies:  make(chan []byte, cfg.subscriberBuffer),
			gameID:   gameID,
			revision: snap.Revision,
			timeout:  cfg.clientTimeout,
		}
		client.replies <- state

		log.Debug().
			Str("session_id", gameID).
			Str("subscriber_id", sub.ID).
			Str("ip", realIP(r)).
			Msg("websocket client connected")

		go client.writePump()
		client.readPump(context.WithoutCancel(r.Context()), m, hub)
	}
}

func (c *Client) reply(event string, payload any) {
	data, err := broadcast.NewEvent(event, payload)
	if err != nil {
		return
	}

	select {
	case c.replies <- data:
	default:
		log.Debug().Str("subscriber_id", c.sub.ID).Msg("reply buffer full, dropping reply")
	}
}

func (c *Client) readPump(ctx context.Context, m *session.Manager, hub *broadcast.Hub) {
	defer func() {
		hub.Unsubscribe(c.sub)
		_ = c.conn.Close()

		log.Debug().
			Str("session_id", c.gameID).
			Str("subscriber_id", c.sub.ID).
			Msg("websocket client disconnected")
	}()

	c.conn.SetReadLimit(maxRequestBody)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.timeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.timeout))
	})

	for {
		var msg clientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(c.timeout))

		switch msg.Type {
		case "buzz":
			b, err := m.SubmitBuzz(ctx, c.gameID, msg.Name, msg.Team)
			if err != nil {
				c.reply(eventBuzzResult, commandResult{Message: commandMessage(err)})

				continue
			}
			c.reply(eventBuzzResult, commandResult{Success: true, Buzz: &b})
		case "reset":
			if err := m.ResetBuzzes(ctx, c.gameID); err != nil {
				c.reply(eventResetResult, commandResult{Message: commandMessage(err)})

				continue
			}
			c.reply(eventResetResult, commandResult{Success: true})
		default:
			c.reply(eventError, commandResult{Message: "unknown command type"})
		}
	}
}

func commandMessage(err error) string {
	if statusFor(err) == http.StatusInternalServerError {
		log.Error().Err(err).Msg("websocket command failed")

		return "internal error"
	}

	return err.Error()
}

// staleEvent reports whether a session event was already reflected in the
// state message sent at revision.
func staleEvent(data []byte, revision int64) bool {
	rev := broadcast.Revision(data)

	return rev != 0 && rev <= revision
}

func (c *Client) writePump() {
	ticker := time.NewTicker(c.timeout / 2)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	write := func(messageType int, data []byte) error {
		_ = c.conn.SetWriteDeadline(time.Now().Add(timeout))

		return c.conn.WriteMessage(messageType, data)
	}

	// The state message was queued first and must go out before any event.
	if err := write(websocket.TextMessage, <-c.replies); err != nil {
		return
	}

	for {
		select {
		case data, ok := <-c.sub.Send:
			if !ok {
				_ = write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "dropped"))

				return
			}
			if staleEvent(data, c.revision) {
				continue
			}
			if err := write(websocket.TextMessage, data); err != nil {
				return
			}
		case data := <-c.replies:
			if err := write(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			if err := write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// serveQR renders a PNG QR code pointing at the participant page.
func serveQR(cfg *Config, m *session.Manager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		if _, err := m.Snapshot(r.Context(), p.ByName("gameid")); err != nil {
			securityHeaders(cfg, w)
			writeCommandError(w, r, err)

			return
		}

		scheme := cfg.scheme()
		if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
			scheme = proto
		}

		path := strings.TrimSuffix(r.URL.Path, "/qr")

		const qrSize = 320
		png, err := qrcode.Encode(scheme+"://"+r.Host+path, qrcode.Medium, qrSize)
		if err != nil {
			http.Error(w, "qr generation failed", http.StatusInternalServerError)

			return
		}

		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "public, max-age=3600")
		securityHeaders(cfg, w)

		_, _ = w.Write(png)
	}
}

func servePage(cfg *Config, name string) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		data, err := assets.ReadFile("assets/buzzer/" + name)
		if err != nil {
			http.NotFound(w, r)

			return
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "public, max-age=3600")
		w.Header().Set("Expires", time.Now().Add(time.Hour).UTC().Format(http.TimeFormat))
		securityHeaders(cfg, w)

		_, _ = w.Write(data)
	}
}

// registerBuzzer sets up the JSON API and the buzzer pages under path.
func registerBuzzer(cfg *Config, path string, mux *httprouter.Router, m *session.Manager, hub *broadcast.Hub) {
	mux.POST(cfg.prefix+"/api/game/create", serveCreate(cfg, m))
	mux.GET(cfg.prefix+"/api/game/state/:gameid", serveState(cfg, m))
	mux.POST(cfg.prefix+"/api/game/buzz", serveBuzz(cfg, m))
	mux.POST(cfg.prefix+"/api/game/reset", serveReset(cfg, m))

	mux.GET(cfg.prefix+path, servePage(cfg, "host.html"))
	mux.GET(cfg.prefix+path+"/:gameid", servePage(cfg, "play.html"))
	mux.GET(cfg.prefix+path+"/:gameid/ws", serveWS(cfg, m, hub))
	mux.GET(cfg.prefix+path+"/:gameid/qr", serveQR(cfg, m))
}
