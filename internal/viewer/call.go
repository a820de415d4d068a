package viewer

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/parley-p2p/parley/internal/call"
	"github.com/parley-p2p/parley/internal/media"
)

// Local control plane: allow browser UIs served from this host.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 32 * 1024,
	CheckOrigin:     func(r *http.Request) bool { return isLocalRequest(r) },
}

func registerCall(mux *http.ServeMux, v Viewer) {
	// POST /api/call/start — begin an outgoing call
	handlePost(mux, "/api/call/start", func(w http.ResponseWriter, r *http.Request, req struct {
		PeerID   string `json:"peer_id"`
		PeerName string `json:"peer_name"`
	}) {
		if req.PeerID == "" {
			http.Error(w, "missing peer_id", http.StatusBadRequest)
			return
		}
		snap, err := v.Calls.StartCall(req.PeerID, req.PeerName)
		if err != nil {
			writeCallError(w, err)
			return
		}
		writeJSON(w, snap)
	})

	// POST /api/call/answer — accept the ringing call
	handlePost(mux, "/api/call/answer", func(w http.ResponseWriter, r *http.Request, _ struct{}) {
		snap, err := v.Calls.Answer()
		if err != nil {
			writeCallError(w, err)
			return
		}
		writeJSON(w, snap)
	})

	// POST /api/call/decline
	handlePost(mux, "/api/call/decline", func(w http.ResponseWriter, r *http.Request, _ struct{}) {
		if err := v.Calls.Decline(); err != nil {
			writeCallError(w, err)
			return
		}
		writeJSON(w, v.Calls.Snapshot())
	})

	// POST /api/call/cancel — withdraw the outgoing call before answer
	handlePost(mux, "/api/call/cancel", func(w http.ResponseWriter, r *http.Request, _ struct{}) {
		if err := v.Calls.Cancel(); err != nil {
			writeCallError(w, err)
			return
		}
		writeJSON(w, v.Calls.Snapshot())
	})

	// POST /api/call/hangup
	handlePost(mux, "/api/call/hangup", func(w http.ResponseWriter, r *http.Request, _ struct{}) {
		if err := v.Calls.HangUp(); err != nil {
			writeCallError(w, err)
			return
		}
		writeJSON(w, v.Calls.Snapshot())
	})

	// POST /api/call/toggle-audio {"muted":true}
	handlePost(mux, "/api/call/toggle-audio", func(w http.ResponseWriter, r *http.Request, req struct {
		Muted bool `json:"muted"`
	}) {
		snap, err := v.Calls.ToggleMute(req.Muted)
		if err != nil {
			writeCallError(w, err)
			return
		}
		writeJSON(w, snap)
	})

	// POST /api/call/toggle-video {"disabled":true}
	handlePost(mux, "/api/call/toggle-video", func(w http.ResponseWriter, r *http.Request, req struct {
		Disabled bool `json:"disabled"`
	}) {
		snap, err := v.Calls.ToggleVideo(req.Disabled)
		if err != nil {
			writeCallError(w, err)
			return
		}
		writeJSON(w, snap)
	})

	// POST /api/call/toggle-speaker {"on":true}
	handlePost(mux, "/api/call/toggle-speaker", func(w http.ResponseWriter, r *http.Request, req struct {
		On bool `json:"on"`
	}) {
		snap, err := v.Calls.ToggleSpeaker(req.On)
		if err != nil {
			writeCallError(w, err)
			return
		}
		writeJSON(w, snap)
	})

	// GET /api/call/state — current session snapshot
	handleGet(mux, "/api/call/state", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, v.Calls.Snapshot())
	})

	// GET /api/call/events — SSE stream of call events
	handleGet(mux, "/api/call/events", func(w http.ResponseWriter, r *http.Request) {
		sseHeaders(w)

		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming not supported", http.StatusInternalServerError)
			return
		}

		evtCh, cancel := v.Calls.Subscribe()
		defer cancel()

		fmt.Fprintf(w, "event: connected\ndata: {\"status\":\"ok\"}\n\n")
		flusher.Flush()

		ctx := r.Context()
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-evtCh:
				if !ok {
					return
				}
				data, err := json.Marshal(evt)
				if err != nil {
					log.Printf("VIEWER: marshal call event: %v", err)
					continue
				}
				fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Type, data)
				flusher.Flush()
			}
		}
	})

	// GET /api/call/media?kind=video — websocket stream of remote RTP payloads
	handleGet(mux, "/api/call/media", func(w http.ResponseWriter, r *http.Request) {
		kind := media.TrackKind(r.URL.Query().Get("kind"))
		if kind != media.TrackAudio && kind != media.TrackVideo {
			http.Error(w, "kind must be audio or video", http.StatusBadRequest)
			return
		}

		sink := v.Calls.RemoteSink()
		if sink == nil {
			http.Error(w, "no call in progress", http.StatusNotFound)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		ch, cancel := sink.Subscribe(kind)
		defer cancel()

		ctx := r.Context()
		for {
			select {
			case <-ctx.Done():
				return
			case payload, ok := <-ch:
				if !ok {
					return
				}
				if err := conn.WriteMessage(websocket.BinaryMessage, payload); err != nil {
					return
				}
			}
		}
	})
}

// writeCallError maps manager errors to HTTP statuses: busy and wrong-state
// conflicts are 409, missing session 404.
func writeCallError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, call.ErrBusy), errors.Is(err, call.ErrInvalidState):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, call.ErrNoSession):
		http.Error(w, err.Error(), http.StatusNotFound)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func isLocalRequest(r *http.Request) bool {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return false
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
