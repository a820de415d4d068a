package viewer

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
)

type peerVM struct {
	PeerID        string `json:"peer_id"`
	DisplayName   string `json:"display_name"`
	Username      string `json:"username"`
	AvatarURL     string `json:"avatar_url,omitempty"`
	VideoDisabled bool   `json:"video_disabled,omitempty"`
	LastSeen      int64  `json:"last_seen"`
}

func registerPeers(mux *http.ServeMux, v Viewer) {
	// GET /api/peers — current roster, stable order
	handleGet(mux, "/api/peers", func(w http.ResponseWriter, r *http.Request) {
		snap := v.Peers.Snapshot()
		out := make([]peerVM, 0, len(snap))
		for id, sp := range snap {
			out = append(out, peerVM{
				PeerID:        id,
				DisplayName:   sp.DisplayName,
				Username:      sp.Username,
				AvatarURL:     sp.AvatarURL,
				VideoDisabled: sp.VideoDisabled,
				LastSeen:      sp.LastSeen.UnixMilli(),
			})
		}
		sort.Slice(out, func(i, j int) bool { return out[i].PeerID < out[j].PeerID })
		writeJSON(w, out)
	})

	// GET /api/peers/events — SSE stream of roster changes
	handleGet(mux, "/api/peers/events", func(w http.ResponseWriter, r *http.Request) {
		sseHeaders(w)

		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming not supported", http.StatusInternalServerError)
			return
		}

		ch := v.Peers.Subscribe()
		defer v.Peers.Unsubscribe(ch)

		fmt.Fprintf(w, "event: connected\ndata: {\"status\":\"ok\"}\n\n")
		flusher.Flush()

		ctx := r.Context()
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-ch:
				if !ok {
					return
				}
				data, err := json.Marshal(evt)
				if err != nil {
					continue
				}
				fmt.Fprintf(w, "event: peer\ndata: %s\n\n", data)
				flusher.Flush()
			}
		}
	})
}

func registerSelf(mux *http.ServeMux, v Viewer) {
	// GET /api/self — local identity and node info
	handleGet(mux, "/api/self", func(w http.ResponseWriter, r *http.Request) {
		self := v.Self()
		var addrs []string
		for _, a := range v.Node.Host.Addrs() {
			addrs = append(addrs, a.String())
		}
		writeJSON(w, map[string]any{
			"peer_id":      self.ID,
			"display_name": self.DisplayName,
			"username":     self.Username,
			"avatar_url":   self.AvatarURL,
			"mode":         v.Cfg().Call.Mode,
			"addrs":        addrs,
		})
	})

	// GET /api/signal/log — recent signaling traffic, oldest first
	handleGet(mux, "/api/signal/log", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, v.Signals.Log())
	})
}
