package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/rs/zerolog/log"

	"reviewdeck/api/internal/broadcast"
)

// handleWorkspaceSocket upgrades the request and streams workspace events
// until the client disconnects. The token is accepted from the Authorization
// header or a ?token= query parameter.
func (s *HTTPServer) handleWorkspaceSocket(w http.ResponseWriter, r *http.Request, workspaceID string) {
	token := bearerToken(r)
	if token == "" {
		token = strings.TrimSpace(r.URL.Query().Get("token"))
	}
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return
	}
	if _, err := s.service.SessionFromToken(r.Context(), token); err != nil {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return
	}
	if _, err := s.service.ensureWorkspace(r.Context(), workspaceID); err != nil {
		var errorData *ErrorData
		if errors.As(err, &errorData) {
			writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
			return
		}
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}

	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		log.Warn().Err(err).Str("workspace_id", workspaceID).Msg("websocket upgrade failed")
		return
	}

	subscriber := s.service.Subscribe(workspaceID)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Reader goroutine: we never expect client frames, but reading is the
	// only way to notice the peer closing the connection.
	go func() {
		defer cancel()
		for {
			if _, _, err := wsutil.ReadClientData(conn); err != nil {
				return
			}
		}
	}()

	defer func() {
		subscriber.Close()
		conn.Close()
	}()

	for {
		payload, err := subscriber.Next(ctx)
		if errors.Is(err, broadcast.ErrLagged) {
			// The subscriber fell behind and events were dropped. Tell the
			// client to reload instead of feeding it a gapped stream.
			refresh, marshalErr := json.Marshal(refreshEvent())
			if marshalErr != nil {
				return
			}
			if err := wsutil.WriteServerMessage(conn, ws.OpText, refresh); err != nil {
				return
			}
			continue
		}
		if err != nil {
			return
		}
		if err := wsutil.WriteServerMessage(conn, ws.OpText, payload); err != nil {
			return
		}
	}
}
