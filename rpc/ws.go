package rpc

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"nhooyr.io/websocket"
)

const wsWriteTimeout = 10 * time.Second

// handleWS speaks the JSON-RPC dialect over a websocket: one request
// message in, one response message out, until either side closes. Auth
// is taken from the upgrade request and holds for the session.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "err", err)
		return
	}
	defer func() {
		_ = conn.Close(websocket.StatusNormalClosure, "session closed")
	}()

	source := clientSource(r)
	authed := s.isAuthed(r)
	ctx := r.Context()
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		if typ != websocket.MessageText {
			continue
		}
		resp := s.serveWSMessage(ctx, data, source, authed)
		if err := writeWSResponse(ctx, conn, resp); err != nil {
			return
		}
	}
}

func (s *Server) serveWSMessage(ctx context.Context, data []byte, source string, authed bool) *RPCResponse {
	req := &RPCRequest{}
	if err := json.Unmarshal(data, req); err != nil {
		return errorResponse(nil, codeParseError, "invalid JSON payload", err.Error())
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		return errorResponse(req.ID, codeInvalidRequest, "unsupported jsonrpc version", req.JSONRPC)
	}
	if req.Method == "" {
		return errorResponse(req.ID, codeInvalidRequest, "method required", nil)
	}
	if !s.limiter.allow(source, req.Method) {
		return errorResponse(req.ID, codeRateLimited, "rate limit exceeded", source)
	}
	resp, _ := s.dispatch(ctx, req, authed)
	return resp
}

func writeWSResponse(ctx context.Context, conn *websocket.Conn, resp *RPCResponse) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
