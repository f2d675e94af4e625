package gateway

import (
	"encoding/json"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/convoim/convo/internal/types"
)

type RegisterRequest struct {
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	Password    string `json:"password"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type UpdateAccountRequest struct {
	DisplayName string `json:"display_name"`
	AvatarRef   string `json:"avatar_ref"`
}

type StartConversationRequest struct {
	ParticipantIds []string `json:"participant_ids"`
}

func (g *Gateway) writeJson(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.log.Printf("json encode: %v", err)
	}
}

func (g *Gateway) register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		g.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if req.Email == "" || req.DisplayName == "" || req.Password == "" {
		errResp := NewBadRequestError()
		g.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	id, err := g.idp.Register(req.Email, req.DisplayName, req.Password)
	if err != nil {
		errResp := mapError(err)
		g.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	g.writeJson(w, http.StatusCreated, types.User{
		Id:          id.UserId,
		DisplayName: id.DisplayName,
		AvatarRef:   id.AvatarRef,
	})
}

func (g *Gateway) login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		g.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if req.Email == "" || req.Password == "" {
		errResp := NewBadRequestError()
		g.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	id, err := g.idp.Authenticate(req.Email, req.Password)
	if err != nil {
		errResp := mapError(err)
		g.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	token, err := g.createJwtForSession(id.UserId, defaultJwtExpiration)
	if err != nil {
		errResp := NewInternalServerError(err)
		g.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	http.SetCookie(w, createJwtCookie(token, defaultJwtExpiration))

	g.writeJson(w, http.StatusOK, types.User{
		Id:          id.UserId,
		DisplayName: id.DisplayName,
		AvatarRef:   id.AvatarRef,
	})
}

func (g *Gateway) logout(w http.ResponseWriter, _ *http.Request) {
	// instruct browser to delete cookie by overwriting it with an expired token
	http.SetCookie(w, createJwtCookie("", time.Duration(time.Unix(0, 0).Unix())))
	w.WriteHeader(http.StatusNoContent)
}

func (g *Gateway) session(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		g.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	id, err := g.idp.Lookup(userId)
	if err != nil {
		errResp := mapError(err)
		g.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	g.writeJson(w, http.StatusOK, types.User{
		Id:          id.UserId,
		DisplayName: id.DisplayName,
		AvatarRef:   id.AvatarRef,
	})
}

func (g *Gateway) updateAccount(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		g.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var req UpdateAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		g.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if req.DisplayName == "" {
		errResp := NewBadRequestError()
		g.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	id, err := g.idp.UpdateProfile(userId, req.DisplayName, req.AvatarRef)
	if err != nil {
		errResp := mapError(err)
		g.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	g.writeJson(w, http.StatusOK, types.User{
		Id:          id.UserId,
		DisplayName: id.DisplayName,
		AvatarRef:   id.AvatarRef,
	})
}

func (g *Gateway) startConversation(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		g.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var req StartConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		g.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	conv, err := g.msg.StartConversation(userId, req.ParticipantIds)
	if err != nil {
		errResp := mapError(err)
		g.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	g.writeJson(w, http.StatusCreated, conv)
}

func (g *Gateway) listConversations(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		g.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	conversations, err := g.msg.List(r.Context(), userId)
	if err != nil {
		g.log.Println("list conversations:", err)
		errResp := mapError(err)
		g.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	g.writeJson(w, http.StatusOK, conversations)
}

func (g *Gateway) getMessages(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		g.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	conversationId := r.URL.Query().Get("conversation_id")
	if conversationId == "" {
		errResp := NewBadRequestError()
		g.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var before, limit int
	var err error

	beforeStr := r.URL.Query().Get("before")
	if beforeStr != "" {
		before, err = strconv.Atoi(beforeStr)
		if err != nil {
			errResp := NewBadRequestError()
			g.writeJson(w, errResp.StatusCode, errResp)
			return
		}
	}

	limitStr := r.URL.Query().Get("limit")
	if limitStr != "" {
		limit, err = strconv.Atoi(limitStr)
		if err != nil {
			errResp := NewBadRequestError()
			g.writeJson(w, errResp.StatusCode, errResp)
			return
		}
	}

	messages, err := g.msg.History(r.Context(), userId, conversationId, before, limit)
	if err != nil {
		errResp := mapError(err)
		g.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	g.writeJson(w, http.StatusOK, messages)
}

func (g *Gateway) serveWs(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		g.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if _, err := g.idp.Lookup(userId); err != nil {
		errResp := mapError(err)
		g.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}

			return slices.Contains(g.allowedOrigins, origin)
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.log.Println("error upgrading connection:", err)
		return
	}

	sess := newSession(userId, conn, g)
	go sess.readLoop()
}
