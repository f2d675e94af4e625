package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/convoim/convo/internal/hub"
)

const (
	pongWait       = 60 * time.Second
	maxMessageSize = 4096
)

// ClientFrame is one request on the push channel. Exactly one of the
// operation fields is set; Id is echoed on the response so clients
// can correlate.
type ClientFrame struct {
	Id        int               `json:"id,omitempty"`
	Send      *SendRequest      `json:"send,omitempty"`
	Seen      *SeenRequest      `json:"seen,omitempty"`
	Delivered *DeliveredRequest `json:"delivered,omitempty"`
}

type SendRequest struct {
	ConversationId string `json:"conversation_id"`
	Content        string `json:"content"`
}

type SeenRequest struct {
	ConversationId string `json:"conversation_id"`
	MessageId      string `json:"message_id"`
}

type DeliveredRequest struct {
	MessageId string `json:"message_id"`
}

type Response struct {
	Id           int       `json:"id,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
	ResponseCode int       `json:"response_code"`
	Error        string    `json:"error,omitempty"`
	Data         any       `json:"data,omitempty"`
}

func okResponse(id int, data any) *Response {
	return &Response{
		Id:           id,
		Timestamp:    time.Now().UTC(),
		ResponseCode: http.StatusOK,
		Data:         data,
	}
}

func errResponse(id int, apiErr *ApiError) *Response {
	return &Response{
		Id:           id,
		Timestamp:    time.Now().UTC(),
		ResponseCode: apiErr.StatusCode,
		Error:        apiErr.Message,
	}
}

// session couples a WebSocket's read side to the messaging service.
// The write side belongs to the hub connection, so pushes and
// responses share one ordered queue.
type session struct {
	userId string
	ws     *websocket.Conn
	gw     *Gateway
	conn   *hub.Connection
}

func newSession(userId string, ws *websocket.Conn, g *Gateway) *session {
	return &session{
		userId: userId,
		ws:     ws,
		gw:     g,
		conn:   g.hub.Subscribe(userId, ws),
	}
}

func (s *session) readLoop() {
	defer func() {
		s.gw.hub.Unsubscribe(s.conn)
		s.gw.log.Printf("session for %q exiting", s.userId)
	}()

	s.ws.SetReadLimit(maxMessageSize)
	s.ws.SetReadDeadline(time.Now().Add(pongWait))
	s.ws.SetPongHandler(func(string) error { s.ws.SetReadDeadline(time.Now().Add(pongWait)); return nil })

	for {
		_, raw, err := s.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				s.gw.log.Printf("ws: read: %v", err)
			}
			return
		}

		var frame ClientFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			s.gw.log.Println("error parsing frame:", err)
			s.respond(errResponse(0, NewBadRequestError()))
			continue
		}

		switch {
		case frame.Send != nil:
			s.handleSend(&frame)
		case frame.Seen != nil:
			s.handleSeen(&frame)
		case frame.Delivered != nil:
			s.handleDelivered(&frame)
		default:
			s.respond(errResponse(frame.Id, NewBadRequestError()))
		}
	}
}

func (s *session) handleSend(frame *ClientFrame) {
	msg, err := s.gw.msg.Send(context.Background(), s.userId, frame.Send.ConversationId, frame.Send.Content, s.conn)
	if err != nil {
		s.respond(errResponse(frame.Id, mapError(err)))
		return
	}

	s.respond(okResponse(frame.Id, msg))
}

func (s *session) handleSeen(frame *ClientFrame) {
	err := s.gw.msg.MarkSeen(context.Background(), s.userId, frame.Seen.ConversationId, frame.Seen.MessageId)
	if err != nil {
		s.respond(errResponse(frame.Id, mapError(err)))
		return
	}

	s.respond(okResponse(frame.Id, nil))
}

func (s *session) handleDelivered(frame *ClientFrame) {
	err := s.gw.msg.MarkDelivered(context.Background(), s.userId, frame.Delivered.MessageId)
	if err != nil {
		s.respond(errResponse(frame.Id, mapError(err)))
		return
	}

	s.respond(okResponse(frame.Id, nil))
}

func (s *session) respond(resp *Response) {
	if !s.conn.Enqueue(resp) {
		s.gw.log.Printf("failed to queue response for %q", s.userId)
	}
}
