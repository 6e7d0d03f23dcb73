package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"nhooyr.io/websocket"

	"github.com/soracho/chatsync/pkg/protocol"
)

const maxFrameSize = 32 << 20

// Config holds server settings.
type Config struct {
	// Addr is the listen address, e.g. ":8080".
	Addr string
	// JWTSecret signs and verifies bearer tokens.
	JWTSecret string
	// TokenTTL is the lifetime of minted tokens.
	TokenTTL time.Duration
	// HistoryPageSize is the get-messages page length.
	HistoryPageSize int
	// Logger is used for structured logging. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// Server accepts authenticated websocket sessions and serves the chat
// event vocabulary. It also exposes POST /login, a stand-in for the
// external identity provider, and GET /files/{id} for uploaded payloads.
type Server struct {
	addr     string
	secret   []byte
	tokenTTL time.Duration
	logger   *slog.Logger

	hub   *Hub
	rooms *Registry

	listener   net.Listener
	httpServer *http.Server
	wg         sync.WaitGroup
}

// New creates a server from the config.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ttl := cfg.TokenTTL
	if ttl == 0 {
		ttl = 72 * time.Hour
	}
	pageSize := cfg.HistoryPageSize
	if pageSize == 0 {
		pageSize = 50
	}
	return &Server{
		addr:     cfg.Addr,
		secret:   []byte(cfg.JWTSecret),
		tokenTTL: ttl,
		logger:   logger,
		hub:      NewHub(),
		rooms:    NewRegistry(pageSize),
	}
}

// Handler returns the HTTP handler serving /login, /ws, and /files/.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/login", s.handleLogin)
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/files/", s.handleFile)
	return mux
}

// Start listens and serves until Stop is called. Blocks.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = listener

	s.httpServer = &http.Server{Handler: s.Handler()}
	s.logger.Info("chat server started", "addr", listener.Addr().String())

	if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Addr returns the bound listen address.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

// Stop shuts the server down and waits for session goroutines to finish.
func (s *Server) Stop(ctx context.Context) error {
	var err error
	if s.httpServer != nil {
		err = s.httpServer.Shutdown(ctx)
	}
	s.wg.Wait()
	return err
}

// GenerateToken mints a signed bearer token for the user.
func (s *Server) GenerateToken(user protocol.Sender) (string, error) {
	claims := jwt.MapClaims{
		"username": user.Username,
		"email":    user.Email,
		"exp":      time.Now().Add(s.tokenTTL).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

func (s *Server) validateToken(tokenString string) (protocol.Sender, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.secret, nil
	})
	if err != nil {
		return protocol.Sender{}, err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return protocol.Sender{}, errors.New("invalid token")
	}
	user := protocol.Sender{}
	if username, ok := claims["username"].(string); ok {
		user.Username = username
	}
	if email, ok := claims["email"].(string); ok {
		user.Email = email
	}
	if user.Username == "" {
		return protocol.Sender{}, errors.New("token has no username claim")
	}
	return user, nil
}

type loginRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token string          `json:"token"`
	User  protocol.Sender `json:"user"`
}

// handleLogin exchanges credentials for a bearer token. The reference
// server has no user database: any non-empty username and password pair
// is accepted, standing in for the external identity provider.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid login payload", http.StatusBadRequest)
		return
	}
	if req.Username == "" || req.Password == "" {
		http.Error(w, "username and password are required", http.StatusBadRequest)
		return
	}

	user := protocol.Sender{Username: req.Username, Email: req.Email}
	token, err := s.GenerateToken(user)
	if err != nil {
		http.Error(w, "failed to mint token", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(loginResponse{Token: token, User: user})
}

// bearerToken extracts the credential from the Authorization header or
// the access_token query parameter.
func bearerToken(r *http.Request) string {
	if token := r.URL.Query().Get("access_token"); token != "" {
		return token
	}
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		http.Error(w, protocol.AuthenticationErrorMessage, http.StatusUnauthorized)
		return
	}
	user, err := s.validateToken(token)
	if err != nil {
		s.logger.Warn("rejected connection", "error", err)
		http.Error(w, protocol.AuthenticationErrorMessage, http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket accept failed", "error", err)
		return
	}
	conn.SetReadLimit(maxFrameSize)

	sess := &session{
		user:     user,
		conn:     conn,
		outgoing: make(chan []byte, outgoingBuffer),
	}
	s.hub.Register(sess)
	s.logger.Info("session opened", "user", user.Username, "remote", r.RemoteAddr)

	s.wg.Add(2)
	go s.readLoop(sess)
	go s.writeLoop(sess)
}

func (s *Server) readLoop(sess *session) {
	defer s.wg.Done()
	defer func() {
		s.hub.Unregister(sess)
		close(sess.outgoing)
		sess.conn.Close(websocket.StatusNormalClosure, "")
		s.logger.Info("session closed", "user", sess.user.Username)
	}()

	for {
		_, data, err := sess.conn.Read(context.Background())
		if err != nil {
			return
		}
		env, err := protocol.ParseEnvelope(data)
		if err != nil {
			s.sendError(sess, "malformed frame")
			continue
		}
		s.handle(sess, env)
	}
}

func (s *Server) writeLoop(sess *session) {
	defer s.wg.Done()
	for data := range sess.outgoing {
		if err := sess.conn.Write(context.Background(), websocket.MessageText, data); err != nil {
			return
		}
	}
}

func (s *Server) handle(sess *session, env *protocol.Envelope) {
	switch env.Type {
	case protocol.EventRoomList:
		s.reply(sess, env.ID, protocol.EventRoomList, protocol.RoomListResponse{Rooms: s.rooms.ListFor(sess.user.Username)})

	case protocol.EventCreateRoom:
		var req protocol.CreateRoomRequest
		if err := env.DecodeData(&req); err != nil {
			s.sendError(sess, "invalid create room payload")
			return
		}
		if _, err := s.rooms.Create(req.Name, sess.user.Username); err != nil {
			s.sendError(sess, err.Error())
			return
		}
		s.pushRoomList(sess)

	case protocol.EventJoinRoom:
		var req protocol.JoinRoomRequest
		if err := env.DecodeData(&req); err != nil {
			s.sendError(sess, "invalid join room payload")
			return
		}
		if _, err := s.rooms.Join(req.Room, sess.user.Username); err != nil {
			s.sendError(sess, err.Error())
			return
		}
		s.pushRoomList(sess)

	case protocol.EventGetMessages:
		var req protocol.GetMessagesRequest
		if err := env.DecodeData(&req); err != nil {
			s.sendError(sess, "invalid get messages payload")
			return
		}
		page, hasMore, err := s.rooms.Page(req.Room, req.Offset)
		if err != nil {
			s.sendError(sess, err.Error())
			return
		}
		s.reply(sess, env.ID, protocol.EventHistory, protocol.HistoryResponse{Room: req.Room, Messages: page, HasMore: hasMore})

	case protocol.EventChatMessage:
		s.handleChatMessage(sess, env)

	case protocol.EventFileUpload:
		s.handleFileUpload(sess, env)

	default:
		s.sendError(sess, fmt.Sprintf("unsupported event %q", env.Type))
	}
}

// handleChatMessage accepts the client-generated message id as canonical,
// asserts the sender identity from the session, records the message, and
// fans it out to the other room members. The sender gets a Delivered ack.
func (s *Server) handleChatMessage(sess *session, env *protocol.Envelope) {
	var payload protocol.ChatMessagePayload
	if err := env.DecodeData(&payload); err != nil {
		s.sendError(sess, "invalid chat message payload")
		return
	}

	msg := payload.Message
	msg.Room = payload.Room
	msg.Sender = sess.user
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	msg.Status = protocol.StatusDelivered
	if err := msg.Validate(); err != nil {
		s.sendError(sess, err.Error())
		return
	}

	if err := s.rooms.Append(msg.Room, msg); err != nil {
		s.sendError(sess, err.Error())
		return
	}

	s.broadcastMessage(msg, sess.user.Username)
	s.send(sess, "", protocol.EventMessageAck, protocol.MessageAck{ID: msg.ID, Status: protocol.StatusDelivered})
}

// handleFileUpload stores the payload, acknowledges the uploader exactly
// once with the server-assigned reference, and delivers the attachment to
// every room member (uploader included) through the normal inbound path.
func (s *Server) handleFileUpload(sess *session, env *protocol.Envelope) {
	var req protocol.FileUploadRequest
	if err := env.DecodeData(&req); err != nil {
		s.reply(sess, env.ID, protocol.EventFileUpload, protocol.FileUploadResponse{Error: "invalid file upload payload"})
		return
	}
	if req.FileName == "" || len(req.File) == 0 {
		s.reply(sess, env.ID, protocol.EventFileUpload, protocol.FileUploadResponse{Error: "file name and content are required"})
		return
	}

	fileID := s.rooms.SaveFile(req.File)
	fileURL := "/files/" + fileID
	msg := protocol.Message{
		ID:     uuid.NewString(),
		Room:   req.Room,
		Sender: sess.user,
		Attachment: &protocol.Attachment{
			FileID:   fileID,
			FileURL:  fileURL,
			FileName: req.FileName,
			FileType: req.FileType,
		},
		Timestamp: time.Now(),
		Status:    protocol.StatusDelivered,
	}
	if err := s.rooms.Append(req.Room, msg); err != nil {
		s.reply(sess, env.ID, protocol.EventFileUpload, protocol.FileUploadResponse{Error: err.Error()})
		return
	}

	s.reply(sess, env.ID, protocol.EventFileUpload, protocol.FileUploadResponse{Success: true, FileID: fileID, FileURL: fileURL})
	s.broadcastMessage(msg, "")
}

func (s *Server) broadcastMessage(msg protocol.Message, exclude string) {
	members, err := s.rooms.Members(msg.Room)
	if err != nil {
		s.logger.Warn("broadcast to unknown room", "room", msg.Room)
		return
	}
	env, err := protocol.NewEnvelope(protocol.EventNewMessage, msg)
	if err != nil {
		s.logger.Warn("failed to encode broadcast", "error", err)
		return
	}
	data, err := env.Encode()
	if err != nil {
		s.logger.Warn("failed to encode broadcast", "error", err)
		return
	}
	s.hub.Broadcast(members, data, exclude)
}

// send enqueues an envelope on one session.
func (s *Server) send(sess *session, id string, eventType protocol.EventType, data any) {
	env, err := protocol.NewEnvelope(eventType, data)
	if err != nil {
		s.logger.Warn("failed to encode event", "type", eventType, "error", err)
		return
	}
	env.ID = id
	frame, err := env.Encode()
	if err != nil {
		s.logger.Warn("failed to encode event", "type", eventType, "error", err)
		return
	}
	select {
	case sess.outgoing <- frame:
	default:
	}
}

// reply answers a correlated request.
func (s *Server) reply(sess *session, id string, eventType protocol.EventType, data any) {
	s.send(sess, id, eventType, data)
}

// pushRoomList sends an unsolicited room list update, confirming a create
// or join took effect.
func (s *Server) pushRoomList(sess *session) {
	s.send(sess, "", protocol.EventRoomList, protocol.RoomListResponse{Rooms: s.rooms.ListFor(sess.user.Username)})
}

func (s *Server) sendError(sess *session, message string) {
	s.send(sess, "", protocol.EventError, message)
}

// handleFile serves an uploaded payload by id.
func (s *Server) handleFile(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/files/")
	data, ok := s.rooms.File(id)
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Write(data)
}
