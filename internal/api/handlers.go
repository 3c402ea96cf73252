package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/farm2retail/realtime-gateway/internal/gateway"
	"github.com/farm2retail/realtime-gateway/internal/store"
	"github.com/farm2retail/realtime-gateway/pkg/logger"
)

// Notifier is the hub surface the HTTP side-channel needs: best-effort
// pushes to live connections and the online-user dump. Pushes are
// independent of any store write; neither waits for or rolls back the
// other.
type Notifier interface {
	NotifyUser(userID string, event string, payload interface{}) bool
	Broadcast(event string, payload interface{})
	OnlineUsers() []string
	OnlineCount() int
}

// PresenceHandler serves the registry diagnostics endpoint
type PresenceHandler struct {
	notifier Notifier
}

// NewPresenceHandler creates a presence handler
func NewPresenceHandler(notifier Notifier) *PresenceHandler {
	return &PresenceHandler{notifier: notifier}
}

// GetOnlineUsers handles GET /api/online-users
func (h *PresenceHandler) GetOnlineUsers(w http.ResponseWriter, r *http.Request) {
	users := h.notifier.OnlineUsers()
	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"count": len(users),
		"users": users,
	})
}

// NotificationHandler handles notification persistence endpoints
type NotificationHandler struct {
	store    store.NotificationStore
	notifier Notifier
}

// NewNotificationHandler creates a notification handler
func NewNotificationHandler(s store.NotificationStore, notifier Notifier) *NotificationHandler {
	return &NotificationHandler{store: s, notifier: notifier}
}

// List handles GET /api/notifications/{userId}
func (h *NotificationHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userId"]
	if !authorizeUser(w, r, userID) {
		return
	}

	notifications, err := h.store.ListByUser(r.Context(), userID, 50)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to retrieve notifications")
		return
	}
	respondWithJSON(w, http.StatusOK, notifications)
}

// UnreadCount handles GET /api/notifications/{userId}/unread/count
func (h *NotificationHandler) UnreadCount(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userId"]
	if !authorizeUser(w, r, userID) {
		return
	}

	count, err := h.store.UnreadCount(r.Context(), userID)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to count notifications")
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]int{"count": count})
}

// MarkRead handles PUT /api/notifications/{id}/read. The notification must
// belong to the authenticated user.
func (h *NotificationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	claims, ok := ClaimsFromContext(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "You are not authenticated")
		return
	}

	id := mux.Vars(r)["id"]
	notification, err := h.store.MarkRead(r.Context(), claims.UserID, id)
	if err != nil {
		respondWithError(w, http.StatusNotFound, "Notification not found")
		return
	}
	respondWithJSON(w, http.StatusOK, notification)
}

// MarkAllRead handles PUT /api/notifications/{userId}/read-all
func (h *NotificationHandler) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userId"]
	if !authorizeUser(w, r, userID) {
		return
	}

	if err := h.store.MarkAllRead(r.Context(), userID); err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to mark notifications read")
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]string{"message": "All notifications marked as read"})
}

// Create handles POST /api/notifications. The saved notification is also
// pushed to the target user's live connection; a user without one simply
// misses the push and finds the stored copy later.
func (h *NotificationHandler) Create(w http.ResponseWriter, r *http.Request) {
	var notification store.Notification
	if err := json.NewDecoder(r.Body).Decode(&notification); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := h.store.Save(r.Context(), &notification); err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to save notification")
		return
	}

	h.notifier.NotifyUser(notification.UserID, gateway.EventNotifyNew, &notification)

	respondWithJSON(w, http.StatusCreated, &notification)
}

// Delete handles DELETE /api/notifications/{id}
func (h *NotificationHandler) Delete(w http.ResponseWriter, r *http.Request) {
	claims, ok := ClaimsFromContext(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "You are not authenticated")
		return
	}

	id := mux.Vars(r)["id"]
	if err := h.store.Delete(r.Context(), claims.UserID, id); err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to delete notification")
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]string{"message": "Notification deleted"})
}

// ClearRead handles DELETE /api/notifications/{userId}/clear-read
func (h *NotificationHandler) ClearRead(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userId"]
	if !authorizeUser(w, r, userID) {
		return
	}

	if err := h.store.ClearRead(r.Context(), userID); err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to clear notifications")
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]string{"message": "Read notifications cleared"})
}

// MessageHandler handles chat message persistence endpoints
type MessageHandler struct {
	messages      store.MessageStore
	notifications store.NotificationStore
	notifier      Notifier
}

// NewMessageHandler creates a message handler
func NewMessageHandler(messages store.MessageStore, notifications store.NotificationStore, notifier Notifier) *MessageHandler {
	return &MessageHandler{
		messages:      messages,
		notifications: notifications,
		notifier:      notifier,
	}
}

// Send handles POST /api/messages: persists the message, then best-effort
// creates a notification for the receiver and pushes both over live
// connections. Each step fails independently; none rolls back another.
func (h *MessageHandler) Send(w http.ResponseWriter, r *http.Request) {
	var msg store.ChatMessage
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := h.messages.Save(r.Context(), &msg); err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to save message")
		return
	}

	notification := &store.Notification{
		UserID:  msg.ReceiverID,
		Type:    gateway.TypeNewMessage,
		Title:   "New Message",
		Message: "You have a new message",
		Link:    "/messages",
	}
	if err := h.notifications.Save(r.Context(), notification); err != nil {
		logger.Error("Failed to create message notification",
			logger.ErrorField(err),
			logger.String("receiver_id", msg.ReceiverID),
		)
		logger.StoreWriteErrors.WithLabelValues("notifications").Inc()
	} else {
		h.notifier.NotifyUser(msg.ReceiverID, gateway.EventNotifyNewMessage, notification)
	}

	h.notifier.Broadcast(gateway.EventChatNewMessage, &msg)

	respondWithJSON(w, http.StatusCreated, &msg)
}

// GetConversation handles GET /api/messages/conversation/{userId}/{otherUserId}
func (h *MessageHandler) GetConversation(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	userID := vars["userId"]
	otherUserID := vars["otherUserId"]
	if !authorizeUser(w, r, userID) {
		return
	}

	messages, err := h.messages.Conversation(r.Context(), userID, otherUserID, 100)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to retrieve conversation")
		return
	}
	respondWithJSON(w, http.StatusOK, messages)
}

// UnreadTotal handles GET /api/messages/unread/{userId}
func (h *MessageHandler) UnreadTotal(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userId"]
	if !authorizeUser(w, r, userID) {
		return
	}

	count, err := h.messages.UnreadTotal(r.Context(), userID)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to count messages")
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]int{"count": count})
}

// MarkConversationRead handles PUT /api/messages/read/{senderId}/{receiverId}
func (h *MessageHandler) MarkConversationRead(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	senderID := vars["senderId"]
	receiverID := vars["receiverId"]
	if !authorizeUser(w, r, receiverID) {
		return
	}

	if err := h.messages.MarkConversationRead(r.Context(), receiverID, senderID); err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to mark conversation read")
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]string{"message": "Conversation marked as read"})
}

// Conversations handles GET /api/messages/conversations/{userId}: one entry
// per chat partner with the latest message and the user's unread count,
// newest conversation first
func (h *MessageHandler) Conversations(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userId"]
	if !authorizeUser(w, r, userID) {
		return
	}

	summaries, err := h.messages.Conversations(r.Context(), userID)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to retrieve conversations")
		return
	}
	respondWithJSON(w, http.StatusOK, summaries)
}

// CheckConversation handles GET /api/messages/check-conversation/{userId}/{otherUserId}.
// Any authenticated user may ask; the answer is just an existence bit.
func (h *MessageHandler) CheckConversation(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	userID := vars["userId"]
	otherUserID := vars["otherUserId"]

	exists, err := h.messages.HasConversation(r.Context(), userID, otherUserID)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to check conversation")
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"exists":      exists,
		"otherUserId": otherUserID,
	})
}

// Delete handles DELETE /api/messages/{id}
func (h *MessageHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.messages.Delete(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondWithError(w, http.StatusNotFound, "Message not found")
			return
		}
		respondWithError(w, http.StatusInternalServerError, "Failed to delete message")
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]string{"message": "Message deleted"})
}

// authorizeUser allows the request only when the token belongs to userID or
// carries the admin claim
func authorizeUser(w http.ResponseWriter, r *http.Request, userID string) bool {
	claims, ok := ClaimsFromContext(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "You are not authenticated")
		return false
	}
	if claims.UserID != userID && !claims.IsAdmin {
		respondWithError(w, http.StatusForbidden, "You are not allowed to do that")
		return false
	}
	return true
}

// RegisterRoutes wires the side-channel endpoints onto a router mounted
// under /api
func RegisterRoutes(router *mux.Router, auth *gateway.AuthManager, presence *PresenceHandler, notifications *NotificationHandler, messages *MessageHandler) {
	router.HandleFunc("/online-users", presence.GetOnlineUsers).Methods("GET")

	authed := ChainMiddleware(AuthMiddleware(auth))

	n := router.PathPrefix("/notifications").Subrouter()
	n.Handle("", authed(http.HandlerFunc(notifications.Create))).Methods("POST")
	n.Handle("/{userId}", authed(http.HandlerFunc(notifications.List))).Methods("GET")
	n.Handle("/{userId}/unread/count", authed(http.HandlerFunc(notifications.UnreadCount))).Methods("GET")
	n.Handle("/{id}/read", authed(http.HandlerFunc(notifications.MarkRead))).Methods("PUT")
	n.Handle("/{userId}/read-all", authed(http.HandlerFunc(notifications.MarkAllRead))).Methods("PUT")
	n.Handle("/{userId}/clear-read", authed(http.HandlerFunc(notifications.ClearRead))).Methods("DELETE")
	n.Handle("/{id}", authed(http.HandlerFunc(notifications.Delete))).Methods("DELETE")

	m := router.PathPrefix("/messages").Subrouter()
	m.Handle("", authed(http.HandlerFunc(messages.Send))).Methods("POST")
	m.Handle("/conversation/{userId}/{otherUserId}", authed(http.HandlerFunc(messages.GetConversation))).Methods("GET")
	m.Handle("/conversations/{userId}", authed(http.HandlerFunc(messages.Conversations))).Methods("GET")
	m.Handle("/check-conversation/{userId}/{otherUserId}", authed(http.HandlerFunc(messages.CheckConversation))).Methods("GET")
	m.Handle("/unread/{userId}", authed(http.HandlerFunc(messages.UnreadTotal))).Methods("GET")
	m.Handle("/read/{senderId}/{receiverId}", authed(http.HandlerFunc(messages.MarkConversationRead))).Methods("PUT")
	m.Handle("/{id}", authed(http.HandlerFunc(messages.Delete))).Methods("DELETE")
}
