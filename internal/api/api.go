// Package api is the REST surface of chatify: accounts, the message write
// path, and presence queries. Sending a message stores it first and only
// then hands it to the ingress bridge for realtime delivery; the HTTP
// response never depends on that delivery.
package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/Tyrowin/chatify/internal/auth"
	"github.com/Tyrowin/chatify/internal/bridge"
	"github.com/Tyrowin/chatify/internal/logging"
	"github.com/Tyrowin/chatify/internal/store"
)

// PresenceLookup reports whether a user is online anywhere in the
// deployment and on which node.
type PresenceLookup interface {
	Lookup(ctx context.Context, userID string) (node string, online bool, err error)
}

// Options wires the API to its collaborators. Online lists the users with a
// registered realtime session in this process; Presence, when set, answers
// per-user queries from the shared presence mirror instead.
type Options struct {
	Store         store.Store
	Bridge        bridge.Bridge
	Authenticator auth.Authenticator
	Issuer        auth.Issuer
	Online        func() []string
	Presence      PresenceLookup
	SecureCookies bool
	// PasswordCost is the bcrypt cost for new accounts; zero means
	// bcrypt.DefaultCost.
	PasswordCost int
	Log          *zap.Logger
}

// Handler serves the /api routes.
type Handler struct {
	store         store.Store
	bridge        bridge.Bridge
	auth          auth.Authenticator
	issuer        auth.Issuer
	online        func() []string
	lookup        PresenceLookup
	secureCookies bool
	passwordCost  int
	log           *zap.Logger
}

// New builds the gin engine serving /api.
func New(opts Options) *gin.Engine {
	h := &Handler{
		store:         opts.Store,
		bridge:        opts.Bridge,
		auth:          opts.Authenticator,
		issuer:        opts.Issuer,
		online:        opts.Online,
		lookup:        opts.Presence,
		secureCookies: opts.SecureCookies,
		passwordCost:  opts.PasswordCost,
		log:           logging.OrNop(opts.Log).Named("api"),
	}
	if h.passwordCost == 0 {
		h.passwordCost = bcrypt.DefaultCost
	}

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(h.log))

	api := r.Group("/api")

	account := api.Group("/auth")
	account.POST("/signup", h.signup)
	account.POST("/login", h.login)
	account.POST("/logout", h.logout)
	account.GET("/check", h.protect(), h.check)
	account.PUT("/update-profile", h.protect(), h.updateProfile)

	messages := api.Group("/messages", h.protect())
	messages.GET("/contacts", h.contacts)
	messages.GET("/chats", h.chatPartners)
	messages.GET("/:id", h.conversation)
	messages.POST("/send/:id", h.send)

	presence := api.Group("/presence", h.protect())
	presence.GET("/online", h.presence)
	presence.GET("/users/:id", h.presenceOf)

	return r
}

func (h *Handler) contacts(c *gin.Context) {
	me := currentUser(c)
	users, err := h.store.ListUsersExcept(c.Request.Context(), me.ID)
	if err != nil {
		h.internalError(c, "contacts", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"filteredUsers": nonNil(users)})
}

func (h *Handler) chatPartners(c *gin.Context) {
	me := currentUser(c)
	users, err := h.store.ChatPartners(c.Request.Context(), me.ID)
	if err != nil {
		h.internalError(c, "chat partners", err)
		return
	}
	c.JSON(http.StatusOK, nonNil(users))
}

func (h *Handler) conversation(c *gin.Context) {
	me := currentUser(c)
	msgs, err := h.store.Conversation(c.Request.Context(), me.ID, c.Param("id"))
	if err != nil {
		h.internalError(c, "conversation", err)
		return
	}
	c.JSON(http.StatusOK, nonNil(msgs))
}

type sendRequest struct {
	Text  string `json:"text"`
	Image string `json:"image"`
}

func (h *Handler) send(c *gin.Context) {
	var req sendRequest
	if !bindOptionalJSON(c, &req) {
		return
	}

	me := currentUser(c)
	receiverID := c.Param("id")

	if req.Text == "" && req.Image == "" {
		abort(c, http.StatusBadRequest, "Text or image is required")
		return
	}
	if receiverID == me.ID {
		abort(c, http.StatusBadRequest, "Cannot send message to yourself.")
		return
	}

	ctx := c.Request.Context()
	exists, err := h.store.UserExists(ctx, receiverID)
	if err != nil {
		h.internalError(c, "receiver lookup", err)
		return
	}
	if !exists {
		abort(c, http.StatusNotFound, "Receiver not found")
		return
	}

	msg, err := h.store.SaveMessage(ctx, store.Message{
		SenderID:   me.ID,
		ReceiverID: receiverID,
		Text:       req.Text,
		Image:      req.Image,
	})
	if err != nil {
		h.internalError(c, "save message", err)
		return
	}

	if h.bridge != nil {
		h.bridge.Deliver(context.WithoutCancel(ctx), msg)
	}

	c.JSON(http.StatusCreated, msg)
}

func (h *Handler) presence(c *gin.Context) {
	users := []string{}
	if h.online != nil {
		users = nonNil(h.online())
	}
	c.JSON(http.StatusOK, gin.H{"users": users})
}

// presenceOf reports one user's presence. With a shared mirror the answer
// covers every node; otherwise only this process's sessions are consulted.
func (h *Handler) presenceOf(c *gin.Context) {
	userID := c.Param("id")

	if h.lookup != nil {
		node, online, err := h.lookup.Lookup(c.Request.Context(), userID)
		if err != nil {
			h.internalError(c, "presence lookup", err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"userId": userID, "online": online, "node": node})
		return
	}

	online := false
	if h.online != nil {
		for _, id := range h.online() {
			if id == userID {
				online = true
				break
			}
		}
	}
	c.JSON(http.StatusOK, gin.H{"userId": userID, "online": online})
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
