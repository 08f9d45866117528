package api

import (
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/Tyrowin/chatify/internal/auth"
	"github.com/Tyrowin/chatify/internal/store"
)

const minPasswordLen = 6

var validate = validator.New()

type signupRequest struct {
	FullName string `json:"fullName"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type profileRequest struct {
	ProfilePic string `json:"profilePic"`
}

func (h *Handler) signup(c *gin.Context) {
	var req signupRequest
	if !bindOptionalJSON(c, &req) {
		return
	}
	req.FullName = strings.TrimSpace(req.FullName)
	req.Email = normalizeEmail(req.Email)

	switch {
	case req.FullName == "" || req.Email == "" || req.Password == "":
		abort(c, http.StatusBadRequest, "All fields are required")
		return
	case len(req.Password) < minPasswordLen:
		abort(c, http.StatusBadRequest, "Password must be at least 6 characters")
		return
	case validate.Var(req.Email, "email") != nil:
		abort(c, http.StatusBadRequest, "Invalid email format")
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), h.passwordCost)
	if errors.Is(err, bcrypt.ErrPasswordTooLong) {
		abort(c, http.StatusBadRequest, "Password must be at most 72 bytes")
		return
	}
	if err != nil {
		h.internalError(c, "hash password", err)
		return
	}

	user, err := h.store.CreateUser(c.Request.Context(), store.User{FullName: req.FullName, Email: req.Email}, string(hash))
	switch {
	case errors.Cause(err) == store.ErrEmailTaken:
		abort(c, http.StatusBadRequest, "Email already exists")
		return
	case err != nil:
		h.internalError(c, "create user", err)
		return
	}

	if !h.startSession(c, user) {
		return
	}
	h.log.Info("User signed up", zap.String("user", user.ID))
	c.JSON(http.StatusCreated, user)
}

func (h *Handler) login(c *gin.Context) {
	var req loginRequest
	if !bindOptionalJSON(c, &req) {
		return
	}
	if req.Email == "" || req.Password == "" {
		abort(c, http.StatusBadRequest, "Email and password are required")
		return
	}

	user, hash, err := h.store.UserByEmail(c.Request.Context(), normalizeEmail(req.Email))
	switch {
	case errors.Cause(err) == store.ErrNotFound:
		abort(c, http.StatusBadRequest, "Invalid credentials")
		return
	case err != nil:
		h.internalError(c, "find user", err)
		return
	}
	if hash == "" || bcrypt.CompareHashAndPassword([]byte(hash), []byte(req.Password)) != nil {
		abort(c, http.StatusBadRequest, "Invalid credentials")
		return
	}

	if !h.startSession(c, user) {
		return
	}
	c.JSON(http.StatusOK, user)
}

func (h *Handler) logout(c *gin.Context) {
	h.setSessionCookie(c, "", -1)
	c.JSON(http.StatusOK, gin.H{"message": "Logged out successfully"})
}

func (h *Handler) check(c *gin.Context) {
	c.JSON(http.StatusOK, currentUser(c))
}

func (h *Handler) updateProfile(c *gin.Context) {
	var req profileRequest
	if !bindOptionalJSON(c, &req) {
		return
	}
	if strings.TrimSpace(req.ProfilePic) == "" {
		abort(c, http.StatusBadRequest, "Profile pic is required")
		return
	}

	user, err := h.store.UpdateProfilePic(c.Request.Context(), currentUser(c).ID, req.ProfilePic)
	if err != nil {
		h.internalError(c, "update profile", err)
		return
	}
	c.JSON(http.StatusOK, user)
}

// startSession issues a token for user and sets it as the session cookie.
func (h *Handler) startSession(c *gin.Context, user store.User) bool {
	if h.issuer == nil {
		h.internalError(c, "issue token", errors.New("no token issuer configured"))
		return false
	}
	token, exp, err := h.issuer.Issue(user.ID)
	if err != nil {
		h.internalError(c, "issue token", err)
		return false
	}
	h.setSessionCookie(c, token, int(time.Until(exp).Seconds()))
	return true
}

func (h *Handler) setSessionCookie(c *gin.Context, value string, maxAge int) {
	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(auth.CookieName, value, maxAge, "/", "", h.secureCookies, true)
}

// bindOptionalJSON decodes the body into v. An empty body leaves v zero;
// a malformed one answers 400.
func bindOptionalJSON(c *gin.Context, v any) bool {
	if err := c.ShouldBindJSON(v); err != nil && !errors.Is(err, io.EOF) {
		abort(c, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
