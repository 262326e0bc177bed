package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/ukydev/drowsiness-monitor/internal/auth"
	"github.com/ukydev/drowsiness-monitor/internal/db"
	"github.com/ukydev/drowsiness-monitor/internal/models"
)

// AuthHandler handles authentication requests
type AuthHandler struct {
	authService    *auth.Service
	userCollection db.UserCollection
	reset          *auth.PasswordReset
}

// NewAuthHandler creates a new authentication handler. Password reset codes
// are kept in memory and written to the log until WithPasswordReset replaces them.
func NewAuthHandler(authService *auth.Service, userCollection db.UserCollection) *AuthHandler {
	return &AuthHandler{
		authService:    authService,
		userCollection: userCollection,
		reset:          auth.NewPasswordReset(auth.NewMemoryResetCodeStore(), auth.LogSender{}, 0),
	}
}

// WithPasswordReset sets the reset code flow used by ForgotPassword and ResetPassword.
func (h *AuthHandler) WithPasswordReset(reset *auth.PasswordReset) *AuthHandler {
	h.reset = reset
	return h
}

// readLogin accepts either a JSON body {email, password} or an OAuth2 password
// form where the email travels in the username field.
func readLogin(r *http.Request) (models.LoginRequest, error) {
	var loginReq models.LoginRequest
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/x-www-form-urlencoded") {
		if err := r.ParseForm(); err != nil {
			return loginReq, err
		}
		loginReq.Email = r.PostForm.Get("username")
		if loginReq.Email == "" {
			loginReq.Email = r.PostForm.Get("email")
		}
		loginReq.Password = r.PostForm.Get("password")
		return loginReq, nil
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		return loginReq, err
	}
	err = json.Unmarshal(body, &loginReq)
	return loginReq, err
}

// Login handles user login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	loginReq, err := readLogin(r)
	if err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	// Validate input
	if loginReq.Email == "" || loginReq.Password == "" {
		http.Error(w, "Email and password are required", http.StatusBadRequest)
		return
	}

	// Find user by email
	user, err := h.userCollection.FindUserByEmail(r.Context(), auth.NormalizeEmail(loginReq.Email))
	if err != nil {
		w.Header().Set("WWW-Authenticate", "Bearer")
		http.Error(w, "Incorrect email or password", http.StatusUnauthorized)
		return
	}

	// Check if user is active
	if !user.IsActive {
		http.Error(w, "Account is deactivated", http.StatusUnauthorized)
		return
	}

	// Verify password
	if !h.authService.CheckPassword(loginReq.Password, user.PasswordHash) {
		w.Header().Set("WWW-Authenticate", "Bearer")
		http.Error(w, "Incorrect email or password", http.StatusUnauthorized)
		return
	}

	// Generate tokens
	token, err := h.authService.GenerateToken(user)
	if err != nil {
		http.Error(w, "Failed to generate token", http.StatusInternalServerError)
		return
	}

	refreshToken, err := h.authService.GenerateRefreshToken()
	if err != nil {
		http.Error(w, "Failed to generate refresh token", http.StatusInternalServerError)
		return
	}

	// Update last login
	if err := h.userCollection.UpdateLastLogin(r.Context(), user.ID); err != nil {
		// Log error but don't fail the login
		log.WithError(err).WithField("user_id", user.ID).Error("Failed to update last login")
	}

	writeJSON(w, http.StatusOK, models.LoginResponse{
		AccessToken:  token,
		TokenType:    "bearer",
		RefreshToken: refreshToken,
		User:         *user,
	})
}

// Register handles user registration
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "Failed to read request body", http.StatusBadRequest)
		return
	}

	var registerReq models.RegisterRequest
	if err := json.Unmarshal(body, &registerReq); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	registerReq.Email = auth.NormalizeEmail(registerReq.Email)

	// Validate input
	if err := h.authService.ValidateEmail(registerReq.Email); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.authService.ValidatePassword(registerReq.Password); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	// Check if email already exists
	if _, err := h.userCollection.FindUserByEmail(r.Context(), registerReq.Email); err == nil {
		http.Error(w, "Email already registered", http.StatusBadRequest)
		return
	}

	// Hash password
	passwordHash, err := h.authService.HashPassword(registerReq.Password)
	if err != nil {
		http.Error(w, "Failed to hash password", http.StatusInternalServerError)
		return
	}

	// Save user to database
	user, err := h.userCollection.InsertUser(r.Context(), models.User{
		Email:        registerReq.Email,
		PasswordHash: passwordHash,
		FullName:     registerReq.FullName,
		PhoneNumber:  registerReq.PhoneNumber,
		AvatarURL:    registerReq.AvatarURL,
	})
	if errors.Is(err, db.ErrDuplicateEmail) {
		http.Error(w, "Email already registered", http.StatusBadRequest)
		return
	}
	if err != nil {
		log.WithError(err).Error("Failed to create user")
		http.Error(w, "Failed to create user", http.StatusInternalServerError)
		return
	}

	log.WithField("user_id", user.ID).Info("User registered")
	writeJSON(w, http.StatusCreated, user)
}

// GetProfile returns the current user's profile
func (h *AuthHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	claims, ok := currentUser(w, r)
	if !ok {
		return
	}

	user, err := h.userCollection.FindUserByID(r.Context(), claims.UserID)
	if err != nil {
		http.Error(w, "User not found", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, user)
}

// UpdateProfile updates the current user's profile
func (h *AuthHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	claims, ok := currentUser(w, r)
	if !ok {
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "Failed to read request body", http.StatusBadRequest)
		return
	}

	var updateReq models.UpdateUserRequest
	if err := json.Unmarshal(body, &updateReq); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	// Get current user
	user, err := h.userCollection.FindUserByID(r.Context(), claims.UserID)
	if err != nil {
		http.Error(w, "User not found", http.StatusNotFound)
		return
	}

	updateReq.Apply(user)

	if err := h.userCollection.UpdateUser(r.Context(), *user); err != nil {
		http.Error(w, "Failed to update user", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, user)
}

// ChangePassword changes the current user's password
func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	claims, ok := currentUser(w, r)
	if !ok {
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "Failed to read request body", http.StatusBadRequest)
		return
	}

	var passwordReq struct {
		CurrentPassword string `json:"current_password"`
		NewPassword     string `json:"new_password"`
	}

	if err := json.Unmarshal(body, &passwordReq); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	if passwordReq.CurrentPassword == "" || passwordReq.NewPassword == "" {
		http.Error(w, "Current password and new password are required", http.StatusBadRequest)
		return
	}

	// Validate new password
	if err := h.authService.ValidatePassword(passwordReq.NewPassword); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	// Get current user
	user, err := h.userCollection.FindUserByID(r.Context(), claims.UserID)
	if err != nil {
		http.Error(w, "User not found", http.StatusNotFound)
		return
	}

	// Verify current password
	if !h.authService.CheckPassword(passwordReq.CurrentPassword, user.PasswordHash) {
		http.Error(w, "Current password is incorrect", http.StatusUnauthorized)
		return
	}

	// Hash new password
	newPasswordHash, err := h.authService.HashPassword(passwordReq.NewPassword)
	if err != nil {
		http.Error(w, "Failed to hash password", http.StatusInternalServerError)
		return
	}

	// Update password
	user.PasswordHash = newPasswordHash
	if err := h.userCollection.UpdateUser(r.Context(), *user); err != nil {
		http.Error(w, "Failed to update password", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "Password changed successfully"})
}

// ForgotPassword issues a reset code for a registered email
func (h *AuthHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req models.ForgotPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	email := auth.NormalizeEmail(req.Email)
	if email == "" {
		http.Error(w, "Email is required", http.StatusBadRequest)
		return
	}

	if _, err := h.userCollection.FindUserByEmail(r.Context(), email); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			http.Error(w, "Email not found", http.StatusNotFound)
			return
		}
		log.WithError(err).Error("Failed to look up user for password reset")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	if err := h.reset.Issue(r.Context(), email); err != nil {
		log.WithError(err).WithField("email", email).Error("Failed to issue password reset code")
		http.Error(w, "Failed to send email", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "Password reset code sent to email"})
}

// ResetPassword replaces the password of the account a valid reset code was issued for
func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req models.ResetPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if req.Email == "" || req.Code == "" || req.NewPassword == "" {
		http.Error(w, "Email, code and new password are required", http.StatusBadRequest)
		return
	}
	if err := h.authService.ValidatePassword(req.NewPassword); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.reset.Redeem(r.Context(), req.Email, req.Code); err != nil {
		if errors.Is(err, auth.ErrInvalidResetCode) {
			http.Error(w, "Invalid or expired verification code", http.StatusBadRequest)
			return
		}
		log.WithError(err).Error("Failed to redeem password reset code")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	user, err := h.userCollection.FindUserByEmail(r.Context(), auth.NormalizeEmail(req.Email))
	if err != nil {
		http.Error(w, "User not found", http.StatusNotFound)
		return
	}

	hash, err := h.authService.HashPassword(req.NewPassword)
	if err != nil {
		http.Error(w, "Failed to hash password", http.StatusInternalServerError)
		return
	}
	user.PasswordHash = hash
	if err := h.userCollection.UpdateUser(r.Context(), *user); err != nil {
		http.Error(w, "Failed to update password", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "Password updated successfully"})
}
