package handlers

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/placelinkhq/placelink-backend/internal/database"
	"github.com/placelinkhq/placelink-backend/internal/models"
	"github.com/placelinkhq/placelink-backend/internal/services"
	"github.com/placelinkhq/placelink-backend/pkg/utils"
)

// SignupRequest represents the request to create a portal account
type SignupRequest struct {
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	Role        string `json:"role,omitempty"`
	Password    string `json:"password"`
}

// SigninRequest represents the sign-in request
type SigninRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// AuthResponse is the common auth envelope
type AuthResponse struct {
	Success bool         `json:"success"`
	Message string       `json:"message,omitempty"`
	Token   string       `json:"token,omitempty"`
	User    *models.User `json:"user,omitempty"`
}

// extractBearerToken pulls the token out of an "Authorization: Bearer" header.
func extractBearerToken(header string) string {
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

// getCurrentUser gets the current user from session token (nil if not authenticated)
func getCurrentUser(r *http.Request) (*uuid.UUID, error) {
	token := extractBearerToken(r.Header.Get("Authorization"))
	if token == "" {
		return nil, nil
	}

	userID, ok, err := services.ValidateSession(token)
	if err != nil || !ok {
		return nil, nil
	}

	return &userID, nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// Signup creates a portal account. The messaging core only needs an
// identity to exist; profile CRUD beyond this lives elsewhere.
func Signup(w http.ResponseWriter, r *http.Request) {
	var req SignupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, AuthResponse{Success: false, Message: "Invalid request body"})
		return
	}

	req.Username = strings.ToLower(strings.TrimSpace(req.Username))
	req.DisplayName = strings.TrimSpace(req.DisplayName)
	if req.Username == "" || req.DisplayName == "" {
		writeJSON(w, http.StatusBadRequest, AuthResponse{Success: false, Message: "Username and display name are required"})
		return
	}
	if len(req.Password) < 8 {
		writeJSON(w, http.StatusBadRequest, AuthResponse{Success: false, Message: "Password must be at least 8 characters"})
		return
	}

	role := req.Role
	switch role {
	case "":
		role = models.RoleStudent
	case models.RoleStudent, models.RoleRecruiter:
	default:
		writeJSON(w, http.StatusBadRequest, AuthResponse{Success: false, Message: "Invalid role"})
		return
	}

	var existing string
	err := database.PostgresDB.QueryRow(
		"SELECT username FROM users WHERE LOWER(username) = $1", req.Username,
	).Scan(&existing)
	if err == nil {
		writeJSON(w, http.StatusConflict, AuthResponse{Success: false, Message: "Username is already taken"})
		return
	} else if err != sql.ErrNoRows {
		writeJSON(w, http.StatusInternalServerError, AuthResponse{Success: false, Message: "Database error"})
		return
	}

	hashedPassword, err := utils.HashPassword(req.Password)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, AuthResponse{Success: false, Message: "Failed to hash password"})
		return
	}

	userID := uuid.New()
	_, err = database.PostgresDB.Exec(`
		INSERT INTO users (id, username, display_name, role, password_hash, created_at, is_active)
		VALUES ($1, $2, $3, $4, $5, NOW(), TRUE)
	`, userID, req.Username, req.DisplayName, role, hashedPassword)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, AuthResponse{Success: false, Message: "Failed to create user"})
		return
	}

	token, err := services.CreateSession(userID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, AuthResponse{Success: false, Message: "Failed to create session"})
		return
	}

	writeJSON(w, http.StatusCreated, AuthResponse{
		Success: true,
		Message: "Account created",
		Token:   token,
		User: &models.User{
			ID:          userID.String(),
			Username:    req.Username,
			DisplayName: req.DisplayName,
			Role:        role,
			IsActive:    true,
		},
	})
}

// Signin validates credentials and issues a session token.
func Signin(w http.ResponseWriter, r *http.Request) {
	var req SigninRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, AuthResponse{Success: false, Message: "Invalid request body"})
		return
	}

	req.Username = strings.ToLower(strings.TrimSpace(req.Username))

	var user models.User
	var passwordHash string
	err := database.PostgresDB.QueryRow(`
		SELECT id, username, display_name, role, password_hash, created_at, is_active
		FROM users WHERE LOWER(username) = $1 AND is_active = TRUE
	`, req.Username).Scan(&user.ID, &user.Username, &user.DisplayName, &user.Role, &passwordHash, &user.CreatedAt, &user.IsActive)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, AuthResponse{Success: false, Message: "Invalid username or password"})
		return
	}

	ok, err := utils.VerifyPassword(req.Password, passwordHash)
	if err != nil || !ok {
		writeJSON(w, http.StatusUnauthorized, AuthResponse{Success: false, Message: "Invalid username or password"})
		return
	}

	userID, err := uuid.Parse(user.ID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, AuthResponse{Success: false, Message: "Database error"})
		return
	}

	token, err := services.CreateSession(userID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, AuthResponse{Success: false, Message: "Failed to create session"})
		return
	}

	writeJSON(w, http.StatusOK, AuthResponse{Success: true, Token: token, User: &user})
}

// GetMe returns the signed-in user's profile.
func GetMe(w http.ResponseWriter, r *http.Request) {
	userID, err := getCurrentUser(r)
	if err != nil || userID == nil {
		writeJSON(w, http.StatusUnauthorized, AuthResponse{Success: false, Message: "Not authenticated"})
		return
	}

	var user models.User
	err = database.PostgresDB.QueryRow(`
		SELECT id, username, display_name, role, created_at, is_active
		FROM users WHERE id = $1 AND is_active = TRUE
	`, *userID).Scan(&user.ID, &user.Username, &user.DisplayName, &user.Role, &user.CreatedAt, &user.IsActive)
	if err != nil {
		writeJSON(w, http.StatusNotFound, AuthResponse{Success: false, Message: "User not found"})
		return
	}

	writeJSON(w, http.StatusOK, AuthResponse{Success: true, User: &user})
}

// Signout invalidates the current session token.
func Signout(w http.ResponseWriter, r *http.Request) {
	token := extractBearerToken(r.Header.Get("Authorization"))
	if token != "" {
		_ = services.InvalidateSession(token)
	}
	writeJSON(w, http.StatusOK, AuthResponse{Success: true, Message: "Signed out"})
}
