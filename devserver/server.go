// Package devserver is a small reference backend serving the HTTP surface an
// authsession client consumes: login, signup, /auth/me and forgot-password.
// It is meant for local development and end-to-end tests.
package devserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"

	"github.com/panyam/authsession"
)

const (
	// DefaultAccessTokenExpiry is used when Server.AccessTokenExpiry is zero
	DefaultAccessTokenExpiry = 24 * time.Hour

	// DefaultResetTokenExpiry is the lifetime of a password reset link
	DefaultResetTokenExpiry = time.Hour

	tokenTypeAccess = "access"
	tokenTypeReset  = "reset"
)

var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

// Server serves the authsession backend endpoints
type Server struct {
	Accounts AccountStore
	Mailer   Mailer

	// JWT configuration
	JWTSecretKey string
	JWTIssuer    string

	AccessTokenExpiry time.Duration
	DefaultRole       string

	// RequireConfirmation makes signup return no token
	RequireConfirmation bool

	// ResetURL is used for reset links when the request carries no redirectTo
	ResetURL string

	Logger zerolog.Logger

	requests *prometheus.CounterVec
}

// NewServer creates a Server with an in-memory account store and a console
// mailer
func NewServer(secret string) *Server {
	logger := log.With().Str("component", "devserver").Logger()
	return &Server{
		Accounts:     NewMemoryAccountStore(),
		Mailer:       &ConsoleMailer{Logger: logger},
		JWTSecretKey: secret,
		JWTIssuer:    "authsession-devserver",
		DefaultRole:  "user",
		Logger:       logger,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authsession_devserver_requests_total",
			Help: "Dev server requests by route and status code.",
		}, []string{"route", "code"}),
	}
}

// Collectors returns the server's Prometheus collectors
func (s *Server) Collectors() []prometheus.Collector {
	return []prometheus.Collector{s.requests}
}

// Handler returns the router for all endpoints
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(s.logRequests)
	r.HandleFunc("/auth/login", s.handleLogin).Methods(http.MethodPost).Name("login")
	r.HandleFunc("/auth/signup", s.handleSignup).Methods(http.MethodPost).Name("signup")
	r.HandleFunc("/auth/me", s.handleMe).Methods(http.MethodGet).Name("me")
	r.HandleFunc("/auth/forgot-password", s.handleForgotPassword).Methods(http.MethodPost).Name("forgot-password")
	return r
}

// AddUser creates an account directly, bypassing the signup endpoint
func (s *Server) AddUser(ctx context.Context, email, password, role, displayName string) (*Account, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}
	if role == "" {
		role = s.DefaultRole
	}
	acct := &Account{
		ID:           uuid.NewString(),
		Email:        strings.ToLower(email),
		Role:         role,
		DisplayName:  displayName,
		PasswordHash: string(hash),
	}
	if err := s.Accounts.CreateAccount(ctx, acct); err != nil {
		return nil, err
	}
	return acct, nil
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type forgotPasswordRequest struct {
	Email      string `json:"email"`
	RedirectTo string `json:"redirectTo"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	acct, err := s.Accounts.GetAccountByEmail(r.Context(), req.Email)
	if err != nil {
		if !errors.Is(err, ErrAccountNotFound) {
			s.Logger.Error().Err(err).Msg("failed to look up account")
			s.errorResponse(w, "Internal server error", http.StatusInternalServerError)
			return
		}
		s.errorResponse(w, "Invalid email or password", http.StatusUnauthorized)
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(acct.PasswordHash), []byte(req.Password)); err != nil {
		s.errorResponse(w, "Invalid email or password", http.StatusUnauthorized)
		return
	}

	s.grantResponse(w, acct, true)
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if !emailRegex.MatchString(req.Email) {
		s.errorResponse(w, "Invalid email format", http.StatusBadRequest)
		return
	}
	if req.Password == "" {
		s.errorResponse(w, "Password is required", http.StatusBadRequest)
		return
	}

	acct, err := s.AddUser(r.Context(), req.Email, req.Password, "", "")
	if err != nil {
		if errors.Is(err, ErrEmailTaken) {
			s.errorResponse(w, "Email already registered", http.StatusConflict)
			return
		}
		s.Logger.Error().Err(err).Msg("failed to create account")
		s.errorResponse(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	s.Logger.Info().Str("user_id", acct.ID).Msg("account created")
	s.grantResponse(w, acct, !s.RequireConfirmation)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	bearer, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || bearer == "" {
		s.errorResponse(w, "Missing bearer token", http.StatusUnauthorized)
		return
	}

	userID, err := s.ValidateAccessToken(bearer)
	if err != nil {
		s.errorResponse(w, "Invalid or expired token", http.StatusUnauthorized)
		return
	}

	acct, err := s.Accounts.GetAccountByID(r.Context(), userID)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			s.errorResponse(w, "User no longer exists", http.StatusUnauthorized)
			return
		}
		s.Logger.Error().Err(err).Msg("failed to look up account")
		s.errorResponse(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	s.writeJSON(w, http.StatusOK, accountRecord(acct))
}

func (s *Server) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req forgotPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if !emailRegex.MatchString(req.Email) {
		s.errorResponse(w, "Invalid email format", http.StatusBadRequest)
		return
	}

	// Always respond the same way so the endpoint does not reveal which
	// emails have accounts.
	const message = "If that email is registered, a reset link is on its way."

	acct, err := s.Accounts.GetAccountByEmail(r.Context(), req.Email)
	if err != nil {
		if !errors.Is(err, ErrAccountNotFound) {
			s.Logger.Error().Err(err).Msg("failed to look up account")
		}
		s.writeJSON(w, http.StatusOK, map[string]string{"message": message})
		return
	}

	link, err := s.resetLink(acct, req.RedirectTo)
	if err != nil {
		s.Logger.Error().Err(err).Msg("failed to build reset link")
		s.errorResponse(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if s.Mailer != nil {
		if err := s.Mailer.SendPasswordResetEmail(r.Context(), acct.Email, link); err != nil {
			s.Logger.Error().Err(err).Str("user_id", acct.ID).Msg("failed to send reset email")
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"message": message})
}

func (s *Server) resetLink(acct *Account, redirectTo string) (string, error) {
	base := redirectTo
	if base == "" {
		base = s.ResetURL
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid redirect URL: %w", err)
	}
	token, err := s.signToken(acct, tokenTypeReset, DefaultResetTokenExpiry)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (s *Server) grantResponse(w http.ResponseWriter, acct *Account, withToken bool) {
	grant := authsession.Grant{User: accountRecord(acct)}
	if withToken {
		expiry := s.AccessTokenExpiry
		if expiry == 0 {
			expiry = DefaultAccessTokenExpiry
		}
		token, err := s.signToken(acct, tokenTypeAccess, expiry)
		if err != nil {
			s.Logger.Error().Err(err).Msg("failed to sign access token")
			s.errorResponse(w, "Internal server error", http.StatusInternalServerError)
			return
		}
		grant.Token = token
	}
	s.writeJSON(w, http.StatusOK, grant)
}

// signToken creates a signed HS256 JWT for acct
func (s *Server) signToken(acct *Account, tokenType string, expiry time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":   acct.ID,
		"email": acct.Email,
		"role":  acct.Role,
		"type":  tokenType,
		"iat":   now.Unix(),
		"exp":   now.Add(expiry).Unix(),
	}
	if s.JWTIssuer != "" {
		claims["iss"] = s.JWTIssuer
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(s.JWTSecretKey))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return tokenString, nil
}

// ValidateAccessToken validates an access token and returns its subject
func (s *Server) ValidateAccessToken(tokenString string) (userID string, err error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if s.JWTIssuer != "" {
		opts = append(opts, jwt.WithIssuer(s.JWTIssuer))
	}
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		return []byte(s.JWTSecretKey), nil
	}, opts...)
	if err != nil {
		return "", err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", fmt.Errorf("invalid claims")
	}
	if tokenType, ok := claims["type"].(string); !ok || tokenType != tokenTypeAccess {
		return "", fmt.Errorf("invalid token type")
	}
	userID, ok = claims["sub"].(string)
	if !ok || userID == "" {
		return "", fmt.Errorf("missing subject")
	}
	return userID, nil
}

func accountRecord(acct *Account) *authsession.UserRecord {
	return &authsession.UserRecord{
		ID:          acct.ID,
		Email:       acct.Email,
		Role:        acct.Role,
		DisplayName: acct.DisplayName,
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.Logger.Warn().Err(err).Msg("failed to write response")
	}
}

// errorResponse sends a {"detail": ...} error body
func (s *Server) errorResponse(w http.ResponseWriter, detail string, status int) {
	s.writeJSON(w, status, map[string]string{"detail": detail})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := "unknown"
		if cur := mux.CurrentRoute(r); cur != nil && cur.GetName() != "" {
			route = cur.GetName()
		}
		if s.requests != nil {
			s.requests.WithLabelValues(route, fmt.Sprint(rec.status)).Inc()
		}
		s.Logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}
