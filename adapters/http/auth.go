package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/artpar/faunagate/adapters/metrics"
	"github.com/artpar/faunagate/app"
	"github.com/artpar/faunagate/domain/auth"
	"github.com/artpar/faunagate/pkg/envelope"
)

// AuthHandler serves the /user views.
type AuthHandler struct {
	service *app.AuthService
	metrics *metrics.Collector
	errs    *envelope.Mapper
	cookie  string
	secure  bool
	logger  zerolog.Logger
}

// LoginRequest is the body of /user/login/.
type LoginRequest struct {
	Username string `json:"username" example:"alice"`
	Password string `json:"password" example:"Secret123"`
}

// LoginResponse is the data of a successful login.
type LoginResponse struct {
	Token    string    `json:"token"`
	UserID   string    `json:"user_id"`
	Username string    `json:"username"`
	Expires  time.Time `json:"expires"`
}

// SignUpRequest is the body of /user/sign-up/.
type SignUpRequest struct {
	Username  string `json:"username"`
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// UpdatePasswordRequest is the body of /user/update-password/.
type UpdatePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

// ForgotPasswordRequest is the body of /user/forgot-password/.
type ForgotPasswordRequest struct {
	Email string `json:"email"`
}

// ForgotPasswordChangeRequest is the body of /user/forgot-password-change/.
// The key may also be passed as the key query parameter of the emailed link.
type ForgotPasswordChangeRequest struct {
	Key      string `json:"key"`
	Password string `json:"password"`
}

// LogoutRequest is the optional body of /user/logout/.
type LogoutRequest struct {
	All bool `json:"all"`
}

// Routes registers the auth views.
func (h *AuthHandler) Routes(r chi.Router) {
	r.Post("/login/", h.Login)
	r.Post("/sign-up/", h.SignUp)
	r.Get("/verify-email/{key}/", h.VerifyEmail)
	r.Post("/update-password/", h.UpdatePassword)
	r.Post("/forgot-password/", h.ForgotPassword)
	r.Post("/forgot-password-change/", h.ForgotPasswordChange)
	r.Post("/logout/", h.Logout)
	r.Get("/permissions/", h.Permissions)
}

// Login checks credentials and starts a session.
//
//	@Summary	Log in
//	@Tags		User
//	@Accept		json
//	@Produce	json
//	@Param		body	body		LoginRequest	true	"Credentials"
//	@Success	200		{object}	LoginResponse
//	@Failure	401		"Wrong credentials"
//	@Failure	403		"Account not active"
//	@Router		/user/login/ [post]
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeBody(r, &req); err != nil {
		h.errs.Error(w, err)
		return
	}
	s, err := h.service.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		h.errs.Error(w, err)
		return
	}
	if h.metrics != nil {
		h.metrics.LoginsTotal.Inc()
	}

	http.SetCookie(w, &http.Cookie{
		Name:     h.cookie,
		Value:    s.Token,
		Path:     "/",
		Expires:  s.Expires,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   h.secure,
	})
	envelope.OK(w, LoginResponse{
		Token:    s.Token,
		UserID:   s.Principal.UserID,
		Username: s.Principal.Username,
		Expires:  s.Expires,
	})
}

// SignUp creates an inactive account and mails its activation link.
//
//	@Summary	Sign up
//	@Tags		User
//	@Accept		json
//	@Produce	json
//	@Param		body	body	SignUpRequest	true	"New account"
//	@Success	201		"Created user"
//	@Failure	400		"Field errors"
//	@Router		/user/sign-up/ [post]
func (h *AuthHandler) SignUp(w http.ResponseWriter, r *http.Request) {
	var req SignUpRequest
	if err := decodeBody(r, &req); err != nil {
		h.errs.Error(w, err)
		return
	}
	doc, err := h.service.SignUp(r.Context(), auth.SignupRequest{
		Username:  req.Username,
		Email:     req.Email,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
	})
	if err != nil {
		h.errs.Error(w, err)
		return
	}
	envelope.Created(w, doc.Public())
}

// VerifyEmail activates the account of an emailed key.
//
//	@Summary	Verify email
//	@Tags		User
//	@Produce	json
//	@Param		key	path	string	true	"Verification key"
//	@Success	200	"Activated user"
//	@Failure	400	"Unknown key"
//	@Router		/user/verify-email/{key}/ [get]
func (h *AuthHandler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	doc, err := h.service.VerifyEmail(r.Context(), chi.URLParam(r, "key"))
	if err != nil {
		h.errs.Error(w, err)
		return
	}
	envelope.OK(w, doc.Public())
}

// UpdatePassword changes the caller's password.
//
//	@Summary	Update password
//	@Tags		User
//	@Accept		json
//	@Produce	json
//	@Param		body	body	UpdatePasswordRequest	true	"Passwords"
//	@Success	200		"Password changed"
//	@Failure	400		"Field errors"
//	@Failure	401		"Not logged in"
//	@Security	BearerAuth
//	@Router		/user/update-password/ [post]
func (h *AuthHandler) UpdatePassword(w http.ResponseWriter, r *http.Request) {
	p, err := PrincipalFrom(r.Context())
	if err != nil {
		h.errs.Error(w, err)
		return
	}
	var req UpdatePasswordRequest
	if err := decodeBody(r, &req); err != nil {
		h.errs.Error(w, err)
		return
	}
	err = h.service.UpdatePassword(r.Context(), p, auth.ChangePasswordRequest{
		CurrentPassword: req.CurrentPassword,
		NewPassword:     req.NewPassword,
	})
	if err != nil {
		h.errs.Error(w, err)
		return
	}
	envelope.OK(w, "password updated")
}

// ForgotPassword mails a reset link. The response does not tell whether
// the address is known.
//
//	@Summary	Forgot password
//	@Tags		User
//	@Accept		json
//	@Produce	json
//	@Param		body	body	ForgotPasswordRequest	true	"Account email"
//	@Success	200		"Reset link sent"
//	@Router		/user/forgot-password/ [post]
func (h *AuthHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req ForgotPasswordRequest
	if err := decodeBody(r, &req); err != nil {
		h.errs.Error(w, err)
		return
	}
	if err := h.service.ForgotPassword(r.Context(), req.Email); err != nil {
		h.errs.Error(w, err)
		return
	}
	envelope.OK(w, "if the address belongs to an account, a reset link has been sent")
}

// ForgotPasswordChange sets a new password with an emailed reset key.
//
//	@Summary	Reset password
//	@Tags		User
//	@Accept		json
//	@Produce	json
//	@Param		key		query	string						false	"Reset key"
//	@Param		body	body	ForgotPasswordChangeRequest	true	"New password"
//	@Success	200		"Password changed"
//	@Failure	400		"Unknown key or weak password"
//	@Router		/user/forgot-password-change/ [post]
func (h *AuthHandler) ForgotPasswordChange(w http.ResponseWriter, r *http.Request) {
	var req ForgotPasswordChangeRequest
	if err := decodeBody(r, &req); err != nil {
		h.errs.Error(w, err)
		return
	}
	if req.Key == "" {
		req.Key = r.URL.Query().Get("key")
	}
	if err := h.service.ForgotPasswordChange(r.Context(), req.Key, req.Password); err != nil {
		h.errs.Error(w, err)
		return
	}
	envelope.OK(w, "password updated")
}

// Logout ends the caller's session, or every session with all set.
//
//	@Summary	Log out
//	@Tags		User
//	@Accept		json
//	@Produce	json
//	@Param		body	body	LogoutRequest	false	"Scope"
//	@Success	200		"Logged out"
//	@Failure	401		"Not logged in"
//	@Security	BearerAuth
//	@Router		/user/logout/ [post]
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	p, err := PrincipalFrom(r.Context())
	if err != nil {
		h.errs.Error(w, err)
		return
	}
	var req LogoutRequest
	if err := decodeBody(r, &req); err != nil {
		h.errs.Error(w, err)
		return
	}
	if err := h.service.Logout(r.Context(), p, req.All); err != nil {
		h.errs.Error(w, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     h.cookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   h.secure,
	})
	envelope.OK(w, "logged out")
}

// Permissions lists the caller's group permission tokens.
//
//	@Summary	Caller permissions
//	@Tags		User
//	@Produce	json
//	@Success	200	{array}	string
//	@Failure	401	"Not logged in"
//	@Security	BearerAuth
//	@Router		/user/permissions/ [get]
func (h *AuthHandler) Permissions(w http.ResponseWriter, r *http.Request) {
	p, err := PrincipalFrom(r.Context())
	if err != nil {
		h.errs.Error(w, err)
		return
	}
	perms, err := h.service.Permissions(r.Context(), p.UserID)
	if err != nil {
		h.errs.Error(w, err)
		return
	}
	if perms == nil {
		perms = []string{}
	}
	envelope.OK(w, perms)
}
