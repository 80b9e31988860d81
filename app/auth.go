// Package app contains the application services behind the HTTP surface:
// user authentication and payment webhook intake.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/artpar/faunagate/core/collection"
	"github.com/artpar/faunagate/core/fql"
	"github.com/artpar/faunagate/core/resource"
	"github.com/artpar/faunagate/core/schema"
	"github.com/artpar/faunagate/domain/auth"
	"github.com/artpar/faunagate/ports"
)

var (
	// ErrLoginFailed is a credential mismatch or an inactive account.
	ErrLoginFailed = errors.New("login failed")
	// ErrAccountInactive is a login attempt on an account that has not been
	// activated. It matches ErrLoginFailed.
	ErrAccountInactive = fmt.Errorf("%w: %s", ErrLoginFailed, resource.InactiveMessage)
	// ErrInvalidKey is an unknown or already used verification or reset key.
	ErrInvalidKey = errors.New("invalid or expired key")
)

// Claim names carried by session tokens.
const (
	ClaimSecret   = "secret"
	ClaimUserID   = "user_id"
	ClaimUsername = "username"
	ClaimExpires  = "expires"
)

const keyLength = 40

// Principal is the caller behind a session token.
type Principal struct {
	UserID   string
	Username string
	// Secret is the backend token secret the caller's queries run with.
	Secret string
}

// Session is the result of a successful login.
type Session struct {
	Token     string
	Principal Principal
	Expires   time.Time
}

// AuthService signs users up and in and manages their passwords and
// group memberships.
type AuthService struct {
	backend    ports.Backend
	users      *collection.Collection
	groups     *collection.Collection
	userGroups *collection.Collection
	tokens     ports.TokenIssuer
	mailer     ports.EmailSender
	random     ports.Random
	logger     zerolog.Logger
}

// NewAuthService creates an auth service. backend must be able to call the
// login function and write user documents, i.e. act with the admin or a
// server key.
func NewAuthService(
	backend ports.Backend,
	tokens ports.TokenIssuer,
	mailer ports.EmailSender,
	random ports.Random,
	logger zerolog.Logger,
) *AuthService {
	return &AuthService{
		backend:    backend,
		users:      collection.New(backend, auth.User),
		groups:     collection.New(backend, auth.Group),
		userGroups: collection.New(backend, auth.UserGroups),
		tokens:     tokens,
		mailer:     mailer,
		random:     random,
		logger:     logger,
	}
}

// SignUp creates an inactive user and emails the activation key.
func (s *AuthService) SignUp(ctx context.Context, req auth.SignupRequest) (*schema.Document, error) {
	key, err := s.random.String(keyLength)
	if err != nil {
		return nil, fmt.Errorf("generate verification key: %w", err)
	}
	doc, err := s.createUser(ctx, req, auth.StatusInactive, auth.HashKey(key))
	if err != nil {
		return nil, err
	}

	if err := s.mailer.SendVerification(ctx, req.Email, displayName(req), key); err != nil {
		s.logger.Error().Err(err).
			Str("user_id", doc.Ref).
			Msg("failed to send verification email")
	}
	s.logger.Info().
		Str("user_id", doc.Ref).
		Str("username", req.Username).
		Msg("user signed up")
	return doc, nil
}

// CreateActiveUser creates a user that can log in right away.
func (s *AuthService) CreateActiveUser(ctx context.Context, req auth.SignupRequest) (*schema.Document, error) {
	return s.createUser(ctx, req, auth.StatusActive, "")
}

func (s *AuthService) createUser(ctx context.Context, req auth.SignupRequest, status, verification string) (*schema.Document, error) {
	values := map[string]any{
		auth.FieldUsername:      req.Username,
		auth.FieldEmail:         req.Email,
		auth.FieldAccountStatus: status,
	}
	if req.FirstName != "" {
		values["first_name"] = req.FirstName
	}
	if req.LastName != "" {
		values["last_name"] = req.LastName
	}
	if verification != "" {
		values[auth.FieldVerificationKey] = verification
	}
	doc, err := auth.User.New(values)
	if err != nil {
		return nil, err
	}

	if err := auth.ValidateSignup(req); err != nil {
		return nil, joinValidation(err, doc.Validate())
	}
	if err := s.users.CreateWithPassword(ctx, doc, req.Password); err != nil {
		return nil, err
	}
	return doc, nil
}

// VerifyEmail activates the account holding key.
func (s *AuthService) VerifyEmail(ctx context.Context, key string) (*schema.Document, error) {
	doc, err := s.userByKey(ctx, auth.ByVerificationKey, key)
	if err != nil {
		return nil, err
	}
	err = s.users.Patch(ctx, doc.Ref, map[string]any{
		auth.FieldAccountStatus:   auth.StatusActive,
		auth.FieldVerificationKey: nil,
	})
	if err != nil {
		return nil, err
	}
	doc.Data[auth.FieldAccountStatus] = auth.StatusActive
	delete(doc.Data, auth.FieldVerificationKey)

	s.logger.Info().Str("user_id", doc.Ref).Msg("email verified")
	return doc, nil
}

// Login calls the login function and wraps the backend token in a signed
// session token.
func (s *AuthService) Login(ctx context.Context, username, password string) (Session, error) {
	if username == "" || password == "" {
		return Session{}, ErrLoginFailed
	}
	res, err := s.backend.Query(ctx, fql.Call(fql.Function(resource.Login{}.Name()), map[string]any{
		"username": username,
		"password": password,
	}))
	if err != nil {
		return Session{}, loginError(err)
	}

	tok, _ := res.(map[string]any)
	secret, _ := tok["secret"].(string)
	inst, ok := tok["instance"].(fql.RefV)
	if secret == "" || !ok {
		return Session{}, fmt.Errorf("login: unexpected result %T", res)
	}
	p := Principal{UserID: inst.ID, Username: username, Secret: secret}

	claims := map[string]any{
		ClaimSecret:   p.Secret,
		ClaimUserID:   p.UserID,
		ClaimUsername: p.Username,
	}
	var expires time.Time
	if ttl, ok := tok["ttl"].(time.Time); ok {
		expires = ttl
		claims[ClaimExpires] = ttl.Unix()
	}
	token, err := s.tokens.CreateJWT(claims)
	if err != nil {
		return Session{}, fmt.Errorf("create session token: %w", err)
	}

	s.logger.Info().Str("user_id", p.UserID).Msg("user logged in")
	return Session{Token: token, Principal: p, Expires: expires}, nil
}

func loginError(err error) error {
	if _, ok := ports.AsAbort(err); ok {
		return ErrAccountInactive
	}
	if errors.Is(err, ports.ErrBadRequest) || errors.Is(err, ports.ErrNotFound) {
		return ErrLoginFailed
	}
	return fmt.Errorf("login: %w", err)
}

// Authenticate reads a session token.
func (s *AuthService) Authenticate(token string) (Principal, error) {
	claims, err := s.tokens.DecryptJWT(token)
	if err != nil {
		return Principal{}, err
	}
	p := Principal{}
	p.Secret, _ = claims[ClaimSecret].(string)
	p.UserID, _ = claims[ClaimUserID].(string)
	p.Username, _ = claims[ClaimUsername].(string)
	if p.Secret == "" {
		return Principal{}, fmt.Errorf("%w: token carries no secret", ports.ErrUnauthorized)
	}
	return p, nil
}

// Backend returns the backend acting as p.
func (s *AuthService) Backend(p Principal) ports.Backend {
	return s.backend.WithSecret(p.Secret)
}

// Logout revokes the caller's backend token, or all of the caller's tokens.
func (s *AuthService) Logout(ctx context.Context, p Principal, all bool) error {
	if _, err := s.Backend(p).Query(ctx, fql.Logout(all)); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	s.logger.Info().Str("user_id", p.UserID).Bool("all", all).Msg("user logged out")
	return nil
}

// UpdatePassword changes the caller's password through the update_password
// function.
func (s *AuthService) UpdatePassword(ctx context.Context, p Principal, req auth.ChangePasswordRequest) error {
	if err := auth.ValidateChangePassword(req); err != nil {
		return err
	}
	_, err := s.Backend(p).Query(ctx, fql.Call(fql.Function(resource.UpdatePassword{}.Name()), map[string]any{
		"current_password": req.CurrentPassword,
		"new_password":     req.NewPassword,
	}))
	if _, ok := ports.AsAbort(err); ok {
		return &schema.ValidationError{Errors: []schema.FieldError{{
			Field:   "current_password",
			Kind:    schema.KindWrongType,
			Message: resource.WrongPasswordMessage,
		}}}
	}
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	s.logger.Info().Str("user_id", p.UserID).Msg("password updated")
	return nil
}

// ForgotPassword stores a reset key for the user with email and mails it.
// Unknown addresses are not reported.
func (s *AuthService) ForgotPassword(ctx context.Context, email string) error {
	doc, err := s.users.GetBy(ctx, schema.UniqueIndexName(auth.User, auth.FieldEmail), email)
	if errors.Is(err, collection.ErrDocNotFound) {
		s.logger.Debug().Str("email", email).Msg("password reset for unknown email")
		return nil
	}
	if err != nil {
		return err
	}

	key, err := s.random.String(keyLength)
	if err != nil {
		return fmt.Errorf("generate reset key: %w", err)
	}
	if err := s.users.Patch(ctx, doc.Ref, map[string]any{auth.FieldResetKey: auth.HashKey(key)}); err != nil {
		return err
	}
	if err := s.mailer.SendPasswordReset(ctx, email, doc.GetString(auth.FieldUsername), key); err != nil {
		return fmt.Errorf("send reset email: %w", err)
	}
	s.logger.Info().Str("user_id", doc.Ref).Msg("password reset requested")
	return nil
}

// ForgotPasswordChange sets a new password for the user holding key. The
// key can be used once.
func (s *AuthService) ForgotPasswordChange(ctx context.Context, key, password string) error {
	if err := auth.ValidateResetPassword(key, password); err != nil {
		return err
	}
	doc, err := s.userByKey(ctx, auth.ByResetKey, key)
	if err != nil {
		return err
	}
	if err := s.users.SetPassword(ctx, doc.Ref, password); err != nil {
		return err
	}
	if err := s.users.Patch(ctx, doc.Ref, map[string]any{auth.FieldResetKey: nil}); err != nil {
		return err
	}
	s.logger.Info().Str("user_id", doc.Ref).Msg("password reset")
	return nil
}

func (s *AuthService) userByKey(ctx context.Context, index schema.Index, key string) (*schema.Document, error) {
	if key == "" {
		return nil, ErrInvalidKey
	}
	doc, err := s.users.GetBy(ctx, index.Name, auth.HashKey(key))
	if errors.Is(err, collection.ErrDocNotFound) {
		return nil, ErrInvalidKey
	}
	return doc, err
}

// AddToGroup makes user a member of group holding the tokens of
// permission groups. An existing membership gets its tokens replaced.
func (s *AuthService) AddToGroup(ctx context.Context, userID, groupID string, groups ...resource.PermissionGroup) (*schema.Document, error) {
	perms := auth.Unscoped(groups...)
	permsAny := make([]any, len(perms))
	for i, p := range perms {
		permsAny[i] = p
	}

	row, err := s.userGroups.GetBy(ctx, auth.ByGroupAndUser.Name,
		collection.RefOf(auth.Group, groupID),
		collection.RefOf(auth.User, userID),
	)
	switch {
	case err == nil:
		row.Data[auth.FieldPermissions] = permsAny
		if err := s.userGroups.Update(ctx, row); err != nil {
			return nil, err
		}
	case errors.Is(err, collection.ErrDocNotFound):
		row, err = auth.UserGroups.New(map[string]any{
			auth.FieldUser:        userID,
			auth.FieldGroup:       groupID,
			auth.FieldPermissions: permsAny,
		})
		if err != nil {
			return nil, err
		}
		if err := s.userGroups.Create(ctx, row); err != nil {
			return nil, err
		}
	default:
		return nil, err
	}

	s.logger.Info().
		Str("user_id", userID).
		Str("group_id", groupID).
		Strs("permissions", perms).
		Msg("user added to group")
	return row, nil
}

// CreateGroup creates a group.
func (s *AuthService) CreateGroup(ctx context.Context, name, slug string) (*schema.Document, error) {
	doc, err := auth.Group.New(map[string]any{"name": name, "slug": slug})
	if err != nil {
		return nil, err
	}
	if err := s.groups.Create(ctx, doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// Permissions returns the group scoped tokens of every membership of user,
// "{group slug}-{collection}-{action}".
func (s *AuthService) Permissions(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.userGroups.Find(ctx, auth.ByUser.Name, 0, collection.RefOf(auth.User, userID))
	if err != nil {
		return nil, err
	}

	var out []string
	for _, row := range rows {
		group, err := s.groups.Get(ctx, row.GetString(auth.FieldGroup))
		if err != nil {
			return nil, err
		}
		slug := group.GetString("slug")
		perms, _ := row.Get(auth.FieldPermissions).([]any)
		for _, p := range perms {
			if tok, ok := p.(string); ok {
				out = append(out, slug+"-"+tok)
			}
		}
	}
	return out, nil
}

func displayName(req auth.SignupRequest) string {
	if req.FirstName != "" {
		return req.FirstName
	}
	return req.Username
}

// joinValidation merges validation failures into one error.
func joinValidation(errs ...error) error {
	var ve schema.ValidationError
	for _, err := range errs {
		if err == nil {
			continue
		}
		fe, ok := schema.AsValidationError(err)
		if !ok {
			return err
		}
		ve.Errors = append(ve.Errors, fe.Errors...)
	}
	return ve.Err()
}
