package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/iliyamo/authguard/internal/database"
	"github.com/iliyamo/authguard/internal/model"
	"github.com/iliyamo/authguard/internal/repository"
	"github.com/iliyamo/authguard/internal/utils"
)

// ErrInvalidInput is returned for malformed registration data.
var ErrInvalidInput = errors.New("invalid input")

const (
	minPasswordLen     = 8
	resetTokenTTL      = time.Hour
	verifyTokenTTL     = 24 * time.Hour
	oneTimeTokenLength = 32
)

// RegisterInput is the payload of a password registration.
type RegisterInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

// UserService owns the account lifecycle.
type UserService struct {
	db       *sql.DB
	users    *repository.UserRepo
	sessions *SessionService
	audit    *AuditService
	cost     int
	log      zerolog.Logger

	Now func() time.Time
}

func NewUserService(db *sql.DB, sessions *SessionService, audit *AuditService, bcryptCost int, log zerolog.Logger) *UserService {
	return &UserService{
		db:       db,
		users:    repository.NewUserRepo(db),
		sessions: sessions,
		audit:    audit,
		cost:     bcryptCost,
		log:      log,
		Now:      utcNow,
	}
}

// Get loads a user by ID.
func (s *UserService) Get(ctx context.Context, id uint64) (model.User, error) {
	return s.users.GetByID(ctx, id)
}

// Register creates a password account. Password accounts always carry a
// hash; OAuth-only accounts go through CreateOAuthUser.
func (s *UserService) Register(ctx context.Context, in RegisterInput, meta RequestMeta) (model.User, error) {
	email := repository.NormalizeEmail(in.Email)
	if !validEmail(email) {
		return model.User{}, fmt.Errorf("%w: email", ErrInvalidInput)
	}
	if in.Password == "" {
		return model.User{}, ErrPasswordRequired
	}
	if len(in.Password) < minPasswordLen {
		return model.User{}, fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, minPasswordLen)
	}
	hash, err := utils.HashPassword(in.Password, s.cost)
	if err != nil {
		return model.User{}, fmt.Errorf("hash password: %w", err)
	}
	u := model.User{Email: email, PasswordHash: &hash, Name: strings.TrimSpace(in.Name), Role: model.RoleUser}
	if _, err := s.users.Create(ctx, &u, s.Now().UTC()); err != nil {
		if errors.Is(err, repository.ErrEmailExists) {
			return model.User{}, ErrEmailExists
		}
		return model.User{}, fmt.Errorf("create user: %w", err)
	}
	_, err = s.audit.Log(ctx, Event{UserID: &u.ID, Action: model.ActionRegister, Resource: "user", Meta: meta, Success: true})
	return u, err
}

// validEmail accepts a bare, already normalized address.
func validEmail(email string) bool {
	addr, err := mail.ParseAddress(email)
	return err == nil && addr.Address == email
}

// CreateOAuthUser creates an account without a password together with its
// first OAuth link, in one transaction.
func (s *UserService) CreateOAuthUser(ctx context.Context, email, name, provider, providerAccountID string) (model.User, error) {
	if provider == "" || providerAccountID == "" {
		return model.User{}, fmt.Errorf("%w: oauth identity", ErrInvalidInput)
	}
	email = repository.NormalizeEmail(email)
	if !validEmail(email) {
		return model.User{}, fmt.Errorf("%w: email", ErrInvalidInput)
	}
	now := s.Now().UTC()
	u := model.User{Email: email, Name: strings.TrimSpace(name), Role: model.RoleUser, EmailVerified: true}
	err := database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		users := s.users.WithTx(tx)
		if _, err := users.Create(ctx, &u, now); err != nil {
			return err
		}
		return users.LinkOAuth(ctx, u.ID, provider, providerAccountID, now)
	})
	if errors.Is(err, repository.ErrEmailExists) {
		return model.User{}, ErrEmailExists
	}
	if err != nil {
		return model.User{}, fmt.Errorf("create oauth user: %w", err)
	}
	return u, nil
}

// LinkedProviders lists the OAuth providers linked to a user, in link order.
func (s *UserService) LinkedProviders(ctx context.Context, userID uint64) ([]string, error) {
	links, err := s.users.ListOAuth(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list oauth links: %w", err)
	}
	out := make([]string, 0, len(links))
	for _, l := range links {
		out = append(out, l.Provider)
	}
	return out, nil
}

// Authenticate checks email and password. Unknown accounts, OAuth-only
// accounts and wrong passwords all cost one bcrypt comparison and return
// ErrInvalidCredential; the user is returned alongside when known so the
// failure can be audited against it.
func (s *UserService) Authenticate(ctx context.Context, email, password string) (model.User, error) {
	u, err := s.users.GetByEmail(ctx, email)
	if errors.Is(err, repository.ErrNotFound) {
		utils.BurnPasswordCheck(password)
		return model.User{}, ErrInvalidCredential
	}
	if err != nil {
		return model.User{}, fmt.Errorf("load user: %w", err)
	}
	if !u.HasPassword() {
		utils.BurnPasswordCheck(password)
		return u, ErrInvalidCredential
	}
	if !utils.VerifyPassword(*u.PasswordHash, password) {
		return u, ErrInvalidCredential
	}
	return u, nil
}

// RecordLogin stamps last_login_at.
func (s *UserService) RecordLogin(ctx context.Context, userID uint64) error {
	if err := s.users.UpdateLastLogin(ctx, userID, s.Now().UTC()); err != nil {
		return fmt.Errorf("update last login: %w", err)
	}
	return nil
}

// RequestPasswordReset stores a one-hour reset token for a password account
// and returns the raw token. Unknown emails return "" and no error, so the
// endpoint does not reveal which addresses exist.
func (s *UserService) RequestPasswordReset(ctx context.Context, email string, meta RequestMeta) (string, error) {
	u, err := s.users.GetByEmail(ctx, email)
	if errors.Is(err, repository.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("load user: %w", err)
	}
	raw, err := utils.GenerateToken(oneTimeTokenLength)
	if err != nil {
		return "", fmt.Errorf("generate reset token: %w", err)
	}
	now := s.Now().UTC()
	if err := s.users.SetPasswordResetToken(ctx, u.ID, utils.HashToken(raw), now.Add(resetTokenTTL), now); err != nil {
		return "", fmt.Errorf("store reset token: %w", err)
	}
	if _, err := s.audit.Log(ctx, Event{UserID: &u.ID, Action: model.ActionPasswordResetReq, Resource: "user", Meta: meta, Success: true}); err != nil {
		return "", err
	}
	return raw, nil
}

// ResetPassword consumes a reset token, sets the new password and ends all
// sessions of the account.
func (s *UserService) ResetPassword(ctx context.Context, rawToken, newPassword string, meta RequestMeta) error {
	if len(newPassword) < minPasswordLen {
		return fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, minPasswordLen)
	}
	u, err := s.users.GetByPasswordResetToken(ctx, utils.HashToken(rawToken))
	if errors.Is(err, repository.ErrNotFound) {
		return ErrInvalidCredential
	}
	if err != nil {
		return fmt.Errorf("load user: %w", err)
	}
	now := s.Now().UTC()
	if u.PasswordResetExpires == nil || utils.IsExpired(u.PasswordResetExpires, now) {
		return ErrInvalidCredential
	}
	hash, err := utils.HashPassword(newPassword, s.cost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := s.users.SetPassword(ctx, u.ID, hash, now); err != nil {
		return fmt.Errorf("set password: %w", err)
	}
	if err := s.sessions.RevokeAll(ctx, u.ID); err != nil {
		return err
	}
	_, err = s.audit.Log(ctx, Event{UserID: &u.ID, Action: model.ActionPasswordReset, Resource: "user", Meta: meta, Success: true})
	return err
}

// IssueEmailVerification stores a one-day verification token and returns
// the raw value.
func (s *UserService) IssueEmailVerification(ctx context.Context, userID uint64) (string, error) {
	raw, err := utils.GenerateToken(oneTimeTokenLength)
	if err != nil {
		return "", fmt.Errorf("generate verification token: %w", err)
	}
	now := s.Now().UTC()
	if err := s.users.SetEmailVerificationToken(ctx, userID, utils.HashToken(raw), now.Add(verifyTokenTTL), now); err != nil {
		return "", fmt.Errorf("store verification token: %w", err)
	}
	return raw, nil
}

// VerifyEmail consumes a verification token.
func (s *UserService) VerifyEmail(ctx context.Context, rawToken string, meta RequestMeta) (model.User, error) {
	u, err := s.users.GetByVerificationToken(ctx, utils.HashToken(rawToken))
	if errors.Is(err, repository.ErrNotFound) {
		return model.User{}, ErrInvalidCredential
	}
	if err != nil {
		return model.User{}, fmt.Errorf("load user: %w", err)
	}
	now := s.Now().UTC()
	if u.EmailVerificationExpires == nil || utils.IsExpired(u.EmailVerificationExpires, now) {
		return model.User{}, ErrInvalidCredential
	}
	if err := s.users.MarkEmailVerified(ctx, u.ID, now); err != nil {
		return model.User{}, fmt.Errorf("mark email verified: %w", err)
	}
	u.EmailVerified = true
	_, err = s.audit.Log(ctx, Event{UserID: &u.ID, Action: model.ActionEmailVerified, Resource: "user", Meta: meta, Success: true})
	return u, err
}

// Delete removes a user and everything it owns except audit events.
func (s *UserService) Delete(ctx context.Context, userID uint64) error {
	err := database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		users := s.users.WithTx(tx)
		if err := users.DeleteOwned(ctx, userID); err != nil {
			return err
		}
		return users.Delete(ctx, userID)
	})
	if errors.Is(err, repository.ErrNotFound) {
		return repository.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	s.log.Info().Uint64("user_id", userID).Msg("user deleted")
	return nil
}
