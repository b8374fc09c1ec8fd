package identity

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/wxjbaga/medical/pkg/audit"
	"github.com/wxjbaga/medical/pkg/auth"
	"github.com/wxjbaga/medical/pkg/clients/filestore"
	"github.com/wxjbaga/medical/pkg/common/errs"
	"github.com/wxjbaga/medical/pkg/common/logger"
)

// AvatarBucket holds profile pictures in the file server.
const AvatarBucket = "avatar"

// FileStore stores and removes avatar blobs.
type FileStore interface {
	Upload(ctx context.Context, bucket, fileName string, content []byte, isCache bool) (filestore.UploadResult, error)
	Delete(ctx context.Context, bucket, objectKey string) error
}

type Service struct {
	repo     *Repository
	jwt      *auth.JWTManager
	sessions *auth.SessionStore
	files    FileStore
	recorder audit.Recorder
}

func NewService(repo *Repository, jwt *auth.JWTManager, sessions *auth.SessionStore, files FileStore, recorder audit.Recorder) *Service {
	if recorder == nil {
		recorder = audit.NopRecorder{}
	}
	return &Service{repo: repo, jwt: jwt, sessions: sessions, files: files, recorder: recorder}
}

// Register creates a self-service account with the regular user role.
func (s *Service) Register(ctx context.Context, input RegisterInput) (*User, error) {
	return s.create(ctx, CreateInput{
		Username: input.Username,
		Password: input.Password,
		Nickname: input.Nickname,
		Role:     RoleUser,
	})
}

// CreateUser lets an administrator provision an account with any role.
func (s *Service) CreateUser(ctx context.Context, actor auth.Actor, input CreateInput) (*User, error) {
	if !actor.Admin {
		return nil, errs.Unauthorized("only administrators can create users")
	}
	if input.Role == "" {
		input.Role = RoleUser
	}
	if input.Role != RoleAdmin && input.Role != RoleUser {
		return nil, errs.Invalid("unknown role %q", input.Role)
	}
	return s.create(ctx, input)
}

func (s *Service) create(ctx context.Context, input CreateInput) (*User, error) {
	username := strings.TrimSpace(input.Username)
	if username == "" {
		return nil, errs.Invalid("username is required")
	}
	if len(input.Password) < 6 {
		return nil, errs.Invalid("password must be at least 6 characters")
	}

	count, err := s.repo.CountByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, errs.Conflict("username %q already exists", username)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, err, "failed to hash password")
	}

	nickname := strings.TrimSpace(input.Nickname)
	if nickname == "" {
		nickname = username
	}

	u := &User{
		Username:     username,
		PasswordHash: string(hash),
		Nickname:     nickname,
		Role:         input.Role,
		Status:       StatusEnabled,
	}
	if err := s.repo.Create(ctx, u); err != nil {
		return nil, err
	}

	s.recorder.Record(ctx, "user.created", "user", u.ID, 0, map[string]interface{}{
		"username": username,
		"role":     u.Role,
	})
	return u, nil
}

// Login verifies credentials, issues a token and registers its session
// so logout can revoke it before expiry.
func (s *Service) Login(ctx context.Context, input LoginInput) (*LoginResult, error) {
	u, err := s.repo.GetByUsername(ctx, strings.TrimSpace(input.Username))
	if err != nil {
		if err == ErrNotFound {
			return nil, errs.Invalid("incorrect username or password")
		}
		return nil, err
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(input.Password)) != nil {
		return nil, errs.Invalid("incorrect username or password")
	}
	if !u.Enabled() {
		return nil, errs.Unauthorized("account is disabled")
	}

	token, claims, err := s.jwt.IssueToken(u.ID, u.Username, u.IsAdmin())
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, err, "failed to issue token")
	}
	if s.sessions != nil {
		if err := s.sessions.Put(ctx, claims.ID, u.ID, s.jwt.TTL()); err != nil {
			logger.Log.WithError(err).Warn("failed to register session, token revocation unavailable")
		}
	}

	s.recorder.Record(ctx, "user.login", "user", u.ID, u.ID, nil)
	return &LoginResult{Token: token, User: u}, nil
}

// Logout revokes the session behind the presented token.
func (s *Service) Logout(ctx context.Context, tokenID string, userID int64) error {
	if tokenID == "" || s.sessions == nil {
		return nil
	}
	if err := s.sessions.Revoke(ctx, tokenID); err != nil {
		return errs.Wrap(errs.KindInternal, err, "failed to revoke session")
	}
	s.recorder.Record(ctx, "user.logout", "user", userID, userID, nil)
	return nil
}

func (s *Service) Get(ctx context.Context, id int64) (*User, error) {
	u, err := s.repo.Get(ctx, id)
	if err == ErrNotFound {
		return nil, errs.NotFound("user %d not found", id)
	}
	return u, err
}

func (s *Service) Page(ctx context.Context, actor auth.Actor, q Query) (*Page, error) {
	if !actor.Admin {
		return nil, errs.Unauthorized("only administrators can list users")
	}
	return s.repo.Page(ctx, q)
}

// Update edits the caller's own profile, or any profile for an admin.
// Role changes require admin.
func (s *Service) Update(ctx context.Context, actor auth.Actor, id int64, input UpdateInput) (*User, error) {
	if !actor.CanAccess(id) {
		return nil, errs.Unauthorized("no permission to edit this user")
	}
	if input.Role != nil && !actor.Admin {
		return nil, errs.Unauthorized("only administrators can change roles")
	}

	updates := map[string]interface{}{}
	if input.Nickname != nil {
		nickname := strings.TrimSpace(*input.Nickname)
		if nickname == "" {
			return nil, errs.Invalid("nickname cannot be empty")
		}
		updates["nickname"] = nickname
	}
	if input.Role != nil {
		if *input.Role != RoleAdmin && *input.Role != RoleUser {
			return nil, errs.Invalid("unknown role %q", *input.Role)
		}
		updates["role"] = *input.Role
	}

	if len(updates) > 0 {
		if err := s.repo.Updates(ctx, id, updates); err != nil {
			return nil, err
		}
	}
	return s.Get(ctx, id)
}

// ResetPassword sets a new password. Admins can reset anyone; a regular
// user must present their current password.
func (s *Service) ResetPassword(ctx context.Context, actor auth.Actor, id int64, oldPassword, newPassword string) error {
	if !actor.CanAccess(id) {
		return errs.Unauthorized("no permission to change this password")
	}
	if len(newPassword) < 6 {
		return errs.Invalid("password must be at least 6 characters")
	}

	u, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if !actor.Admin {
		if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(oldPassword)) != nil {
			return errs.Invalid("incorrect current password")
		}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return errs.Wrap(errs.KindInternal, err, "failed to hash password")
	}
	if err := s.repo.Updates(ctx, id, map[string]interface{}{"password_hash": string(hash)}); err != nil {
		return err
	}

	s.recorder.Record(ctx, "user.password_reset", "user", id, actor.UserID, nil)
	return nil
}

// SetStatus enables or disables an account. Disabling does not revoke
// live sessions; the login check blocks the next one.
func (s *Service) SetStatus(ctx context.Context, actor auth.Actor, id int64, status int) error {
	if !actor.Admin {
		return errs.Unauthorized("only administrators can change account status")
	}
	if status != StatusEnabled && status != StatusDisabled {
		return errs.Invalid("unknown status %d", status)
	}
	if id == actor.UserID {
		return errs.Conflict("cannot change your own account status")
	}
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	if err := s.repo.Updates(ctx, id, map[string]interface{}{"status": status}); err != nil {
		return err
	}

	s.recorder.Record(ctx, "user.status_changed", "user", id, actor.UserID, map[string]interface{}{
		"status": status,
	})
	return nil
}

func (s *Service) Delete(ctx context.Context, actor auth.Actor, id int64) error {
	if !actor.Admin {
		return errs.Unauthorized("only administrators can delete users")
	}
	if id == actor.UserID {
		return errs.Conflict("cannot delete your own account")
	}
	u, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	if u.AvatarObjectKey != "" {
		if err := s.files.Delete(ctx, u.AvatarBucket, u.AvatarObjectKey); err != nil {
			logger.Log.WithError(err).WithField("user_id", id).Warn("failed to delete avatar")
		}
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}

	s.recorder.Record(ctx, "user.deleted", "user", id, actor.UserID, nil)
	return nil
}

// UploadAvatar replaces the profile picture, deleting the old blob
// best effort.
func (s *Service) UploadAvatar(ctx context.Context, actor auth.Actor, id int64, fileName string, content []byte) (*User, error) {
	if !actor.CanAccess(id) {
		return nil, errs.Unauthorized("no permission to change this avatar")
	}
	u, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	ext := strings.ToLower(filepath.Ext(fileName))
	switch ext {
	case ".png", ".jpg", ".jpeg", ".gif":
	default:
		return nil, errs.Invalid("avatar must be a png, jpg or gif image")
	}

	key := fmt.Sprintf("avatar/%s/%d_%s%s",
		time.Now().UTC().Format("20060102"), id, strings.ReplaceAll(uuid.NewString(), "-", ""), ext)
	result, err := s.files.Upload(ctx, AvatarBucket, key, content, false)
	if err != nil {
		return nil, err
	}

	if u.AvatarObjectKey != "" {
		if err := s.files.Delete(ctx, u.AvatarBucket, u.AvatarObjectKey); err != nil {
			logger.Log.WithError(err).WithField("user_id", id).Warn("failed to delete previous avatar")
		}
	}

	err = s.repo.Updates(ctx, id, map[string]interface{}{
		"avatar_bucket":     result.Bucket,
		"avatar_object_key": result.ObjectKey,
	})
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, id)
}
