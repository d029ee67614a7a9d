package user

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"logbook/internal/auth"
	"logbook/internal/logger"

	"gorm.io/gorm"
)

var (
	ErrNotFound          = errors.New("user not found")
	ErrDuplicateUsername = errors.New("username already taken")
	ErrDuplicateEmail    = errors.New("email already registered")
	ErrValidation        = errors.New("validation error")
	ErrDeleteFailed      = errors.New("user delete failed")
)

var usernameRe = regexp.MustCompile(`^[a-zA-Z0-9_.-]{3,50}$`)

// EventCascader removes everything a user created, inside the caller's
// transaction. Implemented by the event store; injected from main to avoid
// an import cycle.
type EventCascader interface {
	DeleteByCreator(ctx context.Context, tx *gorm.DB, creatorID uint64) error
}

type Service struct {
	DB     *gorm.DB
	Events EventCascader
	Log    *logger.Logger
}

type CreateInput struct {
	Username    string
	Email       string
	DisplayName string
	Password    string
}

type UpdateInput struct {
	Email       *string
	DisplayName *string
	Password    *string
}

func (s *Service) Create(ctx context.Context, in CreateInput) (*User, error) {
	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.TrimSpace(strings.ToLower(in.Email))
	in.DisplayName = strings.TrimSpace(in.DisplayName)

	if !usernameRe.MatchString(in.Username) {
		return nil, fmt.Errorf("%w: username must be 3-50 chars of [a-zA-Z0-9_.-]", ErrValidation)
	}
	if err := validateEmail(in.Email); err != nil {
		return nil, err
	}
	if in.DisplayName == "" || len(in.DisplayName) > 100 {
		return nil, fmt.Errorf("%w: display name must be 1-100 characters", ErrValidation)
	}
	if len(in.Password) < 8 {
		return nil, fmt.Errorf("%w: password must be at least 8 characters", ErrValidation)
	}

	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return nil, err
	}

	u := &User{
		Username:     in.Username,
		Email:        in.Email,
		DisplayName:  in.DisplayName,
		PasswordHash: hash,
	}

	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&User{}).Where("username = ?", in.Username).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return ErrDuplicateUsername
		}
		if err := tx.Model(&User{}).Where("email = ?", in.Email).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return ErrDuplicateEmail
		}
		return tx.Create(u).Error
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		// lost a race to the unique index; re-check which field clashed
		var existing User
		if s.DB.WithContext(ctx).Where("username = ?", in.Username).First(&existing).Error == nil {
			return nil, ErrDuplicateUsername
		}
		return nil, ErrDuplicateEmail
	}
	if err != nil {
		return nil, err
	}
	return u, nil
}

func (s *Service) GetByID(ctx context.Context, id uint64) (*User, error) {
	return s.getBy(ctx, "id = ?", id)
}

func (s *Service) GetByEmail(ctx context.Context, email string) (*User, error) {
	return s.getBy(ctx, "email = ?", strings.TrimSpace(strings.ToLower(email)))
}

func (s *Service) GetByUsername(ctx context.Context, username string) (*User, error) {
	return s.getBy(ctx, "username = ?", strings.TrimSpace(username))
}

func (s *Service) getBy(ctx context.Context, cond string, arg any) (*User, error) {
	var u User
	if err := s.DB.WithContext(ctx).Where(cond, arg).First(&u).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

// VerifyCredentials returns the profile on a match and (nil, nil) on any
// mismatch. An unknown email and a wrong password are indistinguishable to
// the caller so accounts cannot be enumerated.
func (s *Service) VerifyCredentials(ctx context.Context, email, password string) (*User, error) {
	u, err := s.GetByEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !auth.ComparePassword(u.PasswordHash, password) {
		return nil, nil
	}
	return u, nil
}

func (s *Service) Update(ctx context.Context, id uint64, in UpdateInput) (*User, error) {
	var out *User
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var u User
		if err := tx.First(&u, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}

		if in.Email != nil {
			email := strings.TrimSpace(strings.ToLower(*in.Email))
			if err := validateEmail(email); err != nil {
				return err
			}
			var count int64
			if err := tx.Model(&User{}).Where("email = ? AND id <> ?", email, id).Count(&count).Error; err != nil {
				return err
			}
			if count > 0 {
				return ErrDuplicateEmail
			}
			u.Email = email
		}
		if in.DisplayName != nil {
			name := strings.TrimSpace(*in.DisplayName)
			if name == "" || len(name) > 100 {
				return fmt.Errorf("%w: display name must be 1-100 characters", ErrValidation)
			}
			u.DisplayName = name
		}
		if in.Password != nil {
			if len(*in.Password) < 8 {
				return fmt.Errorf("%w: password must be at least 8 characters", ErrValidation)
			}
			hash, err := auth.HashPassword(*in.Password)
			if err != nil {
				return err
			}
			u.PasswordHash = hash
		}

		if err := tx.Save(&u).Error; err != nil {
			return err
		}
		out = &u
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Delete removes the account, every event it created (full event cascade,
// via the injected EventCascader) and its assignment links on other
// users' events, all in one transaction. Any failure leaves the account
// and its events intact.
func (s *Service) Delete(ctx context.Context, id uint64) error {
	if _, err := s.GetByID(ctx, id); err != nil {
		return err
	}
	s.Log.Info().Uint64("user_id", id).Msg("deleting user and owned events")

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec(`delete from event_assignments where user_id = ?`, id).Error; err != nil {
			return err
		}
		if s.Events != nil {
			if err := s.Events.DeleteByCreator(ctx, tx, id); err != nil {
				return err
			}
		}
		res := tx.Delete(&User{}, id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
	if err == nil || errors.Is(err, ErrNotFound) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrDeleteFailed, err)
}

// ListForAssignment returns candidate assignees sorted by display name.
// excludeID (commonly the caller) is skipped when non-zero.
func (s *Service) ListForAssignment(ctx context.Context, excludeID uint64) ([]User, error) {
	q := s.DB.WithContext(ctx).Model(&User{})
	if excludeID != 0 {
		q = q.Where("id <> ?", excludeID)
	}
	var users []User
	if err := q.Order("display_name asc, id asc").Find(&users).Error; err != nil {
		return nil, err
	}
	return users, nil
}

func validateEmail(email string) error {
	at := strings.Index(email, "@")
	if email == "" || len(email) > 255 || at < 1 || at == len(email)-1 {
		return fmt.Errorf("%w: invalid email", ErrValidation)
	}
	return nil
}
