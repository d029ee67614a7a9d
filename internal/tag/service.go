package tag

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"regexp"
	"strings"

	"gorm.io/gorm"
)

var (
	ErrNotFound      = errors.New("tag not found")
	ErrDuplicateName = errors.New("tag name already exists")
	ErrValidation    = errors.New("validation error")
)

var (
	nameRe  = regexp.MustCompile(`^[a-zA-Z0-9 _-]{1,50}$`)
	colorRe = regexp.MustCompile(`^[0-9a-fA-F]{6}$`)
)

// palette used when a tag is created without an explicit color.
var palette = [10]string{
	"e6194b", "3cb44b", "ffe119", "4363d8", "f58231",
	"911eb4", "46f0f0", "f032e6", "bcf60c", "008080",
}

// paletteColor picks a palette entry keyed by an FNV hash of the name, so
// repeated creates of the same name land on the same color. No uniqueness
// guarantee across tags.
func paletteColor(name string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(name))
	return palette[h.Sum32()%uint32(len(palette))]
}

type Service struct {
	DB *gorm.DB
}

func (s *Service) Create(ctx context.Context, name, color string) (*Tag, error) {
	name = strings.TrimSpace(name)
	if !nameRe.MatchString(name) {
		return nil, fmt.Errorf("%w: tag name must be 1-50 chars of [a-zA-Z0-9 _-]", ErrValidation)
	}
	if color == "" {
		color = paletteColor(name)
	} else {
		color = strings.TrimPrefix(color, "#")
		if !colorRe.MatchString(color) {
			return nil, fmt.Errorf("%w: color must be 6 hex digits", ErrValidation)
		}
		color = strings.ToLower(color)
	}

	t := &Tag{Name: name, Color: color}
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&Tag{}).Where("name = ?", name).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return ErrDuplicateName
		}
		return tx.Create(t).Error
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return nil, ErrDuplicateName
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

// CreateMultiple returns one tag per distinct name, creating the missing
// ones with a palette color. Idempotent: the same name list yields the
// same tag ids on every call.
func (s *Service) CreateMultiple(ctx context.Context, names []string) ([]Tag, error) {
	cleaned := make([]string, 0, len(names))
	seen := map[string]struct{}{}
	for _, n := range names {
		n = strings.TrimSpace(n)
		if !nameRe.MatchString(n) {
			return nil, fmt.Errorf("%w: tag name %q must be 1-50 chars of [a-zA-Z0-9 _-]", ErrValidation, n)
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		cleaned = append(cleaned, n)
	}

	out := make([]Tag, 0, len(cleaned))
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing []Tag
		if err := tx.Where("name IN ?", cleaned).Find(&existing).Error; err != nil {
			return err
		}
		byName := make(map[string]Tag, len(existing))
		for _, t := range existing {
			byName[t.Name] = t
		}

		for _, n := range cleaned {
			t, ok := byName[n]
			if !ok {
				t = Tag{Name: n, Color: paletteColor(n)}
				if err := tx.Create(&t).Error; err != nil {
					return err
				}
			}
			out = append(out, t)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) GetByID(ctx context.Context, id uint64) (*Tag, error) {
	var t Tag
	if err := s.DB.WithContext(ctx).First(&t, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &t, nil
}

func (s *Service) GetByName(ctx context.Context, name string) (*Tag, error) {
	var t Tag
	if err := s.DB.WithContext(ctx).Where("name = ?", strings.TrimSpace(name)).First(&t).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &t, nil
}

func (s *Service) GetByIDs(ctx context.Context, ids []uint64) ([]Tag, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var tags []Tag
	if err := s.DB.WithContext(ctx).Where("id IN ?", ids).Find(&tags).Error; err != nil {
		return nil, err
	}
	return tags, nil
}

func (s *Service) GetByNames(ctx context.Context, names []string) ([]Tag, error) {
	if len(names) == 0 {
		return nil, nil
	}
	var tags []Tag
	if err := s.DB.WithContext(ctx).Where("name IN ?", names).Find(&tags).Error; err != nil {
		return nil, err
	}
	return tags, nil
}

type UpdateInput struct {
	Name  *string
	Color *string
}

func (s *Service) Update(ctx context.Context, id uint64, in UpdateInput) (*Tag, error) {
	var out *Tag
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var t Tag
		if err := tx.First(&t, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}

		if in.Name != nil {
			name := strings.TrimSpace(*in.Name)
			if !nameRe.MatchString(name) {
				return fmt.Errorf("%w: tag name must be 1-50 chars of [a-zA-Z0-9 _-]", ErrValidation)
			}
			var count int64
			if err := tx.Model(&Tag{}).Where("name = ? AND id <> ?", name, id).Count(&count).Error; err != nil {
				return err
			}
			if count > 0 {
				return ErrDuplicateName
			}
			t.Name = name
		}
		if in.Color != nil {
			color := strings.TrimPrefix(*in.Color, "#")
			if !colorRe.MatchString(color) {
				return fmt.Errorf("%w: color must be 6 hex digits", ErrValidation)
			}
			t.Color = strings.ToLower(color)
		}

		if err := tx.Save(&t).Error; err != nil {
			return err
		}
		out = &t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Delete removes the tag and its event associations. Events themselves are
// untouched.
func (s *Service) Delete(ctx context.Context, id uint64) error {
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Delete(&Tag{}, id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return tx.Exec(`delete from event_tags where tag_id = ?`, id).Error
	})
}

func (s *Service) ListWithCounts(ctx context.Context) ([]TagWithCount, error) {
	var out []TagWithCount
	err := s.DB.WithContext(ctx).Raw(`
		select tags.*, count(event_tags.event_id) as event_count
		from tags
		left join event_tags on event_tags.tag_id = tags.id
		group by tags.id
		order by tags.name asc
	`).Scan(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) MostPopular(ctx context.Context, limit int) ([]TagWithCount, error) {
	if limit < 1 {
		limit = 10
	}
	var out []TagWithCount
	err := s.DB.WithContext(ctx).Raw(`
		select tags.*, count(event_tags.event_id) as event_count
		from tags
		left join event_tags on event_tags.tag_id = tags.id
		group by tags.id
		order by event_count desc, tags.name asc
		limit ?
	`, limit).Scan(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}
