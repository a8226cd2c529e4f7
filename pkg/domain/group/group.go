// Package group holds the group aggregate and the per-group settings the
// membership evaluator reads.
package group

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/openctemio/groups/pkg/domain/shared"
)

var slugRegex = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)

// Status controls how users may enter a group.
type Status string

const (
	StatusPublic  Status = "public"
	StatusPrivate Status = "private"
	StatusHidden  Status = "hidden"
)

// IsValid checks if the status is a known value.
func (s Status) IsValid() bool {
	switch s {
	case StatusPublic, StatusPrivate, StatusHidden:
		return true
	}
	return false
}

// IsRequestGated reports whether users must request membership instead of
// joining directly.
func (s Status) IsRequestGated() bool {
	return s == StatusPrivate || s == StatusHidden
}

// ParseStatus parses a status string. An empty string yields StatusPublic.
func ParseStatus(s string) (Status, error) {
	if s == "" {
		return StatusPublic, nil
	}
	st := Status(strings.ToLower(s))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid group status %q", shared.ErrInvalidArgument, s)
	}
	return st, nil
}

// Group is a named collection of members.
type Group struct {
	id        shared.ID
	name      string
	slug      string
	status    Status
	creatorID shared.ID
	settings  Settings
	createdAt time.Time
	updatedAt time.Time
}

// NewGroup creates a new Group. The slug is derived from the name when empty.
func NewGroup(name, slug string, status Status, creatorID shared.ID) (*Group, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", shared.ErrInvalidArgument)
	}
	if creatorID.IsZero() {
		return nil, fmt.Errorf("%w: creatorID is required", shared.ErrInvalidArgument)
	}
	if slug == "" {
		slug = Slugify(name)
	}
	slug = strings.ToLower(slug)
	if !slugRegex.MatchString(slug) {
		return nil, fmt.Errorf("%w: invalid slug format (use lowercase letters, numbers, and hyphens)", shared.ErrInvalidArgument)
	}
	if status == "" {
		status = StatusPublic
	}
	if !status.IsValid() {
		return nil, fmt.Errorf("%w: invalid group status %q", shared.ErrInvalidArgument, status)
	}

	now := time.Now().UTC()
	return &Group{
		id:        shared.NewID(),
		name:      name,
		slug:      slug,
		status:    status,
		creatorID: creatorID,
		settings:  DefaultSettings(),
		createdAt: now,
		updatedAt: now,
	}, nil
}

// Reconstitute recreates a Group from persistence.
func Reconstitute(
	id shared.ID,
	name, slug string,
	status Status,
	creatorID shared.ID,
	settings Settings,
	createdAt, updatedAt time.Time,
) *Group {
	return &Group{
		id:        id,
		name:      name,
		slug:      slug,
		status:    status,
		creatorID: creatorID,
		settings:  settings.normalized(),
		createdAt: createdAt,
		updatedAt: updatedAt,
	}
}

// Slugify lowercases name and joins alphanumeric runs with hyphens.
func Slugify(name string) string {
	var b strings.Builder
	pendingDash := false
	for _, r := range strings.ToLower(name) {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			if pendingDash && b.Len() > 0 {
				b.WriteByte('-')
			}
			pendingDash = false
			b.WriteRune(r)
		default:
			pendingDash = true
		}
	}
	return b.String()
}

// ID returns the group ID.
func (g *Group) ID() shared.ID { return g.id }

// Name returns the display name.
func (g *Group) Name() string { return g.name }

// Slug returns the URL-friendly identifier.
func (g *Group) Slug() string { return g.slug }

// Status returns the group status.
func (g *Group) Status() Status { return g.status }

// CreatorID returns the user who created the group.
func (g *Group) CreatorID() shared.ID { return g.creatorID }

// Settings returns a copy of the group settings.
func (g *Group) Settings() Settings { return g.settings }

// CreatedAt returns the creation timestamp.
func (g *Group) CreatedAt() time.Time { return g.createdAt }

// UpdatedAt returns the last update timestamp.
func (g *Group) UpdatedAt() time.Time { return g.updatedAt }

// Rename updates the group name.
func (g *Group) Rename(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("%w: name is required", shared.ErrInvalidArgument)
	}
	g.name = name
	g.updatedAt = time.Now().UTC()
	return nil
}

// UpdateStatus changes the group status.
func (g *Group) UpdateStatus(status Status) error {
	if !status.IsValid() {
		return fmt.Errorf("%w: invalid group status %q", shared.ErrInvalidArgument, status)
	}
	g.status = status
	g.updatedAt = time.Now().UTC()
	return nil
}

// UpdateSettings replaces the group settings.
func (g *Group) UpdateSettings(s Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	g.settings = s.normalized()
	g.updatedAt = time.Now().UTC()
	return nil
}
