// Package family manages the shared roster of a family owner: at most five
// active members, one immutable owner, and a monthly quota on add, remove and
// replace.
package family

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dukerupert/hotspot/internal/model"
	"github.com/dukerupert/hotspot/internal/quota"
	"github.com/dukerupert/hotspot/internal/verify"
)

const DefaultTTL = 365 * 24 * time.Hour

type Store interface {
	CreateProfile(ctx context.Context, profile model.FamilyProfile, owner model.FamilyMember) (*model.FamilyProfile, error)
	GetByOwner(ctx context.Context, ownerID int64) (*model.FamilyProfile, error)
	ListMembers(ctx context.Context, familyID int64) ([]model.FamilyMember, error)
	GetMember(ctx context.Context, familyID, memberID int64) (*model.FamilyMember, error)
	AddMember(ctx context.Context, familyID int64, m model.FamilyMember, charge *model.QuotaCharge) (*model.FamilyMember, error)
	SetMemberStatus(ctx context.Context, familyID, memberID int64, from, to model.MemberStatus, charge *model.QuotaCharge) error
	ReplaceMember(ctx context.Context, familyID, oldID int64, m model.FamilyMember, charge *model.QuotaCharge) (*model.FamilyMember, error)
}

type Users interface {
	GetByID(ctx context.Context, id int64) (*model.User, error)
	GetByContact(ctx context.Context, contact string) (*model.User, error)
}

// MemberInput describes a person joining the roster.
type MemberInput struct {
	Name    string           `json:"name"`
	Contact string           `json:"contact"`
	Role    model.FamilyRole `json:"role"`
}

// View is a family with its roster and the owner's quota for this month.
type View struct {
	Profile model.FamilyProfile  `json:"profile"`
	Members []model.FamilyMember `json:"members"`
	Quota   quota.Status         `json:"quota"`
}

type Service struct {
	store  Store
	users  Users
	quota  *quota.Allocator
	logger *slog.Logger
	now    func() time.Time
	ttl    time.Duration
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithTTL(d time.Duration) Option {
	return func(s *Service) { s.ttl = d }
}

func NewService(store Store, users Users, allocator *quota.Allocator, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		store:  store,
		users:  users,
		quota:  allocator,
		logger: logger.With("component", "family"),
		now:    time.Now,
		ttl:    DefaultTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create starts a family owned by ownerID. The owner is the first active member.
func (s *Service) Create(ctx context.Context, ownerID int64, name string) (*model.FamilyProfile, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", model.ErrInvalidMember)
	}
	owner, err := s.users.GetByID(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if owner == nil {
		return nil, model.ErrUserNotFound
	}
	if owner.FamilyID != nil {
		return nil, model.ErrFamilyExists
	}

	now := s.now().UTC()
	f, err := s.store.CreateProfile(ctx,
		model.FamilyProfile{
			OwnerID:    ownerID,
			Name:       name,
			MaxMembers: model.MaxFamilyMembers,
			CreatedAt:  now,
			ExpiresAt:  now.Add(s.ttl),
		},
		model.FamilyMember{Name: ownerName(owner), Contact: owner.Contact},
	)
	if err != nil {
		return nil, err
	}
	s.logger.Info("family created", "family_id", f.ID, "owner_id", ownerID)
	return f, nil
}

func ownerName(u *model.User) string {
	if u.Contact != "" {
		return u.Contact
	}
	return "Owner"
}

// Get returns the owner's family, roster and quota status.
func (s *Service) Get(ctx context.Context, ownerID int64) (*View, error) {
	f, err := s.profile(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	members, err := s.store.ListMembers(ctx, f.ID)
	if err != nil {
		return nil, err
	}
	if members == nil {
		members = []model.FamilyMember{}
	}
	st, err := s.quota.Validate(ctx, ownerID, model.ChangeAdd)
	if err != nil {
		return nil, err
	}
	return &View{Profile: *f, Members: members, Quota: st}, nil
}

func (s *Service) profile(ctx context.Context, ownerID int64) (*model.FamilyProfile, error) {
	f, err := s.store.GetByOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if f == nil {
		return nil, model.ErrFamilyNotFound
	}
	return f, nil
}

// mutable loads the family and refuses changes to one that expired or was
// deactivated.
func (s *Service) mutable(ctx context.Context, ownerID int64) (*model.FamilyProfile, error) {
	f, err := s.profile(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if !f.Active || !s.now().Before(f.ExpiresAt) {
		return nil, model.ErrFamilyInactive
	}
	return f, nil
}

func (s *Service) member(ctx context.Context, f *model.FamilyProfile, memberID int64) (*model.FamilyMember, error) {
	m, err := s.store.GetMember(ctx, f.ID, memberID)
	if err != nil {
		return nil, err
	}
	if m == nil || m.Status == model.MemberRemoved {
		return nil, model.ErrMemberNotFound
	}
	return m, nil
}

// prepare validates a new member and links it to an existing account with
// the same contact when that account has no family yet.
func (s *Service) prepare(ctx context.Context, in MemberInput) (model.FamilyMember, error) {
	m := model.FamilyMember{Name: strings.TrimSpace(in.Name), Role: in.Role}
	if m.Name == "" {
		return m, fmt.Errorf("%w: name is required", model.ErrInvalidMember)
	}
	switch m.Role {
	case "":
		m.Role = model.RoleMember
	case model.RoleMember, model.RoleChild:
	case model.RoleOwner:
		return m, model.ErrOwnerImmutable
	default:
		return m, fmt.Errorf("%w: unknown role %q", model.ErrInvalidMember, in.Role)
	}

	if strings.TrimSpace(in.Contact) == "" {
		return m, nil
	}
	contact, _, err := verify.NormalizeContact(in.Contact)
	if err != nil {
		return m, err
	}
	m.Contact = contact

	u, err := s.users.GetByContact(ctx, contact)
	if err != nil {
		return m, err
	}
	if u != nil && u.FamilyID == nil {
		m.UserID = &u.ID
	}
	return m, nil
}

// Add puts a new active member on the roster. The quota is checked first,
// then capacity; the change is counted in the same write that stores the
// member.
func (s *Service) Add(ctx context.Context, ownerID int64, in MemberInput) (*model.FamilyMember, error) {
	f, err := s.mutable(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	m, err := s.prepare(ctx, in)
	if err != nil {
		return nil, err
	}
	if _, err := s.quota.Require(ctx, ownerID, model.ChangeAdd); err != nil {
		return nil, err
	}
	if f.MemberCount >= f.MaxMembers {
		return nil, model.ErrFamilyAtCapacity
	}

	created, err := s.store.AddMember(ctx, f.ID, m, s.quota.Charge(ownerID, model.ChangeAdd))
	if err != nil {
		return nil, err
	}
	s.logger.Info("family member added", "family_id", f.ID, "member_id", created.ID, "role", created.Role)
	return created, nil
}

// Remove takes a member off the roster. The owner cannot be removed.
func (s *Service) Remove(ctx context.Context, ownerID, memberID int64) error {
	f, err := s.mutable(ctx, ownerID)
	if err != nil {
		return err
	}
	m, err := s.member(ctx, f, memberID)
	if err != nil {
		return err
	}
	if m.Role == model.RoleOwner {
		return model.ErrOwnerImmutable
	}
	if _, err := s.quota.Require(ctx, ownerID, model.ChangeRemove); err != nil {
		return err
	}

	if err := s.store.SetMemberStatus(ctx, f.ID, memberID, m.Status, model.MemberRemoved, s.quota.Charge(ownerID, model.ChangeRemove)); err != nil {
		return err
	}
	s.logger.Info("family member removed", "family_id", f.ID, "member_id", memberID)
	return nil
}

// Replace swaps one member for a new person in a single step: the old member
// is marked removed and the new one takes over its role and status. The
// member count does not change and the quota counts one change.
func (s *Service) Replace(ctx context.Context, ownerID, memberID int64, in MemberInput) (*model.FamilyMember, error) {
	f, err := s.mutable(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	old, err := s.member(ctx, f, memberID)
	if err != nil {
		return nil, err
	}
	if old.Role == model.RoleOwner {
		return nil, model.ErrOwnerImmutable
	}
	in.Role = old.Role
	m, err := s.prepare(ctx, in)
	if err != nil {
		return nil, err
	}
	if _, err := s.quota.Require(ctx, ownerID, model.ChangeReplace); err != nil {
		return nil, err
	}

	created, err := s.store.ReplaceMember(ctx, f.ID, memberID, m, s.quota.Charge(ownerID, model.ChangeReplace))
	if err != nil {
		return nil, err
	}
	s.logger.Info("family member replaced", "family_id", f.ID, "old_member_id", memberID, "member_id", created.ID)
	return created, nil
}

// Suspend pauses an active member. It never consumes quota.
func (s *Service) Suspend(ctx context.Context, ownerID, memberID int64) error {
	f, err := s.mutable(ctx, ownerID)
	if err != nil {
		return err
	}
	m, err := s.member(ctx, f, memberID)
	if err != nil {
		return err
	}
	if m.Role == model.RoleOwner {
		return model.ErrOwnerImmutable
	}
	if m.Status != model.MemberActive {
		return fmt.Errorf("%w: member is %s", model.ErrInvalidMember, m.Status)
	}

	if err := s.store.SetMemberStatus(ctx, f.ID, memberID, model.MemberActive, model.MemberSuspended, nil); err != nil {
		return err
	}
	return s.quota.Record(ctx, ownerID, model.ChangeSuspend)
}

// Reactivate restores a suspended member if the family has room for another
// active member. It never consumes quota.
func (s *Service) Reactivate(ctx context.Context, ownerID, memberID int64) error {
	f, err := s.mutable(ctx, ownerID)
	if err != nil {
		return err
	}
	m, err := s.member(ctx, f, memberID)
	if err != nil {
		return err
	}
	if m.Status != model.MemberSuspended {
		return fmt.Errorf("%w: member is %s", model.ErrInvalidMember, m.Status)
	}
	if f.MemberCount >= f.MaxMembers {
		return model.ErrFamilyAtCapacity
	}

	if err := s.store.SetMemberStatus(ctx, f.ID, memberID, model.MemberSuspended, model.MemberActive, nil); err != nil {
		return err
	}
	return s.quota.Record(ctx, ownerID, model.ChangeReactivate)
}
