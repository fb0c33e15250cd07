package model

import "time"

const MaxFamilyMembers = 5

type FamilyRole string

const (
	RoleOwner  FamilyRole = "owner"
	RoleMember FamilyRole = "member"
	RoleChild  FamilyRole = "child"
)

type MemberStatus string

const (
	MemberActive    MemberStatus = "active"
	MemberSuspended MemberStatus = "suspended"
	MemberRemoved   MemberStatus = "removed"
)

type FamilyProfile struct {
	ID          int64     `json:"id"`
	OwnerID     int64     `json:"owner_id"`
	Name        string    `json:"name"`
	MemberCount int       `json:"member_count"`
	MaxMembers  int       `json:"max_members"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

type FamilyMember struct {
	ID        int64        `json:"id"`
	FamilyID  int64        `json:"family_id"`
	UserID    *int64       `json:"user_id"`
	Name      string       `json:"name"`
	Contact   string       `json:"contact"`
	Role      FamilyRole   `json:"role"`
	Status    MemberStatus `json:"status"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}
