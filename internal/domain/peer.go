// Package domain contains entity without logic, just meta-data
package domain

import (
	"errors"
	"time"
)

const MaxDisplayNameLen = 36

var (
	ErrDisplayNameTooLong = errors.New("display name too long")
	ErrDisplayNameEmpty   = errors.New("display name empty")
	ErrPeerBanned         = errors.New("peer is banned")
)

// PeerID is the stable identifier of a connected participant for the
// duration of its connection. It is the primary key everywhere.
type PeerID string

type Role string

const (
	RoleVisitor Role = "visitor"
	RoleManager Role = "manager"
)

// Peer is the participant's identity record, independent of any live
// transport resources.
type Peer struct {
	ID          PeerID    `json:"id"`
	DisplayName string    `json:"displayName"`
	Role        Role      `json:"role"`
	Banned      bool      `json:"banned"`
	JoinedAt    time.Time `json:"joinedAt"`
}

func NewPeer(id PeerID, displayName string) (*Peer, error) {
	if displayName == "" {
		return nil, ErrDisplayNameEmpty
	}
	if len(displayName) > MaxDisplayNameLen {
		return nil, ErrDisplayNameTooLong
	}
	return &Peer{ID: id, DisplayName: displayName, Role: RoleVisitor, JoinedAt: time.Now()}, nil
}

func (p *Peer) IsManager() bool { return p.Role == RoleManager }

func (p *Peer) SetDisplayName(name string) error {
	if name == "" {
		return ErrDisplayNameEmpty
	}
	if len(name) > MaxDisplayNameLen {
		return ErrDisplayNameTooLong
	}
	p.DisplayName = name
	return nil
}
