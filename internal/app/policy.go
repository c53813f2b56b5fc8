package app

import "github.com/stagehand-live/stagehand/internal/domain"

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	DropUpdate
	KickPeer
)

// Policy decides what to do with a subscriber that cannot keep up with
// sync pushes.
type Policy interface {
	OnBackPressure(peerID domain.PeerID) BackpressureAction
}

// SimplePolicy drops the update; the peer catches up on its next push
// and the stale reaper handles peers that are truly gone.
type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(domain.PeerID) BackpressureAction {
	return DropUpdate
}
