package app

import "github.com/dkeye/VoiceCall/internal/domain"

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	MarkSlow
	KickMember
	DropFrame
)

type Policy interface {
	OnBackPressure(event string, conn domain.ConnID) BackpressureAction
}

// SimplePolicy drops lossy pushes and kicks connections that fall behind
// on anything that changes room state.
type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(event string, _ domain.ConnID) BackpressureAction {
	switch event {
	case "signal", "user-online", "user-offline":
		return DropFrame
	}
	return KickMember
}
