package app

import (
	"errors"

	"github.com/dkeye/chatcore/internal/core"
	"github.com/dkeye/chatcore/internal/domain"
)

type DeliveryAction int

const (
	NoAction DeliveryAction = iota
	// Disconnect treats the recipient as gone: its transport is closed and
	// the router runs the usual disconnect cleanup.
	Disconnect
)

// Policy decides what happens to a recipient whose delivery failed.
type Policy interface {
	OnDeliveryFailure(room domain.RoomID, conn core.ConnectionID, err error) DeliveryAction
}

// SimplePolicy reconciles every failure as an implicit disconnect.
type SimplePolicy struct{}

func (SimplePolicy) OnDeliveryFailure(domain.RoomID, core.ConnectionID, error) DeliveryAction {
	return Disconnect
}

// TolerantPolicy keeps slow consumers around and only drops closed ones.
type TolerantPolicy struct {
	Closed error
}

func (p TolerantPolicy) OnDeliveryFailure(_ domain.RoomID, _ core.ConnectionID, err error) DeliveryAction {
	if p.Closed != nil && errors.Is(err, p.Closed) {
		return Disconnect
	}
	return NoAction
}
