// Package gorig is a state caching CAT engine for amateur radio transceivers.
//
// Consumers program against Rig: named properties that are read from a cache,
// written fire-and-forget and observed through modify callbacks. Drivers
// register themselves with RegisterRig and are opened with NewRig.
package gorig

import (
	"context"
	"fmt"

	"github.com/roffe/gorig/pkg/property"
)

// Property names every driver has to provide.
const (
	Split       = "split"
	RxFrequency = "rx_frequency"
	TxFrequency = "tx_frequency"
	RxMode      = "rx_mode"
	TxMode      = "tx_mode"
	TX          = "tx"
)

var RequiredProperties = []string{Split, RxFrequency, TxFrequency, RxMode, TxMode, TX}

// IsRequired reports whether name is one of RequiredProperties.
func IsRequired(name string) bool {
	for _, n := range RequiredProperties {
		if n == name {
			return true
		}
	}
	return false
}

type ModifyFunc = func(value any)

type CallbackID = property.CallbackID

// Rig is the contract consumers use. Composite elements are addressed as
// name[index]. Read returns (nil, nil) for a value that is currently unknown.
type Rig interface {
	Read(ctx context.Context, name string) (any, error)
	Write(name string, value any) error
	AddModifyCallback(name string, fn ModifyFunc) (CallbackID, error)
	RemoveModifyCallback(name string, id CallbackID) error
	Terminate() error
}

// Lister is implemented by rigs that can enumerate their properties.
type Lister interface {
	Names() []string
}

// ReadInt reads an integer property. ok is false when the value is unknown.
func ReadInt(ctx context.Context, r Rig, name string) (int, bool, error) {
	v, err := r.Read(ctx, name)
	if err != nil || v == nil {
		return 0, false, err
	}
	switch t := v.(type) {
	case int:
		return t, true, nil
	case bool:
		if t {
			return 1, true, nil
		}
		return 0, true, nil
	}
	return 0, false, fmt.Errorf("%s: %T is not an integer", name, v)
}

// ReadBool reads a flag. Integers are true when non-zero.
func ReadBool(ctx context.Context, r Rig, name string) (bool, bool, error) {
	v, err := r.Read(ctx, name)
	if err != nil || v == nil {
		return false, false, err
	}
	switch t := v.(type) {
	case bool:
		return t, true, nil
	case int:
		return t != 0, true, nil
	}
	return false, false, fmt.Errorf("%s: %T is not a flag", name, v)
}
