package gorig

import (
	"context"
	"errors"
	"testing"
)

func TestRegistry(t *testing.T) {
	info := &RigInfo{
		Name:       "Test Rig",
		ModelCodes: []string{"900", "901"},
		New: func(context.Context, *Config) (Rig, error) {
			return nil, errors.New("offline")
		},
	}
	if err := RegisterRig(info); err != nil {
		t.Fatal(err)
	}
	if err := RegisterRig(info); err == nil {
		t.Error("duplicate RegisterRig() succeeded")
	}

	found := false
	for _, n := range ListRigNames() {
		if n == "Test Rig" {
			found = true
		}
	}
	if !found {
		t.Errorf("ListRigNames() = %v", ListRigNames())
	}

	got, err := LookupModel("901")
	if err != nil || got.Name != "Test Rig" {
		t.Errorf("LookupModel(901) = %v, %v", got, err)
	}
	if _, err := LookupModel("999"); !errors.Is(err, ErrUnsupportedModel) {
		t.Errorf("LookupModel(999) error = %v", err)
	}

	if _, err := NewRig(context.Background(), "nope", &Config{}); !errors.Is(err, ErrUnknownRig) {
		t.Errorf("NewRig(nope) error = %v", err)
	}
	if _, err := NewRig(context.Background(), "Test Rig", &Config{}); err == nil || err.Error() != "offline" {
		t.Errorf("NewRig() error = %v", err)
	}
}
