package gorig

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// RigInfo describes a driver that can be opened by name.
type RigInfo struct {
	Name        string
	Description string
	// ModelCodes are the identity replies (ID;) the driver has tables for.
	ModelCodes []string
	New        func(context.Context, *Config) (Rig, error)
}

func (r *RigInfo) String() string {
	return fmt.Sprintf("%s | %s, models: %s", r.Name, r.Description, strings.Join(r.ModelCodes, ","))
}

var (
	rigMu  sync.RWMutex
	rigMap = make(map[string]*RigInfo)
)

// NewRig opens the named driver. The returned rig has finished its start of
// day cache fill.
func NewRig(ctx context.Context, rigName string, cfg *Config) (Rig, error) {
	rigMu.RLock()
	rig, found := rigMap[rigName]
	rigMu.RUnlock()
	if !found {
		return nil, fmt.Errorf("%w %q", ErrUnknownRig, rigName)
	}
	return rig.New(ctx, cfg.withDefaults())
}

func RegisterRig(rig *RigInfo) error {
	rigMu.Lock()
	defer rigMu.Unlock()
	if _, found := rigMap[rig.Name]; !found {
		rigMap[rig.Name] = rig
		return nil
	}
	return fmt.Errorf("rig %s already registered", rig.Name)
}

func ListRigNames() []string {
	rigMu.RLock()
	var out []string
	for name := range rigMap {
		out = append(out, name)
	}
	rigMu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return strings.ToLower(out[i]) < strings.ToLower(out[j]) })
	return out
}

func ListRigs() []RigInfo {
	rigMu.RLock()
	var out []RigInfo
	for _, rig := range rigMap {
		out = append(out, *rig)
	}
	rigMu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return strings.ToLower(out[i].Name) < strings.ToLower(out[j].Name) })
	return out
}

// LookupModel finds the driver registered for an identity code.
func LookupModel(code string) (*RigInfo, error) {
	rigMu.RLock()
	defer rigMu.RUnlock()
	for _, rig := range rigMap {
		for _, c := range rig.ModelCodes {
			if c == code {
				return rig, nil
			}
		}
	}
	return nil, &ModelError{Code: code}
}
