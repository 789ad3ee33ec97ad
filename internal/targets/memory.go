package targets

import (
	"context"
	"fmt"
	"sync"

	"github.com/wolfman30/clinic-automation/internal/automation"
)

// MemoryDirectory is an in-process resolver for local runs.
type MemoryDirectory struct {
	mu       sync.RWMutex
	profiles map[string]automation.TargetProfile
	orgNames map[string]string
}

// NewMemoryDirectory creates an empty directory.
func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		profiles: make(map[string]automation.TargetProfile),
		orgNames: make(map[string]string),
	}
}

var _ automation.TargetResolver = (*MemoryDirectory)(nil)

// Put stores or replaces a profile.
func (d *MemoryDirectory) Put(orgID string, profile automation.TargetProfile) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.profiles[memoryKey(orgID, profile.Kind, profile.ID)] = profile
}

// Remove deletes a profile.
func (d *MemoryDirectory) Remove(orgID string, kind automation.TargetKind, id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.profiles, memoryKey(orgID, kind, id))
}

// SetOrganizationName records a clinic name.
func (d *MemoryDirectory) SetOrganizationName(orgID, name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.orgNames[orgID] = name
}

func (d *MemoryDirectory) ResolveTarget(_ context.Context, orgID string, kind automation.TargetKind, targetID string) (*automation.TargetProfile, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.profiles[memoryKey(orgID, kind, targetID)]
	if !ok {
		return nil, automation.ErrTargetNotFound
	}
	return &p, nil
}

func (d *MemoryDirectory) OrganizationName(_ context.Context, orgID string) (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	name, ok := d.orgNames[orgID]
	if !ok {
		return "", fmt.Errorf("targets: organization %s not found", orgID)
	}
	return name, nil
}

func memoryKey(orgID string, kind automation.TargetKind, id string) string {
	return orgID + "|" + string(kind) + "|" + id
}
