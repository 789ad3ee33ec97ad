package scheduling

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore keeps appointments in process. One mutex serialises every
// check-then-write.
type MemoryStore struct {
	mu    sync.Mutex
	appts map[uuid.UUID]Appointment
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{appts: make(map[uuid.UUID]Appointment)}
}

var _ Store = (*MemoryStore)(nil)

func (m *MemoryStore) Create(_ context.Context, appt *Appointment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if appt.ID == uuid.Nil {
		appt.ID = uuid.New()
	}
	appt.Status = StatusScheduled
	if err := Check(appt.Interval(), m.intervalsLocked(appt.OrgID, appt.ProfessionalID)); err != nil {
		return err
	}
	now := time.Now().UTC()
	appt.CreatedAt, appt.UpdatedAt = now, now
	m.appts[appt.ID] = *appt
	return nil
}

func (m *MemoryStore) Reschedule(_ context.Context, appt *Appointment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := appt.Interval().Validate(); err != nil {
		return err
	}
	current, ok := m.appts[appt.ID]
	if !ok || current.OrgID != appt.OrgID || current.Status != StatusScheduled {
		return ErrAppointmentNotFound
	}
	candidate := current
	candidate.ProfessionalID = appt.ProfessionalID
	candidate.StartsAt = appt.StartsAt
	candidate.EndsAt = appt.EndsAt
	if err := Check(candidate.Interval(), m.intervalsLocked(candidate.OrgID, candidate.ProfessionalID)); err != nil {
		return err
	}
	candidate.UpdatedAt = time.Now().UTC()
	m.appts[appt.ID] = candidate
	*appt = candidate
	return nil
}

func (m *MemoryStore) Get(_ context.Context, orgID string, id uuid.UUID) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appts[id]
	if !ok || a.OrgID != orgID {
		return nil, ErrAppointmentNotFound
	}
	return &a, nil
}

func (m *MemoryStore) Transition(_ context.Context, orgID string, id uuid.UUID, to Status, at time.Time) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appts[id]
	if !ok || a.OrgID != orgID || a.Status != StatusScheduled {
		return nil, ErrAppointmentNotFound
	}
	a.Status = to
	a.UpdatedAt = at
	m.appts[id] = a
	return &a, nil
}

func (m *MemoryStore) ListForProfessional(_ context.Context, orgID, professionalID string, from, to time.Time) ([]Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	window := Interval{ResourceID: professionalID, Start: from, End: to}
	var out []Appointment
	for _, a := range m.appts {
		if a.OrgID != orgID || a.ProfessionalID != professionalID || a.Status == StatusCancelled {
			continue
		}
		if window.Overlaps(a.Interval()) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartsAt.Before(out[j].StartsAt) })
	return out, nil
}

func (m *MemoryStore) intervalsLocked(orgID, professionalID string) []Interval {
	var out []Interval
	for _, a := range m.appts {
		if a.OrgID == orgID && a.ProfessionalID == professionalID {
			out = append(out, a.Interval())
		}
	}
	return out
}
