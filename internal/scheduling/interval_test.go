package scheduling

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func at(hhmm string) time.Time {
	t, err := time.Parse("2006-01-02 15:04", "2024-06-01 "+hhmm)
	if err != nil {
		panic(err)
	}
	return t
}

func iv(id, start, end string) Interval {
	return Interval{ID: id, ResourceID: "dr-1", Start: at(start), End: at(end)}
}

func TestHasConflict_BackToBackIsAllowed(t *testing.T) {
	assert.False(t, HasConflict(iv("c", "10:00", "11:00"), []Interval{iv("a", "09:00", "10:00")}))
	assert.False(t, HasConflict(iv("c", "09:00", "10:00"), []Interval{iv("a", "10:00", "11:00")}))
}

func TestHasConflict_OverlapCases(t *testing.T) {
	existing := []Interval{iv("a", "09:00", "11:00")}
	cases := map[string]Interval{
		"starts during":     iv("c", "10:30", "12:00"),
		"ends during":       iv("c", "08:00", "09:30"),
		"contains existing": iv("c", "08:00", "12:00"),
		"strictly inside":   iv("c", "10:00", "10:30"),
		"identical range":   iv("c", "09:00", "11:00"),
	}
	for name, candidate := range cases {
		t.Run(name, func(t *testing.T) {
			assert.True(t, HasConflict(candidate, existing))
		})
	}
}

func TestHasConflict_Symmetric(t *testing.T) {
	slots := []Interval{
		iv("a", "09:00", "10:00"),
		iv("b", "09:30", "10:30"),
		iv("c", "10:00", "11:00"),
		iv("d", "08:00", "12:00"),
		iv("e", "11:00", "11:15"),
		iv("f", "09:59", "10:01"),
	}
	for _, a := range slots {
		for _, b := range slots {
			if a.ID == b.ID {
				continue
			}
			assert.Equal(t, HasConflict(a, []Interval{b}), HasConflict(b, []Interval{a}), "%s vs %s", a.ID, b.ID)
		}
	}
}

func TestHasConflict_CancelledNeverConflicts(t *testing.T) {
	cancelled := iv("a", "09:00", "11:00")
	cancelled.Cancelled = true
	assert.False(t, HasConflict(iv("c", "09:00", "11:00"), []Interval{cancelled}))

	candidate := iv("c", "09:00", "11:00")
	candidate.Cancelled = true
	assert.False(t, HasConflict(candidate, []Interval{iv("a", "09:00", "11:00")}))
}

func TestHasConflict_IgnoresSelfAndOtherResources(t *testing.T) {
	self := iv("a", "09:00", "10:00")
	moved := iv("a", "09:30", "10:30")
	assert.False(t, HasConflict(moved, []Interval{self}))

	other := iv("b", "09:00", "10:00")
	other.ResourceID = "dr-2"
	assert.False(t, HasConflict(iv("c", "09:00", "10:00"), []Interval{other}))
}

func TestCheck_RejectsInvalidBeforeConflict(t *testing.T) {
	err := Check(iv("c", "10:00", "10:00"), []Interval{iv("a", "09:00", "11:00")})
	assert.ErrorIs(t, err, ErrInvalidInterval)
	assert.False(t, errors.Is(err, ErrConflict))

	err = Check(iv("c", "11:00", "10:00"), nil)
	assert.ErrorIs(t, err, ErrInvalidInterval)
}

func TestCheck_ReportsConflictingIntervals(t *testing.T) {
	err := Check(iv("c", "09:30", "10:30"), []Interval{
		iv("a", "09:00", "10:00"),
		iv("b", "10:00", "11:00"),
		iv("x", "12:00", "13:00"),
	})
	require.ErrorIs(t, err, ErrConflict)
	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	require.Len(t, conflict.With, 2)
	assert.Equal(t, "a", conflict.With[0].ID)
	assert.Equal(t, "b", conflict.With[1].ID)
}
