package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSchedule_DueAt(t *testing.T) {
	t0 := time.Date(2024, 12, 5, 2, 15, 3, 0, time.UTC)
	s := &Schedule{UpdatedAt: t0, UpdateInterval: 60 * time.Second}

	assert.Equal(t, t0.Add(time.Minute), s.DueAt())
	assert.Equal(t, 60, s.IntervalSeconds())
}

func TestSchedule_IsDue(t *testing.T) {
	t0 := time.Date(2024, 12, 5, 2, 15, 3, 0, time.UTC)
	s := &Schedule{UpdatedAt: t0, UpdateInterval: 60 * time.Second}

	assert.False(t, s.IsDue(t0.Add(59*time.Second)))
	assert.True(t, s.IsDue(t0.Add(60*time.Second)), "due exactly at updated_at + interval")
	assert.True(t, s.IsDue(t0.Add(90*time.Second)))

	deleted := t0.Add(time.Second)
	s.DeletedAt = &deleted
	assert.False(t, s.IsDue(t0.Add(time.Hour)))
}
