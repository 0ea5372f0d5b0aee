package monitoring

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorPredicates(t *testing.T) {
	verr := NewValidationError("bad value %d", 7)
	assert.True(t, IsValidation(verr))
	assert.False(t, IsNotFound(verr))
	assert.Contains(t, verr.Error(), "bad value 7")

	nerr := NewNotFoundError("alert %q not found", "x")
	assert.True(t, IsNotFound(nerr))

	cause := errors.New("dial tcp: connection refused")
	derr := NewDependencyError("probe failed", cause)
	assert.True(t, IsDependencyUnavailable(derr))
	assert.ErrorIs(t, derr, cause)
	assert.Contains(t, derr.Error(), "connection refused")
}

func TestErrorPredicatesSeeThroughWrapping(t *testing.T) {
	wrapped := fmt.Errorf("evaluating: %w", NewValidationError("window must be positive"))
	assert.True(t, IsValidation(wrapped))
	assert.False(t, IsValidation(errors.New("plain")))
	assert.False(t, IsNotFound(nil))
}

func TestRequestMetricValidate(t *testing.T) {
	valid := RequestMetric{
		Timestamp:       time.Now(),
		Method:          "GET",
		Path:            "/api/v1/kitchens",
		StatusCode:      200,
		DurationSeconds: 0.05,
	}
	require.NoError(t, valid.Validate())

	cases := []struct {
		name   string
		mutate func(*RequestMetric)
	}{
		{"zero timestamp", func(m *RequestMetric) { m.Timestamp = time.Time{} }},
		{"empty method", func(m *RequestMetric) { m.Method = "" }},
		{"empty path", func(m *RequestMetric) { m.Path = "" }},
		{"status too low", func(m *RequestMetric) { m.StatusCode = 99 }},
		{"status too high", func(m *RequestMetric) { m.StatusCode = 600 }},
		{"negative duration", func(m *RequestMetric) { m.DurationSeconds = -0.1 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := valid
			tc.mutate(&m)
			err := m.Validate()
			require.Error(t, err)
			assert.True(t, IsValidation(err))
		})
	}
}

func TestRequestMetricErrorKey(t *testing.T) {
	m := RequestMetric{StatusCode: 503}
	assert.Equal(t, "503", m.ErrorKey())

	m.ErrorCode = "UPSTREAM_DOWN"
	assert.Equal(t, "UPSTREAM_DOWN", m.ErrorKey())

	assert.False(t, RequestMetric{StatusCode: 399}.IsError())
	assert.True(t, RequestMetric{StatusCode: 400}.IsError())
}

func TestSystemMetricValidate(t *testing.T) {
	valid := SystemMetric{Timestamp: time.Now(), CPUPercent: 50, MemoryPercent: 60, DiskPercent: 70}
	require.NoError(t, valid.Validate())

	cases := []struct {
		name   string
		mutate func(*SystemMetric)
	}{
		{"zero timestamp", func(m *SystemMetric) { m.Timestamp = time.Time{} }},
		{"cpu below range", func(m *SystemMetric) { m.CPUPercent = -1 }},
		{"cpu above range", func(m *SystemMetric) { m.CPUPercent = 101 }},
		{"memory above range", func(m *SystemMetric) { m.MemoryPercent = 101 }},
		{"disk above range", func(m *SystemMetric) { m.DiskPercent = 101 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := valid
			tc.mutate(&m)
			err := m.Validate()
			require.Error(t, err)
			assert.True(t, IsValidation(err))
		})
	}
}
