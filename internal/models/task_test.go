package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateIsTerminal(t *testing.T) {
	tests := []struct {
		state    State
		terminal bool
	}{
		{StateInitialized, false},
		{StateRunning, false},
		{"running", false},
		{"Initialized", false},
		{StateSucceeded, true},
		{StateFailed, true},
		{"CANCELLED", true},
		{"timedout", true},
	}

	for _, tt := range tests {
		t.Run(string(tt.state), func(t *testing.T) {
			assert.Equal(t, tt.terminal, tt.state.IsTerminal())
		})
	}
}

func TestStateNormalized(t *testing.T) {
	assert.Equal(t, "succeeded", StateSucceeded.Normalized())
	assert.Equal(t, "failed", State(" Failed ").Normalized())
	assert.True(t, State("Succeeded").IsSuccess())
	assert.False(t, StateFailed.IsSuccess())
}

func TestTaskUnmarshal(t *testing.T) {
	t.Run("Should decode a full task", func(t *testing.T) {
		payload := `{
			"id": "t-1",
			"state": "FAILED",
			"progressPercent": 40,
			"displayName": "Create protection job",
			"sourceResource": {"type": "ec2", "resourceUri": "/api/v1/instances/i-1", "name": "web-1"},
			"error": {"error": "quota exceeded", "errorCode": "E42"},
			"logMessages": [
				{"message": "started", "timestampAt": "2026-01-01T00:00:00Z"},
				{"message": "quota exceeded", "timestampAt": "2026-01-01T00:00:05Z"}
			],
			"childTasks": [{"name": "snapshot", "resourceUri": "/api/v1/tasks/c-1"}],
			"parentTask": {"id": "p-1"}
		}`

		var task Task
		require.NoError(t, json.Unmarshal([]byte(payload), &task))

		assert.Equal(t, "t-1", task.ID)
		assert.Equal(t, StateFailed, task.State)
		assert.Equal(t, 40, task.ProgressPercent)
		require.NotNil(t, task.SourceResource)
		assert.Equal(t, "web-1", task.SourceResource.Name)
		assert.Equal(t, "quota exceeded", task.ErrorText())
		assert.Equal(t, "started\nquota exceeded", task.LogText())
		require.Len(t, task.ChildTasks, 1)
		assert.Equal(t, "/api/v1/tasks/c-1", task.ChildTasks[0].ResourceURI)
		require.NotNil(t, task.ParentTask)
		assert.Equal(t, "p-1", task.ParentTask.ID)
	})

	t.Run("Should fail loudly when state is missing", func(t *testing.T) {
		var task Task
		err := json.Unmarshal([]byte(`{"id": "t-2", "progressPercent": 10}`), &task)
		assert.ErrorIs(t, err, ErrMissingState)
	})

	t.Run("Should fail when state is blank", func(t *testing.T) {
		var task Task
		err := json.Unmarshal([]byte(`{"id": "t-3", "state": "  "}`), &task)
		assert.ErrorIs(t, err, ErrMissingState)
	})

	t.Run("Should fail a page when one item lacks state", func(t *testing.T) {
		var page TaskPage
		err := json.Unmarshal([]byte(`{"items": [{"id": "a", "state": "RUNNING"}, {"id": "b"}], "total": 2}`), &page)
		assert.ErrorIs(t, err, ErrMissingState)
	})

	t.Run("Should return empty error text for healthy task", func(t *testing.T) {
		task := Task{ID: "t", State: StateRunning}
		assert.Equal(t, "", task.ErrorText())
		assert.Equal(t, "", task.LogText())
	})
}
