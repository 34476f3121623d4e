package commands

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinford/pipewatch/pkg/models"
)

func TestDisplayJobsTable(t *testing.T) {
	next := time.Date(2025, 6, 1, 13, 0, 0, 0, time.UTC)
	jobs := []models.Job{
		{UUID: uuid.New(), Name: "nightly", Status: models.StatusStarted, Schedule: "0 * * * *", NextScheduledTime: &next},
		{UUID: uuid.New(), Name: "adhoc", Status: models.StatusSuccess},
	}

	var buf bytes.Buffer
	displayJobsTable(&buf, jobs)

	out := buf.String()
	assert.Contains(t, out, "nightly")
	assert.Contains(t, out, "0 * * * *")
	assert.Contains(t, out, "2025-06-01 13:00:00")
	assert.Contains(t, out, "STARTED")
	assert.Contains(t, out, "adhoc")
	assert.Contains(t, out, "SUCCESS")
}

func TestDisplayRunsTable_Duration(t *testing.T) {
	started := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	now := started.Add(90*time.Second + 500*time.Millisecond)
	runs := []models.JobRun{
		{UUID: uuid.New(), RunIndex: 7, Status: models.StatusStarted, StartedTime: &started},
	}

	var buf bytes.Buffer
	displayRunsTable(&buf, runs, now)

	out := buf.String()
	assert.Contains(t, out, "1m30s")
	assert.Contains(t, out, "2025-06-01 12:00:00")
}

func TestDisplaySessionsTable(t *testing.T) {
	session := models.Session{
		ProjectUUID:  uuid.New(),
		PipelineUUID: uuid.New(),
		Status:       models.StatusLaunching,
		BaseURL:      "/sessions/abc",
	}

	var buf bytes.Buffer
	displaySessionsTable(&buf, []models.Session{session})

	out := buf.String()
	assert.Contains(t, out, session.ProjectUUID.String())
	assert.Contains(t, out, "LAUNCHING")
	assert.Contains(t, out, "/sessions/abc")
}

func TestFormatTime(t *testing.T) {
	assert.Equal(t, "-", formatTime(nil))

	ts := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	assert.Equal(t, "2025-01-02 03:04:05", formatTime(&ts))
}

func TestExportToJSON(t *testing.T) {
	tmpDir := t.TempDir()
	filePath := filepath.Join(tmpDir, "builds.json")

	builds := []models.EnvironmentBuild{
		{UUID: uuid.New(), ImageTag: 3, Status: models.StatusPending},
		{UUID: uuid.New(), ImageTag: 4, Status: models.StatusFailure},
	}

	err := exportToJSON(builds, filePath)
	require.NoError(t, err)

	data, err := os.ReadFile(filePath)
	require.NoError(t, err)

	var decoded []models.EnvironmentBuild
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Len(t, decoded, 2)
	assert.Equal(t, builds[0].UUID, decoded[0].UUID)
	assert.Equal(t, models.StatusFailure, decoded[1].Status)
}

func TestExportToJSON_InvalidPath(t *testing.T) {
	err := exportToJSON([]models.Job{}, filepath.Join(t.TempDir(), "missing", "jobs.json"))
	assert.Error(t, err)
}
