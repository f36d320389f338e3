package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/ethpandaops/rttmon/pkg/docker"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// cleanupManager implements only the calls made by performCleanup.
type cleanupManager struct {
	docker.Manager

	containers []docker.ContainerInfo
	removeErr  map[string]error
	removed    []string
}

func (m *cleanupManager) ListContainers(context.Context) ([]docker.ContainerInfo, error) {
	return m.containers, nil
}

func (m *cleanupManager) RemoveContainer(_ context.Context, id string) error {
	if err := m.removeErr[id]; err != nil {
		return err
	}

	m.removed = append(m.removed, id)

	return nil
}

func setupCleanupLog(t *testing.T) {
	t.Helper()

	prev := log
	log = logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	t.Cleanup(func() { log = prev })
}

func TestPerformCleanup(t *testing.T) {
	containers := []docker.ContainerInfo{
		{ID: "0123456789abcdef0123", Name: "rttmon-1a2b3c4d"},
		{ID: "fedcba9876543210fedc", Name: "rttmon-5e6f7a8b"},
	}

	tests := []struct {
		name        string
		force       bool
		input       string
		wantRemoved []string
	}{
		{
			name:        "force skips prompt",
			force:       true,
			wantRemoved: []string{"0123456789abcdef0123", "fedcba9876543210fedc"},
		},
		{
			name:        "confirmed",
			input:       "yes\n",
			wantRemoved: []string{"0123456789abcdef0123", "fedcba9876543210fedc"},
		},
		{
			name:  "declined",
			input: "n\n",
		},
		{
			name: "no answer",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setupCleanupLog(t)

			mgr := &cleanupManager{containers: containers}

			var out bytes.Buffer

			err := performCleanup(context.Background(), mgr, tt.force, strings.NewReader(tt.input), &out)
			require.NoError(t, err)

			assert.Equal(t, tt.wantRemoved, mgr.removed)
			assert.Contains(t, out.String(), "rttmon-1a2b3c4d (0123456789ab)")
		})
	}
}

func TestPerformCleanup_NothingToRemove(t *testing.T) {
	setupCleanupLog(t)

	var out bytes.Buffer

	require.NoError(t, performCleanup(context.Background(), &cleanupManager{}, false, strings.NewReader(""), &out))
	assert.Empty(t, out.String())
}

func TestPerformCleanup_RemoveFailure(t *testing.T) {
	setupCleanupLog(t)

	mgr := &cleanupManager{
		containers: []docker.ContainerInfo{
			{ID: "aaaa", Name: "rttmon-a"},
			{ID: "bbbb", Name: "rttmon-b"},
		},
		removeErr: map[string]error{"aaaa": errors.New("device busy")},
	}

	err := performCleanup(context.Background(), mgr, true, strings.NewReader(""), &bytes.Buffer{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to remove 1 of 2 containers")
	assert.Equal(t, []string{"bbbb"}, mgr.removed)
}
