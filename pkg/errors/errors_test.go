package errors_test

import (
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Adithya-Monish-Kumar-K/kafka-search-relay/pkg/errors"
)

func TestRelayError_MatchesSentinelAndCause(t *testing.T) {
	err := apperrors.New(apperrors.ErrWrite, "bulk-write", io.ErrUnexpectedEOF)

	assert.ErrorIs(t, err, apperrors.ErrWrite)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.NotErrorIs(t, err, apperrors.ErrCommit)
	assert.Equal(t, "bulk-write: bulk write failed: unexpected EOF", err.Error())
}

func TestRelayError_SurvivesFmtWrapping(t *testing.T) {
	original := apperrors.Newf(apperrors.ErrProvision, "ensure-index", "index %q", "wikimedia")
	wrapped := fmt.Errorf("starting relay: %w", original)

	var re *apperrors.RelayError
	require.True(t, errors.As(wrapped, &re))
	assert.Equal(t, "ensure-index", re.Op)
	assert.Equal(t, `index "wikimedia"`, re.Message)
	assert.ErrorIs(t, wrapped, apperrors.ErrProvision)
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, apperrors.ExitOK},
		{"cancelled", fmt.Errorf("poll: %w", apperrors.ErrCancelled), apperrors.ExitOK},
		{"config", apperrors.Newf(apperrors.ErrInvalidConfig, "config", "topic is required"), apperrors.ExitInvalidConfig},
		{"provision", apperrors.New(apperrors.ErrProvision, "ensure-index", io.EOF), apperrors.ExitProvision},
		{"write", apperrors.New(apperrors.ErrWrite, "bulk-write", io.EOF), apperrors.ExitWrite},
		{"commit", apperrors.New(apperrors.ErrCommit, "commit", io.EOF), apperrors.ExitCommit},
		{"malformed", apperrors.New(apperrors.ErrMalformedPayload, "map", io.EOF), apperrors.ExitMalformed},
		{"unexpected", errors.New("boom"), apperrors.ExitUnexpected},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, apperrors.ExitCode(tc.err))
		})
	}
}

func TestIsCancellation(t *testing.T) {
	assert.True(t, apperrors.IsCancellation(fmt.Errorf("poll: %w", apperrors.ErrCancelled)))
	assert.False(t, apperrors.IsCancellation(apperrors.New(apperrors.ErrWrite, "bulk-write", nil)))
}
