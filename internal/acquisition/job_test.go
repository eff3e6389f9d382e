package acquisition_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"audibridge/internal/acquisition"
	"audibridge/internal/audible"
	"audibridge/internal/services"
)

func validRequest() acquisition.Request {
	return acquisition.Request{
		ASIN:        "B072LK1GSN",
		CountryCode: "us",
		Credential:  audible.Credential{AccessToken: "Atna|0", DeviceSerial: "SERIAL1", ActivationBytes: "1ceb00da"},
		Bucket:      "audiobooks",
		Prefix:      "UserData/uid/Uploads/AudibleRaw",
		Format:      audible.FormatAAXC,
	}
}

func TestNewJobNormalizesRequest(t *testing.T) {
	req := validRequest()
	req.ASIN = " b072lk1gsn "
	req.CountryCode = "UK"

	job, err := acquisition.NewJob(req)
	require.NoError(t, err)

	assert.Equal(t, "B072LK1GSN", job.ASIN)
	assert.Equal(t, "uk", job.CountryCode)
	assert.Equal(t, acquisition.StatePending, job.State())
	assert.NotEmpty(t, job.ID)

	other, err := acquisition.NewJob(validRequest())
	require.NoError(t, err)
	assert.NotEqual(t, job.ID, other.ID)
}

func TestNewJobValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*acquisition.Request)
		want   error
	}{
		{"short asin", func(r *acquisition.Request) { r.ASIN = "B072" }, services.ErrValidation},
		{"punctuated asin", func(r *acquisition.Request) { r.ASIN = "B072LK-GSN" }, services.ErrValidation},
		{"unknown format", func(r *acquisition.Request) { r.Format = "mp3" }, services.ErrUnsupported},
		{"missing access token", func(r *acquisition.Request) { r.Credential.AccessToken = "" }, services.ErrValidation},
		{"missing bucket", func(r *acquisition.Request) { r.Bucket = " " }, services.ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validRequest()
			tt.mutate(&req)
			_, err := acquisition.NewJob(req)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestJobTransitions(t *testing.T) {
	job, err := acquisition.NewJob(validRequest())
	require.NoError(t, err)

	require.Error(t, job.Transition(acquisition.StateTranscoding), "cannot skip downloading")
	require.Error(t, job.Transition(acquisition.StateFailed), "failed is entered through Fail")

	for _, next := range []acquisition.State{
		acquisition.StateDownloading,
		acquisition.StateTranscoding,
		acquisition.StateUploading,
		acquisition.StateComplete,
	} {
		require.NoError(t, job.Transition(next))
		assert.Equal(t, next, job.State())
	}

	assert.True(t, job.State().Terminal())
	assert.Error(t, job.Fail("late"), "terminal jobs stay terminal")
	assert.Empty(t, job.Reason())
}

func TestJobFailRecordsReason(t *testing.T) {
	job, err := acquisition.NewJob(validRequest())
	require.NoError(t, err)
	require.NoError(t, job.Transition(acquisition.StateDownloading))

	require.NoError(t, job.Fail("download failed"))
	assert.Equal(t, acquisition.StateFailed, job.State())
	assert.Equal(t, "download failed", job.Reason())
	assert.Error(t, job.Transition(acquisition.StateTranscoding))
}
