package acquisition

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"audibridge/internal/audible"
	"audibridge/internal/services"
)

// State is a pipeline state.
type State string

const (
	StatePending     State = "pending"
	StateDownloading State = "downloading"
	StateTranscoding State = "transcoding"
	StateUploading   State = "uploading"
	StateComplete    State = "complete"
	StateFailed      State = "failed"
)

var transitions = map[State][]State{
	StatePending:     {StateDownloading, StateFailed},
	StateDownloading: {StateTranscoding, StateFailed},
	StateTranscoding: {StateUploading, StateFailed},
	StateUploading:   {StateComplete, StateFailed},
}

// Terminal reports whether no further transitions are allowed.
func (s State) Terminal() bool {
	return s == StateComplete || s == StateFailed
}

var asinPattern = regexp.MustCompile(`^[A-Z0-9]{10}$`)

// Request describes one acquisition.
type Request struct {
	ASIN        string
	CountryCode string
	Credential  audible.Credential
	Bucket      string
	Prefix      string
	Format      audible.Format
}

// Job is a single acquisition moving through the pipeline.
type Job struct {
	ID          string
	ASIN        string
	CountryCode string
	Credential  audible.Credential
	Bucket      string
	Prefix      string
	Format      audible.Format

	state  State
	reason string
}

// NewJob validates req and returns a Pending job with a fresh id.
func NewJob(req Request) (*Job, error) {
	asin := strings.ToUpper(strings.TrimSpace(req.ASIN))
	if !asinPattern.MatchString(asin) {
		return nil, services.Wrap(services.ErrValidation, "acquisition", "new job",
			fmt.Sprintf("asin %q must be 10 upper-case alphanumerics", req.ASIN), nil)
	}
	switch req.Format {
	case audible.FormatAAX, audible.FormatAAXC:
	default:
		return nil, services.Wrap(services.ErrUnsupported, "acquisition", "new job",
			fmt.Sprintf("format %q", req.Format), nil)
	}
	if strings.TrimSpace(req.Credential.AccessToken) == "" {
		return nil, services.Wrap(services.ErrValidation, "acquisition", "new job", "auth.access_token is required", nil)
	}
	if strings.TrimSpace(req.Bucket) == "" {
		return nil, services.Wrap(services.ErrValidation, "acquisition", "new job", "bucket is required", nil)
	}
	return &Job{
		ID:          uuid.NewString(),
		ASIN:        asin,
		CountryCode: strings.ToLower(strings.TrimSpace(req.CountryCode)),
		Credential:  req.Credential,
		Bucket:      strings.TrimSpace(req.Bucket),
		Prefix:      req.Prefix,
		Format:      req.Format,
		state:       StatePending,
	}, nil
}

// State returns the current state.
func (j *Job) State() State { return j.state }

// Reason returns the failure reason once the job is Failed.
func (j *Job) Reason() string { return j.reason }

// Transition moves the job to next, rejecting moves the state machine does
// not allow. Use Fail to enter StateFailed.
func (j *Job) Transition(next State) error {
	if next == StateFailed {
		return fmt.Errorf("job %s: use Fail to enter %s", j.ID, StateFailed)
	}
	return j.move(next)
}

// Fail moves a non-terminal job to Failed with reason.
func (j *Job) Fail(reason string) error {
	if err := j.move(StateFailed); err != nil {
		return err
	}
	j.reason = reason
	return nil
}

func (j *Job) move(next State) error {
	for _, allowed := range transitions[j.state] {
		if allowed == next {
			j.state = next
			return nil
		}
	}
	return fmt.Errorf("job %s: invalid transition %s -> %s", j.ID, j.state, next)
}
