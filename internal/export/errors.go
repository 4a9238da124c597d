package export

import (
	"fmt"
	"time"

	"github.com/bl4ck0w1/tesuite/pkg/models"
	"github.com/bl4ck0w1/tesuite/pkg/utils"
)

// PollTimeoutError means the status endpoint never reported a terminal state
// within the attempt budget.
type PollTimeoutError struct {
	Domain     models.Domain
	URL        string
	Attempts   int
	Interval   time.Duration
	LastStatus models.ExportStatus
}

func (e *PollTimeoutError) Error() string {
	return fmt.Sprintf("%s export status polling timed out after %d attempts (~%s, last status %s): %s",
		e.Domain, e.Attempts, utils.HumanizeDuration(time.Duration(e.Attempts)*e.Interval), e.LastStatus, e.URL)
}

// MissingJobIDError means the job-start response carried neither export_uuid
// nor uuid.
type MissingJobIDError struct {
	Domain models.Domain
	Body   string
}

func (e *MissingJobIDError) Error() string {
	return fmt.Sprintf("%s export: no export_uuid in response: %s", e.Domain, e.Body)
}

type WarningKind string

const (
	WarnDecode        WarningKind = "decode"
	WarnCountMismatch WarningKind = "count_mismatch"
	WarnLicenseDenied WarningKind = "license_denied"
	WarnStatus        WarningKind = "status"
	WarnNoChunks      WarningKind = "no_chunks"
	WarnChunkID       WarningKind = "chunk_id"
)

// Warning is a recoverable condition. It is logged where it happens and
// returned with the result; it never stops the run.
type Warning struct {
	Kind    WarningKind
	Domain  models.Domain
	Message string
}

func (w Warning) String() string {
	return fmt.Sprintf("[%s] %s: %s", w.Domain, w.Kind, w.Message)
}
