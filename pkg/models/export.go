package models

import "strings"

// Domain identifies one of the three export families.
type Domain string

const (
	DomainVM     Domain = "vm"
	DomainWAS    Domain = "was"
	DomainAssets Domain = "assets"
)

func (d Domain) String() string { return string(d) }

type ExportStatus string

const (
	StatusPending   ExportStatus = "pending"
	StatusFinished  ExportStatus = "finished"
	StatusError     ExportStatus = "error"
	StatusCancelled ExportStatus = "cancelled"
	StatusUnknown   ExportStatus = "unknown"
)

// ParseExportStatus maps the server's status text onto the local state set.
// Matching is case-insensitive. QUEUED and PROCESSING are pending; anything
// unrecognised, including an empty string, is unknown and therefore not terminal.
func ParseExportStatus(s string) ExportStatus {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "FINISHED":
		return StatusFinished
	case "ERROR":
		return StatusError
	case "CANCELLED", "CANCELED":
		return StatusCancelled
	case "PENDING", "QUEUED", "PROCESSING":
		return StatusPending
	default:
		return StatusUnknown
	}
}

func (s ExportStatus) IsTerminal() bool {
	switch s {
	case StatusFinished, StatusError, StatusCancelled:
		return true
	}
	return false
}

// ExportJob tracks one server-side export from start until its chunks are
// downloaded. It is never persisted.
type ExportJob struct {
	Domain        Domain       `json:"domain"`
	ID            string       `json:"id"`
	Status        ExportStatus `json:"status"`
	ChunkIDs      []int        `json:"chunk_ids"`
	ExpectedCount *int         `json:"expected_count,omitempty"`
}

func NewExportJob(domain Domain, id string) *ExportJob {
	return &ExportJob{Domain: domain, ID: id, Status: StatusPending}
}
