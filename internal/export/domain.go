package export

import (
	"fmt"
	"net/url"

	"github.com/bl4ck0w1/tesuite/pkg/models"
)

// Dataset names, in output order.
const (
	DatasetVM     = "VM_Vulnerabilities"
	DatasetWAS    = "WAS_Vulnerabilities"
	DatasetAssets = "Tenable_VM_Assets"
)

var DatasetOrder = []string{DatasetVM, DatasetWAS, DatasetAssets}

// DomainSpec describes how one export family is started and where its status
// and chunks live.
type DomainSpec struct {
	Domain    models.Domain
	Dataset   string
	Label     string
	StartPath string
	// BasePath is the prefix of <id>/status and <id>/chunks/<n>.
	BasePath string
	Body     any
	// LicenseOptional turns a 403 at job start into an empty result.
	LicenseOptional bool
}

func (d DomainSpec) StatusPath(id string) string {
	return fmt.Sprintf("%s/%s/status", d.BasePath, url.PathEscape(id))
}

func (d DomainSpec) ChunkPath(id string, chunk int) string {
	return fmt.Sprintf("%s/%s/chunks/%d", d.BasePath, url.PathEscape(id), chunk)
}

type vulnFilters struct {
	Severity []string `json:"severity,omitempty"`
	State    []string `json:"state,omitempty"`
	Since    int64    `json:"since,omitempty"`
}

type vulnExportRequest struct {
	NumAssets         int         `json:"num_assets"`
	IncludeUnlicensed bool        `json:"include_unlicensed"`
	Filters           vulnFilters `json:"filters"`
}

type assetFilters struct {
	Types []string `json:"types,omitempty"`
}

// chunk_size is only accepted by the asset export.
type assetExportRequest struct {
	ChunkSize int          `json:"chunk_size"`
	Filters   assetFilters `json:"filters"`
}

func newVulnRequest(cfg models.VulnExportConfig) vulnExportRequest {
	return vulnExportRequest{
		NumAssets:         cfg.NumAssets,
		IncludeUnlicensed: cfg.IncludeUnlicensed,
		Filters: vulnFilters{
			Severity: cfg.Severity,
			State:    cfg.State,
			Since:    cfg.Since,
		},
	}
}

func VulnerabilityDomain(cfg models.VulnExportConfig) DomainSpec {
	return DomainSpec{
		Domain:    models.DomainVM,
		Dataset:   DatasetVM,
		Label:     "VM vulnerabilities",
		StartPath: "/vulns/export",
		BasePath:  "/vulns/export",
		Body:      newVulnRequest(cfg),
	}
}

func WebAppDomain(cfg models.VulnExportConfig) DomainSpec {
	return DomainSpec{
		Domain:          models.DomainWAS,
		Dataset:         DatasetWAS,
		Label:           "WAS findings",
		StartPath:       "/was/v1/export/vulns",
		BasePath:        "/was/v1/export/vulns",
		Body:            newVulnRequest(cfg),
		LicenseOptional: true,
	}
}

func AssetDomain(cfg models.AssetExportConfig) DomainSpec {
	return DomainSpec{
		Domain:    models.DomainAssets,
		Dataset:   DatasetAssets,
		Label:     "Assets v2",
		StartPath: "/assets/v2/export",
		BasePath:  "/assets/export",
		Body: assetExportRequest{
			ChunkSize: cfg.ChunkSize,
			Filters:   assetFilters{Types: cfg.Types},
		},
	}
}
