package types

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// RouteType selects what the edge does with a request
type RouteType string

const (
	RouteTypeDeployment RouteType = "deployment"
	RouteTypeStaticSite RouteType = "staticSite"
	RouteTypeProxy      RouteType = "proxy"
	RouteTypeRedirect   RouteType = "redirect"
)

// RouteTarget is where the edge sends traffic for one mount point
type RouteTarget struct {
	Type              RouteType  `json:"type"`
	DeploymentID      *uuid.UUID `json:"deploymentId,omitempty"`
	Port              uint16     `json:"port,omitempty"`
	Region            string     `json:"region,omitempty"`
	StaticSiteID      *uuid.UUID `json:"staticSiteId,omitempty"`
	UploadID          *uuid.UUID `json:"uploadId,omitempty"`
	To                string     `json:"to,omitempty"`
	PermanentRedirect bool       `json:"permanentRedirect,omitempty"`
	HTTPOnly          bool       `json:"httpOnly,omitempty"`
}

// Validate checks that the fields required by the target type are set
func (t RouteTarget) Validate() error {
	switch t.Type {
	case RouteTypeDeployment:
		if t.DeploymentID == nil || t.Port == 0 {
			return fmt.Errorf("deployment route needs a deployment id and port")
		}
	case RouteTypeStaticSite:
		if t.StaticSiteID == nil {
			return fmt.Errorf("static site route needs a static site id")
		}
	case RouteTypeProxy, RouteTypeRedirect:
		if t.To == "" {
			return fmt.Errorf("%s route needs a destination", t.Type)
		}
	default:
		return fmt.Errorf("unknown route type %q", t.Type)
	}
	return nil
}

// RouteEntry is one key of the edge routing table: a host and its mount points
type RouteEntry struct {
	Host       string                 `json:"host"`
	ResourceID ResourceID             `json:"resourceId"`
	Mounts     map[string]RouteTarget `json:"mounts"`
	ExpiresAt  *time.Time             `json:"expiresAt,omitempty"`
	UpdatedAt  time.Time              `json:"updatedAt"`
}

// Expired reports whether the entry should be purged at now
func (e *RouteEntry) Expired(now time.Time) bool {
	return e.ExpiresAt != nil && !now.Before(*e.ExpiresAt)
}

// CertificateRecord tracks a certificate issued for a resource
type CertificateRecord struct {
	Serial     string     `json:"serial"`
	ResourceID ResourceID `json:"resourceId"`
	DNSNames   []string   `json:"dnsNames"`
	IssuedAt   time.Time  `json:"issuedAt"`
	NotAfter   time.Time  `json:"notAfter"`
	Revoked    bool       `json:"revoked"`
	RevokedAt  *time.Time `json:"revokedAt,omitempty"`
}
