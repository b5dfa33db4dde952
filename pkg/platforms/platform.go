package platforms

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Family identifies one of the supported external systems.
type Family string

const (
	// FamilyOpenCTI is the threat intelligence platform (GraphQL API).
	FamilyOpenCTI Family = "opencti"
	// FamilyOpenAEV is the attack simulation platform (REST API).
	FamilyOpenAEV Family = "openaev"
)

// Families lists every supported family in a stable order.
var Families = []Family{FamilyOpenCTI, FamilyOpenAEV}

var (
	ErrNotConfigured     = errors.New("platform not configured")
	ErrUnsupportedFamily = errors.New("unsupported platform family")
)

// ParseFamily maps user input onto a Family.
func ParseFamily(s string) (Family, error) {
	switch Family(strings.ToLower(strings.TrimSpace(s))) {
	case FamilyOpenCTI:
		return FamilyOpenCTI, nil
	case FamilyOpenAEV:
		return FamilyOpenAEV, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedFamily, s)
}

// Instance is one configured platform connection.
type Instance struct {
	ID      string `mapstructure:"id" json:"id"`
	Name    string `mapstructure:"name" json:"name"`
	URL     string `mapstructure:"url" json:"url"`
	Token   string `mapstructure:"token" json:"-"`
	Enabled bool   `mapstructure:"enabled" json:"enabled"`
	Type    Family `mapstructure:"type" json:"type"`
}

// Validate reports whether the instance carries everything a client needs.
func (i Instance) Validate() error {
	return validation.ValidateStruct(&i,
		validation.Field(&i.ID, validation.Required),
		validation.Field(&i.URL, validation.Required, validation.By(absoluteHTTPURL)),
		validation.Field(&i.Token, validation.Required),
		validation.Field(&i.Type, validation.Required, validation.In(FamilyOpenCTI, FamilyOpenAEV)),
	)
}

// DisplayName returns Name, falling back to the id.
func (i Instance) DisplayName() string {
	if i.Name != "" {
		return i.Name
	}
	return i.ID
}

func absoluteHTTPURL(value interface{}) error {
	s, _ := value.(string)
	u, err := url.Parse(s)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return errors.New("must be an absolute http(s) URL")
	}
	return nil
}

// Entity is the minimal projection of a remote record returned by a client.
type Entity struct {
	ID         string
	Name       string
	Aliases    []string
	ExternalID string
	Type       string
}

// ConnectionInfo describes the outcome of a connection test.
type ConnectionInfo struct {
	Success           bool   `json:"success"`
	User              string `json:"user,omitempty"`
	PlatformName      string `json:"platformName,omitempty"`
	Version           string `json:"version,omitempty"`
	EnterpriseEdition bool   `json:"enterpriseEdition"`
}

// Client is implemented by every platform family. FetchEntitiesOfType must
// handle pagination internally and return the complete set.
type Client interface {
	Instance() Instance
	FetchEntitiesOfType(ctx context.Context, entityType string) ([]Entity, error)
	TestConnection(ctx context.Context) (ConnectionInfo, error)
}

// Factory builds a Client for a validated instance.
type Factory func(inst Instance) (Client, error)
