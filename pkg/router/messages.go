package router

import (
	"encoding/json"
	"errors"

	"github.com/sw33tLie/xtmscope/pkg/matcher"
	"github.com/sw33tLie/xtmscope/pkg/observables"
	"github.com/sw33tLie/xtmscope/pkg/platforms"
	"github.com/sw33tLie/xtmscope/pkg/storage"
)

// MessageType tags a request.
type MessageType string

const (
	ScanPage               MessageType = "SCAN_PAGE"
	ScanOtherPlatform      MessageType = "SCAN_OTHER_PLATFORM"
	ScanAll                MessageType = "SCAN_ALL"
	RefreshCache           MessageType = "REFRESH_CACHE"
	GetCacheStats          MessageType = "GET_CACHE_STATS"
	ClearPlatformCache     MessageType = "CLEAR_PLATFORM_CACHE"
	TestPlatformConnection MessageType = "TEST_PLATFORM_CONNECTION"
	GetCachedEntity        MessageType = "GET_CACHED_ENTITY"
)

var (
	ErrUnknownMessage   = errors.New("unknown message type")
	ErrPlatformNotFound = errors.New("platform not found")
	ErrBadPayload       = errors.New("bad payload")
	ErrEntityNotFound   = errors.New("entity not found")
)

// Request is one message sent to the router.
type Request struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Envelope is the uniform response shape.
type Envelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// ScanPayload is shared by the scan messages.
type ScanPayload struct {
	Content string `json:"content"`
	URL     string `json:"url"`

	// HTML marks Content as an HTML document to reduce to visible text first.
	HTML                  bool `json:"html,omitempty"`
	IncludeAttackPatterns bool `json:"includeAttackPatterns,omitempty"`
}

type ClearPayload struct {
	PlatformID   string `json:"platformId,omitempty"`
	PlatformType string `json:"platformType"`
}

type ConnectionPayload struct {
	PlatformID string `json:"platformId"`
}

type EntityPayload struct {
	PlatformID   string `json:"platformId"`
	PlatformType string `json:"platformType"`
	EntityID     string `json:"entityId"`
}

// ScanResult answers SCAN_PAGE and SCAN_ALL.
type ScanResult struct {
	Observables []observables.Observable `json:"observables"`
	Entities    []matcher.DetectedEntity `json:"entities"`
	CVEs        []observables.CVE        `json:"cves"`
	ScanTime    int64                    `json:"scanTime"`
	URL         string                   `json:"url"`
	Title       string                   `json:"title,omitempty"`
}

// EntitiesResult answers SCAN_OTHER_PLATFORM.
type EntitiesResult struct {
	Entities []matcher.DetectedEntity `json:"entities"`
}

// PlatformCacheStats is one platform's line in the cache stats.
type PlatformCacheStats struct {
	storage.PlatformStats
	PlatformType platforms.Family `json:"platformType"`
	Name         string           `json:"name,omitempty"`
}

// CacheStats answers GET_CACHE_STATS and REFRESH_CACHE.
type CacheStats struct {
	Total        int                  `json:"total"`
	ByPlatform   []PlatformCacheStats `json:"byPlatform"`
	AgeMs        int64                `json:"ageMs"`
	IsRefreshing bool                 `json:"isRefreshing"`
}
