package database

import (
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a lookup matches no row
	ErrNotFound = errors.New("not found")
	// ErrDuplicateContent is returned by InsertMedia when another record
	// already owns the content hash
	ErrDuplicateContent = errors.New("content hash already exists")
)

// DefaultAccessLevel is the level granted on upload and on dedup hits
const DefaultAccessLevel = 2

// Media is one stored item, unique by content hash. Nullable columns are
// pointers; a nil pointer is stored as NULL.
type Media struct {
	ID               int64      `json:"id"`
	FilePath         string     `json:"filePath"`
	OriginalFilename string     `json:"originalFilename"`
	MediaType        string     `json:"mediaType"`
	MimeType         string     `json:"mimeType"`
	FileSize         int64      `json:"fileSize"`
	Width            *int       `json:"width,omitempty"`
	Height           *int       `json:"height,omitempty"`
	Duration         *float64   `json:"duration,omitempty"`
	CapturedAt       *time.Time `json:"capturedAt,omitempty"`
	Latitude         *float64   `json:"latitude,omitempty"`
	Longitude        *float64   `json:"longitude,omitempty"`
	Altitude         *float64   `json:"altitude,omitempty"`
	Geohash          *string    `json:"geohash,omitempty"`
	City             *string    `json:"city,omitempty"`
	State            *string    `json:"state,omitempty"`
	Country          *string    `json:"country,omitempty"`
	CameraMake       *string    `json:"cameraMake,omitempty"`
	CameraModel      *string    `json:"cameraModel,omitempty"`
	LensMake         *string    `json:"lensMake,omitempty"`
	LensModel        *string    `json:"lensModel,omitempty"`
	ISO              *int       `json:"iso,omitempty"`
	ExposureTime     *string    `json:"exposureTime,omitempty"`
	FNumber          *float64   `json:"fNumber,omitempty"`
	FocalLength      *float64   `json:"focalLength,omitempty"`
	FocalLength35mm  *int       `json:"focalLength35mm,omitempty"`
	VideoCodec       *string    `json:"videoCodec,omitempty"`
	Keywords         *string    `json:"keywords,omitempty"`
	ThumbnailPath    *string    `json:"thumbnailPath,omitempty"`
	TinyThumbnail    *string    `json:"tinyThumbnailPath,omitempty"`
	ContentHash      *string    `json:"-"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
}

// HasLocation reports whether both GPS coordinates are set
func (m *Media) HasLocation() bool {
	return m.Latitude != nil && m.Longitude != nil
}

// User is a tenant whose WebDAV directory and grants are tracked
type User struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"createdAt"`
}

// AccessOutcome describes how a dedup hit was resolved for a user
type AccessOutcome int

const (
	// AccessExisting means the user already had a live grant
	AccessExisting AccessOutcome = iota
	// AccessRestored means a trashed grant was restored
	AccessRestored
	// AccessGranted means a new grant was inserted
	AccessGranted
)

func (o AccessOutcome) String() string {
	switch o {
	case AccessExisting:
		return "existing"
	case AccessRestored:
		return "restored"
	case AccessGranted:
		return "granted"
	default:
		return "unknown"
	}
}

// LocatedMedia is a spatial query hit
type LocatedMedia struct {
	ID        int64
	Latitude  float64
	Longitude float64
}

// PurgeResult summarises a trash purge
type PurgeResult struct {
	GrantsRemoved int64
	// Orphans are records deleted because no grant remained; their files
	// still need removing from disk.
	Orphans []Media
}
