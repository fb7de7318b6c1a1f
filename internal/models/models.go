package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Enums
type ProjectStatus string

const (
	ProjectStatusPending    ProjectStatus = "pending"
	ProjectStatusGenerating ProjectStatus = "generating"
	ProjectStatusCompiling  ProjectStatus = "compiling"
	ProjectStatusCompleted  ProjectStatus = "completed"
	ProjectStatusFailed     ProjectStatus = "failed"
)

// InFlight reports whether a generation or compilation is already running.
func (s ProjectStatus) InFlight() bool {
	return s == ProjectStatusGenerating || s == ProjectStatusCompiling
}

type ClipStatus string

const (
	ClipStatusPending    ClipStatus = "pending"
	ClipStatusProcessing ClipStatus = "processing"
	ClipStatusCompleted  ClipStatus = "completed"
	ClipStatusFailed     ClipStatus = "failed"
)

type AspectRatio string

const (
	AspectRatioLandscape AspectRatio = "16:9"
	AspectRatioPortrait  AspectRatio = "9:16"
	AspectRatioSquare    AspectRatio = "1:1"
)

// Valid reports whether the ratio is one the providers accept.
func (a AspectRatio) Valid() bool {
	switch a {
	case AspectRatioLandscape, AspectRatioPortrait, AspectRatioSquare:
		return true
	}
	return false
}

// Clip durations in seconds
const (
	ClipDurationShort = 5
	ClipDurationLong  = 10
)

// NormalizeDuration maps anything that is not a supported duration to the short one.
func NormalizeDuration(seconds int) int {
	if seconds == ClipDurationLong {
		return ClipDurationLong
	}
	return ClipDurationShort
}

// JSONB is a custom type for PostgreSQL JSONB columns
type JSONB map[string]interface{}

func (j JSONB) Value() (driver.Value, error) {
	return json.Marshal(j)
}

func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return fmt.Errorf("unsupported JSONB source type %T", value)
	}
	return json.Unmarshal(bytes, j)
}

// Models

// VideoProject is one promotional video built from a listing's photos.
//
// ClipCount is a display hint written when the project is created. It is not
// authoritative and may drift from the attached clips; anything that needs the
// real number of clips must count the clip records.
type VideoProject struct {
	ID                  uuid.UUID     `json:"id"`
	WorkspaceID         uuid.UUID     `json:"workspace_id"`
	ListingID           *uuid.UUID    `json:"listing_id,omitempty"`
	ClipCount           int           `json:"clip_count"`
	AspectRatio         AspectRatio   `json:"aspect_ratio"`
	GenerateNativeAudio bool          `json:"generate_native_audio"`
	MusicVolume         float64       `json:"music_volume"` // 0.0-1.0
	VideoVolume         float64       `json:"video_volume"` // 0.0-1.0
	Status              ProjectStatus `json:"status"`
	EstimatedCostCents  int           `json:"estimated_cost_cents"`
	ActualCostCents     int           `json:"actual_cost_cents"`
	CompletedClipCount  int           `json:"completed_clip_count"`
	FailedClipCount     int           `json:"failed_clip_count"`
	ErrorMessage        *string       `json:"error_message,omitempty"`
	Metadata            JSONB         `json:"metadata,omitempty"` // provider, music_track
	CreatedAt           time.Time     `json:"created_at"`
	UpdatedAt           time.Time     `json:"updated_at"`
}

// MusicTrack describes the soundtrack picked for a project.
type MusicTrack struct {
	Mood     string `json:"mood"`
	Category string `json:"category"`
	Name     string `json:"name"`
}

// ProviderPreference returns the provider stored in project metadata, or "".
func (p *VideoProject) ProviderPreference() string {
	if p.Metadata == nil {
		return ""
	}
	if s, ok := p.Metadata["provider"].(string); ok {
		return s
	}
	return ""
}

// MusicTrack returns the soundtrack descriptor from metadata, or nil when
// none was selected.
func (p *VideoProject) MusicTrack() *MusicTrack {
	if p.Metadata == nil {
		return nil
	}
	raw, ok := p.Metadata["music_track"].(map[string]interface{})
	if !ok {
		return nil
	}
	track := &MusicTrack{}
	track.Mood, _ = raw["mood"].(string)
	track.Category, _ = raw["category"].(string)
	track.Name, _ = raw["name"].(string)
	if track.Mood == "" && track.Category == "" && track.Name == "" {
		return nil
	}
	return track
}

// VideoClip is one generated motion segment. SequenceOrder is its position in
// the compiled video and is never rewritten by generation.
type VideoClip struct {
	ID             uuid.UUID  `json:"id"`
	VideoProjectID uuid.UUID  `json:"video_project_id"`
	SequenceOrder  int        `json:"sequence_order"`
	SourceImageURL string     `json:"source_image_url"`
	EndImageURL    *string    `json:"end_image_url,omitempty"` // Tail frame; falls back to the source image
	RoomType       string     `json:"room_type"`
	RoomLabel      *string    `json:"room_label,omitempty"`
	MotionPrompt   *string    `json:"motion_prompt,omitempty"` // Overrides the generated prompt
	Duration       int        `json:"duration"`                // 5 or 10 seconds
	Status         ClipStatus `json:"status"`
	ClipURL        *string    `json:"clip_url,omitempty"`
	ErrorMessage   *string    `json:"error_message,omitempty"`
	Provider       *string    `json:"provider,omitempty"` // Adapter used by the last attempt
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// HasResult reports whether the clip already holds a finished, durable result.
func (c *VideoClip) HasResult() bool {
	return c.Status == ClipStatusCompleted && c.ClipURL != nil && *c.ClipURL != ""
}

// Claimable reports whether a new generation run may take the clip: it has
// no result and is not held by a run that touched it at or after staleBefore.
func (c *VideoClip) Claimable(staleBefore time.Time) bool {
	switch c.Status {
	case ClipStatusProcessing:
		return c.UpdatedAt.Before(staleBefore)
	case ClipStatusCompleted:
		return !c.HasResult()
	default:
		return true
	}
}

// Patches. A nil field is left unchanged; ClearError nulls error_message.

type ProjectPatch struct {
	Status             *ProjectStatus
	EstimatedCostCents *int
	ActualCostCents    *int
	ErrorMessage       *string
	ClearError         bool
}

type ClipPatch struct {
	Status       *ClipStatus
	ClipURL      *string
	ErrorMessage *string
	Provider     *string
	ClearError   bool
}

// DTOs for the control endpoints

type StartGenerationRequest struct {
	ProjectID uuid.UUID `json:"projectId" validate:"required"`
}

type StartGenerationResponse struct {
	ProjectID        uuid.UUID     `json:"projectId"`
	Status           ProjectStatus `json:"status"`
	SuccessfulClips  int           `json:"successfulClips"`
	FailedClips      int           `json:"failedClips"`
	HandoffReference string        `json:"handoffReference,omitempty"`
	Error            string        `json:"error,omitempty"`
}

type GenerateClipRequest struct {
	ClipID          uuid.UUID `json:"clipId" validate:"required"`
	TailImageURL    *string   `json:"tailImageUrl,omitempty" validate:"omitempty,url"`
	TargetRoomLabel *string   `json:"targetRoomLabel,omitempty" validate:"omitempty,max=80"`
	Provider        *string   `json:"provider,omitempty" validate:"omitempty,oneof=fal runway veo"`
}

type GenerateClipResponse struct {
	ClipID  uuid.UUID `json:"clipId"`
	ClipURL string    `json:"clipUrl"`
}

type AcceptedResponse struct {
	JobID  uuid.UUID `json:"jobId"`
	Status string    `json:"status"`
}

type ProjectResponse struct {
	VideoProject
	Clips []VideoClip `json:"clips"`
}

// Helper functions
func StrPtr(s string) *string {
	return &s
}

func IntPtr(i int) *int {
	return &i
}

func ProjectStatusPtr(s ProjectStatus) *ProjectStatus {
	return &s
}

func ClipStatusPtr(s ClipStatus) *ClipStatus {
	return &s
}

// Async jobs

type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
)

// JobState is the last recorded status of an async job.
type JobState struct {
	ID        uuid.UUID `json:"jobId"`
	Status    JobStatus `json:"status"`
	Error     string    `json:"error,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}
