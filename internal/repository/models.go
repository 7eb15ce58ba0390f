// Package repository persists podcast artifacts and their audio sections with gorm.
package repository

import (
	"time"

	"github.com/book-expert/podcast-service/internal/core"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Artifact states.
const (
	StatusCreated    = "created"
	StatusGenerating = "generating"
	StatusProcessed  = "processed"
	StatusFailed     = "failed"
)

// AudioFormatWAV is the only audio format produced.
const AudioFormatWAV = "wav"

// Podcast is the audio artifact record of one document and owner.
type Podcast struct {
	ID               string                                 `gorm:"primaryKey;size:64" json:"id"`
	DocumentID       string                                 `gorm:"size:64;not null;index" json:"documentId"`
	OwnerID          string                                 `gorm:"size:64;not null;index" json:"ownerId"`
	Title            string                                 `gorm:"size:255" json:"title"`
	Description      string                                 `gorm:"type:text" json:"description"`
	TotalDuration    string                                 `gorm:"size:16" json:"totalDuration"`
	StorageKey       string                                 `gorm:"size:512" json:"storageKey,omitempty"`
	FileSizeBytes    int64                                  `json:"fileSizeBytes"`
	AudioFormat      string                                 `gorm:"size:16" json:"audioFormat,omitempty"`
	Status           string                                 `gorm:"size:16;not null;index" json:"status"`
	IsProcessed      bool                                   `gorm:"not null;index" json:"isProcessed"`
	ProcessingError  string                                 `gorm:"type:text" json:"processingError,omitempty"`
	GenerationMethod string                                 `gorm:"size:32" json:"generationMethod,omitempty"`
	Speakers         datatypes.JSONType[[]core.Speaker]     `json:"speakers"`
	VoiceSettings    datatypes.JSONType[core.VoiceSettings] `json:"voiceSettings"`
	AutoDeleteAt     *time.Time                             `gorm:"index" json:"autoDeleteAt,omitempty"`
	CreatedAt        time.Time                              `gorm:"index" json:"createdAt"`
	UpdatedAt        time.Time                              `json:"updatedAt"`
	Sections         []PodcastSection                       `gorm:"foreignKey:PodcastID;constraint:OnDelete:CASCADE" json:"sections"`
}

// PodcastSection is one audio segment of a podcast. It references at most one
// live storage object.
type PodcastSection struct {
	ID              string    `gorm:"primaryKey;size:64" json:"id"`
	PodcastID       string    `gorm:"size:64;not null;index" json:"podcastId"`
	Order           int       `gorm:"column:sort_order;not null" json:"order"`
	AudioURL        string    `gorm:"size:1024" json:"audioUrl,omitempty"`
	StorageKey      string    `gorm:"size:512" json:"storageKey,omitempty"`
	FileSizeBytes   int64     `json:"fileSizeBytes"`
	Duration        string    `gorm:"size:16" json:"duration"`
	IsProcessed     bool      `gorm:"not null" json:"isProcessed"`
	ProcessingError string    `gorm:"type:text" json:"processingError,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// TableName pins the table name.
func (Podcast) TableName() string { return "podcasts" }

// TableName pins the table name.
func (PodcastSection) TableName() string { return "podcast_sections" }

// BeforeCreate assigns an id when none was given.
func (p *Podcast) BeforeCreate(_ *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}

	return nil
}

// BeforeCreate assigns an id when none was given.
func (s *PodcastSection) BeforeCreate(_ *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}

	return nil
}

// StoredObject is a storage key referenced by a podcast together with its recorded size.
type StoredObject struct {
	Key       string
	SizeBytes int64
}

// Objects returns every storage object the podcast references, without duplicates.
// Section records take precedence over the podcast-level copy of the same key.
func (p *Podcast) Objects() []StoredObject {
	seen := make(map[string]struct{}, len(p.Sections)+1)
	objects := make([]StoredObject, 0, len(p.Sections)+1)

	add := func(key string, size int64) {
		if key == "" {
			return
		}

		if _, ok := seen[key]; ok {
			return
		}

		seen[key] = struct{}{}
		objects = append(objects, StoredObject{Key: key, SizeBytes: size})
	}

	for _, section := range p.Sections {
		add(section.StorageKey, section.FileSizeBytes)
	}

	add(p.StorageKey, p.FileSizeBytes)

	return objects
}
