package pipeline

import (
	"time"

	"github.com/eringen/pagegen/tmpl"
)

// Status is the lifecycle state of a generation job.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusQueued     Status = "QUEUED"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
)

// Startable reports whether a job in this state may be moved to PROCESSING.
func (s Status) Startable() bool { return s == StatusPending || s == StatusQueued }

// Terminal reports whether the job has finished.
func (s Status) Terminal() bool { return s == StatusCompleted || s == StatusFailed }

// GeoLevel records the deepest geography entity resolved for a page.
type GeoLevel string

const (
	GeoNone    GeoLevel = ""
	GeoCountry GeoLevel = "COUNTRY"
	GeoState   GeoLevel = "STATE"
	GeoCity    GeoLevel = "CITY"
)

type Country struct {
	ID   string `json:"id"`
	Code string `json:"code"`
	Name string `json:"name"`
	Slug string `json:"slug"`
}

type State struct {
	ID         string   `json:"id"`
	CountryID  string   `json:"country_id"`
	Code       string   `json:"code"`
	Name       string   `json:"name"`
	Slug       string   `json:"slug"`
	Population int64    `json:"population"`
	AvgPremium float64  `json:"avg_premium"`
	Country    *Country `json:"country,omitempty"`
}

type City struct {
	ID         string  `json:"id"`
	StateID    string  `json:"state_id"`
	Name       string  `json:"name"`
	Slug       string  `json:"slug"`
	Population int64   `json:"population"`
	AvgPremium float64 `json:"avg_premium"`
	State      *State  `json:"state,omitempty"`
}

// Rename copies the row column Source into the variable Target.
type Rename struct {
	Target string `json:"target"`
	Source string `json:"source"`
}

// Policy holds the per-job upsert flags.
type Policy struct {
	SkipExisting    bool `json:"skip_existing"`
	UpdateExisting  bool `json:"update_existing"`
	PublishOnCreate bool `json:"publish_on_create"`
	DryRun          bool `json:"dry_run"`
}

// Job describes one bulk generation run and its progress.
type Job struct {
	ID                     string     `json:"id"`
	Name                   string     `json:"name"`
	TemplateID             string     `json:"template_id"`
	TemplateSlug           string     `json:"template_slug"`
	InsuranceTypeSlug      string     `json:"insurance_type_slug"`
	InsuranceTypeName      string     `json:"insurance_type_name"`
	SlugPattern            string     `json:"slug_pattern"`
	TitlePattern           string     `json:"title_pattern,omitempty"`
	MetaTitlePattern       string     `json:"meta_title_pattern,omitempty"`
	MetaDescriptionPattern string     `json:"meta_description_pattern,omitempty"`
	Rows                   []Row      `json:"rows,omitempty"`
	Renames                []Rename   `json:"renames,omitempty"`
	Policy                 Policy     `json:"policy"`
	Status                 Status     `json:"status"`
	Progress               Progress   `json:"progress"`
	ErrorMessage           string     `json:"error_message,omitempty"`
	CreatedAt              time.Time  `json:"created_at"`
	StartedAt              *time.Time `json:"started_at,omitempty"`
	CompletedAt            *time.Time `json:"completed_at,omitempty"`
}

// Page is a generated, slug-addressed artifact.
type Page struct {
	ID              string     `json:"id"`
	Slug            string     `json:"slug"`
	TemplateID      string     `json:"template_id"`
	Title           string     `json:"title"`
	Subtitle        string     `json:"subtitle,omitempty"`
	MetaTitle       string     `json:"meta_title,omitempty"`
	MetaDescription string     `json:"meta_description,omitempty"`
	CountryID       *string    `json:"country_id,omitempty"`
	StateID         *string    `json:"state_id,omitempty"`
	CityID          *string    `json:"city_id,omitempty"`
	GeoLevel        GeoLevel   `json:"geo_level,omitempty"`
	Variables       *tmpl.Map  `json:"variables"`
	Published       bool       `json:"published"`
	PublishedAt     *time.Time `json:"published_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Path is the public URL path of the page.
func (p Page) Path() string { return "/" + p.Slug }
