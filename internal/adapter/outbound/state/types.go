// Package state provides file-based persistence for the incident journal.
//
// The journal file stores every incident logged through the gateway. This
// package provides atomic writes, file locking, and backup functionality.
package state

import "time"

// CurrentVersion is the journal schema version written by this package.
const CurrentVersion = "1"

// Incident statuses.
const (
	IncidentOpen     = "open"
	IncidentResolved = "resolved"
)

// Journal is the top-level structure persisted in the journal file.
type Journal struct {
	// Version is the schema version for forward compatibility.
	Version string `json:"version"`

	// Incidents are kept in creation order.
	Incidents []Incident `json:"incidents"`

	// CreatedAt is when the journal was first created.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when the journal was last saved.
	UpdatedAt time.Time `json:"updated_at"`
}

// Incident is one logged operational incident.
type Incident struct {
	// ID has the form INC-YYYYMMDD-XXXXXX.
	ID               string    `json:"id"`
	Title            string    `json:"title"`
	Severity         string    `json:"severity"`
	Description      string    `json:"description"`
	AffectedServices []string  `json:"affected_services"`
	ActionsTaken     string    `json:"actions_taken,omitempty"`
	Status           string    `json:"status"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Find returns the incident with id.
func (j *Journal) Find(id string) (Incident, bool) {
	for _, inc := range j.Incidents {
		if inc.ID == id {
			return inc, true
		}
	}
	return Incident{}, false
}
