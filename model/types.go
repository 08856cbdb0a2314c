package model

import "time"

// ID identifies a node inside a workflow graph.
type ID string

// JobID is the opaque identifier the engine assigns to a submitted graph.
type JobID string

// JobState is the client-side projection of a job's progress. It is derived
// from polling, never stored by the engine in this form.
type JobState string

const (
	JobPending   JobState = "pending"
	JobRunning   JobState = "running"
	JobCompleted JobState = "completed"
	JobFailed    JobState = "failed"
	JobUnknown   JobState = "unknown"
)

// Terminal reports whether no further transition is expected.
func (s JobState) Terminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobUnknown
}

// ArtifactOutput is the artifact type of final results. Other types (temp,
// input) are previews or echoes and are skipped when picking a result.
const ArtifactOutput = "output"

// Artifact references a file produced by a job. The triple is only
// meaningful within one engine deployment.
type Artifact struct {
	Filename  string `json:"filename"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
	NodeID    ID     `json:"-"`
}

// Job is one submitted execution of a graph.
type Job struct {
	ID       JobID
	ClientID string
	State    JobState
	Outputs  []Artifact // document order: node order, then list order
	Message  string     // engine status text, if any
}

// FirstArtifact returns the first artifact found in output order.
func (j *Job) FirstArtifact() (Artifact, bool) {
	if j == nil || len(j.Outputs) == 0 {
		return Artifact{}, false
	}
	return j.Outputs[0], true
}

// FirstOfType returns the first artifact of the given type.
func (j *Job) FirstOfType(typ string) (Artifact, bool) {
	if j == nil {
		return Artifact{}, false
	}
	for _, a := range j.Outputs {
		if a.Type == typ {
			return a, true
		}
	}
	return Artifact{}, false
}

// Edge is a link between an upstream node output and a downstream input,
// derived from `[nodeID, outputIndex]` input values.
type Edge struct {
	FromNode   ID
	FromOutput int
	ToNode     ID
	ToInput    string
}

// FileMeta describes a stored result file.
type FileMeta struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Size      int64     `json:"size"`
	MediaType string    `json:"media_type"`
	CreatedAt time.Time `json:"created_at"`
}
