// Package event defines the progress records emitted while a reconstruction
// run executes.
//
// Every record shares one shape: a Kind tag, a human-readable message, and a
// progress percentage in [0,100], plus kind-specific payload fields. A
// consumer switches on Kind and needs exactly one decoding path:
//
//	for ev := range run.Events() {
//		switch ev.Kind {
//		case event.KindLog:
//			fmt.Println(ev.Message)
//		case event.KindError:
//			return errors.New(ev.Message)
//		case event.KindDone:
//			fmt.Println("point cloud at", ev.PointCloud)
//		}
//	}
//
// A stream contains exactly one terminal event (KindDone or KindError) and
// it is always the last event.
package event

// Kind tags an Event with its variant. The values double as the "type"
// field on the wire.
type Kind string

const (
	// KindStatus marks free-form lifecycle messages (queued, starting,
	// finished).
	KindStatus Kind = "status"
	// KindLog carries one line of external tool output.
	KindLog Kind = "log"
	// KindImage reports one successfully preprocessed input image.
	KindImage Kind = "preprocess_image"
	// KindStageDone marks the completion of a named pipeline stage.
	KindStageDone Kind = "stage_done"
	// KindDone is the terminal success event.
	KindDone Kind = "done"
	// KindError is the terminal failure event.
	KindError Kind = "error"
)

// Group names the pipeline phase a stage event belongs to.
type Group string

const (
	GroupPreprocessing  Group = "preprocessing"
	GroupReconstruction Group = "reconstruction"
)

// Event is one immutable record in a run's progress narrative. Zero-valued
// payload fields are omitted on the wire.
type Event struct {
	Kind     Kind   `json:"type"`
	Message  string `json:"message,omitempty"`
	Progress int    `json:"progress"`

	Group     Group    `json:"group,omitempty"`
	StageKey  string   `json:"stage_key,omitempty"`
	StageName string   `json:"stage_name,omitempty"`
	Image     string   `json:"image,omitempty"`
	Thumbs    []string `json:"thumbs,omitempty"`

	// PointCloud references the fused point-cloud artifact on KindDone.
	PointCloud string `json:"point_cloud,omitempty"`
	// ExitCode carries the external command's exit status on KindError
	// events produced by a failed invocation.
	ExitCode int `json:"exit_code,omitempty"`
}

// Terminal reports whether the event ends a run's stream.
func (e Event) Terminal() bool {
	return e.Kind == KindDone || e.Kind == KindError
}

// Status builds a lifecycle message event.
func Status(message string, progress int) Event {
	return Event{Kind: KindStatus, Message: message, Progress: progress}
}

// Log builds a single-output-line event.
func Log(message string, progress int) Event {
	return Event{Kind: KindLog, Message: message, Progress: progress}
}

// Error builds a terminal failure event.
func Error(message string, progress int) Event {
	return Event{Kind: KindError, Message: message, Progress: progress}
}
