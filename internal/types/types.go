package types

import "fmt"

// DetectionRequest is the single JSON line written to the worker's stdin.
type DetectionRequest struct {
	ID    string `json:"id"`
	Image string `json:"image"`
}

// FaceBox is one detected face in source-frame pixel coordinates.
type FaceBox struct {
	X1         float64 `json:"x1"`
	Y1         float64 `json:"y1"`
	X2         float64 `json:"x2"`
	Y2         float64 `json:"y2"`
	Emotion    *string `json:"emotion"`
	Confidence float64 `json:"confidence"`
	Color      string  `json:"color"`
	Source     string  `json:"source,omitempty"` // "direct" when found by full-frame detection
}

// FrameSize is the decoded frame size reported by the worker.
type FrameSize struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// DetectionResponse matches a JSON line coming back from the worker.
// Either Faces/DominantEmotion or Error is populated.
type DetectionResponse struct {
	ID              *string    `json:"id"`
	Faces           []FaceBox  `json:"faces"`
	DominantEmotion *string    `json:"dominantEmotion"`
	Frame           *FrameSize `json:"frame,omitempty"`
	Error           *string    `json:"error,omitempty"`
	Debug           []any      `json:"debug,omitempty"`
}

// Result is what callers of the detector receive, whatever path produced it.
// Callers only branch on Error being non-empty.
type Result struct {
	Faces           []FaceBox  `json:"faces"`
	DominantEmotion *string    `json:"dominantEmotion"`
	Frame           *FrameSize `json:"frame,omitempty"`
	Error           string     `json:"error,omitempty"`
}

// ErrorResult returns the normalized empty result carrying msg.
func ErrorResult(msg string) Result {
	return Result{Faces: []FaceBox{}, Error: msg}
}

// ResultFromResponse converts a parsed worker line into a caller result.
func ResultFromResponse(resp DetectionResponse) Result {
	res := Result{
		Faces:           resp.Faces,
		DominantEmotion: resp.DominantEmotion,
		Frame:           resp.Frame,
	}
	if res.Faces == nil {
		res.Faces = []FaceBox{}
	}
	if resp.Error != nil {
		res.Error = *resp.Error
	}
	return res
}

// StateKind enumerates the worker lifecycle states.
type StateKind int

const (
	NotStarted StateKind = iota
	Starting
	Ready
	Disabled
	Crashed
	Stopped
)

func (k StateKind) String() string {
	switch k {
	case NotStarted:
		return "not_started"
	case Starting:
		return "starting"
	case Ready:
		return "ready"
	case Disabled:
		return "disabled"
	case Crashed:
		return "crashed"
	case Stopped:
		return "stopped"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// WorkerState is the supervisor's current state. Reason is set for Disabled,
// ExitCode for Crashed (-1 when the process never started).
type WorkerState struct {
	Kind     StateKind
	Reason   string
	ExitCode int
}

func (s WorkerState) String() string {
	switch s.Kind {
	case Disabled:
		return fmt.Sprintf("disabled(%s)", s.Reason)
	case Crashed:
		return fmt.Sprintf("crashed(%d)", s.ExitCode)
	default:
		return s.Kind.String()
	}
}

// Health is the polling snapshot of the detection subsystem.
type Health struct {
	ProcessAlive bool   `json:"process"`
	Ready        bool   `json:"ready"`
	Disabled     bool   `json:"disabled"`
	Reason       string `json:"reason"`
	ModelPath    string `json:"modelPath"`
	State        string `json:"state"`
	Pending      int    `json:"pending"`
	Restarts     int    `json:"restarts"`
	DroppedLines uint64 `json:"droppedLines"`
	LastExitCode *int   `json:"lastExitCode,omitempty"`
}

// EmotionCount is one row of a per-session emotion distribution.
type EmotionCount struct {
	Emotion string `json:"emotion"`
	Count   int    `json:"count"`
}

// SessionSummary aggregates the samples recorded for one interview session.
type SessionSummary struct {
	SessionID string         `json:"sessionId"`
	Samples   int            `json:"samples"`
	WithFace  int            `json:"withFace"`
	Dominant  *string        `json:"dominant"`
	Emotions  []EmotionCount `json:"emotions"`
}
