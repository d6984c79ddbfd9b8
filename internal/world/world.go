package world

// Rect is a rectangle in output-layout coordinates.
type Rect struct {
	X      int32 `json:"x"`
	Y      int32 `json:"y"`
	Width  int32 `json:"width"`
	Height int32 `json:"height"`
}

// Reserved is per-edge space withheld from tiling on an output,
// typically claimed by panels and docks.
type Reserved struct {
	Top    int32 `json:"top"`
	Bottom int32 `json:"bottom"`
	Left   int32 `json:"left"`
	Right  int32 `json:"right"`
}

// FocusMode describes how the compositor assigns keyboard focus.
type FocusMode string

const (
	FocusFollowsMouse FocusMode = "focus_follows_mouse"
	ClickToFocus      FocusMode = "click_to_focus"
)

// Window is a script-visible copy of one mapped window.
type Window struct {
	ID         uint64 `json:"id"`
	Title      string `json:"title"`
	AppID      string `json:"app_id"`
	PID        int32  `json:"pid"`
	Workspace  string `json:"workspace"`
	Output     string `json:"output"`
	Geometry   Rect   `json:"geometry"`
	Floating   bool   `json:"floating"`
	Fullscreen bool   `json:"fullscreen"`
	Focused    bool   `json:"focused"`
}

// Workspace is a script-visible copy of one workspace.
type Workspace struct {
	ID          uint64 `json:"id"`
	Name        string `json:"name"`
	Output      string `json:"output"`
	Active      bool   `json:"active"`
	WindowCount int    `json:"window_count"`
}

// Output is a script-visible copy of one connected output.
type Output struct {
	Name     string   `json:"name"`
	Make     string   `json:"make"`
	Model    string   `json:"model"`
	Geometry Rect     `json:"geometry"`
	Scale    float64  `json:"scale"`
	Refresh  float64  `json:"refresh"`
	Focused  bool     `json:"focused"`
	Reserved Reserved `json:"reserved"`
}

// Cursor is the pointer position in layout coordinates.
type Cursor struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Output string  `json:"output"`
}

// Snapshot is a point-in-time copy of compositor state. It is owned
// by whichever context captured it and must never alias live state:
// producers copy in, consumers may read without locking.
type Snapshot struct {
	Windows    []Window    `json:"windows"`
	Workspaces []Workspace `json:"workspaces"`
	Outputs    []Output    `json:"outputs"`
	Focused    *Window     `json:"focused_window,omitempty"`
	Cursor     *Cursor     `json:"cursor,omitempty"`
	FocusMode  FocusMode   `json:"focus_mode"`
}

// Source produces snapshots of live compositor state. The compositor
// implements this with a brief lock over its internal structures; each
// call returns a fresh deep copy.
type Source interface {
	Snapshot() *Snapshot
}

// Clone returns a deep copy of the snapshot.
func (s *Snapshot) Clone() *Snapshot {
	if s == nil {
		return nil
	}
	out := &Snapshot{
		Windows:    append([]Window(nil), s.Windows...),
		Workspaces: append([]Workspace(nil), s.Workspaces...),
		Outputs:    append([]Output(nil), s.Outputs...),
		FocusMode:  s.FocusMode,
	}
	if s.Focused != nil {
		w := *s.Focused
		out.Focused = &w
	}
	if s.Cursor != nil {
		c := *s.Cursor
		out.Cursor = &c
	}
	return out
}

// Window returns the window with the given ID, or nil.
func (s *Snapshot) Window(id uint64) *Window {
	for i := range s.Windows {
		if s.Windows[i].ID == id {
			return &s.Windows[i]
		}
	}
	return nil
}

// Output returns the output with the given name, or nil.
func (s *Snapshot) Output(name string) *Output {
	for i := range s.Outputs {
		if s.Outputs[i].Name == name {
			return &s.Outputs[i]
		}
	}
	return nil
}

// Workspace returns the workspace with the given name, or nil.
func (s *Snapshot) Workspace(name string) *Workspace {
	for i := range s.Workspaces {
		if s.Workspaces[i].Name == name {
			return &s.Workspaces[i]
		}
	}
	return nil
}
