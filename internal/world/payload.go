package world

// Category groups host events by the state they describe.
type Category string

const (
	CategoryWindow    Category = "window"
	CategoryWorkspace Category = "workspace"
	CategoryOutput    Category = "output"
	CategoryLayout    Category = "layout"
	CategorySystem    Category = "system"
)

// Host event names. Scripts may also emit arbitrary names of their
// own; these are the ones the compositor itself produces.
const (
	EventWindowCreated    = "window:created"
	EventWindowClosed     = "window:closed"
	EventWindowFocus      = "window:focus"
	EventWindowTitle      = "window:title"
	EventWindowMoved      = "window:moved"
	EventWorkspaceCreated = "workspace:created"
	EventWorkspaceChanged = "workspace:changed"
	EventWorkspaceRemoved = "workspace:removed"
	EventOutputConnected  = "output:connected"
	EventOutputRemoved    = "output:removed"
	EventLayoutChanged    = "layout:changed"
	EventSystemReload     = "system:reload"
	EventSystemShutdown   = "system:shutdown"
)

// Payload is a tagged host event payload. Each category carries its
// own struct so producers stay typed; conversion to the script's
// dynamic representation happens only at the engine boundary.
type Payload interface {
	Category() Category
}

// WindowPayload accompanies window:* events.
type WindowPayload struct {
	Window Window `json:"window"`
}

func (WindowPayload) Category() Category { return CategoryWindow }

// WorkspacePayload accompanies workspace:* events.
type WorkspacePayload struct {
	Workspace Workspace `json:"workspace"`
	Previous  string    `json:"previous,omitempty"`
}

func (WorkspacePayload) Category() Category { return CategoryWorkspace }

// OutputPayload accompanies output:* events.
type OutputPayload struct {
	Output Output `json:"output"`
}

func (OutputPayload) Category() Category { return CategoryOutput }

// LayoutPayload accompanies layout:* events.
type LayoutPayload struct {
	Workspace string `json:"workspace"`
	Layout    string `json:"layout"`
}

func (LayoutPayload) Category() Category { return CategoryLayout }

// SystemPayload accompanies system:* events.
type SystemPayload struct {
	Reason string `json:"reason,omitempty"`
}

func (SystemPayload) Category() Category { return CategorySystem }
