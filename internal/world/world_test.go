package world

import "testing"

func sample() *Snapshot {
	return &Snapshot{
		Windows: []Window{
			{ID: 1, Title: "editor", AppID: "dev.zed.Zed", Workspace: "code", Output: "DP-1", Focused: true},
			{ID: 2, Title: "browser", AppID: "org.mozilla.firefox", Workspace: "web", Output: "DP-1"},
		},
		Workspaces: []Workspace{
			{ID: 1, Name: "code", Output: "DP-1", Active: true, WindowCount: 1},
			{ID: 2, Name: "web", Output: "DP-1", WindowCount: 1},
		},
		Outputs: []Output{
			{Name: "DP-1", Geometry: Rect{Width: 2560, Height: 1440}, Scale: 1, Reserved: Reserved{Top: 32}},
		},
		Focused:   &Window{ID: 1, Title: "editor"},
		Cursor:    &Cursor{X: 100, Y: 200, Output: "DP-1"},
		FocusMode: FocusFollowsMouse,
	}
}

func TestCloneIsDeep(t *testing.T) {
	orig := sample()
	clone := orig.Clone()

	clone.Windows[0].Title = "mutated"
	clone.Outputs[0].Reserved.Top = 99
	clone.Focused.ID = 42
	clone.Cursor.X = -1

	if orig.Windows[0].Title != "editor" {
		t.Errorf("window title leaked through clone: %q", orig.Windows[0].Title)
	}
	if orig.Outputs[0].Reserved.Top != 32 {
		t.Errorf("reserved space leaked through clone: %d", orig.Outputs[0].Reserved.Top)
	}
	if orig.Focused.ID != 1 {
		t.Errorf("focused window leaked through clone: %d", orig.Focused.ID)
	}
	if orig.Cursor.X != 100 {
		t.Errorf("cursor leaked through clone: %v", orig.Cursor.X)
	}
}

func TestCloneNil(t *testing.T) {
	var s *Snapshot
	if got := s.Clone(); got != nil {
		t.Errorf("expected nil clone, got %+v", got)
	}

	empty := &Snapshot{}
	clone := empty.Clone()
	if clone.Focused != nil || clone.Cursor != nil {
		t.Error("empty snapshot clone grew optional fields")
	}
}

func TestFinders(t *testing.T) {
	s := sample()

	if w := s.Window(2); w == nil || w.Title != "browser" {
		t.Errorf("Window(2) = %+v", w)
	}
	if w := s.Window(99); w != nil {
		t.Errorf("Window(99) should be nil, got %+v", w)
	}
	if o := s.Output("DP-1"); o == nil || o.Reserved.Top != 32 {
		t.Errorf("Output(DP-1) = %+v", o)
	}
	if o := s.Output("HDMI-A-1"); o != nil {
		t.Errorf("Output(HDMI-A-1) should be nil, got %+v", o)
	}
	if ws := s.Workspace("web"); ws == nil || ws.ID != 2 {
		t.Errorf("Workspace(web) = %+v", ws)
	}
}

func TestPayloadCategories(t *testing.T) {
	cases := []struct {
		payload Payload
		want    Category
	}{
		{WindowPayload{}, CategoryWindow},
		{WorkspacePayload{}, CategoryWorkspace},
		{OutputPayload{}, CategoryOutput},
		{LayoutPayload{}, CategoryLayout},
		{SystemPayload{}, CategorySystem},
	}
	for _, tc := range cases {
		if got := tc.payload.Category(); got != tc.want {
			t.Errorf("%T category = %q, want %q", tc.payload, got, tc.want)
		}
	}
}
