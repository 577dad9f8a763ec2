package app

// viewSelector cycles between the orbit camera and the glTF camera nodes of
// the active scene. The zero value selects the orbit camera.
type viewSelector struct {
	// index+1 of the camera node; 0 is the orbit camera.
	selected int
}

func (s *viewSelector) reset() { s.selected = 0 }

// next advances through count camera nodes and back to the orbit camera.
func (s *viewSelector) next(count int) {
	s.selected++
	if s.selected > count {
		s.selected = 0
	}
}

// camera returns the selected camera node index, if any.
func (s *viewSelector) camera() (int, bool) {
	return s.selected - 1, s.selected > 0
}
