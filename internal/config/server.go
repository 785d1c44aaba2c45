package config

import (
	"fmt"
	"strconv"
	"strings"
)

// CameraRoute is one ingest worker's assignment: the camera it
// serves, the port it listens on, and the core it is pinned to.
type CameraRoute struct {
	Name string
	Port int
	Core int
}

// Server is the ingest daemon's configuration.
type Server struct {
	Cameras     []CameraRoute
	FrameWidth  int
	FrameHeight int
	// DatasetDir receives decoded frames and timestamp indexes; empty
	// disables the dataset sink.
	DatasetDir string
}

// LoadServer parses and validates the ingest configuration. CAMERA
// keys repeat, one per camera, each valued "name:port:core".
func LoadServer(path string) (*Server, error) {
	pairs, err := ParseFile(path)
	if err != nil {
		return nil, err
	}

	s := &Server{}
	if s.FrameWidth, err = getInt(pairs, "FRAME_WIDTH"); err != nil {
		return nil, err
	}
	if s.FrameHeight, err = getInt(pairs, "FRAME_HEIGHT"); err != nil {
		return nil, err
	}
	if s.FrameWidth <= 0 || s.FrameHeight <= 0 {
		return nil, fmt.Errorf("config: frame size %dx%d invalid", s.FrameWidth, s.FrameHeight)
	}
	if v, ok := lookup(pairs, "DATASET_DIR"); ok {
		s.DatasetDir = v
	}

	seen := map[string]bool{}
	ports := map[int]string{}
	for _, p := range pairs {
		if p.Key != "CAMERA" {
			continue
		}
		route, err := parseRoute(p.Value)
		if err != nil {
			return nil, err
		}
		if seen[route.Name] {
			return nil, fmt.Errorf("config: CAMERA %q listed twice", route.Name)
		}
		if other, dup := ports[route.Port]; dup {
			return nil, fmt.Errorf("config: CAMERA %q reuses port %d of %q", route.Name, route.Port, other)
		}
		seen[route.Name] = true
		ports[route.Port] = route.Name
		s.Cameras = append(s.Cameras, route)
	}
	if len(s.Cameras) == 0 {
		return nil, fmt.Errorf("config: no CAMERA entries")
	}
	return s, nil
}

func parseRoute(v string) (CameraRoute, error) {
	parts := strings.Split(v, ":")
	if len(parts) != 3 {
		return CameraRoute{}, fmt.Errorf("config: CAMERA %q, want name:port:core", v)
	}
	name := strings.TrimSpace(parts[0])
	if name == "" {
		return CameraRoute{}, fmt.Errorf("config: CAMERA %q has empty name", v)
	}
	port, err := strconv.Atoi(parts[1])
	if err != nil || port < 1 || port > 65535 {
		return CameraRoute{}, fmt.Errorf("config: CAMERA %q has invalid port", v)
	}
	core, err := strconv.Atoi(parts[2])
	if err != nil || core < 0 {
		return CameraRoute{}, fmt.Errorf("config: CAMERA %q has invalid core", v)
	}
	return CameraRoute{Name: name, Port: port, Core: core}, nil
}
