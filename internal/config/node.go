package config

import (
	"fmt"
	"net/netip"
	"time"
)

// Node is the camera node's configuration.
type Node struct {
	ServerIP     string
	Port         uint16
	RecordingCPU int
	DMABuffers   int
	FrameWidth   int
	FrameHeight  int
	// FrameDurationMin/Max bound the frame interval in nanoseconds;
	// equal values fix the framerate.
	FrameDurationMin time.Duration
	FrameDurationMax time.Duration
	// LogFile receives the node's line-oriented log.
	LogFile string
}

// ServerAddr renders the destination as host:port.
func (n *Node) ServerAddr() string {
	return fmt.Sprintf("%s:%d", n.ServerIP, n.Port)
}

// LoadNode parses and validates the camera node configuration.
func LoadNode(path string) (*Node, error) {
	pairs, err := ParseFile(path)
	if err != nil {
		return nil, err
	}

	n := &Node{}

	if n.ServerIP, err = getString(pairs, "SERVER_IP"); err != nil {
		return nil, err
	}
	addr, err := netip.ParseAddr(n.ServerIP)
	if err != nil || !addr.Is4() {
		return nil, fmt.Errorf("config: SERVER_IP: %q is not a dotted-quad address", n.ServerIP)
	}

	port, err := getInt(pairs, "PORT")
	if err != nil {
		return nil, err
	}
	if port < 1 || port > 65535 {
		return nil, fmt.Errorf("config: PORT: %d out of range", port)
	}
	n.Port = uint16(port)

	if n.RecordingCPU, err = getInt(pairs, "RECORDING_CPU"); err != nil {
		return nil, err
	}
	if n.RecordingCPU < 0 {
		return nil, fmt.Errorf("config: RECORDING_CPU: %d is negative", n.RecordingCPU)
	}

	if n.DMABuffers, err = getInt(pairs, "DMA_BUFFERS"); err != nil {
		return nil, err
	}
	if n.DMABuffers < 3 {
		// The backpressure margin consumes two buffers; fewer than
		// three leaves no room to capture at all.
		return nil, fmt.Errorf("config: DMA_BUFFERS: %d, need at least 3", n.DMABuffers)
	}

	if n.FrameWidth, err = getInt(pairs, "FRAME_WIDTH"); err != nil {
		return nil, err
	}
	if n.FrameHeight, err = getInt(pairs, "FRAME_HEIGHT"); err != nil {
		return nil, err
	}
	if n.FrameWidth <= 0 || n.FrameHeight <= 0 {
		return nil, fmt.Errorf("config: frame size %dx%d invalid", n.FrameWidth, n.FrameHeight)
	}

	durMin, err := getInt64(pairs, "FRAME_DURATION_MIN")
	if err != nil {
		return nil, err
	}
	durMax, err := getInt64(pairs, "FRAME_DURATION_MAX")
	if err != nil {
		return nil, err
	}
	if durMin <= 0 || durMax < durMin {
		return nil, fmt.Errorf("config: frame duration bounds [%d, %d] invalid", durMin, durMax)
	}
	n.FrameDurationMin = time.Duration(durMin)
	n.FrameDurationMax = time.Duration(durMax)

	if v, ok := lookup(pairs, "LOG_FILE"); ok {
		n.LogFile = v
	} else {
		n.LogFile = "logs.txt"
	}

	return n, nil
}
