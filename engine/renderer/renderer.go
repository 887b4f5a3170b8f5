package renderer

import (
	"strings"

	"github.com/cockroachdb/errors"
)

type RendererType uint8

const (
	Vulkan RendererType = iota
	// Headless records commands without a GPU. Used by tests and CI.
	Headless
)

func (t RendererType) String() string {
	switch t {
	case Vulkan:
		return "vulkan"
	case Headless:
		return "headless"
	}
	return "unknown"
}

func ParseRendererType(s string) (RendererType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "vulkan":
		return Vulkan, nil
	case "headless":
		return Headless, nil
	}
	return Vulkan, errors.Newf("unknown renderer backend %q", s)
}
