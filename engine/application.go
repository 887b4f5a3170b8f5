package engine

import "github.com/spaghettifunk/anima-core/engine/config"

type ApplicationConfig struct {
	// Window starting position x axis, if applicable.
	StartPosX uint32
	// Window starting position y axis, if applicable.
	StartPosY uint32
	// Window starting width, if applicable.
	StartWidth uint32
	// Window starting height, if applicable.
	StartHeight uint32
	// The application name used in windowing and as the Vulkan application name.
	Name string
}

// NewApplicationConfig takes the window placement from the loaded configuration.
func NewApplicationConfig(w config.WindowConfig) *ApplicationConfig {
	return &ApplicationConfig{
		StartPosX:   w.PosX,
		StartPosY:   w.PosY,
		StartWidth:  w.Width,
		StartHeight: w.Height,
		Name:        w.Title,
	}
}
