//go:build mage

package main

import (
	"fmt"

	"github.com/magefile/mage/mg"
)

type Run mg.Namespace

// Compiles shaders and runs the testbed on the Vulkan backend.
func (Run) Engine() error {
	if err := buildShaders(); err != nil {
		return err
	}
	fmt.Println("Run engine...")
	_, err := executeCmd("go", withArgs("run", ".", "--backend", "vulkan"), withStream())
	return err
}

// Runs the testbed with validation layers and debug logging.
func (Run) Debug() error {
	if err := buildShaders(); err != nil {
		return err
	}
	_, err := executeCmd("go", withArgs("run", ".", "--debug"), withStream())
	return err
}

// Runs a short headless smoke run; no GPU or window needed.
func (Run) Headless() error {
	_, err := executeCmd("go", withArgs("run", ".", "--backend", "headless", "--max-frames", "300"), withStream())
	return err
}

// Runs the test suite with the race detector, which needs cgo.
func Test() error {
	_, err := executeCmd("go", withArgs("test", "-race", "./..."), withEnv("CGO_ENABLED=1"), withStream())
	return err
}
