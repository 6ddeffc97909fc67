// Package camera provides capture devices for the scan workflow.
package camera

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
)

// ErrNotAcquired is returned by Capture before Acquire succeeds.
var ErrNotAcquired = errors.New("camera not acquired")

// FileCamera reads the most recent frame a capture daemon writes to Path.
type FileCamera struct {
	Path string

	mu       sync.Mutex
	acquired bool
}

// NewFileCamera returns a camera reading frames from path.
func NewFileCamera(path string) *FileCamera {
	return &FileCamera{Path: path}
}

// Acquire checks that the frame source exists and is a regular file.
func (c *FileCamera) Acquire() error {
	info, err := os.Stat(c.Path)
	if err != nil {
		return fmt.Errorf("frame source %s: %w", c.Path, err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("frame source %s is not a file", c.Path)
	}
	c.mu.Lock()
	c.acquired = true
	c.mu.Unlock()
	return nil
}

// Capture returns the current frame.
func (c *FileCamera) Capture(ctx context.Context) ([]byte, error) {
	c.mu.Lock()
	acquired := c.acquired
	c.mu.Unlock()
	if !acquired {
		return nil, ErrNotAcquired
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(c.Path)
	if err != nil {
		return nil, fmt.Errorf("read frame: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("frame source %s is empty", c.Path)
	}
	return data, nil
}

// Release marks the camera as no longer held.
func (c *FileCamera) Release() error {
	c.mu.Lock()
	c.acquired = false
	c.mu.Unlock()
	return nil
}
