// worker/errors.go
// Copyright(c) 2024-2025 multicopter contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package worker

import (
	"errors"
	"fmt"
)

var (
	ErrAlreadyStarted = errors.New("Worker already started")
	ErrNilTask        = errors.New("Nil worker task")
	ErrStopped        = errors.New("Worker has been stopped")
)

// PanicError is returned by Join when the task panicked.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("worker task panicked: %v", e.Value)
}

func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}
