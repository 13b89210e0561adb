// Copyright (c) 2025, the koyomi contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package errs has helpers for walking wrapped error chains before they are
// reported to the alert sink.
package errs

import (
	"errors"
)

// causer is the interface used by github.com/pkg/errors wrappers.
type causer interface {
	Cause() error
}

// RootCause unwraps err to its innermost error, following both the stdlib
// Unwrap convention and the pkg/errors Cause convention. Alerts carry the
// root cause so the sink shows the failing operation, not the outermost
// context wrapper.
func RootCause(err error) error {
	for err != nil {
		if c, ok := err.(causer); ok {
			err = c.Cause()
			continue
		}
		unwrapped := errors.Unwrap(err)
		if unwrapped == nil {
			return err
		}
		err = unwrapped
	}
	return err
}
