// Copyright (C) 2026 Pelagic AI (oss@pelagicai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package session correlates chat exchanges to a session identifier.
//
// The service holds no conversation state; the session id exists purely so
// clients and downstream log pipelines can group multi-turn exchanges.
package session

import "github.com/google/uuid"

// Correlate returns the session id for an exchange: a non-empty caller
// supplied id is echoed verbatim (the id is opaque, no format is imposed),
// an empty id yields a fresh UUID v4.
func Correlate(id string) string {
	if id != "" {
		return id
	}
	return uuid.New().String()
}
