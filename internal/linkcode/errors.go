// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 LinkGate Contributors

package linkcode

import "errors"

// ErrNotFound is returned when no matching unexpired code or account exists.
var ErrNotFound = errors.New("not found")
