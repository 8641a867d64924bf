// Copyright 2023 Ross Light
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//		 https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// SPDX-License-Identifier: Apache-2.0

// Package socketactivation retrieves listeners passed down by systemd
// socket activation (LISTEN_FDS/LISTEN_PID), falling back to a normal
// bind when the process wasn't started that way.
package socketactivation

import (
	"fmt"
	"net"

	"github.com/coreos/go-systemd/v22/activation"
)

// Listeners returns the listeners systemd passed to this process, if
// any. A nil, nil return means the process was not socket-activated and
// the caller should bind its own listener from configuration.
func Listeners() ([]net.Listener, error) {
	listeners, err := activation.Listeners()
	if err != nil {
		return nil, fmt.Errorf("socketactivation: %w", err)
	}
	if len(listeners) == 0 {
		return nil, nil
	}
	return listeners, nil
}

// First is a convenience wrapper around [Listeners] for servers that
// only ever expect one socket-activated listener.
func First() (net.Listener, error) {
	listeners, err := Listeners()
	if err != nil {
		return nil, err
	}
	if len(listeners) == 0 {
		return nil, nil
	}
	return listeners[0], nil
}
