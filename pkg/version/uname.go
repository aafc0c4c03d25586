// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package version

import "sync"

// SystemInfo is the uname-style host description reported by doctor
// and attached to diagnostic dumps. Domain is only populated on linux.
type SystemInfo struct {
	Name      string `json:"name"`
	Node      string `json:"node"`
	Release   string `json:"release"`
	Version   string `json:"version"`
	Machine   string `json:"machine"`
	Domain    string `json:"domain,omitempty"`
	OS        string `json:"os"`
	Processor string `json:"processor"`
}

// Uname probes the host once and caches the result.
func Uname() (*SystemInfo, error) {
	return sync.OnceValues(GetSystemInfo)()
}
