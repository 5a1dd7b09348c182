//go:build linux

/*
Copyright MatrixInfer-AI Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package nice applies the CPU scheduling priority hint from a model's
// sequence batching configuration to the calling OS thread.
package nice

import "golang.org/x/sys/unix"

// Set adjusts the nice level of the calling thread. The caller must have
// called runtime.LockOSThread first, since the priority is set on whatever
// OS thread is currently backing the calling goroutine.
func Set(level int) error {
	if level == 0 {
		return nil
	}
	return unix.Setpriority(unix.PRIO_PROCESS, unix.Gettid(), level)
}
