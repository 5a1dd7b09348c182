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

package backend

import (
	"encoding/binary"

	"github.com/google/uuid"
)

// NewCorrelationID derives a non-zero correlation ID from a fresh random
// UUID. Front ends that track sequences by a client-supplied session UUID
// rather than an integer can use this to obtain the uint64 correlation ID
// the scheduler expects, without risking the reserved zero value.
func NewCorrelationID() uint64 {
	for {
		id := uuid.New()
		v := binary.BigEndian.Uint64(id[:8])
		if v != 0 {
			return v
		}
	}
}
