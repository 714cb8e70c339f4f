// Copyright 2015 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package fuse

import "github.com/fusebridge/fusebridge/internal/logger"

// debugf logs a per-operation trace line when a Session's MountConfig
// has Debug set. Superseded from the bare flag.Bool("fuse.debug", ...)
// + log.Logger the teacher used in favor of the structured logger the
// rest of the bridge logs through.
func debugf(enabled bool, format string, args ...interface{}) {
	if !enabled {
		return
	}
	logger.Debugf(format, args...)
}
