// Copyright (c) 2022 The rcproxy Authors
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

package constant

// TitleSlowLog prefixes log lines the formatter should pass through
// verbatim, skipping the caller/file annotation it normally appends.
// Callers use it for high-water/backpressure lines, where the volume of
// callsites would otherwise bury the message in repeated caller frames.
const TitleSlowLog = "[SLOWOP]"
