// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
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

package fastcgi

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
)

// ErrScriptNotFound is returned by resolveScript when no script maps to
// the requested path, which the caller should surface as a 404.
var ErrScriptNotFound = errors.New("fastcgi: script not found")

// resolveScript implements the script resolution order: document
// root joined with the URI path; if that's a directory, try the
// configured index files; if the result has no .php extension, try
// appending one; otherwise signal ErrScriptNotFound.
func resolveScript(documentRoot, urlPath string, indexFiles []string) (string, error) {
	clean := filepath.Clean("/" + urlPath)
	candidate := filepath.Join(documentRoot, clean)

	if info, err := os.Stat(candidate); err == nil && info.IsDir() {
		for _, index := range indexFiles {
			indexed := filepath.Join(candidate, index)
			if fi, err := os.Stat(indexed); err == nil && !fi.IsDir() {
				return indexed, nil
			}
		}
		return "", ErrScriptNotFound
	}

	if strings.HasSuffix(candidate, ".php") {
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
		return "", ErrScriptNotFound
	}

	withExt := candidate + ".php"
	if _, err := os.Stat(withExt); err == nil {
		return withExt, nil
	}

	return "", ErrScriptNotFound
}
