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

package config

import (
	"fmt"

	"github.com/edgehttp/edge/internal/supervisor"
)

// BuildRecipes extracts one supervisor.Recipe per "process"-kind vhost.
// Vhosts backed by static, proxy, or fastcgi (an already-running PHP-FPM
// pool dialed over FastCGIAddr) never get a recipe.
func BuildRecipes(cfgs []VHostConfig) ([]supervisor.Recipe, error) {
	var recipes []supervisor.Recipe
	for i, c := range cfgs {
		if c.Backend.Kind != "process" {
			continue
		}
		appType, err := parseAppType(c.Backend.AppType)
		if err != nil {
			return nil, fmt.Errorf("vhost %d (%v): %w", i, c.Hosts, err)
		}
		name := c.Backend.ProcessName
		if name == "" {
			return nil, fmt.Errorf("vhost %d (%v): process backend requires process_name", i, c.Hosts)
		}
		recipes = append(recipes, supervisor.Recipe{
			Name:        name,
			AppType:     appType,
			Command:     c.Backend.Command,
			Args:        c.Backend.Args,
			WorkDir:     c.Backend.WorkDir,
			Env:         c.Backend.Env,
			Port:        c.Backend.Port,
			AutoRestart: true,
		})
	}
	return recipes, nil
}

func parseAppType(s string) (supervisor.AppType, error) {
	switch s {
	case "node":
		return supervisor.AppNode, nil
	case "python":
		return supervisor.AppPython, nil
	case "servlet":
		return supervisor.AppServlet, nil
	case "phpfpm":
		return supervisor.AppFastCGI, nil
	default:
		return 0, fmt.Errorf("unknown app_type %q", s)
	}
}
