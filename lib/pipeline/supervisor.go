/*
 * Attestra
 * Copyright (C) 2025  Attestra, Inc.
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 */

package pipeline

import (
	"context"
	"log/slog"

	"github.com/gravitational/trace"
	"golang.org/x/sync/errgroup"
)

// Task is a long-lived consumer loop owned by the supervisor.
type Task struct {
	Name string
	Run  func(ctx context.Context) error
}

// Supervisor composes consumer loops cooperatively: all tasks share a
// context, and the first crash cancels the rest so the process restarts
// in a known state.
type Supervisor struct {
	logger *slog.Logger
	tasks  []Task
}

// NewSupervisor creates a supervisor.
func NewSupervisor(logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{logger: logger}
}

// Add registers a task. Not safe to call after Run.
func (s *Supervisor) Add(name string, run func(ctx context.Context) error) {
	s.tasks = append(s.tasks, Task{Name: name, Run: run})
}

// Run blocks until every task returned or one of them failed.
// Context cancellation is a clean shutdown, not a failure.
func (s *Supervisor) Run(ctx context.Context) error {
	group, ctx := errgroup.WithContext(ctx)
	for _, task := range s.tasks {
		s.logger.Info("Starting consumer.", "task", task.Name)
		group.Go(func() error {
			err := task.Run(ctx)
			if err != nil && ctx.Err() == nil {
				s.logger.Error("Consumer crashed.", "task", task.Name, "error", err)
				return trace.Wrap(err)
			}
			return nil
		})
	}
	return trace.Wrap(group.Wait())
}
