package rowstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/gofiber/fiber/v2"

	"github.com/pomosync/pomosync/internal/schema"
	"github.com/pomosync/pomosync/internal/transport"
)

// request is the union of every action's fields.
type request struct {
	Action         string                 `json:"action"`
	DeviceID       string                 `json:"deviceId"`
	Tasks          *[]schema.Task         `json:"tasks"`
	CompletedTasks []schema.CompletedTask `json:"completedTasks"`
	WorkSessions   []schema.WorkSession   `json:"workSessions"`
	ArchivedTasks  []schema.ArchivedTask  `json:"archivedTasks"`
	TaskID         string                 `json:"taskId"`
	Task           *schema.CompletedTask  `json:"task"`
	WorkSession    *schema.WorkSession    `json:"workSession"`
	Date           *string                `json:"date"`
}

func (r *request) day() string {
	if r.Date == nil {
		return ""
	}
	return *r.Date
}

type actionFunc func(ctx context.Context, req *request) (fiber.Map, error)

func (s *Server) actions() map[string]actionFunc {
	return map[string]actionFunc{
		transport.ActionGetTasks:           s.getTasks,
		transport.ActionSyncTasks:          s.syncTasks,
		transport.ActionGetCompletedTasks:  s.getCompleted,
		transport.ActionSyncCompletedTasks: s.syncCompleted,
		transport.ActionGetWorkSessions:    s.getSessions,
		transport.ActionSyncWorkSessions:   s.syncSessions,
		transport.ActionGetArchivedTasks:   s.getArchived,
		transport.ActionSyncArchivedTasks:  s.syncArchived,
		transport.ActionDeleteTask:         s.deleteTask,
		transport.ActionCompleteTask:       s.completeTask,
		transport.ActionGetVersion:         s.getVersion,
	}
}

// handleAction decodes the body (sent as text/plain) and dispatches on its
// action field. Action failures are reported in the envelope with status 200.
func (s *Server) handleAction(c *fiber.Ctx) error {
	var req request
	if err := json.Unmarshal(c.Body(), &req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   fmt.Sprintf("invalid request body: %v", err),
		})
	}

	fn, ok := s.actions()[req.Action]
	if !ok {
		return c.JSON(fiber.Map{
			"success": false,
			"error":   fmt.Sprintf("Unknown action: %s", req.Action),
		})
	}

	resp, err := fn(c.UserContext(), &req)
	if err != nil {
		s.logger.Printf("Warning: %s from %s failed: %v", req.Action, req.DeviceID, err)
		return c.JSON(fiber.Map{"success": false, "error": err.Error()})
	}
	if resp == nil {
		resp = fiber.Map{}
	}
	resp["success"] = true
	return c.JSON(resp)
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}

func (s *Server) getTasks(ctx context.Context, _ *request) (fiber.Map, error) {
	tasks, err := s.store.ListTasks(ctx)
	if err != nil {
		return nil, err
	}
	return fiber.Map{"tasks": nonNil(tasks)}, nil
}

// syncTasks overwrites the whole active collection.
func (s *Server) syncTasks(ctx context.Context, req *request) (fiber.Map, error) {
	if req.Tasks == nil {
		return nil, fmt.Errorf("tasks is required")
	}
	if err := s.store.ReplaceTasks(ctx, *req.Tasks); err != nil {
		return nil, err
	}
	s.logger.Printf("Replaced active tasks from %s (%d)", req.DeviceID, len(*req.Tasks))
	return fiber.Map{"count": len(*req.Tasks)}, nil
}

func (s *Server) getCompleted(ctx context.Context, req *request) (fiber.Map, error) {
	tasks, err := s.store.ListCompleted(ctx, req.day())
	if err != nil {
		return nil, err
	}
	return fiber.Map{"completedTasks": nonNil(tasks)}, nil
}

func (s *Server) syncCompleted(ctx context.Context, req *request) (fiber.Map, error) {
	if err := s.store.UpsertCompleted(ctx, req.CompletedTasks); err != nil {
		return nil, err
	}
	return fiber.Map{"count": len(req.CompletedTasks)}, nil
}

func (s *Server) getSessions(ctx context.Context, req *request) (fiber.Map, error) {
	sessions, err := s.store.ListSessions(ctx, req.day())
	if err != nil {
		return nil, err
	}
	return fiber.Map{"workSessions": nonNil(sessions)}, nil
}

func (s *Server) syncSessions(ctx context.Context, req *request) (fiber.Map, error) {
	if err := s.store.UpsertSessions(ctx, req.WorkSessions); err != nil {
		return nil, err
	}
	return fiber.Map{"count": len(req.WorkSessions)}, nil
}

func (s *Server) getArchived(ctx context.Context, _ *request) (fiber.Map, error) {
	tasks, err := s.store.ListArchived(ctx)
	if err != nil {
		return nil, err
	}
	return fiber.Map{"archivedTasks": nonNil(tasks)}, nil
}

func (s *Server) syncArchived(ctx context.Context, req *request) (fiber.Map, error) {
	if err := s.store.UpsertArchived(ctx, req.ArchivedTasks); err != nil {
		return nil, err
	}
	return fiber.Map{"count": len(req.ArchivedTasks)}, nil
}

// deleteTask succeeds for unknown ids so retried deletes are harmless.
func (s *Server) deleteTask(ctx context.Context, req *request) (fiber.Map, error) {
	if req.TaskID == "" {
		return nil, fmt.Errorf("taskId is required")
	}
	if err := s.store.DeleteTask(ctx, req.TaskID); err != nil {
		return nil, err
	}
	return nil, nil
}

func (s *Server) completeTask(ctx context.Context, req *request) (fiber.Map, error) {
	if req.Task == nil || req.Task.ID == "" {
		return nil, fmt.Errorf("task is required")
	}
	if err := s.store.CompleteTask(ctx, *req.Task, req.WorkSession); err != nil {
		return nil, err
	}
	return nil, nil
}

func (s *Server) getVersion(context.Context, *request) (fiber.Map, error) {
	return fiber.Map{"version": Version, "versionName": VersionName}, nil
}
