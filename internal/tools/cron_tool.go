package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/quietloop/fennec/internal/cron"
)

// CronTool lets the agent manage scheduled jobs. Replies from fired jobs
// default to the conversation that created them.
type CronTool struct {
	service *cron.Service
}

func NewCronTool(service *cron.Service) *CronTool {
	return &CronTool{service: service}
}

func (t *CronTool) Name() string { return "cron" }
func (t *CronTool) Description() string {
	return "Manage scheduled jobs: add, list, remove, enable, disable. Schedules are five-field cron expressions."
}
func (t *CronTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"action": map[string]any{
				"type": "string",
				"enum": []string{"add", "list", "remove", "enable", "disable"},
			},
			"name": map[string]any{
				"type":        "string",
				"description": "Job name (add)",
			},
			"schedule": map[string]any{
				"type":        "string",
				"description": `Cron expression, e.g. "0 9 * * 1-5" (add)`,
			},
			"message": map[string]any{
				"type":        "string",
				"description": "Instruction handed to the agent when the job fires (add)",
			},
			"job_id": map[string]any{
				"type":        "string",
				"description": "Job id (remove, enable, disable)",
			},
		},
		"required": []string{"action"},
	}
}

func (t *CronTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	action, _ := args["action"].(string)

	switch action {
	case "add":
		return t.add(ctx, args)
	case "list":
		return t.list()
	case "remove":
		jobID, _ := args["job_id"].(string)
		ok, err := t.service.Remove(jobID)
		if err != nil {
			return "", err
		}
		if !ok {
			return "", fmt.Errorf("no job with id %s", jobID)
		}
		return "Job removed.", nil
	case "enable", "disable":
		jobID, _ := args["job_id"].(string)
		ok, err := t.service.SetEnabled(jobID, action == "enable")
		if err != nil {
			return "", err
		}
		if !ok {
			return "", fmt.Errorf("no job with id %s", jobID)
		}
		return "Job " + action + "d.", nil
	default:
		return "", fmt.Errorf("unknown action %q", action)
	}
}

func (t *CronTool) add(ctx context.Context, args map[string]any) (string, error) {
	name, _ := args["name"].(string)
	schedule, _ := args["schedule"].(string)
	message, _ := args["message"].(string)
	if name == "" || schedule == "" || message == "" {
		return "", fmt.Errorf("add requires name, schedule and message")
	}

	// Reply goes back to the conversation that scheduled the job.
	rc, _ := RequestFrom(ctx)
	job, err := t.service.Add(name, schedule, message, rc.Channel, rc.ChatID)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Job %q added (id %s). Next run: %s.",
		job.Name, job.ID, job.NextRun.Format("2006-01-02 15:04")), nil
}

func (t *CronTool) list() (string, error) {
	jobs, err := t.service.List()
	if err != nil {
		return "", err
	}
	if len(jobs) == 0 {
		return "No scheduled jobs.", nil
	}

	var b strings.Builder
	for _, j := range jobs {
		state := "enabled"
		if !j.Enabled {
			state = "disabled"
		}
		fmt.Fprintf(&b, "- %s (%s): %q, %s, next %s\n",
			j.Name, j.ID, j.Schedule, state, j.NextRun.Format("2006-01-02 15:04"))
	}
	return strings.TrimRight(b.String(), "\n"), nil
}
