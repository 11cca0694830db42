/*
importer.go - Calendar event import

Reads a JSON event file and creates the corresponding timesheets on the
collaborator, resolving names through the entity index. When an event
names no activity, the project must have exactly one - anything else
would be a guess.
*/
package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/warp/invoice-engine/kimai"
)

// Event is one entry of the import file.
type Event struct {
	ClientName   string `json:"clientName"`
	ProjectName  string `json:"projectName"`
	ActivityName string `json:"activityName,omitempty"`
	Begin        string `json:"begin"`
	End          string `json:"end"`
	Description  string `json:"description"`
}

// ImportEvents creates one timesheet per event in the file, for the given
// Kimai user. Returns the created entries.
func (r *Runner) ImportEvents(ctx context.Context, path string, userID int) ([]kimai.TimeEntry, error) {
	log := r.log().With(zap.String("command", "importEvents"), zap.String("file", path))

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var events []Event
	if err := json.Unmarshal(data, &events); err != nil {
		return nil, fmt.Errorf("event file %s: %w", path, err)
	}

	idx, err := r.loadIndex(ctx)
	if err != nil {
		return nil, err
	}

	var created []kimai.TimeEntry
	for _, event := range events {
		entry, err := r.importEvent(ctx, idx, event, userID)
		if err != nil {
			return created, err
		}
		log.Info("timesheet created", zap.Int("id", entry.ID), zap.String("project", event.ProjectName))
		created = append(created, entry)
	}
	return created, nil
}

func (r *Runner) importEvent(ctx context.Context, idx *kimai.Index, event Event, userID int) (kimai.TimeEntry, error) {
	customerID, err := idx.CustomerIDByName(event.ClientName)
	if err != nil {
		return kimai.TimeEntry{}, err
	}
	projectID, err := idx.ProjectIDByName(event.ProjectName)
	if err != nil {
		return kimai.TimeEntry{}, err
	}
	project, err := idx.Project(projectID)
	if err != nil {
		return kimai.TimeEntry{}, err
	}
	if project.CustomerID != customerID {
		return kimai.TimeEntry{}, fmt.Errorf("project %q does not belong to customer %q", event.ProjectName, event.ClientName)
	}

	var activityID int
	if event.ActivityName != "" {
		activityID, err = idx.ActivityIDByName(event.ActivityName)
		if err != nil {
			return kimai.TimeEntry{}, err
		}
	} else {
		ids := idx.ActivityIDsByProject(projectID)
		if len(ids) != 1 {
			return kimai.TimeEntry{}, fmt.Errorf("project %q has %d activities, name one explicitly", event.ProjectName, len(ids))
		}
		activityID = ids[0]
	}

	begin, err := kimai.ParseEventTime(event.Begin)
	if err != nil {
		return kimai.TimeEntry{}, fmt.Errorf("event begin %q: %w", event.Begin, err)
	}
	end, err := kimai.ParseEventTime(event.End)
	if err != nil {
		return kimai.TimeEntry{}, fmt.Errorf("event end %q: %w", event.End, err)
	}

	return r.Service.AddTimeEntry(ctx, kimai.NewEntry{
		UserID:      userID,
		ProjectID:   projectID,
		ActivityID:  activityID,
		Begin:       begin,
		End:         end,
		Description: event.Description,
		Tags:        []string{TagCalendarSynced},
	})
}
