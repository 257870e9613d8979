// Package dashboard computes per-user summaries straight from the store.
package dashboard

import (
	"context"
	"time"

	"opsline/internal/domain"
	"opsline/internal/repo"
)

// UpcomingTasks caps the task list in a dashboard.
const UpcomingTasks = 5

type Aggregator struct {
	Repo repo.Repo
}

// Compute summarizes userID's workload as of now. The day window for
// today's meetings is taken in now's location.
func (a Aggregator) Compute(ctx context.Context, userID string, now time.Time) (domain.Dashboard, error) {
	total, overdue, err := a.Repo.TaskCounts(ctx, userID, now)
	if err != nil {
		return domain.Dashboard{}, err
	}
	tasks, err := a.Repo.ListTasks(ctx, repo.TaskFilters{AssignedTo: userID, Limit: UpcomingTasks})
	if err != nil {
		return domain.Dashboard{}, err
	}
	start, end := dayBounds(now)
	meetings, err := a.Repo.MeetingsForUserBetween(ctx, userID, start, end)
	if err != nil {
		return domain.Dashboard{}, err
	}
	if tasks == nil {
		tasks = []domain.Task{}
	}
	if meetings == nil {
		meetings = []domain.Meeting{}
	}
	return domain.Dashboard{
		TotalTasks:    total,
		OverdueTasks:  overdue,
		TodayMeetings: len(meetings),
		Tasks:         tasks,
		Meetings:      meetings,
	}, nil
}

func dayBounds(now time.Time) (time.Time, time.Time) {
	y, m, d := now.Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, now.Location())
	return start, start.AddDate(0, 0, 1)
}
