package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"opsline/internal/app"
	"opsline/internal/engine"
	"opsline/internal/repo"
)

func meetingCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "meeting",
		Short: "Schedule, confirm and close meetings",
	}
	cmd.AddCommand(meetingCreateCmd(), meetingListCmd(), meetingShowCmd(), meetingConfirmCmd(), meetingCloseCmd())
	return cmd
}

func meetingCreateCmd() *cobra.Command {
	var title, agenda, date string
	var participants []string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Schedule a meeting",
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := actorID()
			if err != nil {
				return err
			}
			when, err := parseWhen("date", date)
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				m, err := a.Engine.CreateMeeting(ctx, engine.MeetingCreateOptions{
					Title:        title,
					Agenda:       agenda,
					Date:         when,
					Participants: participants,
					ActorID:      actor,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(m)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "meeting title")
	cmd.Flags().StringVar(&agenda, "agenda", "", "agenda (required)")
	cmd.Flags().StringVar(&date, "date", "", "start time")
	cmd.Flags().StringSliceVar(&participants, "participant", nil, "participant user id (repeatable)")
	return cmd
}

func meetingListCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List meetings by date",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Engine.ListMeetings(ctx, status)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "filter by status")
	return cmd
}

func meetingShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <meeting-id>",
		Short: "Show a meeting with its decisions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				m, err := a.Engine.GetMeeting(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(m)
			})
		},
	}
}

func meetingConfirmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "confirm <meeting-id>",
		Short: "Confirm attendance as --actor-id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := actorID()
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				m, err := a.Engine.ConfirmAttendance(ctx, args[0], actor)
				if err != nil {
					return err
				}
				return printJSONOrTable(m)
			})
		},
	}
}

func meetingCloseCmd() *cobra.Command {
	var minutes string
	cmd := &cobra.Command{
		Use:   "close <meeting-id>",
		Short: "Close a meeting with minutes (secretary only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := actorID()
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				m, err := a.Engine.CloseMeeting(ctx, args[0], actor, minutes)
				if err != nil {
					return err
				}
				return printJSONOrTable(m)
			})
		},
	}
	cmd.Flags().StringVar(&minutes, "minutes", "", "meeting minutes")
	return cmd
}

func taskCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Create and track tasks",
	}
	cmd.AddCommand(taskCreateCmd(), taskListCmd(), taskShowCmd(), taskStatusCmd(), taskBlockCmd(), taskUnblockCmd(), taskCommentCmd(), taskCommentsCmd())
	return cmd
}

func taskCreateCmd() *cobra.Command {
	var opts engine.TaskCreateOptions
	var deadline string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a task",
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := actorID()
			if err != nil {
				return err
			}
			opts.ActorID = actor
			if opts.Deadline, err = parseWhen("deadline", deadline); err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				t, err := a.Engine.CreateTask(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&opts.Title, "title", "", "task title")
	cmd.Flags().StringVar(&opts.Description, "description", "", "description")
	cmd.Flags().StringVar(&opts.Category, "category", "", "web, mobile or other")
	cmd.Flags().StringVar(&opts.AssignedTo, "assignee", "", "assignee user id")
	cmd.Flags().StringVar(&deadline, "deadline", "", "deadline")
	return cmd
}

func taskListCmd() *cobra.Command {
	var f repo.TaskFilters
	var blockedOnly bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks by deadline",
		RunE: func(cmd *cobra.Command, args []string) error {
			if blockedOnly {
				f.Blocked = &blockedOnly
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Engine.ListTasks(ctx, f)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	cmd.Flags().StringVar(&f.AssignedTo, "assignee", "", "filter by assignee")
	cmd.Flags().StringVar(&f.Status, "status", "", "filter by status")
	cmd.Flags().StringVar(&f.Category, "category", "", "filter by category")
	cmd.Flags().BoolVar(&blockedOnly, "blocked", false, "only blocked tasks")
	cmd.Flags().IntVar(&f.Limit, "limit", 100, "max rows")
	return cmd
}

func taskShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <task-id>",
		Short: "Show a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				t, err := a.Engine.GetTask(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
}

func taskStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <task-id> <status>",
		Short: "Set task status (todo, in_progress, review, done)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := actorID()
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				t, err := a.Engine.UpdateTaskStatus(ctx, args[0], args[1], actor)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
}

func taskBlockCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "block <task-id>",
		Short: "Mark a task blocked and alert managers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := actorID()
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				t, err := a.Engine.BlockTask(ctx, args[0], reason, actor)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "why the task is blocked")
	return cmd
}

func taskUnblockCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unblock <task-id>",
		Short: "Clear a task's block",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := actorID()
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				t, err := a.Engine.UnblockTask(ctx, args[0], actor)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
}

func taskCommentCmd() *cobra.Command {
	var content string
	cmd := &cobra.Command{
		Use:   "comment <task-id>",
		Short: "Comment on a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := actorID()
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				c, err := a.Engine.AddComment(ctx, args[0], actor, content)
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&content, "content", "", "comment text")
	return cmd
}

func taskCommentsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "comments <task-id>",
		Short: "List a task's comments",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Engine.ListComments(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
}

func leaveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "leave",
		Short: "Request and decide leave",
	}
	cmd.AddCommand(leaveRequestCmd(), leaveListCmd(), leaveDecideCmd("approve"), leaveDecideCmd("reject"))
	return cmd
}

func leaveRequestCmd() *cobra.Command {
	var start, end, reason string
	cmd := &cobra.Command{
		Use:   "request",
		Short: "Request leave at least 15 days ahead",
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := actorID()
			if err != nil {
				return err
			}
			from, err := parseWhen("start", start)
			if err != nil {
				return err
			}
			to, err := parseWhen("end", end)
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				l, err := a.Engine.SubmitLeaveRequest(ctx, engine.LeaveRequestOptions{UserID: actor, Start: from, End: to, Reason: reason})
				if err != nil {
					return err
				}
				return printJSONOrTable(l)
			})
		},
	}
	cmd.Flags().StringVar(&start, "start", "", "first day")
	cmd.Flags().StringVar(&end, "end", "", "last day")
	cmd.Flags().StringVar(&reason, "reason", "", "reason")
	return cmd
}

func leaveListCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List leave requests (managers see everyone's)",
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := actorID()
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Engine.ListLeaveRequests(ctx, actor, status)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "filter by status")
	return cmd
}

func leaveDecideCmd(verb string) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " <request-id>",
		Short: fmt.Sprintf("%s a pending leave request (managers only)", verb),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := actorID()
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				decide := a.Engine.ApproveLeaveRequest
				if verb == "reject" {
					decide = a.Engine.RejectLeaveRequest
				}
				l, err := decide(ctx, args[0], actor)
				if err != nil {
					return err
				}
				return printJSONOrTable(l)
			})
		},
	}
}
