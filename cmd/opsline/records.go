package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"opsline/internal/app"
	"opsline/internal/config"
	"opsline/internal/engine"
)

func userCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "user", Short: "Manage users"}
	cmd.AddCommand(userAddCmd(), userListCmd())
	return cmd
}

func userAddCmd() *cobra.Command {
	var opts engine.UserCreateOptions
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a user (--actor-id must be a manager once one exists)",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ActorID = viper.GetString("actor-id")
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if opts.ActorID == "" {
					managers, err := a.Engine.ListUsers(ctx, "manager")
					if err != nil {
						return err
					}
					if len(managers) > 0 {
						return fmt.Errorf("--actor-id is required once a manager exists")
					}
				}
				u, err := a.Engine.CreateUser(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(u)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "user id (generated when empty)")
	cmd.Flags().StringVar(&opts.FullName, "name", "", "full name")
	cmd.Flags().StringVar(&opts.Email, "email", "", "email")
	cmd.Flags().StringVar(&opts.Role, "role", "", "role")
	return cmd
}

func userListCmd() *cobra.Command {
	var role string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List users",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Engine.ListUsers(ctx, role)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	cmd.Flags().StringVar(&role, "role", "", "filter by role")
	return cmd
}

func equipmentCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "equipment", Short: "Equipment registry"}
	var name, assignee string
	add := &cobra.Command{
		Use:   "add",
		Short: "Register equipment (managers only)",
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := actorID()
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				eq, err := a.Engine.RegisterEquipment(ctx, name, assignee, actor)
				if err != nil {
					return err
				}
				return printJSONOrTable(eq)
			})
		},
	}
	add.Flags().StringVar(&name, "name", "", "equipment name")
	add.Flags().StringVar(&assignee, "assignee", "", "user holding it")
	list := &cobra.Command{
		Use:   "list",
		Short: "List equipment",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Engine.ListEquipment(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	cmd.AddCommand(add, list)
	return cmd
}

func messageCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "message", Short: "Channel messages; prefix [DECISION] to record a decision"}
	var channel, content string
	post := &cobra.Command{
		Use:   "post",
		Short: "Post a message",
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := actorID()
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				m, err := a.Engine.PostMessage(ctx, channel, actor, content)
				if err != nil {
					return err
				}
				return printJSONOrTable(m)
			})
		},
	}
	post.Flags().StringVar(&channel, "channel", "general", "web, mobile, other or general")
	post.Flags().StringVar(&content, "content", "", "message text")
	var limit int
	list := &cobra.Command{
		Use:   "list <channel>",
		Short: "List a channel's recent messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Engine.ListMessages(ctx, args[0], limit)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	list.Flags().IntVar(&limit, "limit", 50, "max messages")
	cmd.AddCommand(post, list)
	return cmd
}

func complianceCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "compliance", Short: "Anonymous compliance reports"}
	var content string
	file := &cobra.Command{
		Use:   "file",
		Short: "File an anonymous report (no actor is recorded)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				c, err := a.Engine.SubmitComplianceReport(ctx, content)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"id": c.ID, "created_at": c.CreatedAt})
			})
		},
	}
	file.Flags().StringVar(&content, "content", "", "report text")
	list := &cobra.Command{
		Use:   "list",
		Short: "List reports (managers only)",
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := actorID()
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Engine.ListComplianceReports(ctx, actor)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	cmd.AddCommand(file, list)
	return cmd
}

func escalateCmd() *cobra.Command {
	var entityType, entityID, reason string
	cmd := &cobra.Command{
		Use:   "escalate",
		Short: "Send an urgent notice about an entity to every manager",
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := actorID()
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				evts, err := a.Router.Escalate(ctx, entityType, entityID, reason, actor)
				if err != nil {
					return err
				}
				managers := make([]string, 0, len(evts))
				for _, evt := range evts {
					managers = append(managers, evt.TargetUsers...)
				}
				return printJSONOrTable(map[string]any{"notified": len(evts), "managers": managers})
			})
		},
	}
	cmd.Flags().StringVar(&entityType, "type", "", "meeting, task, leave_request, equipment, message or compliance_report")
	cmd.Flags().StringVar(&entityID, "id", "", "entity id")
	cmd.Flags().StringVar(&reason, "reason", "", "why this needs attention")
	return cmd
}

func dashboardCmd() *cobra.Command {
	var now string
	cmd := &cobra.Command{
		Use:   "dashboard",
		Short: "Summarize --actor-id's tasks and today's meetings",
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := actorID()
			if err != nil {
				return err
			}
			at := time.Now()
			if now != "" {
				if at, err = parseWhen("now", now); err != nil {
					return err
				}
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				d, err := a.Dashboard.Compute(ctx, actor, at)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(d)
				}
				fmt.Printf("tasks: %d total, %d overdue; meetings today: %d\n", d.TotalTasks, d.OverdueTasks, d.TodayMeetings)
				if err := printJSONOrTable(d.Tasks); err != nil {
					return err
				}
				return printJSONOrTable(d.Meetings)
			})
		},
	}
	cmd.Flags().StringVar(&now, "now", "", "evaluate as of this time")
	return cmd
}

func notificationsCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "notifications", Short: "Notification history for --actor-id"}
	var limit int
	var unread bool
	list := &cobra.Command{
		Use:   "list",
		Short: "List notifications, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := actorID()
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				fetch := a.Hub.History
				if unread {
					fetch = a.Hub.Unread
				}
				items, err := fetch(ctx, actor, limit)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	list.Flags().IntVar(&limit, "limit", 50, "max notifications")
	list.Flags().BoolVar(&unread, "unread", false, "only unread")
	read := &cobra.Command{
		Use:   "read <notification-id>",
		Short: "Mark a notification read",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := actorID()
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				return a.Hub.MarkRead(ctx, args[0], actor)
			})
		},
	}
	count := &cobra.Command{
		Use:   "count",
		Short: "Number of unread notifications",
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := actorID()
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				n, err := a.Hub.UnreadCount(ctx, actor)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]int{"unread": n})
			})
		},
	}
	cmd.AddCommand(list, read, count)
	return cmd
}

func sweepCmd() *cobra.Command {
	var window time.Duration
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Mark unconfirmed meetings inside the risk window at_risk once",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				w := window
				if w <= 0 {
					w = a.Config.Workflow.RiskWindow
				}
				moved, err := a.Engine.SweepAtRisk(ctx, time.Now(), w)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]int{"moved": moved})
			})
		},
	}
	cmd.Flags().DurationVar(&window, "window", 0, "risk window (default workflow.risk_window)")
	return cmd
}

func logCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "log", Short: "Event log"}
	var n int
	var evtType, entityKind, entityID string
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Show the newest events (managers only)",
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := actorID()
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Engine.EventLog(ctx, actor, n, 0, evtType, entityKind, entityID)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	tail.Flags().IntVar(&n, "n", 20, "number of events")
	tail.Flags().StringVar(&evtType, "type", "", "event type filter")
	tail.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	tail.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	cmd.AddCommand(tail)
	return cmd
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect opsline.yml",
		Long:  "Config lives in <workspace>/opsline.yml; OPSLINE_* environment variables and flags override it.",
	}
	show := &cobra.Command{
		Use:   "show",
		Short: "Show effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Server.JWTSecret != "" {
				cfg.Server.JWTSecret = "********"
			}
			return printJSON(cfg)
		},
	}
	validate := &cobra.Command{
		Use:   "validate",
		Short: "Validate config",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := loadConfig()
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default opsline.yml into the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s exists; use --force to overwrite", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	cmd.AddCommand(show, validate, initCmd)
	return cmd
}
