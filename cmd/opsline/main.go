package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"opsline/internal/app"
	"opsline/internal/config"
	"opsline/internal/db"
	"opsline/internal/logging"
)

var rootCmd = &cobra.Command{
	Use:   "opsline",
	Short: "opsline CLI",
	Long: `opsline runs the day-to-day workflow of a small team and tells the right people when something changes.
Core concepts:
- Meetings: need an agenda and every participant's confirmation; unconfirmed meetings close to their date turn at_risk. Only a secretary closes them with minutes.
- Tasks: assigned work with a deadline; any status change is allowed and blocking one alerts the managers.
- Leave: requested at least 15 days ahead, approved or rejected by a manager.
- Messages: posts tagged [DECISION] are recorded on the next upcoming meeting.
- Compliance reports: anonymous, readable by managers only.
- Escalation: sends an urgent notice about any entity to every manager.
- Notifications: stored first, then pushed live to connected users.
- Event log: every change, view with 'opsline log tail'.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return loadDotEnv(workspace)
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("OPSLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()
}

// loadDotEnv exports <workspace>/.env into the process environment so
// OPSLINE_* keys there reach viper. Variables already set win.
func loadDotEnv(workspace string) error {
	path := filepath.Join(workspace, ".env")
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func addPersistentFlags() {
	flags := rootCmd.PersistentFlags()
	flags.StringP("workspace", "w", ".", "workspace directory")
	flags.String("config", "", "config file (default <workspace>/opsline.yml)")
	flags.Bool("json", false, "output JSON")
	flags.String("actor-id", "", "user id acting on this command")
	flags.String("log-level", "", "log level (debug, info, warn, error)")
	flags.String("log-format", "", "log format (console, json)")
	_ = viper.BindPFlag("workspace", flags.Lookup("workspace"))
	_ = viper.BindPFlag("config", flags.Lookup("config"))
	_ = viper.BindPFlag("json", flags.Lookup("json"))
	_ = viper.BindPFlag("actor-id", flags.Lookup("actor-id"))
	_ = viper.BindPFlag("logging.level", flags.Lookup("log-level"))
	_ = viper.BindPFlag("logging.format", flags.Lookup("log-format"))
}

func registerCommands() {
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(userCmd())
	rootCmd.AddCommand(meetingCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(leaveCmd())
	rootCmd.AddCommand(equipmentCmd())
	rootCmd.AddCommand(messageCmd())
	rootCmd.AddCommand(complianceCmd())
	rootCmd.AddCommand(escalateCmd())
	rootCmd.AddCommand(dashboardCmd())
	rootCmd.AddCommand(notificationsCmd())
	rootCmd.AddCommand(sweepCmd())
	rootCmd.AddCommand(logCmd())
}

// loadConfig reads the config file and applies OPSLINE_* env and flag overrides.
func loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if path := viper.GetString("config"); path != "" {
		cfg, err = config.FromFile(path)
	} else {
		cfg, err = config.Load(viper.GetString("workspace"))
	}
	if err != nil {
		return nil, err
	}
	overrideString(&cfg.Server.Addr, "server.addr")
	overrideString(&cfg.Server.BasePath, "server.base_path")
	overrideString(&cfg.Server.JWTSecret, "server.jwt_secret")
	overrideString(&cfg.Server.JWTSecret, "jwt_secret")
	overrideString(&cfg.Logging.Level, "logging.level")
	overrideString(&cfg.Logging.Format, "logging.format")
	if viper.IsSet("server.dev_login") {
		cfg.Server.DevLogin = viper.GetBool("server.dev_login")
	}
	if viper.IsSet("workflow.risk_window") {
		cfg.Workflow.RiskWindow = viper.GetDuration("workflow.risk_window")
	}
	if viper.IsSet("workflow.sweep_interval") {
		cfg.Workflow.SweepInterval = viper.GetDuration("workflow.sweep_interval")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func overrideString(dst *string, key string) {
	if v := strings.TrimSpace(viper.GetString(key)); v != "" {
		*dst = v
	}
}

func newLogger(cfg *config.Config) (zerolog.Logger, error) {
	return logging.New(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format}, os.Stderr)
}

// withApp opens the workspace, runs fn and drains pending notifications before closing.
func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	a, err := app.Open(ctx, viper.GetString("workspace"), cfg, log)
	if err != nil {
		return err
	}
	a.StartConsumers(ctx)
	runErr := fn(ctx, a)
	return errors.Join(runErr, a.Close())
}

func actorID() (string, error) {
	id := strings.TrimSpace(viper.GetString("actor-id"))
	if id == "" {
		return "", fmt.Errorf("--actor-id (or OPSLINE_ACTOR_ID) is required")
	}
	return id, nil
}

// parseWhen accepts RFC3339 or a bare date in local time.
func parseWhen(flag, value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation("2006-01-02 15:04", value, time.Local); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation("2006-01-02", value, time.Local); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("--%s: expected RFC3339, YYYY-MM-DD HH:MM or YYYY-MM-DD", flag)
}
