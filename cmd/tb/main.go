package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"taskbridge/internal/app"
	"taskbridge/internal/db"
	"taskbridge/internal/domain"
	"taskbridge/internal/engine"
)

var rootCmd = &cobra.Command{
	Use:   "tb",
	Short: "TaskBridge CLI",
	Long: `TaskBridge runs the lifecycle of paid student tasks.
Core concepts:
- Task: an organization's request for N positions; pending -> open -> active -> completed, cancelled is the other exit.
- Offer: a time-boxed invitation for one student to fill one position; sent -> accepted, declined or expired.
- Replacement: when an assignee drops out, the position is freed and a request with an SLA deadline tracks the backfill.
- Matching: students are ranked by the overlap between their skills and the task's required skills.
- Event log: every state change is recorded, view with 'tb log tail'.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if driver := viper.GetString("db-driver"); driver == "" || driver == string(db.SQLite) {
			if _, err := db.EnsureWorkspace(viper.GetString("workspace")); err != nil {
				return err
			}
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("TASKBRIDGE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	flags := rootCmd.PersistentFlags()
	flags.StringP("workspace", "w", ".", "workspace directory")
	flags.String("db-driver", "sqlite", "database driver (sqlite or postgres)")
	flags.String("database-url", "", "postgres connection url")
	flags.String("redis-url", "", "redis url for the distributed task lock")
	flags.Bool("json", false, "output JSON")
	flags.String("actor-id", "local-admin", "actor identifier")
	flags.String("role", string(domain.RoleAdmin), "actor role (admin, organization, student)")
	flags.String("jwt-secret", "", "HS256 secret for bearer tokens")
	for _, name := range []string{"workspace", "db-driver", "database-url", "redis-url", "json", "actor-id", "role", "jwt-secret"} {
		_ = viper.BindPFlag(name, flags.Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(sweepCmd())
	rootCmd.AddCommand(orgCmd())
	rootCmd.AddCommand(studentCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(offerCmd())
	rootCmd.AddCommand(replacementCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(logCmd())
}

// --- helpers ---

func appOptions() app.Options {
	return app.Options{
		Workspace:   viper.GetString("workspace"),
		Driver:      viper.GetString("db-driver"),
		DatabaseURL: viper.GetString("database-url"),
		RedisURL:    viper.GetString("redis-url"),
		Migrate:     true,
	}
}

func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := app.Open(ctx, appOptions())
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine, domain.Actor) error) error {
	actor, err := currentActor()
	if err != nil {
		return err
	}
	return withApp(ctx, func(ctx context.Context, a *app.App) error {
		return fn(ctx, a.Engine, actor)
	})
}

func currentActor() (domain.Actor, error) {
	id := strings.TrimSpace(viper.GetString("actor-id"))
	if id == "" {
		return domain.Actor{}, fmt.Errorf("--actor-id required")
	}
	role, err := domain.ParseRole(viper.GetString("role"))
	if err != nil {
		return domain.Actor{}, err
	}
	return domain.Actor{ID: id, Role: role}, nil
}

func printJSONOrValue(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parseDate(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.DateOnly, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q (want YYYY-MM-DD or RFC3339)", v)
	}
	return t, nil
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
