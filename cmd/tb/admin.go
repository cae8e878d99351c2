package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"taskbridge/internal/app"
	"taskbridge/internal/config"
	"taskbridge/internal/domain"
	"taskbridge/internal/engine"
	"taskbridge/internal/payout"
	"taskbridge/internal/repo"
	"taskbridge/internal/server"
	"taskbridge/internal/sweeper"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				fmt.Printf("migrated %s database\n", a.Dialect)
				return nil
			})
		},
	}
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Workspace configuration"}
	cfg.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write a default taskbridge.yml into the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	})
	cfg.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := config.LoadOptional(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			c.Payout.Secret = ""
			if viper.GetBool("json") {
				return printJSON(c)
			}
			out, err := yaml.Marshal(c)
			if err != nil {
				return err
			}
			fmt.Print(string(out))
			return nil
		},
	})
	cfg.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate taskbridge.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := config.Load(viper.GetString("workspace")); err != nil {
				return err
			}
			fmt.Println("config ok")
			return nil
		},
	})
	return cfg
}

func sweepCmd() *cobra.Command {
	var withPayout bool
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Expire stale offers and flag overdue replacements once",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				sw, err := sweeper.New(a.Engine, a.Config.Sweeper.Schedule)
				if err != nil {
					return err
				}
				res, err := sw.RunOnce(ctx)
				if err != nil {
					return err
				}
				out := map[string]any{"sweep": res}
				if withPayout {
					d := payout.NewDispatcher(a.Engine.Repo, payout.NewWebhookLedger(a.Config.Payout), a.Config.Payout.Batch)
					n, err := d.RunOnce(ctx)
					out["payout_delivered"] = n
					if err != nil {
						out["payout_error"] = err.Error()
					}
				}
				return printJSONOrValue(out)
			})
		},
	}
	cmd.Flags().BoolVar(&withPayout, "payout", false, "also deliver queued completion facts to the payout webhook")
	return cmd
}

func orgCmd() *cobra.Command {
	org := &cobra.Command{Use: "org", Short: "Manage organizations"}
	var id, name string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create an organization",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.Actor) error {
				o, err := e.CreateOrganization(ctx, actor, id, name)
				if err != nil {
					return err
				}
				return printJSONOrValue(o)
			})
		},
	}
	create.Flags().StringVar(&id, "id", "", "organization id (generated when empty)")
	create.Flags().StringVar(&name, "name", "", "display name")
	_ = create.MarkFlagRequired("name")
	org.AddCommand(create)
	return org
}

func studentCmd() *cobra.Command {
	st := &cobra.Command{Use: "student", Short: "Manage student profiles"}
	var in engine.StudentInput
	add := &cobra.Command{
		Use:   "add",
		Short: "Create or update a student profile",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.Actor) error {
				s, err := e.UpsertStudent(ctx, actor, in)
				if err != nil {
					return err
				}
				return printJSONOrValue(s)
			})
		},
	}
	add.Flags().StringVar(&in.ID, "id", "", "student id (generated when empty)")
	add.Flags().StringVar(&in.Name, "name", "", "name")
	add.Flags().StringSliceVar(&in.Skills, "skill", nil, "skill (repeatable or comma separated)")
	add.Flags().StringVar(&in.AvailabilityBand, "availability", "", "availability band")
	_ = add.MarkFlagRequired("name")
	st.AddCommand(add)
	st.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List student profiles",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.Actor) error {
				items, err := e.ListStudents(ctx, actor)
				if err != nil {
					return err
				}
				return renderStudents(items)
			})
		},
	})
	return st
}

func apikeyCmd() *cobra.Command {
	ak := &cobra.Command{Use: "apikey", Short: "Manage API keys"}
	var forID, forRole, name string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create an API key; the key is printed once",
		RunE: func(cmd *cobra.Command, args []string) error {
			role, err := domain.ParseRole(forRole)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.Actor) error {
				plain, key, err := e.CreateAPIKey(ctx, actor, forID, role, name)
				if err != nil {
					return err
				}
				return printJSONOrValue(map[string]any{
					"id":       key.ID,
					"actor_id": key.ActorID,
					"role":     key.Role,
					"name":     key.Name,
					"key":      plain,
				})
			})
		},
	}
	create.Flags().StringVar(&forID, "for", "", "actor id the key authenticates as")
	create.Flags().StringVar(&forRole, "for-role", "", "role of that actor")
	create.Flags().StringVar(&name, "name", "", "label")
	_ = create.MarkFlagRequired("for")
	_ = create.MarkFlagRequired("for-role")
	ak.AddCommand(create)
	return ak
}

func tokenCmd() *cobra.Command {
	tok := &cobra.Command{Use: "token", Short: "Bearer tokens"}
	var ttl time.Duration
	issue := &cobra.Command{
		Use:   "issue",
		Short: "Sign a bearer token for --actor-id and --role",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := viper.GetString("jwt-secret")
			if secret == "" {
				return fmt.Errorf("TASKBRIDGE_JWT_SECRET is required")
			}
			actor, err := currentActor()
			if err != nil {
				return err
			}
			token, err := server.SignToken(secret, actor, ttl)
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
	issue.Flags().DurationVar(&ttl, "ttl", 12*time.Hour, "token lifetime")
	tok.AddCommand(issue)
	return tok
}

func logCmd() *cobra.Command {
	lg := &cobra.Command{Use: "log", Short: "Event log"}
	var (
		f     repo.EventFilters
		after int64
	)
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.Actor) error {
				events, err := e.ListEvents(ctx, actor, f, after)
				if err != nil {
					return err
				}
				return renderEvents(events)
			})
		},
	}
	tail.Flags().IntVar(&f.Limit, "n", 20, "number of events")
	tail.Flags().StringVar(&f.Type, "type", "", "event type filter")
	tail.Flags().StringVar(&f.EntityKind, "entity-kind", "", "entity kind")
	tail.Flags().StringVar(&f.EntityID, "entity-id", "", "entity id")
	tail.Flags().Int64Var(&after, "after", 0, "only events after this id, oldest first")
	lg.AddCommand(tail)
	return lg
}
