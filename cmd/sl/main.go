package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"siteline/internal/app"
	"siteline/internal/config"
	"siteline/internal/db"
	"siteline/internal/engine"
	"siteline/internal/migrate"
	"siteline/internal/repo"
	"siteline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "sl",
	Short: "Siteline CLI",
	Long: `Siteline tracks new-build sales pipelines from release to handover.
Core concepts:
- Workspace: your .siteline directory holding only the database; tenant configs live in the DB and are imported explicitly.
- Tenant: one developer organisation; every development, unit, and pipeline belongs to a tenant.
- Development: a scheme of units (e.g. Rathard Park); boards and schedules are reported per development.
- Pipeline: one record per unit with milestone dates (sale agreed, deposit, contracts, kitchen, snagging, drawdown, handover); the stage is derived from the latest date present, never stored.
- Dwell: days a unit has sat in its current stage; health is green, amber past 14 days, red past 30.
- Attention: a computed list of what needs action now (stuck pipelines, overdue compliance, snag backlogs), sorted by severity.
- Chase: a drafted email to the purchaser's solicitor for a stalled stage; Siteline renders it, you send it.
- Kitchen schedule: per-development selection sheet with PC sum impact for buyers taking their own kitchen.
- Event log: diary of changes, view with 'sl log tail'.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
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
	viper.SetEnvPrefix("SITELINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().String("tenant", "", "tenant id (overrides config default)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("tenant", rootCmd.PersistentFlags().Lookup("tenant"))
}

func registerCommands() {
	rootCmd.AddCommand(tenantCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(developmentCmd())
	rootCmd.AddCommand(unitCmd())
	rootCmd.AddCommand(pipelineCmd())
	rootCmd.AddCommand(kitchenCmd())
	rootCmd.AddCommand(noteCmd())
	rootCmd.AddCommand(complianceCmd())
	rootCmd.AddCommand(snagCmd())
	rootCmd.AddCommand(attentionCmd())
	rootCmd.AddCommand(chaseCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(roleCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(serveCmd())
}

func tenantCmd() *cobra.Command {
	t := &cobra.Command{Use: "tenant", Short: "Manage tenants"}
	t.AddCommand(tenantCreateCmd())
	t.AddCommand(tenantListCmd())
	t.AddCommand(tenantShowCmd())
	t.AddCommand(tenantUseCmd())
	return t
}

func tenantCreateCmd() *cobra.Command {
	var id, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create tenant",
		RunE: func(cmd *cobra.Command, args []string) error {
			if id == "" {
				return fmt.Errorf("--id required")
			}
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			cfg := config.Default(id)
			e := engine.New(conn, cfg)
			t, err := e.InitTenant(cmd.Context(), id, name, viper.GetString("actor-id"))
			if err != nil {
				return err
			}
			if err := e.Repo.UpsertTenantConfig(cmd.Context(), id, cfg); err != nil {
				return err
			}
			return printJSONOrTable(t)
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "tenant id")
	cmd.Flags().StringVar(&name, "name", "", "tenant name")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func tenantListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tenants",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListTenants(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	return cmd
}

func tenantShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show a tenant",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.Repo.GetTenant(ctx, e.Config.Tenant.ID)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	return cmd
}

func tenantUseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "use <id>",
		Short: "Set current tenant for this workspace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tenantID := strings.TrimSpace(args[0])
			if tenantID == "" {
				return fmt.Errorf("tenant id is required")
			}
			workspace := viper.GetString("workspace")
			if err := setEnvValue(filepath.Join(workspace, ".env"), "SITELINE_TENANT", tenantID); err != nil {
				return err
			}
			fmt.Printf("Set SITELINE_TENANT=%s in %s/.env\n", tenantID, workspace)
			return nil
		},
	}
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect tenant config",
		Long:  "Config is the rulebook (stored in DB): kitchen option catalogs, PC sum allowances, required compliance kinds, and webhook targets. Import from siteline.yml if desired.",
	}
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configImportCmd())
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show tenant config stored in DB",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return printJSONOrTable(e.Config)
			})
		},
	}
	return cmd
}

func configImportCmd() *cobra.Command {
	var filePath string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import tenant config from YAML into the DB",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(filePath)
			if err != nil {
				return err
			}
			cfg, err := config.FromYAML(data)
			if err != nil {
				return err
			}
			tenantID := cfg.Tenant.ID
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if tenantID == "" {
					tenantID = e.Config.Tenant.ID
				}
				if err := e.Repo.UpsertTenantConfig(ctx, tenantID, cfg); err != nil {
					return err
				}
				return printJSONOrTable(cfg)
			})
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "path to YAML config")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func configInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default siteline.yml to the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			tenantID := viper.GetString("tenant")
			if tenantID == "" {
				tenantID = "my-tenant"
			}
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault(tenantID)), 0o644); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
	return cmd
}

func configValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate stored config",
		RunE: func(cmd *cobra.Command, args []string) error {
			err := withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.Config.Validate()
			})
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
	return cmd
}

func developmentCmd() *cobra.Command {
	dev := &cobra.Command{
		Use:   "development",
		Short: "Manage developments",
		Long:  "Developments are schemes of units. Boards, kitchen schedules, and compliance registers are all reported at development level.",
	}
	dev.AddCommand(developmentCreateCmd())
	dev.AddCommand(developmentListCmd())
	dev.AddCommand(developmentShowCmd())
	dev.AddCommand(developmentBoardCmd())
	return dev
}

func developmentCreateCmd() *cobra.Command {
	var name, code string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create development",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				d, err := e.CreateDevelopment(ctx, e.Config.Tenant.ID, name, code, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(d)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "development name")
	cmd.Flags().StringVar(&code, "code", "", "short code")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func developmentListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List developments",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListDevelopments(ctx, e.Config.Tenant.ID)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	return cmd
}

func developmentShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a development",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				d, err := e.Repo.GetDevelopment(ctx, e.Config.Tenant.ID, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(d)
			})
		},
	}
	return cmd
}

func developmentBoardCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "board <id>",
		Short: "Show the pipeline board for a development",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				board, err := e.PipelineBoard(ctx, e.Config.Tenant.ID, id)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(board)
				}
				fmt.Printf("Development: %s\n", board.Development.Name)
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Unit", "Stage", "Days", "Health"})
				for _, row := range board.Rows {
					tw.AppendRow(table.Row{row.Unit.UnitNumber, row.Stage, row.DwellDays, row.Health})
				}
				tw.Render()
				fmt.Println("Funnel:")
				for stage, c := range board.Funnel {
					fmt.Printf("  %s: %d\n", stage, c)
				}
				fmt.Println("Health:")
				for health, c := range board.Health {
					fmt.Printf("  %s: %d\n", health, c)
				}
				return nil
			})
		},
	}
	return cmd
}

func unitCmd() *cobra.Command {
	unit := &cobra.Command{
		Use:   "unit",
		Short: "Manage units",
		Long:  "Units are the individual houses or apartments within a development. A unit's pipeline record is created lazily on the first milestone write.",
	}
	unit.AddCommand(unitCreateCmd())
	unit.AddCommand(unitListCmd())
	unit.AddCommand(unitShowCmd())
	return unit
}

func unitCreateCmd() *cobra.Command {
	var opts engine.UnitCreateOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a unit",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ActorID = viper.GetString("actor-id")
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				opts.TenantID = e.Config.Tenant.ID
				u, err := e.CreateUnit(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(u)
			})
		},
	}
	cmd.Flags().StringVar(&opts.DevelopmentID, "development", "", "development id")
	cmd.Flags().StringVar(&opts.UnitNumber, "number", "", "unit number")
	cmd.Flags().StringVar(&opts.Address, "address", "", "address")
	cmd.Flags().StringVar(&opts.HouseType, "house-type", "", "house type")
	cmd.Flags().IntVar(&opts.Bedrooms, "bedrooms", 0, "bedroom count")
	_ = cmd.MarkFlagRequired("development")
	_ = cmd.MarkFlagRequired("number")
	return cmd
}

func unitListCmd() *cobra.Command {
	var f repo.UnitFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List units",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				units, err := e.Repo.ListUnits(ctx, e.Config.Tenant.ID, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(units)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Unit", "Address", "Type", "Beds"})
				for _, u := range units {
					tw.AppendRow(table.Row{u.ID, u.UnitNumber, u.Address, u.HouseType, u.Bedrooms})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.DevelopmentID, "development", "", "development filter")
	return cmd
}

func unitShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a unit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				u, err := e.Repo.GetUnit(ctx, e.Config.Tenant.ID, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(u)
			})
		},
	}
	return cmd
}

func pipelineCmd() *cobra.Command {
	p := &cobra.Command{
		Use:   "pipeline",
		Short: "Manage unit pipelines",
		Long:  "Pipelines carry the milestone dates for a unit. The stage is always derived from the latest date present; recording or clearing a milestone moves the unit on the board immediately.",
	}
	p.AddCommand(pipelineShowCmd())
	p.AddCommand(pipelineSetCmd())
	p.AddCommand(pipelineContactCmd())
	p.AddCommand(pipelineAuditCmd())
	return p
}

func pipelineShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <unit-id>",
		Short: "Show a unit's pipeline with derived stage and dwell",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			unitID := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := e.GetPipeline(ctx, e.Config.Tenant.ID, unitID)
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	return cmd
}

func pipelineSetCmd() *cobra.Command {
	var opts engine.MilestoneOptions
	cmd := &cobra.Command{
		Use:   "set <unit-id>",
		Short: "Record or clear a milestone date",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.UnitID = args[0]
			opts.ActorID = viper.GetString("actor-id")
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				opts.TenantID = e.Config.Tenant.ID
				rec, err := e.RecordMilestone(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(rec)
			})
		},
	}
	cmd.Flags().StringVar(&opts.Field, "field", "", "milestone field (e.g. sale_agreed_date)")
	cmd.Flags().StringVar(&opts.Value, "date", "", "RFC 3339 timestamp (defaults to now)")
	cmd.Flags().BoolVar(&opts.Clear, "clear", false, "clear the milestone instead of setting it")
	_ = cmd.MarkFlagRequired("field")
	return cmd
}

func pipelineContactCmd() *cobra.Command {
	var name, email, phone, solicitor string
	cmd := &cobra.Command{
		Use:   "contact <unit-id>",
		Short: "Update purchaser and solicitor contact details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := engine.ContactOptions{
				UnitID:  args[0],
				ActorID: viper.GetString("actor-id"),
			}
			if cmd.Flags().Changed("name") {
				opts.PurchaserName = &name
			}
			if cmd.Flags().Changed("email") {
				opts.PurchaserEmail = &email
			}
			if cmd.Flags().Changed("phone") {
				opts.PurchaserPhone = &phone
			}
			if cmd.Flags().Changed("solicitor") {
				opts.SolicitorFirm = &solicitor
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				opts.TenantID = e.Config.Tenant.ID
				rec, err := e.UpdateContact(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(rec)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "purchaser name (empty clears)")
	cmd.Flags().StringVar(&email, "email", "", "purchaser email (empty clears)")
	cmd.Flags().StringVar(&phone, "phone", "", "purchaser phone (empty clears)")
	cmd.Flags().StringVar(&solicitor, "solicitor", "", "solicitor firm (empty clears)")
	return cmd
}

func pipelineAuditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit <unit-id>",
		Short: "Show who stamped each milestone and when",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			unitID := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := e.GetPipeline(ctx, e.Config.Tenant.ID, unitID)
				if err != nil {
					return err
				}
				audit, err := e.Repo.GetFieldAudit(ctx, a.Record.ID)
				if err != nil {
					return err
				}
				return printJSONOrTable(audit)
			})
		},
	}
	return cmd
}

func kitchenCmd() *cobra.Command {
	k := &cobra.Command{
		Use:   "kitchen",
		Short: "Manage kitchen selections",
		Long:  "Kitchen selections record counter, cabinet, and handle choices per unit. Buyers declining the builder kitchen get a PC sum deduction; the schedule totals the impact per development.",
	}
	k.AddCommand(kitchenSetCmd())
	k.AddCommand(kitchenScheduleCmd())
	return k
}

func kitchenSetCmd() *cobra.Command {
	var opts engine.KitchenOptions
	var boolValue bool
	cmd := &cobra.Command{
		Use:   "set <unit-id>",
		Short: "Set a kitchen selection field",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.UnitID = args[0]
			opts.ActorID = viper.GetString("actor-id")
			if cmd.Flags().Changed("bool-value") {
				opts.BoolValue = &boolValue
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				opts.TenantID = e.Config.Tenant.ID
				rec, err := e.UpdateKitchenSelection(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(rec)
			})
		},
	}
	cmd.Flags().StringVar(&opts.Field, "field", "", "field (has_kitchen, counter, cabinet, handle, has_wardrobe, notes)")
	cmd.Flags().StringVar(&opts.Value, "value", "", "value for string fields")
	cmd.Flags().BoolVar(&boolValue, "bool-value", false, "value for has_kitchen / has_wardrobe")
	_ = cmd.MarkFlagRequired("field")
	return cmd
}

func kitchenScheduleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule <development-id>",
		Short: "Show the kitchen schedule for a development",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.KitchenSchedule(ctx, e.Config.Tenant.ID, id)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(s)
				}
				fmt.Printf("Development: %s\n", s.Development.Name)
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Unit", "Purchaser", "Kitchen", "Counter", "Cabinet", "Handle", "Status", "PC Sum"})
				for _, row := range s.Rows {
					kitchen := ""
					if row.HasKitchen != nil {
						kitchen = fmt.Sprintf("%t", *row.HasKitchen)
					}
					tw.AppendRow(table.Row{row.Unit.UnitNumber, row.PurchaserName, kitchen, row.CounterType, row.CabinetColor, row.HandleStyle, row.Status, row.PCSumTotal})
				}
				tw.Render()
				fmt.Printf("Decided: %d  Taking kitchen: %d  Own kitchen: %d  Pending: %d  PC sum impact: %d\n",
					s.Summary.Decided, s.Summary.TakingKitchen, s.Summary.TakingOwnKitchen, s.Summary.Pending, s.Summary.TotalPCSumImpact)
				return nil
			})
		},
	}
	return cmd
}

func noteCmd() *cobra.Command {
	n := &cobra.Command{
		Use:   "note",
		Short: "Manage pipeline notes",
		Long:  "Notes capture queries, issues, and updates against a unit's pipeline. Resolve them when answered; reopening clears the resolution.",
	}
	n.AddCommand(noteAddCmd())
	n.AddCommand(noteListCmd())
	n.AddCommand(noteResolveCmd())
	return n
}

func noteAddCmd() *cobra.Command {
	var opts engine.NoteOptions
	cmd := &cobra.Command{
		Use:   "add <unit-id>",
		Short: "Add a note",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.UnitID = args[0]
			opts.ActorID = viper.GetString("actor-id")
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				opts.TenantID = e.Config.Tenant.ID
				note, err := e.AddNote(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(note)
			})
		},
	}
	cmd.Flags().StringVar(&opts.NoteType, "type", "general", "note type (general, query, issue, update)")
	cmd.Flags().StringVar(&opts.Content, "content", "", "note content")
	_ = cmd.MarkFlagRequired("content")
	return cmd
}

func noteListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list <unit-id>",
		Short: "List notes for a unit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			unitID := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				view, err := e.ListNotes(ctx, e.Config.Tenant.ID, unitID)
				if err != nil {
					return err
				}
				return printJSONOrTable(view)
			})
		},
	}
	return cmd
}

func noteResolveCmd() *cobra.Command {
	var reopen bool
	cmd := &cobra.Command{
		Use:   "resolve <note-id>",
		Short: "Resolve or reopen a note",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			noteID := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				note, err := e.ResolveNote(ctx, e.Config.Tenant.ID, noteID, !reopen, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(note)
			})
		},
	}
	cmd.Flags().BoolVar(&reopen, "reopen", false, "reopen instead of resolving")
	return cmd
}

func complianceCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "compliance",
		Short: "Manage compliance documents",
		Long:  "Compliance documents (homebond, BCAR, BER, engineer certs) are tracked per unit. The register shows what's verified, what's expired, and what's missing against the required kinds in config.",
	}
	c.AddCommand(complianceSetCmd())
	c.AddCommand(complianceRegisterCmd())
	return c
}

func complianceSetCmd() *cobra.Command {
	var opts engine.ComplianceOptions
	cmd := &cobra.Command{
		Use:   "set <unit-id>",
		Short: "Record a compliance document's status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.UnitID = args[0]
			opts.ActorID = viper.GetString("actor-id")
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				opts.TenantID = e.Config.Tenant.ID
				doc, err := e.SetCompliance(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(doc)
			})
		},
	}
	cmd.Flags().StringVar(&opts.Kind, "kind", "", "document kind")
	cmd.Flags().StringVar(&opts.Status, "status", "", "status (uploaded, verified, expired, missing)")
	cmd.Flags().StringVar(&opts.ExpiryDate, "expiry", "", "expiry date, RFC 3339")
	_ = cmd.MarkFlagRequired("kind")
	_ = cmd.MarkFlagRequired("status")
	return cmd
}

func complianceRegisterCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "register <development-id>",
		Short: "Show the compliance register for a development",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				reg, err := e.Compliance(ctx, e.Config.Tenant.ID, id)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(reg)
				}
				fmt.Printf("Development: %s\n", reg.Development.Name)
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Unit", "Kind", "Status", "Expiry"})
				for _, doc := range reg.Documents {
					tw.AppendRow(table.Row{doc.UnitID, doc.Kind, doc.Status, doc.ExpiryDate})
				}
				tw.Render()
				if len(reg.Missing) > 0 {
					fmt.Println("Missing:")
					for _, m := range reg.Missing {
						fmt.Printf("  unit %s: %s\n", m.UnitNumber, m.Kind)
					}
				}
				fmt.Println("Stats:")
				for status, c := range reg.Stats {
					fmt.Printf("  %s: %d\n", status, c)
				}
				return nil
			})
		},
	}
	return cmd
}

func snagCmd() *cobra.Command {
	s := &cobra.Command{
		Use:   "snag",
		Short: "Manage snag items",
		Long:  "Snags are defects raised during snagging. They flow open -> in_progress -> resolved -> closed; closed is terminal.",
	}
	s.AddCommand(snagAddCmd())
	s.AddCommand(snagListCmd())
	s.AddCommand(snagStatusCmd())
	return s
}

func snagAddCmd() *cobra.Command {
	var opts engine.SnagOptions
	cmd := &cobra.Command{
		Use:   "add <unit-id>",
		Short: "Raise a snag",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.UnitID = args[0]
			opts.ActorID = viper.GetString("actor-id")
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				opts.TenantID = e.Config.Tenant.ID
				snag, err := e.CreateSnag(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(snag)
			})
		},
	}
	cmd.Flags().StringVar(&opts.Description, "description", "", "what's wrong")
	cmd.Flags().StringVar(&opts.Location, "location", "", "where in the unit")
	_ = cmd.MarkFlagRequired("description")
	return cmd
}

func snagListCmd() *cobra.Command {
	var f repo.SnagFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List snags",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				snags, err := e.Repo.ListSnags(ctx, e.Config.Tenant.ID, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(snags)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Unit", "Description", "Location", "Status"})
				for _, s := range snags {
					tw.AppendRow(table.Row{s.ID, s.UnitID, s.Description, s.Location, s.Status})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.DevelopmentID, "development", "", "development filter")
	cmd.Flags().StringVar(&f.UnitID, "unit", "", "unit filter")
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	return cmd
}

func snagStatusCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "set-status <id>",
		Short: "Update snag status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				snag, err := e.UpdateSnagStatus(ctx, e.Config.Tenant.ID, id, status, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(snag)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "new status")
	_ = cmd.MarkFlagRequired("status")
	return cmd
}

func attentionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "attention",
		Short: "Show what needs attention across the tenant",
		Long:  "Scans every development for stuck pipelines, overdue or missing compliance, and snag backlogs, and lists them most severe first.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Attention(ctx, e.Config.Tenant.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				if len(items) == 0 {
					fmt.Println("Nothing needs attention.")
					return nil
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Severity", "Category", "Development", "Count", "Summary"})
				for _, it := range items {
					tw.AppendRow(table.Row{it.Severity, it.Category, it.DevelopmentName, it.Count, it.Summary})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func chaseCmd() *cobra.Command {
	var stage string
	cmd := &cobra.Command{
		Use:   "chase <unit-id>",
		Short: "Draft a chase email for a stalled stage",
		Long:  "Renders a chase email to the purchaser's solicitor for the given stage (contracts, kitchen, snag, desnag). The draft is printed, never sent.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			unitID := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				msg, err := e.Chase(ctx, e.Config.Tenant.ID, unitID, stage, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(msg)
				}
				fmt.Printf("To: %s\n", msg.To)
				if msg.CC != "" {
					fmt.Printf("CC: %s\n", msg.CC)
				}
				fmt.Printf("Subject: %s\n\n%s\n", msg.Subject, msg.Body)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&stage, "stage", "", "stage to chase (contracts, kitchen, snag, desnag)")
	_ = cmd.MarkFlagRequired("stage")
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "The diary of everything that happened: milestones, selections, snags, chases, and more.",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				events, err := e.Repo.ListEvents(ctx, e.Config.Tenant.ID, n)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	return cmd
}

func roleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "role",
		Short: "Manage actor roles",
	}
	cmd.AddCommand(roleAssignCmd())
	cmd.AddCommand(roleRevokeCmd())
	cmd.AddCommand(roleShowCmd())
	return cmd
}

func roleAssignCmd() *cobra.Command {
	var target, role string
	cmd := &cobra.Command{
		Use:   "assign",
		Short: "Assign a role to an actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			if target == "" || role == "" {
				return fmt.Errorf("--actor and --role required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.AssignRole(ctx, e.Config.Tenant.ID, target, role, viper.GetString("actor-id"))
			})
		},
	}
	cmd.Flags().StringVar(&target, "actor", "", "actor id")
	cmd.Flags().StringVar(&role, "role", "", "role (developer, admin, super_admin)")
	return cmd
}

func roleRevokeCmd() *cobra.Command {
	var target, role string
	cmd := &cobra.Command{
		Use:   "revoke",
		Short: "Revoke a role from an actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			if target == "" || role == "" {
				return fmt.Errorf("--actor and --role required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				tx, err := e.DB.BeginTx(ctx, nil)
				if err != nil {
					return err
				}
				defer tx.Rollback()
				if err := e.Repo.RevokeRole(ctx, tx, e.Config.Tenant.ID, target, role); err != nil {
					return err
				}
				return tx.Commit()
			})
		},
	}
	cmd.Flags().StringVar(&target, "actor", "", "actor id")
	cmd.Flags().StringVar(&role, "role", "", "role")
	return cmd
}

func roleShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <actor-id>",
		Short: "Show an actor's roles",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				roles, err := e.Repo.ActorRoles(ctx, e.Config.Tenant.ID, target)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"actor_id": target, "roles": roles})
			})
		},
	}
	return cmd
}

func apikeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apikey",
		Short: "Manage API keys",
	}
	cmd.AddCommand(apikeyCreateCmd())
	cmd.AddCommand(apikeyListCmd())
	cmd.AddCommand(apikeyDeleteCmd())
	return cmd
}

func apikeyCreateCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key for the current actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				key, plain, err := e.CreateAPIKey(ctx, viper.GetString("actor-id"), name)
				if err != nil {
					return err
				}
				out := map[string]any{
					"id":       key.ID,
					"actor_id": key.ActorID,
					"name":     key.Name,
					"key":      plain,
				}
				if viper.GetBool("json") {
					return printJSON(out)
				}
				fmt.Printf("Created key %s\n", key.ID)
				fmt.Printf("Secret (shown once): %s\n", plain)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "key name")
	return cmd
}

func apikeyListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the current actor's API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				keys, err := r.ListAPIKeys(ctx, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(keys)
			})
		},
	}
	return cmd
}

func apikeyDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.DeleteAPIKey(ctx, id)
			})
		},
	}
	return cmd
}

func tokenCmd() *cobra.Command {
	var roles []string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for the current actor (dev only)",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := os.Getenv("SITELINE_JWT_SECRET")
			if secret == "" {
				return fmt.Errorf("SITELINE_JWT_SECRET is required")
			}
			now := time.Now()
			claims := struct {
				jwt.RegisteredClaims
				Roles []string `json:"roles,omitempty"`
			}{
				RegisteredClaims: jwt.RegisteredClaims{
					Subject:   viper.GetString("actor-id"),
					IssuedAt:  jwt.NewNumericDate(now),
					ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
				},
				Roles: roles,
			}
			signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(map[string]string{"token": signed})
			}
			fmt.Println(signed)
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&roles, "role", []string{}, "role claim (repeatable)")
	cmd.Flags().DurationVar(&ttl, "ttl", 12*time.Hour, "token lifetime")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var allowLegacyActor bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			r := repo.Repo{DB: conn}
			_, cfg, err := app.ResolveTenantAndConfig(cmd.Context(), viper.GetString("tenant"), viper.GetString("actor-id"), r)
			if err != nil {
				return err
			}
			e := engine.New(conn, cfg)
			authCfg := server.AuthConfig{
				JWTSecret:              os.Getenv("SITELINE_JWT_SECRET"),
				AllowLegacyActorHeader: allowLegacyActor,
			}
			if authCfg.JWTSecret == "" {
				return fmt.Errorf("SITELINE_JWT_SECRET is required for bearer auth")
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Siteline API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&allowLegacyActor, "allow-legacy-actor-header", false, "accept unauthenticated X-Actor-Id (dev only)")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	r := repo.Repo{DB: conn}
	_, cfg, err := app.ResolveTenantAndConfig(ctx, viper.GetString("tenant"), viper.GetString("actor-id"), r)
	if err != nil {
		return err
	}
	e := engine.New(conn, cfg)
	return fn(ctx, e)
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	r := repo.Repo{DB: conn}
	return fn(ctx, r)
}

func printJSONOrTable(v any) error {
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

func setEnvValue(path, key, value string) error {
	var lines []string
	seen := false
	f, err := os.Open(path)
	if err == nil {
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			line := scanner.Text()
			if strings.HasPrefix(line, key+"=") {
				lines = append(lines, fmt.Sprintf("%s=%s", key, value))
				seen = true
			} else {
				lines = append(lines, line)
			}
		}
		if err := scanner.Err(); err != nil {
			f.Close()
			return err
		}
		f.Close()
	} else if !os.IsNotExist(err) {
		return err
	}
	if !seen {
		lines = append(lines, fmt.Sprintf("%s=%s", key, value))
	}
	content := strings.Join(lines, "\n")
	if content != "" && !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	return os.WriteFile(path, []byte(content), 0o644)
}
