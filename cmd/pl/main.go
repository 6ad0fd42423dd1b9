package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"prodline/internal/app"
	"prodline/internal/config"
	"prodline/internal/db"
	"prodline/internal/domain"
	"prodline/internal/engine"
	"prodline/internal/migrate"
	"prodline/internal/repo"
	"prodline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "pl",
	Short: "Prodline CLI",
	Long: `Prodline schedules manufacturing plans onto workers and substations.
Core concepts:
- Workspace: your .prodline directory with only the database; config is stored in the DB and imported explicitly.
- Plan: a bill of work; nodes are operations forming a dependency DAG.
- Launch: resolves the DAG into per-worker task queues, booking substations and reserving materials atomically.
- Calendar: lanes of work/break blocks per weekday; holidays override, personal schedules replace.
- Queue: each worker's ordered assignments; only the head of the queue can be started.
- Event log: diary of changes, view with 'pl log tail'.`,
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
	viper.SetEnvPrefix("PRODLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
}

func registerCommands() {
	rootCmd.AddCommand(configCommand())
	rootCmd.AddCommand(planCmd())
	rootCmd.AddCommand(workerCmd())
	rootCmd.AddCommand(stationCmd())
	rootCmd.AddCommand(materialCmd())
	rootCmd.AddCommand(skillCmd())
	rootCmd.AddCommand(operationCmd())
	rootCmd.AddCommand(calendarCmd())
	rootCmd.AddCommand(assignmentCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(metricsCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(seedCmd())
	rootCmd.AddCommand(serveCmd())
}

func configCommand() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Manage workspace config"}
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configImportCmd())
	return cfg
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show config stored in DB",
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
		Short: "Import config from YAML into the DB",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(filePath)
			if err != nil {
				return err
			}
			cfg, err := config.FromYAML(data)
			if err != nil {
				return err
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				if err := app.StoreConfig(ctx, r, cfg); err != nil {
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

func planCmd() *cobra.Command {
	plan := &cobra.Command{
		Use:   "plan",
		Short: "Manage plans",
		Long:  "Plans hold a DAG of nodes. Draft them, wire dependencies, then launch: the scheduler books every node onto a worker and substation in one transaction.",
	}
	plan.AddCommand(planCreateCmd())
	plan.AddCommand(planListCmd())
	plan.AddCommand(planShowCmd())
	plan.AddCommand(planStatusCmd())
	plan.AddCommand(planNodeCmd())
	plan.AddCommand(planEdgeCmd())
	plan.AddCommand(planLaunchCmd())
	plan.AddCommand(planAssignmentsCmd())
	return plan
}

func planCreateCmd() *cobra.Command {
	var opts engine.PlanCreateOptions
	var defectRate float64
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a plan",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ActorID = viper.GetString("actor-id")
			if cmd.Flags().Changed("defect-rate") {
				opts.DefectRate = &defectRate
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.CreatePlan(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "plan id (random UUID if omitted)")
	cmd.Flags().StringVar(&opts.Name, "name", "", "plan name")
	cmd.Flags().Float64Var(&opts.Quantity, "quantity", 1, "units to produce")
	cmd.Flags().Float64Var(&defectRate, "defect-rate", 0, "expected defect percentage (0..100)")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func planListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List plans",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListPlans(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Status", "Qty", "Launched"})
				for _, p := range items {
					launched := ""
					if p.LaunchedAt != nil {
						launched = p.LaunchedAt.UTC().Format(time.RFC3339)
					}
					tw.AppendRow(table.Row{p.ID, p.Name, p.Status, p.Quantity, launched})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func planShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <plan-id>",
		Short: "Show a plan with its nodes and edges",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.Repo.GetPlan(ctx, nil, args[0])
				if err != nil {
					return err
				}
				nodes, err := e.Repo.ListNodes(ctx, nil, p.ID)
				if err != nil {
					return err
				}
				edges, err := e.Repo.ListEdges(ctx, nil, p.ID)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{
					"plan":  p,
					"nodes": nodes,
					"edges": edges,
				})
			})
		},
	}
	return cmd
}

func planStatusCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "status <plan-id>",
		Short: "Update plan status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if status == "" {
				return fmt.Errorf("--set required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.SetPlanStatus(ctx, args[0], status, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&status, "set", "", "new status (draft, ready, cancelled)")
	return cmd
}

func planNodeCmd() *cobra.Command {
	var opts engine.NodeCreateOptions
	var materials, stations []string
	cmd := &cobra.Command{
		Use:   "node <plan-id>",
		Short: "Add a node to a plan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.PlanID = args[0]
			opts.ActorID = viper.GetString("actor-id")
			var err error
			if opts.Materials, err = parseMaterials(materials); err != nil {
				return err
			}
			if opts.Stations, err = parseStations(stations); err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				n, err := e.AddNode(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(n)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "node id (random UUID if omitted)")
	cmd.Flags().StringVar(&opts.Name, "name", "", "node name")
	cmd.Flags().StringVar(&opts.OperationID, "operation", "", "operation id")
	cmd.Flags().Float64Var(&opts.NominalTime, "minutes", 0, "nominal duration in minutes")
	cmd.Flags().Float64Var(&opts.Efficiency, "efficiency", 1, "efficiency factor (0..1]")
	cmd.Flags().StringVar(&opts.OutputCode, "output-code", "", "produced material code")
	cmd.Flags().Float64Var(&opts.OutputQty, "output-qty", 0, "produced quantity per run")
	cmd.Flags().StringVar(&opts.OutputUnit, "output-unit", "", "produced unit")
	cmd.Flags().StringArrayVar(&materials, "material", []string{}, "material input CODE:QTY[:RATIO] (repeatable)")
	cmd.Flags().StringArrayVar(&stations, "station", []string{}, "eligible station ID[:PRIORITY] (repeatable)")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("operation")
	_ = cmd.MarkFlagRequired("minutes")
	return cmd
}

func planEdgeCmd() *cobra.Command {
	var nodeID, predecessorID string
	cmd := &cobra.Command{
		Use:   "edge",
		Short: "Add a dependency edge between two nodes",
		RunE: func(cmd *cobra.Command, args []string) error {
			if nodeID == "" || predecessorID == "" {
				return fmt.Errorf("--node and --after required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.AddEdge(ctx, nodeID, predecessorID, viper.GetString("actor-id"))
			})
		},
	}
	cmd.Flags().StringVar(&nodeID, "node", "", "dependent node id")
	cmd.Flags().StringVar(&predecessorID, "after", "", "predecessor node id")
	return cmd
}

func planLaunchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "launch <plan-id>",
		Short: "Launch a plan",
		Long:  "Resolves the node DAG, books workers and substations, reserves materials and activates the plan. All or nothing.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("plan id required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.Launch(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				fmt.Printf("Plan %s launched at %s\n", res.PlanID, res.LaunchedAt.UTC().Format(time.RFC3339))
				fmt.Printf("Window: %s .. %s (%.0f min of work)\n",
					res.Summary.EstimatedStart.UTC().Format(time.RFC3339),
					res.Summary.EstimatedEnd.UTC().Format(time.RFC3339),
					res.Summary.EstimatedDuration)
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Node", "Worker", "Substation", "Start", "End", "Seq"})
				for _, a := range res.Assignments {
					tw.AppendRow(table.Row{
						a.NodeName, a.WorkerName, a.SubstationName,
						a.EstimatedStart.UTC().Format("01-02 15:04"),
						a.EstimatedEnd.UTC().Format("01-02 15:04"),
						a.SequenceNumber,
					})
				}
				tw.Render()
				if res.Warnings != nil {
					for _, wmsg := range res.Warnings.Materials {
						fmt.Printf("warning: material %s short by %.2f %s (needs %.2f, has %.2f)\n",
							wmsg.MaterialCode, wmsg.Shortage, wmsg.Unit, wmsg.Required, wmsg.Available)
					}
				}
				return nil
			})
		},
	}
	return cmd
}

func planAssignmentsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "assignments <plan-id>",
		Short: "List a plan's assignments",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListPlanAssignments(ctx, nil, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	return cmd
}

func workerCmd() *cobra.Command {
	worker := &cobra.Command{
		Use:   "worker",
		Short: "Manage workers",
		Long:  "Workers carry skills and a schedule: either the company calendar (by shift lane) or a personal weekly pattern. The launch matcher only queues work inside their working blocks.",
	}
	worker.AddCommand(workerUpsertCmd())
	worker.AddCommand(workerListCmd())
	worker.AddCommand(workerQueueCmd())
	worker.AddCommand(workerAbsenceCmd())
	return worker
}

func workerUpsertCmd() *cobra.Command {
	var w domain.Worker
	var skills []string
	cmd := &cobra.Command{
		Use:   "set <worker-id>",
		Short: "Create or update a worker",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			w.ID = args[0]
			w.SkillIDs = skills
			if w.Status == "" {
				w.Status = domain.WorkerAvailable
			}
			if w.ScheduleMode == "" {
				w.ScheduleMode = domain.ScheduleCompany
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				if err := r.UpsertWorker(ctx, w); err != nil {
					return err
				}
				stored, err := r.GetWorker(ctx, nil, w.ID)
				if err != nil {
					return err
				}
				return printJSONOrTable(stored)
			})
		},
	}
	cmd.Flags().StringVar(&w.Name, "name", "", "worker name")
	cmd.Flags().StringVar(&w.Status, "status", "", "status (available, busy, break, inactive)")
	cmd.Flags().StringArrayVar(&skills, "skill", []string{}, "skill id (repeatable)")
	cmd.Flags().StringVar(&w.ScheduleMode, "schedule", "", "schedule mode (company, personal)")
	cmd.Flags().StringVar(&w.ShiftLane, "lane", "1", "company shift lane")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func workerListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListWorkers(ctx, nil)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Status", "Mode", "Lane", "Skills"})
				for _, w := range items {
					tw.AppendRow(table.Row{w.ID, w.Name, w.Status, w.ScheduleMode, w.ShiftLane, strings.Join(w.SkillIDs, ",")})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func workerQueueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue <worker-id>",
		Short: "Show a worker's task queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.TaskQueue(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"#", "Assignment", "Node", "Status", "Start", "End", "Startable"})
				for _, q := range items {
					tw.AppendRow(table.Row{
						q.SequenceNumber, q.ID, q.NodeName, q.Status,
						q.EstimatedStart.UTC().Format("01-02 15:04"),
						q.EstimatedEnd.UTC().Format("01-02 15:04"),
						q.Startable,
					})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func workerAbsenceCmd() *cobra.Command {
	var from, to, reason string
	cmd := &cobra.Command{
		Use:   "absence <worker-id>",
		Short: "Record a worker absence",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fromTS, err := time.Parse(time.RFC3339, from)
			if err != nil {
				return fmt.Errorf("--from: %w", err)
			}
			toTS, err := time.Parse(time.RFC3339, to)
			if err != nil {
				return fmt.Errorf("--to: %w", err)
			}
			if toTS.Before(fromTS) {
				return fmt.Errorf("absence ends before it starts")
			}
			a := domain.Absence{WorkerID: args[0], From: fromTS, To: toTS, Reason: reason}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				if _, err := r.GetWorker(ctx, nil, a.WorkerID); err != nil {
					return err
				}
				if err := r.AddAbsence(ctx, a); err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "start (RFC3339)")
	cmd.Flags().StringVar(&to, "to", "", "end (RFC3339)")
	cmd.Flags().StringVar(&reason, "reason", "", "reason")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func stationCmd() *cobra.Command {
	station := &cobra.Command{Use: "station", Short: "Manage stations and substations"}
	station.AddCommand(stationSetCmd())
	station.AddCommand(stationListCmd())
	station.AddCommand(substationSetCmd())
	station.AddCommand(substationListCmd())
	return station
}

func stationSetCmd() *cobra.Command {
	var s domain.Station
	var skills []string
	cmd := &cobra.Command{
		Use:   "set <station-id>",
		Short: "Create or update a station",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s.ID = args[0]
			s.SkillIDs = skills
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				if err := r.UpsertStation(ctx, s); err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	cmd.Flags().StringVar(&s.Name, "name", "", "station name")
	cmd.Flags().StringArrayVar(&skills, "skill", []string{}, "required skill id (repeatable)")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func stationListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListStations(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	return cmd
}

func substationSetCmd() *cobra.Command {
	var sub domain.Substation
	cmd := &cobra.Command{
		Use:   "sub <substation-id>",
		Short: "Create or update a substation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sub.ID = args[0]
			if sub.Status == "" {
				sub.Status = domain.SubstationAvailable
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				if _, err := r.GetStation(ctx, nil, sub.StationID); err != nil {
					return err
				}
				if err := r.UpsertSubstation(ctx, sub); err != nil {
					return err
				}
				return printJSONOrTable(sub)
			})
		},
	}
	cmd.Flags().StringVar(&sub.StationID, "station", "", "parent station id")
	cmd.Flags().StringVar(&sub.Name, "name", "", "substation name")
	cmd.Flags().BoolVar(&sub.IsActive, "active", true, "eligible for scheduling")
	_ = cmd.MarkFlagRequired("station")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func substationListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "subs",
		Short: "List substations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListSubstations(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Station", "Name", "Active", "Status", "Busy until"})
				for _, s := range items {
					until := ""
					if s.CurrentExpectedEnd != nil {
						until = s.CurrentExpectedEnd.UTC().Format("01-02 15:04")
					}
					tw.AppendRow(table.Row{s.ID, s.StationID, s.Name, s.IsActive, s.Status, until})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func materialCmd() *cobra.Command {
	material := &cobra.Command{Use: "material", Short: "Manage materials and stock"}
	material.AddCommand(materialSetCmd())
	material.AddCommand(materialListCmd())
	material.AddCommand(materialStockCmd())
	return material
}

func materialSetCmd() *cobra.Command {
	var m domain.Material
	cmd := &cobra.Command{
		Use:   "set <code>",
		Short: "Create or update a material",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m.Code = args[0]
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				if err := r.UpsertMaterial(ctx, m); err != nil {
					return err
				}
				return printJSONOrTable(m)
			})
		},
	}
	cmd.Flags().StringVar(&m.Name, "name", "", "material name")
	cmd.Flags().StringVar(&m.Unit, "unit", "", "unit of measure")
	cmd.Flags().Float64Var(&m.Stock, "stock", 0, "stock on hand")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func materialListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List materials",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListMaterials(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Code", "Name", "Unit", "Stock"})
				for _, m := range items {
					tw.AppendRow(table.Row{m.Code, m.Name, m.Unit, m.Stock})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func materialStockCmd() *cobra.Command {
	var stock float64
	cmd := &cobra.Command{
		Use:   "stock <code>",
		Short: "Set stock for a material",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.SetStock(ctx, args[0], stock)
			})
		},
	}
	cmd.Flags().Float64Var(&stock, "qty", 0, "stock quantity")
	_ = cmd.MarkFlagRequired("qty")
	return cmd
}

func skillCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "skill <skill-id>",
		Short: "Create or update a skill",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s := domain.Skill{ID: args[0], Name: name}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				if err := r.UpsertSkill(ctx, s); err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "skill name")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func operationCmd() *cobra.Command {
	var name string
	var skills []string
	cmd := &cobra.Command{
		Use:   "operation <operation-id>",
		Short: "Create or update an operation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			op := domain.Operation{ID: args[0], Name: name, SkillIDs: skills}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				if err := r.UpsertOperation(ctx, op); err != nil {
					return err
				}
				return printJSONOrTable(op)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "operation name")
	cmd.Flags().StringArrayVar(&skills, "skill", []string{}, "required skill id (repeatable)")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func calendarCmd() *cobra.Command {
	cal := &cobra.Command{Use: "calendar", Short: "Manage the default calendar and holidays"}
	cal.AddCommand(calendarImportCmd())
	cal.AddCommand(holidayAddCmd())
	cal.AddCommand(holidayListCmd())
	return cal
}

func calendarImportCmd() *cobra.Command {
	var filePath string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import the default calendar from a JSON file",
		Long:  "Accepts any of the legacy shapes: shift arrays, per-day keys or per-lane documents. The document is validated now and re-normalized on every launch.",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(filePath)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.ImportCalendar(ctx, data, viper.GetString("actor-id")); err != nil {
					return err
				}
				week, err := e.DefaultCalendar(ctx, nil)
				if err != nil {
					return err
				}
				fmt.Printf("Imported calendar with lanes: %s\n", strings.Join(week.Lanes(), ", "))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "path to calendar JSON")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func holidayAddCmd() *cobra.Command {
	var from, to, name string
	var working bool
	cmd := &cobra.Command{
		Use:   "holiday",
		Short: "Add a holiday",
		RunE: func(cmd *cobra.Command, args []string) error {
			fromTS, err := time.Parse(time.RFC3339, from)
			if err != nil {
				return fmt.Errorf("--from: %w", err)
			}
			toTS, err := time.Parse(time.RFC3339, to)
			if err != nil {
				return fmt.Errorf("--to: %w", err)
			}
			h := domain.Holiday{
				ID: uuid.New().String(), From: fromTS, To: toTS,
				Name: name, IsWorkingDay: working,
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				if err := r.InsertHoliday(ctx, h); err != nil {
					return err
				}
				return printJSONOrTable(h)
			})
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "start (RFC3339)")
	cmd.Flags().StringVar(&to, "to", "", "end (RFC3339)")
	cmd.Flags().StringVar(&name, "name", "", "holiday name")
	cmd.Flags().BoolVar(&working, "working", false, "keep the day workable (custom hours)")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func holidayListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "holidays",
		Short: "List holidays",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListHolidays(ctx, nil)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	return cmd
}

func assignmentCmd() *cobra.Command {
	task := &cobra.Command{
		Use:   "task",
		Short: "Work the queue",
		Long:  "Start and finish assignments. Only the head of a worker's queue can be started; completing it frees the substation and promotes the next task.",
	}
	task.AddCommand(taskStartCmd())
	task.AddCommand(taskCompleteCmd())
	return task
}

func taskStartCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start <assignment-id>",
		Short: "Start an assignment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := e.StartAssignment(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	return cmd
}

func taskCompleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "complete <assignment-id>",
		Short: "Complete an assignment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := e.CompleteAssignment(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "The diary of everything that happened: plan changes, launches, assignment transitions.",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var planID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				events, err := r.ListEvents(ctx, planID, n)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&planID, "plan", "", "filter by plan id")
	return cmd
}

func metricsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "metrics",
		Short: "Show scheduling counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return printJSONOrTable(e.MetricsSnapshot())
			})
		},
	}
	return cmd
}

func apikeyCmd() *cobra.Command {
	key := &cobra.Command{Use: "apikey", Short: "Manage API keys"}
	key.AddCommand(apikeyCreateCmd())
	key.AddCommand(apikeyListCmd())
	key.AddCommand(apikeyRevokeCmd())
	return key
}

func apikeyCreateCmd() *cobra.Command {
	var actorID, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key (the secret prints once)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if actorID == "" {
				actorID = viper.GetString("actor-id")
			}
			raw := "pl_" + strings.ReplaceAll(uuid.New().String(), "-", "")
			rec := domain.APIKey{
				ID:      uuid.New().String(),
				ActorID: actorID,
				Name:    name,
				KeyHash: repo.HashAPIKey(raw),
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				tx, err := r.DB.BeginTx(ctx, nil)
				if err != nil {
					return err
				}
				defer tx.Rollback()
				if err := r.InsertAPIKey(ctx, tx, rec); err != nil {
					return err
				}
				if err := tx.Commit(); err != nil {
					return err
				}
				fmt.Printf("API key created for %s (id %s)\n", rec.ActorID, rec.ID)
				fmt.Printf("Secret (store it now, it is not retrievable): %s\n", raw)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&actorID, "actor", "", "actor the key authenticates as")
	cmd.Flags().StringVar(&name, "name", "", "key label")
	return cmd
}

func apikeyListCmd() *cobra.Command {
	var actorID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListAPIKeys(ctx, actorID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Actor", "Name", "Created"})
				for _, k := range items {
					tw.AppendRow(table.Row{k.ID, k.ActorID, k.Name, k.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&actorID, "actor", "", "filter by actor")
	return cmd
}

func apikeyRevokeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "revoke <key-id>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.DeleteAPIKey(ctx, args[0])
			})
		},
	}
	return cmd
}

func seedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load a small demo factory",
		Long:  "Seeds skills, operations, a station with two substations, two workers, raw materials and a draft plan so 'pl plan launch demo-chair' works out of the box.",
		RunE: func(cmd *cobra.Command, args []string) error {
			actorID := viper.GetString("actor-id")
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				r := e.Repo
				skills := []domain.Skill{
					{ID: "sk-cut", Name: "Cutting"},
					{ID: "sk-asm", Name: "Assembly"},
					{ID: "sk-fin", Name: "Finishing"},
				}
				for _, s := range skills {
					if err := r.UpsertSkill(ctx, s); err != nil {
						return err
					}
				}
				ops := []domain.Operation{
					{ID: "op-cut", Name: "Cut parts", SkillIDs: []string{"sk-cut"}},
					{ID: "op-asm", Name: "Assemble", SkillIDs: []string{"sk-asm"}},
					{ID: "op-fin", Name: "Finish", SkillIDs: []string{"sk-fin"}},
				}
				for _, op := range ops {
					if err := r.UpsertOperation(ctx, op); err != nil {
						return err
					}
				}
				if err := r.UpsertStation(ctx, domain.Station{ID: "st-bench", Name: "Workbench"}); err != nil {
					return err
				}
				for _, id := range []string{"st-bench-1", "st-bench-2"} {
					if err := r.UpsertSubstation(ctx, domain.Substation{
						ID: id, StationID: "st-bench", Name: id,
						IsActive: true, Status: domain.SubstationAvailable,
					}); err != nil {
						return err
					}
				}
				workers := []domain.Worker{
					{ID: "w-ana", Name: "Ana", Status: domain.WorkerAvailable,
						SkillIDs: []string{"sk-cut", "sk-asm"}, ScheduleMode: domain.ScheduleCompany, ShiftLane: "1"},
					{ID: "w-bo", Name: "Bo", Status: domain.WorkerAvailable,
						SkillIDs: []string{"sk-asm", "sk-fin"}, ScheduleMode: domain.ScheduleCompany, ShiftLane: "1"},
				}
				for _, w := range workers {
					if err := r.UpsertWorker(ctx, w); err != nil {
						return err
					}
				}
				materials := []domain.Material{
					{Code: "RM-WOOD", Name: "Wood board", Unit: "pcs", Stock: 200},
					{Code: "RM-VARNISH", Name: "Varnish", Unit: "l", Stock: 20},
				}
				for _, m := range materials {
					if err := r.UpsertMaterial(ctx, m); err != nil {
						return err
					}
				}
				if _, err := r.GetPlan(ctx, nil, "demo-chair"); err == nil {
					fmt.Println("Demo factory refreshed (plan demo-chair already exists).")
					return nil
				}
				p, err := e.CreatePlan(ctx, engine.PlanCreateOptions{
					ID: "demo-chair", Name: "Demo chair", Quantity: 4, ActorID: actorID,
				})
				if err != nil {
					return err
				}
				nodes := []engine.NodeCreateOptions{
					{ID: "n-cut", PlanID: p.ID, Name: "cut", OperationID: "op-cut", NominalTime: 45,
						Materials: []domain.MaterialInput{{MaterialCode: "RM-WOOD", Required: 6, UnitRatio: 1}},
						Stations:  []domain.StationOption{{StationID: "st-bench", Priority: 1}}, ActorID: actorID},
					{ID: "n-asm", PlanID: p.ID, Name: "assemble", OperationID: "op-asm", NominalTime: 90,
						Stations: []domain.StationOption{{StationID: "st-bench", Priority: 1}}, ActorID: actorID},
					{ID: "n-fin", PlanID: p.ID, Name: "finish", OperationID: "op-fin", NominalTime: 30,
						Materials: []domain.MaterialInput{{MaterialCode: "RM-VARNISH", Required: 0.5, UnitRatio: 1}},
						Stations:  []domain.StationOption{{StationID: "st-bench", Priority: 1}}, ActorID: actorID},
				}
				for _, n := range nodes {
					if _, err := e.AddNode(ctx, n); err != nil {
						return err
					}
				}
				if err := e.AddEdge(ctx, "n-asm", "n-cut", actorID); err != nil {
					return err
				}
				if err := e.AddEdge(ctx, "n-fin", "n-asm", actorID); err != nil {
					return err
				}
				fmt.Println("Demo factory seeded. Try: pl plan launch demo-chair")
				return nil
			})
		},
	}
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
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
			cfg, err := app.ResolveConfig(cmd.Context(), workspace, r)
			if err != nil {
				return err
			}
			e := engine.New(conn, cfg)
			authCfg := server.AuthConfig{
				JWTSecret:              os.Getenv("PRODLINE_JWT_SECRET"),
				AllowLegacyActorHeader: cfg.Server.AllowLegacyActorHeader,
			}
			if authCfg.JWTSecret == "" {
				authCfg.JWTSecret = cfg.Server.JWTSecret
			}
			if authCfg.JWTSecret == "" && !authCfg.AllowLegacyActorHeader {
				return fmt.Errorf("PRODLINE_JWT_SECRET is required for bearer auth")
			}
			if basePath == "" {
				basePath = cfg.Server.BasePath
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
			fmt.Printf("Serving Prodline API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (defaults to config)")
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
	cfg, err := app.ResolveConfig(ctx, workspace, r)
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
	return fn(ctx, repo.Repo{DB: conn})
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

// parseMaterials turns CODE:QTY[:RATIO] flags into material inputs.
func parseMaterials(specs []string) ([]domain.MaterialInput, error) {
	var out []domain.MaterialInput
	for _, s := range specs {
		parts := strings.Split(s, ":")
		if len(parts) < 2 || len(parts) > 3 {
			return nil, fmt.Errorf("material %q: want CODE:QTY[:RATIO]", s)
		}
		m := domain.MaterialInput{MaterialCode: parts[0], UnitRatio: 1}
		if _, err := fmt.Sscanf(parts[1], "%f", &m.Required); err != nil {
			return nil, fmt.Errorf("material %q: bad quantity", s)
		}
		if len(parts) == 3 {
			if _, err := fmt.Sscanf(parts[2], "%f", &m.UnitRatio); err != nil {
				return nil, fmt.Errorf("material %q: bad ratio", s)
			}
		}
		out = append(out, m)
	}
	return out, nil
}

// parseStations turns ID[:PRIORITY] flags into station options.
func parseStations(specs []string) ([]domain.StationOption, error) {
	var out []domain.StationOption
	for i, s := range specs {
		parts := strings.Split(s, ":")
		opt := domain.StationOption{StationID: parts[0], Priority: i + 1}
		if len(parts) == 2 {
			if _, err := fmt.Sscanf(parts[1], "%d", &opt.Priority); err != nil {
				return nil, fmt.Errorf("station %q: bad priority", s)
			}
		} else if len(parts) > 2 {
			return nil, fmt.Errorf("station %q: want ID[:PRIORITY]", s)
		}
		out = append(out, opt)
	}
	return out, nil
}
