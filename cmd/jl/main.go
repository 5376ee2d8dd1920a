package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"jobline/internal/config"
	"jobline/internal/db"
	"jobline/internal/domain"
	"jobline/internal/events"
	"jobline/internal/migrate"
	"jobline/internal/notify"
	"jobline/internal/repo"
	"jobline/internal/workflow"
)

var rootCmd = &cobra.Command{
	Use:   "jl",
	Short: "Jobline CLI",
	Long: `Jobline is a job-marketplace workflow engine.
Agents post jobs and pay invoices; contractors apply, do the work, and bill.
Every lifecycle change (job assignment, work order verification, invoice
approval) is a validated transition with an audit record and a notification.

Lifecycles:
- Job:        OPEN -> ASSIGNED -> IN_PROGRESS -> COMPLETED
- Work order: CREATED -> ACTIVE -> VERIFIED -> CLOSED
- Invoice:    DRAFT -> SUBMITTED -> APPROVED -> PAID (REJECTED loops back to SUBMITTED)`,
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
	viper.SetEnvPrefix("JOBLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "", "acting user id")
	rootCmd.PersistentFlags().String("actor-role", "", "acting user role (agent or contractor)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("actor-role", rootCmd.PersistentFlags().Lookup("actor-role"))
}

func registerCommands() {
	rootCmd.AddCommand(seedCmd())
	rootCmd.AddCommand(jobCmd())
	rootCmd.AddCommand(workOrderCmd())
	rootCmd.AddCommand(invoiceCmd())
	rootCmd.AddCommand(transitionCmd())
	rootCmd.AddCommand(auditCmd())
	rootCmd.AddCommand(notificationsCmd())
}

func seedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Seed demo users (one agent, one contractor)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e workflow.Engine) error {
				now := time.Now().UTC().Format(time.RFC3339)
				users := []domain.User{
					{ID: "agent-demo", Name: "Asha Agent", Email: "asha@jobline.local", Role: domain.RoleAgent, CreatedAt: now},
					{ID: "contractor-demo", Name: "Chetan Contractor", Email: "chetan@jobline.local", Role: domain.RoleContractor, CreatedAt: now},
				}
				for _, u := range users {
					if _, err := e.Repo.GetUser(ctx, u.ID); err == nil {
						continue
					}
					if err := e.Repo.InsertUser(ctx, u); err != nil {
						return err
					}
				}
				fmt.Println("seeded users: agent-demo, contractor-demo")
				return nil
			})
		},
	}
}

func jobCmd() *cobra.Command {
	job := &cobra.Command{Use: "job", Short: "Manage jobs"}
	job.AddCommand(jobPostCmd())
	job.AddCommand(jobListCmd())
	job.AddCommand(jobShowCmd())
	job.AddCommand(jobApplyCmd())
	job.AddCommand(jobAssignCmd())
	return job
}

func jobPostCmd() *cobra.Command {
	var title, description, location, area, currency string
	var skills []string
	var amount float64
	cmd := &cobra.Command{
		Use:   "post",
		Short: "Post a job (agent)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e workflow.Engine) error {
				j, err := e.CreateJob(ctx, workflow.JobCreateOptions{
					AgentID:        viper.GetString("actor-id"),
					Title:          title,
					Description:    description,
					Location:       location,
					Area:           area,
					RequiredSkills: skills,
					Currency:       currency,
					Amount:         amount,
				})
				if err != nil {
					return err
				}
				return printJSON(j)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "job title")
	cmd.Flags().StringVar(&description, "description", "", "job description")
	cmd.Flags().StringVar(&location, "location", "", "location")
	cmd.Flags().StringVar(&area, "area", "", "service area")
	cmd.Flags().StringSliceVar(&skills, "skill", nil, "required skill (repeatable)")
	cmd.Flags().StringVar(&currency, "currency", "", "budget currency")
	cmd.Flags().Float64Var(&amount, "amount", 0, "budget amount")
	_ = cmd.MarkFlagRequired("title")
	_ = cmd.MarkFlagRequired("description")
	return cmd
}

func jobListCmd() *cobra.Command {
	var state string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				jobs, err := r.ListJobs(ctx, strings.ToUpper(state))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(jobs)
				}
				t := newTable("ID", "TITLE", "STATE", "CONTRACTOR", "APPLICANTS")
				for _, j := range jobs {
					contractor := ""
					if j.AssignedContractor != nil {
						contractor = *j.AssignedContractor
					}
					t.AppendRow(table.Row{j.ID, j.Title, j.CurrentState, contractor, len(j.Applicants)})
				}
				t.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&state, "state", "", "filter by state")
	return cmd
}

func jobShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <job-id>",
		Short: "Show a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				j, err := r.GetJob(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(j)
			})
		},
	}
}

func jobApplyCmd() *cobra.Command {
	var note string
	cmd := &cobra.Command{
		Use:   "apply <job-id>",
		Short: "Apply to an open job (contractor)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e workflow.Engine) error {
				j, err := e.Apply(ctx, args[0], actor(), note)
				if err != nil {
					return err
				}
				return printJSON(j)
			})
		},
	}
	cmd.Flags().StringVar(&note, "note", "", "application note")
	return cmd
}

func jobAssignCmd() *cobra.Command {
	var contractorID string
	cmd := &cobra.Command{
		Use:   "assign <job-id>",
		Short: "Assign a contractor; creates and activates the work order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e workflow.Engine) error {
				j, wo, err := e.AssignContractor(ctx, args[0], contractorID, actor())
				if err != nil {
					return err
				}
				return printJSON(map[string]any{"job": j, "work_order": wo})
			})
		},
	}
	cmd.Flags().StringVar(&contractorID, "contractor", "", "contractor id")
	_ = cmd.MarkFlagRequired("contractor")
	return cmd
}

func workOrderCmd() *cobra.Command {
	wo := &cobra.Command{Use: "workorder", Short: "Manage work orders"}
	wo.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List work orders for the acting user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListWorkOrdersFor(ctx, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				t := newTable("ID", "NUMBER", "JOB", "STATE", "ATTACHMENTS")
				for _, w := range items {
					t.AppendRow(table.Row{w.ID, w.Number, w.JobID, w.CurrentState, len(w.Attachments)})
				}
				t.Render()
				return nil
			})
		},
	})
	return wo
}

func invoiceCmd() *cobra.Command {
	inv := &cobra.Command{Use: "invoice", Short: "Manage invoices"}
	inv.AddCommand(invoiceCreateCmd())
	inv.AddCommand(invoiceListCmd())
	return inv
}

func invoiceCreateCmd() *cobra.Command {
	var jobID, currency, notes, itemsJSON string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Draft and submit an invoice (contractor)",
		RunE: func(cmd *cobra.Command, args []string) error {
			var items []domain.LineItem
			if itemsJSON != "" {
				if err := json.Unmarshal([]byte(itemsJSON), &items); err != nil {
					return fmt.Errorf("parse --items: %w", err)
				}
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e workflow.Engine) error {
				invc, audit, err := e.CreateInvoice(ctx, actor(), workflow.InvoiceCreateOptions{
					JobID:    jobID,
					Items:    items,
					Currency: currency,
					Notes:    notes,
				})
				if err != nil {
					return err
				}
				return printJSON(map[string]any{"invoice": invc, "audit": audit})
			})
		},
	}
	cmd.Flags().StringVar(&jobID, "job", "", "job id")
	cmd.Flags().StringVar(&itemsJSON, "items", "", `line items JSON, e.g. [{"description":"Labor","quantity":2,"unit_price":500}]`)
	cmd.Flags().StringVar(&currency, "currency", "", "currency")
	cmd.Flags().StringVar(&notes, "notes", "", "notes")
	_ = cmd.MarkFlagRequired("job")
	return cmd
}

func invoiceListCmd() *cobra.Command {
	var state string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List invoices for the acting user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListInvoicesFor(ctx, viper.GetString("actor-id"), strings.ToUpper(state))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				t := newTable("ID", "NUMBER", "STATE", "CURRENCY", "TOTAL")
				for _, i := range items {
					t.AppendRow(table.Row{i.ID, i.Number, i.CurrentState, i.Currency, i.TotalAmount})
				}
				t.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&state, "state", "", "filter by state")
	return cmd
}

func transitionCmd() *cobra.Command {
	var contractorID, proof, reason, currency, notes, itemsJSON, metadataJSON string
	cmd := &cobra.Command{
		Use:   "transition <entity-type> <id> <next-state>",
		Short: "Run a workflow transition (entity-type: job, workorder, invoice)",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			et, err := parseEntityType(args[0])
			if err != nil {
				return err
			}
			payload := workflow.Payload{
				ContractorID: contractorID,
				Proof:        proof,
				Reason:       reason,
				Currency:     currency,
			}
			if cmd.Flags().Changed("notes") {
				payload.Notes = &notes
			}
			if itemsJSON != "" {
				if err := json.Unmarshal([]byte(itemsJSON), &payload.Items); err != nil {
					return fmt.Errorf("parse --items: %w", err)
				}
			}
			if metadataJSON != "" {
				if err := json.Unmarshal([]byte(metadataJSON), &payload.Metadata); err != nil {
					return fmt.Errorf("parse --metadata: %w", err)
				}
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e workflow.Engine) error {
				a := actor()
				res, err := e.Transition(ctx, workflow.TransitionRequest{
					EntityType: et,
					ID:         args[1],
					NextState:  args[2],
					Actor:      &a,
					Payload:    payload,
				})
				if err != nil {
					return err
				}
				return printJSON(map[string]any{"entity": res.Entity, "audit": res.Audit})
			})
		},
	}
	cmd.Flags().StringVar(&contractorID, "contractor", "", "contractor id (job assignment)")
	cmd.Flags().StringVar(&proof, "proof", "", "proof url (work order verification)")
	cmd.Flags().StringVar(&reason, "reason", "", "rejection reason (invoice)")
	cmd.Flags().StringVar(&currency, "currency", "", "currency (invoice submission)")
	cmd.Flags().StringVar(&notes, "notes", "", "notes (invoice submission)")
	cmd.Flags().StringVar(&itemsJSON, "items", "", "line items JSON (invoice submission)")
	cmd.Flags().StringVar(&metadataJSON, "metadata", "", "metadata JSON attached to the audit record")
	return cmd
}

func auditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit <entity-type> <id>",
		Short: "Show workflow history for an entity, newest first",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			et, err := parseEntityType(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e workflow.Engine) error {
				history, err := e.ListAudit(ctx, et, args[1])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(history)
				}
				t := newTable("WHEN", "FROM", "TO", "BY", "ROLE")
				for _, a := range history {
					t.AppendRow(table.Row{a.CreatedAt, a.FromState, a.ToState, a.PerformedBy, a.PerformedRole})
				}
				t.Render()
				return nil
			})
		},
	}
	return cmd
}

func notificationsCmd() *cobra.Command {
	notif := &cobra.Command{Use: "notifications", Short: "Manage notifications"}
	var unread bool
	list := &cobra.Command{
		Use:   "list",
		Short: "List notifications for the acting user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListNotifications(ctx, viper.GetString("actor-id"), unread)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				t := newTable("WHEN", "TYPE", "TITLE", "BODY", "READ")
				for _, n := range items {
					t.AppendRow(table.Row{n.CreatedAt, n.Type, n.Title, n.Body, n.Read})
				}
				t.Render()
				return nil
			})
		},
	}
	list.Flags().BoolVar(&unread, "unread", false, "unread only")
	notif.AddCommand(list)
	notif.AddCommand(&cobra.Command{
		Use:   "read <notification-id>",
		Short: "Mark a notification read",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.MarkNotificationRead(ctx, args[0], viper.GetString("actor-id"))
			})
		},
	})
	return notif
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, workflow.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	bus := events.NewBus()
	e := workflow.New(conn, bus)
	dispatcher := &notify.Dispatcher{Repo: e.Repo}
	dispatcher.Register(bus)
	if err := fn(ctx, e); err != nil {
		return err
	}
	// Let in-flight notification deliveries land before the db closes.
	bus.Wait()
	return nil
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

func actor() domain.Actor {
	id := viper.GetString("actor-id")
	role := viper.GetString("actor-role")
	if id == "" || role == "" {
		if cfg, err := config.Load(viper.GetString("workspace")); err == nil {
			if id == "" {
				id = cfg.Actor.ID
			}
			if role == "" {
				role = cfg.Actor.Role
			}
		}
	}
	return domain.Actor{ID: id, Role: domain.Role(role)}
}

func parseEntityType(s string) (workflow.EntityType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "job":
		return workflow.EntityJob, nil
	case "workorder", "work-order", "work_order":
		return workflow.EntityWorkOrder, nil
	case "invoice":
		return workflow.EntityInvoice, nil
	}
	return "", fmt.Errorf("unknown entity type %q (use job, workorder, or invoice)", s)
}

func newTable(headers ...any) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row(headers))
	return t
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
