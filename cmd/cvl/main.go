package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
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

	"civicline/internal/agent"
	"civicline/internal/app"
	"civicline/internal/config"
	"civicline/internal/db"
	"civicline/internal/dispatch"
	"civicline/internal/domain"
	"civicline/internal/engine"
	"civicline/internal/repo"
	"civicline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "cvl",
	Short: "Civicline CLI",
	Long: `Civicline processes citizen correspondence: requests are routed to
departments by keyword rules, processed by agents (classification,
summarization, response drafting), and every mutation is recorded in an
append-only audit trail anchored to a ledger.`,
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
	viper.SetEnvPrefix("CIVICLINE")
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
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(requestCmd())
	rootCmd.AddCommand(batchCmd())
	rootCmd.AddCommand(ruleCmd())
	rootCmd.AddCommand(agentCmd())
	rootCmd.AddCommand(orgCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(ledgerCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(serveCmd())
}

func initCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize workspace config",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
	return cmd
}

func requestCmd() *cobra.Command {
	req := &cobra.Command{Use: "request", Short: "Manage citizen requests"}
	req.AddCommand(requestCreateCmd())
	req.AddCommand(requestListCmd())
	req.AddCommand(requestShowCmd())
	req.AddCommand(requestUpdateCmd())
	req.AddCommand(requestDeleteCmd())
	req.AddCommand(requestTransitionCmd())
	req.AddCommand(requestRouteCmd())
	req.AddCommand(requestProcessCmd())
	return req
}

func requestCreateCmd() *cobra.Command {
	var subject, description, fullName, contact, reqType, priority string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a citizen request",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				cr, err := a.Engine.CreateRequest(ctx, engine.RequestCreateOptions{
					Subject:     subject,
					Description: description,
					FullName:    fullName,
					ContactInfo: contact,
					RequestType: reqType,
					Priority:    priority,
					ActorID:     viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(cr)
			})
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "request subject")
	cmd.Flags().StringVar(&description, "description", "", "request description")
	cmd.Flags().StringVar(&fullName, "full-name", "", "citizen full name")
	cmd.Flags().StringVar(&contact, "contact", "", "contact info")
	cmd.Flags().StringVar(&reqType, "type", "", "request type")
	cmd.Flags().StringVar(&priority, "priority", "", "priority (low, medium, high, urgent)")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}

func requestListCmd() *cobra.Command {
	var status string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List citizen requests",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Engine.Repo.ListRequests(ctx, status, limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Subject", "Status", "Department", "AI", "Created"})
				for _, cr := range items {
					dept := ""
					if cr.AssignedDepartmentID != nil {
						dept = *cr.AssignedDepartmentID
					}
					ai := ""
					if cr.AIProcessed {
						ai = cr.AIClassification
					}
					tw.AppendRow(table.Row{cr.ID, cr.Subject, cr.Status, dept, ai, cr.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	cmd.Flags().IntVar(&limit, "limit", 50, "max rows")
	return cmd
}

func requestShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a citizen request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				cr, err := a.Engine.Repo.GetRequest(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(cr)
			})
		},
	}
	return cmd
}

func requestUpdateCmd() *cobra.Command {
	var subject, description, priority string
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update a citizen request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				opts := engine.RequestUpdateOptions{ID: args[0], ActorID: viper.GetString("actor-id")}
				if cmd.Flags().Changed("subject") {
					opts.Subject = &subject
				}
				if cmd.Flags().Changed("description") {
					opts.Description = &description
				}
				if cmd.Flags().Changed("priority") {
					opts.Priority = &priority
				}
				cr, err := a.Engine.UpdateRequest(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(cr)
			})
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "request subject")
	cmd.Flags().StringVar(&description, "description", "", "request description")
	cmd.Flags().StringVar(&priority, "priority", "", "priority")
	return cmd
}

func requestDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Tombstone a citizen request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				return a.Engine.DeleteRequest(ctx, args[0], viper.GetString("actor-id"))
			})
		},
	}
	return cmd
}

func requestTransitionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "transition <id> <status>",
		Short: "Transition request status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				cr, err := a.Engine.Transition(ctx, args[0], args[1], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(cr)
			})
		},
	}
	return cmd
}

func requestRouteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "route <id>",
		Short: "Route request by keyword rules",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				cr, decision, warnings, err := a.Engine.ApplyRouting(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				for _, w := range warnings {
					fmt.Fprintln(os.Stderr, "warning:", w.Error())
				}
				return printJSONOrTable(map[string]any{
					"request":  cr,
					"decision": decision,
				})
			})
		},
	}
	return cmd
}

func requestProcessCmd() *cobra.Command {
	var agentID, action string
	var force bool
	cmd := &cobra.Command{
		Use:   "process <id>",
		Short: "Process a request with an agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				res, err := a.Dispatcher.ProcessRequest(ctx, args[0], agentID, action, dispatch.Options{
					ForceReprocess: force,
					ActorID:        viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
	cmd.Flags().StringVar(&agentID, "agent", "", "agent id")
	cmd.Flags().StringVar(&action, "action", agent.ActionFull, "action type (classification, summarization, response_generation, full)")
	cmd.Flags().BoolVar(&force, "force", false, "reprocess even if already processed")
	_ = cmd.MarkFlagRequired("agent")
	return cmd
}

func batchCmd() *cobra.Command {
	var agentID string
	var autoClassify, autoRespond, force bool
	cmd := &cobra.Command{
		Use:   "batch <request-id>...",
		Short: "Process a batch of requests",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				report, err := a.Dispatcher.ProcessBatch(ctx, args, agentID, dispatch.Options{
					AutoClassify:   autoClassify,
					AutoRespond:    autoRespond,
					ForceReprocess: force,
					ActorID:        viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(report)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Request", "Outcome", "Error"})
				for _, r := range report.Results {
					outcome := "failed"
					switch {
					case r.Skipped:
						outcome = "skipped"
					case r.Success:
						outcome = "ok"
					}
					tw.AppendRow(table.Row{r.RequestID, outcome, r.Error})
				}
				tw.Render()
				fmt.Printf("total=%d processed=%d succeeded=%d failed=%d\n",
					report.Summary.Total, report.Summary.Processed, report.Summary.Succeeded, report.Summary.Failed)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&agentID, "agent", "", "agent id")
	cmd.Flags().BoolVar(&autoClassify, "classify", false, "run classification only")
	cmd.Flags().BoolVar(&autoRespond, "respond", false, "run response generation only")
	cmd.Flags().BoolVar(&force, "force", false, "reprocess already processed requests")
	_ = cmd.MarkFlagRequired("agent")
	return cmd
}

func ruleCmd() *cobra.Command {
	rule := &cobra.Command{Use: "rule", Short: "Manage routing rules"}
	rule.AddCommand(ruleCreateCmd())
	rule.AddCommand(ruleListCmd())
	rule.AddCommand(ruleUpdateCmd())
	rule.AddCommand(ruleDeleteCmd())
	return rule
}

func ruleCreateCmd() *cobra.Command {
	var name, description, departmentID, positionID string
	var keywords []string
	var priority int
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a routing rule",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				rule := domain.TaskRule{
					Name:        name,
					Description: description,
					Keywords:    keywords,
					Priority:    priority,
					IsActive:    true,
				}
				if departmentID != "" {
					rule.DepartmentID = &departmentID
				}
				if positionID != "" {
					rule.PositionID = &positionID
				}
				created, err := a.Engine.CreateRule(ctx, rule, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(created)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "rule name")
	cmd.Flags().StringVar(&description, "description", "", "rule description")
	cmd.Flags().StringSliceVar(&keywords, "keyword", nil, "keyword (repeatable)")
	cmd.Flags().IntVar(&priority, "priority", 0, "rule priority")
	cmd.Flags().StringVar(&departmentID, "department", "", "target department id")
	cmd.Flags().StringVar(&positionID, "position", "", "target position id")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("keyword")
	_ = cmd.MarkFlagRequired("department")
	return cmd
}

func ruleListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List routing rules",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Engine.Repo.ListRules(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	return cmd
}

func ruleUpdateCmd() *cobra.Command {
	var name, description string
	var keywords []string
	var priority int
	var active bool
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update a routing rule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				rule, err := a.Engine.Repo.GetRule(ctx, args[0])
				if err != nil {
					return err
				}
				if cmd.Flags().Changed("name") {
					rule.Name = name
				}
				if cmd.Flags().Changed("description") {
					rule.Description = description
				}
				if cmd.Flags().Changed("keyword") {
					rule.Keywords = keywords
				}
				if cmd.Flags().Changed("priority") {
					rule.Priority = priority
				}
				if cmd.Flags().Changed("active") {
					rule.IsActive = active
				}
				updated, err := a.Engine.UpdateRule(ctx, rule, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(updated)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "rule name")
	cmd.Flags().StringVar(&description, "description", "", "rule description")
	cmd.Flags().StringSliceVar(&keywords, "keyword", nil, "keyword (repeatable)")
	cmd.Flags().IntVar(&priority, "priority", 0, "rule priority")
	cmd.Flags().BoolVar(&active, "active", true, "rule active flag")
	return cmd
}

func ruleDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a routing rule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				return a.Engine.DeleteRule(ctx, args[0], viper.GetString("actor-id"))
			})
		},
	}
	return cmd
}

func agentCmd() *cobra.Command {
	ag := &cobra.Command{Use: "agent", Short: "Manage agents"}
	ag.AddCommand(agentCreateCmd())
	ag.AddCommand(agentListCmd())
	return ag
}

func agentCreateCmd() *cobra.Command {
	var name, agentType, model string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				created, err := a.Engine.CreateAgent(ctx, domain.Agent{
					Name:     name,
					Type:     agentType,
					Config:   domain.AgentConfig{Model: model},
					IsActive: true,
				}, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(created)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "agent name")
	cmd.Flags().StringVar(&agentType, "type", "local", "agent type")
	cmd.Flags().StringVar(&model, "model", "", "model identifier")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func agentListCmd() *cobra.Command {
	var activeOnly bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List agents",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Engine.Repo.ListAgents(ctx, activeOnly)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	cmd.Flags().BoolVar(&activeOnly, "active", false, "only active agents")
	return cmd
}

func orgCmd() *cobra.Command {
	org := &cobra.Command{Use: "org", Short: "Manage organizational structure"}
	org.AddCommand(orgDepartmentCmd())
	org.AddCommand(orgPositionCmd())
	org.AddCommand(orgEmployeeCmd())
	return org
}

func orgDepartmentCmd() *cobra.Command {
	dept := &cobra.Command{Use: "department", Short: "Manage departments"}

	var id, name, parent string
	add := &cobra.Command{
		Use:   "add",
		Short: "Add a department",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				d := domain.Department{ID: id, Name: name}
				if d.ID == "" {
					d.ID = uuid.New().String()
				}
				if parent != "" {
					d.ParentID = &parent
				}
				if err := a.Engine.Repo.InsertDepartment(ctx, nil, d); err != nil {
					return err
				}
				return printJSONOrTable(d)
			})
		},
	}
	add.Flags().StringVar(&id, "id", "", "department id")
	add.Flags().StringVar(&name, "name", "", "department name")
	add.Flags().StringVar(&parent, "parent", "", "parent department id")
	_ = add.MarkFlagRequired("name")

	list := &cobra.Command{
		Use:   "list",
		Short: "List departments",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Engine.Repo.ListDepartments(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}

	dept.AddCommand(add, list)
	return dept
}

func orgPositionCmd() *cobra.Command {
	pos := &cobra.Command{Use: "position", Short: "Manage positions"}

	var id, departmentID, title string
	add := &cobra.Command{
		Use:   "add",
		Short: "Add a position",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				p := domain.Position{ID: id, DepartmentID: departmentID, Title: title}
				if p.ID == "" {
					p.ID = uuid.New().String()
				}
				if err := a.Engine.Repo.InsertPosition(ctx, nil, p); err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	add.Flags().StringVar(&id, "id", "", "position id")
	add.Flags().StringVar(&departmentID, "department", "", "department id")
	add.Flags().StringVar(&title, "title", "", "position title")
	_ = add.MarkFlagRequired("department")
	_ = add.MarkFlagRequired("title")

	var dept string
	list := &cobra.Command{
		Use:   "list",
		Short: "List positions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Engine.Repo.ListPositions(ctx, dept)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	list.Flags().StringVar(&dept, "department", "", "filter by department id")

	pos.AddCommand(add, list)
	return pos
}

func orgEmployeeCmd() *cobra.Command {
	emp := &cobra.Command{Use: "employee", Short: "Manage employees"}

	var id, fullName, positionID, email string
	add := &cobra.Command{
		Use:   "add",
		Short: "Add an employee",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				e := domain.Employee{ID: id, FullName: fullName, PositionID: positionID, Email: email}
				if e.ID == "" {
					e.ID = uuid.New().String()
				}
				if err := a.Engine.Repo.InsertEmployee(ctx, nil, e); err != nil {
					return err
				}
				return printJSONOrTable(e)
			})
		},
	}
	add.Flags().StringVar(&id, "id", "", "employee id")
	add.Flags().StringVar(&fullName, "full-name", "", "employee full name")
	add.Flags().StringVar(&positionID, "position", "", "position id")
	add.Flags().StringVar(&email, "email", "", "employee email")
	_ = add.MarkFlagRequired("full-name")
	_ = add.MarkFlagRequired("position")

	var position string
	list := &cobra.Command{
		Use:   "list",
		Short: "List employees",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Engine.Repo.ListEmployees(ctx, position)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	list.Flags().StringVar(&position, "position", "", "filter by position id")

	emp.AddCommand(add, list)
	return emp
}

func logCmd() *cobra.Command {
	logc := &cobra.Command{Use: "log", Short: "Inspect the audit trail"}
	var n int
	var relatedType, relatedID string
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Tail audit activities",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Engine.Repo.ListActivities(ctx, relatedType, relatedID, n)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Action", "Related", "Actor", "At"})
				for _, act := range items {
					tw.AppendRow(table.Row{act.ID, act.Action, act.RelatedType + "/" + act.RelatedID, act.ActorID, act.Timestamp})
				}
				tw.Render()
				return nil
			})
		},
	}
	tail.Flags().IntVar(&n, "n", 20, "number of activities")
	tail.Flags().StringVar(&relatedType, "related-type", "", "related entity type")
	tail.Flags().StringVar(&relatedID, "related-id", "", "related entity id")
	logc.AddCommand(tail)
	return logc
}

func ledgerCmd() *cobra.Command {
	lg := &cobra.Command{Use: "ledger", Short: "Inspect blockchain records"}
	var entityType, entityID string
	list := &cobra.Command{
		Use:   "list",
		Short: "List blockchain records",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Engine.Repo.ListBlockchainRecords(ctx, entityType, entityID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Entity", "Action", "Status", "Tx"})
				for _, rec := range items {
					tx := ""
					if rec.TransactionHash != nil {
						tx = *rec.TransactionHash
					}
					tw.AppendRow(table.Row{rec.ID, rec.EntityType + "/" + rec.EntityID, rec.Action, rec.Status, tx})
				}
				tw.Render()
				return nil
			})
		},
	}
	list.Flags().StringVar(&entityType, "entity-type", "", "entity type filter")
	list.Flags().StringVar(&entityID, "entity-id", "", "entity id filter")
	lg.AddCommand(list)
	return lg
}

func apikeyCmd() *cobra.Command {
	ak := &cobra.Command{Use: "apikey", Short: "Manage API keys"}

	var name string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create an API key for the current actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				raw := make([]byte, 24)
				if _, err := rand.Read(raw); err != nil {
					return err
				}
				secret := "cvl_" + hex.EncodeToString(raw)
				key := domain.APIKey{
					ID:      uuid.New().String(),
					ActorID: viper.GetString("actor-id"),
					Name:    name,
					KeyHash: repo.HashAPIKey(secret),
				}
				if err := a.Engine.Repo.InsertAPIKey(ctx, nil, key); err != nil {
					return err
				}
				fmt.Printf("API key (store it now, it is not retrievable later): %s\n", secret)
				return printJSONOrTable(key)
			})
		},
	}
	create.Flags().StringVar(&name, "name", "", "key label")

	list := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Engine.Repo.ListAPIKeys(ctx, "")
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}

	del := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				return a.Engine.Repo.DeleteAPIKey(ctx, args[0])
			})
		},
	}

	ak.AddCommand(create, list, del)
	return ak
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var allowLegacyActor bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			a, err := app.Open(workspace)
			if err != nil {
				return err
			}
			defer a.Close()
			if addr == "" {
				addr = a.Config.Server.Addr
			}
			authCfg := server.AuthConfig{
				JWTSecret:              os.Getenv("CIVICLINE_JWT_SECRET"),
				AllowLegacyActorHeader: allowLegacyActor,
			}
			if authCfg.JWTSecret == "" {
				authCfg.JWTSecret = a.Config.Server.JWTSecret
			}
			if authCfg.JWTSecret == "" && !allowLegacyActor {
				return fmt.Errorf("CIVICLINE_JWT_SECRET is required unless --allow-legacy-actor-header is set")
			}
			handler, err := server.New(server.Config{
				Engine:     a.Engine,
				Dispatcher: a.Dispatcher,
				BasePath:   basePath,
				Auth:       authCfg,
			})
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
			fmt.Printf("Serving Civicline API on http://%s%s\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (defaults to config)")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&allowLegacyActor, "allow-legacy-actor-header", false, "accept X-Actor-Id without credentials")
	return cmd
}

// --- helpers ---

func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	a, err := app.Open(viper.GetString("workspace"))
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
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
