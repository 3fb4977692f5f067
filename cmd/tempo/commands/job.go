package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/tempo/am"
	"github.com/teranos/tempo/errors"
	"github.com/teranos/tempo/logger"
	"github.com/teranos/tempo/pulse/cluster"
	"github.com/teranos/tempo/pulse/coordinator"
	"github.com/teranos/tempo/pulse/job"
	"github.com/teranos/tempo/pulse/schedule"
	"github.com/teranos/tempo/sym"
)

// JobCmd manages job definitions
var JobCmd = &cobra.Command{
	Use:   "job",
	Short: sym.Pulse + " Manage job definitions",
	Long: sym.Pulse + ` job — Manage job definitions

Job definitions live in the tempo database. Running nodes pick up changes
on the next sweep; run 'tempo job sweep' to apply them immediately.

Examples:
  tempo job org add acme
  tempo job add --org <id> --name nightly --handler log --every day --offset 2h
  tempo job add --org <id> --name hourly --handler webhook --cron "0 * * * *" \
      --payload '{"url":"https://hooks.example.com/run"}'
  tempo job import jobs.yaml
  tempo job history <job-id> --org <id>`,
}

var jobLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List jobs",
	RunE:  runJobLs,
}

var jobAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add or replace a job",
	Long: `Add a job, or replace one when --id names an existing job.

Exactly one of --cron, --every or --at selects the schedule. Without any
the job never runs until it is replaced.`,
	RunE: runJobAdd,
}

var jobRmCmd = &cobra.Command{
	Use:   "rm <job-id>",
	Short: "Delete a job",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobRm,
}

var jobImportCmd = &cobra.Command{
	Use:   "import <file.yaml>",
	Short: "Import organizations and jobs from YAML",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobImport,
}

var jobHistoryCmd = &cobra.Command{
	Use:   "history <job-id>",
	Short: "Show recent executions of a job",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobHistory,
}

var jobSweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Reload every job on the running cluster now",
	RunE:  runJobSweep,
}

var jobOrgCmd = &cobra.Command{
	Use:   "org",
	Short: "Manage organizations",
}

var jobOrgAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Add or rename an organization",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobOrgAdd,
}

var jobOrgLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List organizations",
	RunE:  runJobOrgLs,
}

var (
	jobOrg     string
	jobJSON    bool
	jobLimit   int
	jobID      string
	jobName    string
	jobHandler string
	jobPayload string
	jobTimeout time.Duration
	jobCron    string
	jobEvery   string
	jobCount   int64
	jobOffset  string
	jobZone    string
	jobAt      string
	jobStart   string
	jobUntil   string
)

func init() {
	jobLsCmd.Flags().StringVar(&jobOrg, "org", "", "Organization id (default: all)")
	jobLsCmd.Flags().BoolVarP(&jobJSON, "json", "j", false, "Output as JSON")

	jobAddCmd.Flags().StringVar(&jobOrg, "org", "", "Organization id")
	jobAddCmd.Flags().StringVar(&jobID, "id", "", "Job id (default: new)")
	jobAddCmd.Flags().StringVar(&jobName, "name", "", "Job name")
	jobAddCmd.Flags().StringVar(&jobHandler, "handler", "", "Handler name")
	jobAddCmd.Flags().StringVar(&jobPayload, "payload", "", "JSON payload passed to the handler")
	jobAddCmd.Flags().DurationVar(&jobTimeout, "timeout", 0, "Execution timeout (0 = none)")
	jobAddCmd.Flags().StringVar(&jobCron, "cron", "", "Cron expression (5 fields)")
	jobAddCmd.Flags().StringVar(&jobEvery, "every", "", "Period unit: second, minute, hour, day, week")
	jobAddCmd.Flags().Int64Var(&jobCount, "count", 1, "Units per period, with --every")
	jobAddCmd.Flags().StringVar(&jobOffset, "offset", "", "Offset into each period, with --every")
	jobAddCmd.Flags().StringVar(&jobZone, "zone", "", "IANA time zone (default UTC)")
	jobAddCmd.Flags().StringVar(&jobAt, "at", "", "Run once at this RFC 3339 time")
	jobAddCmd.Flags().StringVar(&jobStart, "start", "", "First allowed run (RFC 3339); without it --every floats from now")
	jobAddCmd.Flags().StringVar(&jobUntil, "until", "", "Last allowed run (RFC 3339)")
	_ = jobAddCmd.MarkFlagRequired("org")
	_ = jobAddCmd.MarkFlagRequired("name")
	_ = jobAddCmd.MarkFlagRequired("handler")

	jobRmCmd.Flags().StringVar(&jobOrg, "org", "", "Organization id")
	_ = jobRmCmd.MarkFlagRequired("org")

	jobHistoryCmd.Flags().StringVar(&jobOrg, "org", "", "Organization id")
	jobHistoryCmd.Flags().IntVarP(&jobLimit, "limit", "n", 20, "Number of executions")
	jobHistoryCmd.Flags().BoolVarP(&jobJSON, "json", "j", false, "Output as JSON")
	_ = jobHistoryCmd.MarkFlagRequired("org")

	jobOrgAddCmd.Flags().StringVar(&jobID, "id", "", "Organization id (default: new)")

	jobOrgCmd.AddCommand(jobOrgAddCmd)
	jobOrgCmd.AddCommand(jobOrgLsCmd)

	JobCmd.AddCommand(jobLsCmd)
	JobCmd.AddCommand(jobAddCmd)
	JobCmd.AddCommand(jobRmCmd)
	JobCmd.AddCommand(jobImportCmd)
	JobCmd.AddCommand(jobHistoryCmd)
	JobCmd.AddCommand(jobSweepCmd)
	JobCmd.AddCommand(jobOrgCmd)
}

// withStore runs fn against the configured database.
func withStore(fn func(ctx context.Context, cfg *am.Config, s *store) error) error {
	cfg, err := LoadConfig()
	if err != nil {
		return err
	}
	ctx := context.Background()
	s, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer s.Close()
	return fn(ctx, cfg, s)
}

func parseID(what, raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, errors.NewInvalidRequestError("%s %q is not a UUID", what, raw)
	}
	return id, nil
}

func parseTime(flag, raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, errors.NewInvalidRequestError("--%s: %v", flag, err)
	}
	return &t, nil
}

// jobRow is one line of `job ls`.
type jobRow struct {
	Org      uuid.UUID     `json:"org_id"`
	ID       uuid.UUID     `json:"id"`
	Name     string        `json:"name"`
	Handler  string        `json:"handler"`
	Schedule schedule.Spec `json:"schedule"`
	LastRun  *time.Time    `json:"last_run,omitempty"`
	NextRun  *time.Time    `json:"next_run,omitempty"`
}

func runJobLs(cmd *cobra.Command, args []string) error {
	return withStore(func(ctx context.Context, cfg *am.Config, s *store) error {
		orgs, err := s.jobs.ListOrganizations(ctx)
		if err != nil {
			return err
		}
		if jobOrg != "" {
			id, err := parseID("organization", jobOrg)
			if err != nil {
				return err
			}
			orgs = []job.Organization{{ID: id}}
		}

		var rows []jobRow
		for _, org := range orgs {
			defs, err := s.jobs.ListDefinitions(ctx, org.ID, -1, 0)
			if err != nil {
				return err
			}
			for _, def := range defs {
				row, err := describeJob(ctx, s, def)
				if err != nil {
					return err
				}
				rows = append(rows, row)
			}
		}

		if jobJSON {
			return printJSON(rows)
		}
		if len(rows) == 0 {
			pterm.Info.Println("No jobs")
			return nil
		}
		data := pterm.TableData{{"ORG", "ID", "NAME", "HANDLER", "SCHEDULE", "LAST RUN", "NEXT RUN"}}
		for _, r := range rows {
			data = append(data, []string{
				shortID(r.Org), r.ID.String(), r.Name, r.Handler,
				scheduleText(r.Schedule), timeText(r.LastRun), timeText(r.NextRun),
			})
		}
		return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
	})
}

// describeJob computes the next run the way an executor would from the
// last completed execution.
func describeJob(ctx context.Context, s *store, def job.Definition) (jobRow, error) {
	row := jobRow{Org: def.OrgID, ID: def.ID, Name: def.Name, Handler: def.Handler, Schedule: def.Schedule}

	last, err := s.executions.GetLastCompleted(ctx, def.ID, def.OrgID)
	if err != nil {
		return row, err
	}
	if last != nil {
		row.LastRun = &last.Scheduled
	}
	sched, err := def.Schedule.Build(nil)
	if err != nil {
		return row, err
	}
	if next, ok := sched.NextRun(row.LastRun); ok {
		row.NextRun = &next
	}
	return row, nil
}

func runJobAdd(cmd *cobra.Command, args []string) error {
	orgID, err := parseID("organization", jobOrg)
	if err != nil {
		return err
	}
	spec, err := specFromFlags()
	if err != nil {
		return err
	}
	def := &job.Definition{
		OrgID:    orgID,
		Name:     jobName,
		Handler:  jobHandler,
		Timeout:  jobTimeout,
		Schedule: spec,
	}
	if jobID != "" {
		if def.ID, err = parseID("job", jobID); err != nil {
			return err
		}
	}
	if jobPayload != "" {
		def.Payload = []byte(jobPayload)
	}

	return withStore(func(ctx context.Context, cfg *am.Config, s *store) error {
		if !s.handlers.Has(def.Handler) {
			pterm.Warning.Printf("No handler %q on this build (have: %s); executions will fail\n",
				def.Handler, strings.Join(s.handlers.Names(), ", "))
		}
		if existing, err := s.jobs.GetDefinition(ctx, def.ID, def.OrgID); err == nil {
			def.CreatedAt = existing.CreatedAt
		}
		if err := s.jobs.SaveDefinition(ctx, def); err != nil {
			return err
		}
		logger.PulseInfow("Job saved", logger.FieldJobID, def.ID, logger.FieldOrgID, def.OrgID, logger.FieldETag, def.ETag)
		pterm.Success.Printf("Saved job %s (%s)\n", def.Name, def.ID)
		return nil
	})
}

func specFromFlags() (schedule.Spec, error) {
	chosen := 0
	for _, set := range []bool{jobCron != "", jobEvery != "", jobAt != ""} {
		if set {
			chosen++
		}
	}
	if chosen > 1 {
		return schedule.Spec{}, errors.NewInvalidRequestError("use only one of --cron, --every and --at")
	}

	start, err := parseTime("start", jobStart)
	if err != nil {
		return schedule.Spec{}, err
	}
	until, err := parseTime("until", jobUntil)
	if err != nil {
		return schedule.Spec{}, err
	}
	bounded := schedule.Spec{Zone: jobZone, RunAtAndAfter: start, RunUntil: until}
	if start == nil {
		// bounded schedules count from the time the job is added
		now := time.Now().UTC().Truncate(time.Minute)
		bounded.RunAtAndAfter = &now
	}

	switch {
	case jobCron != "":
		bounded.Kind = schedule.KindCron
		bounded.Cron = jobCron
		return bounded, nil

	case jobAt != "":
		at, err := parseTime("at", jobAt)
		if err != nil {
			return schedule.Spec{}, err
		}
		return schedule.Spec{Kind: schedule.KindOneOff, At: at}, nil

	case jobEvery != "":
		unit, err := schedule.ParseUnit(jobEvery)
		if err != nil {
			return schedule.Spec{}, err
		}
		if start == nil && until == nil && jobOffset == "" && jobZone == "" {
			return schedule.Spec{Kind: schedule.KindUnboundedPeriodic, Unit: unit, PeriodCount: jobCount}, nil
		}
		bounded.Kind = schedule.KindPeriodic
		bounded.Unit = unit
		bounded.PeriodCount = jobCount
		bounded.Offset = jobOffset
		return bounded, nil
	}
	return schedule.Spec{Kind: schedule.KindNever}, nil
}

func runJobRm(cmd *cobra.Command, args []string) error {
	orgID, err := parseID("organization", jobOrg)
	if err != nil {
		return err
	}
	id, err := parseID("job", args[0])
	if err != nil {
		return err
	}
	return withStore(func(ctx context.Context, cfg *am.Config, s *store) error {
		if err := s.jobs.DeleteDefinition(ctx, id, orgID); err != nil {
			return err
		}
		pterm.Success.Printf("Deleted job %s\n", id)
		return nil
	})
}

func runJobImport(cmd *cobra.Command, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		return errors.Wrapf(err, "failed to open %s", args[0])
	}
	defer f.Close()

	orgs, defs, err := job.ParseImport(f)
	if err != nil {
		return errors.Wrapf(err, "failed to parse %s", args[0])
	}

	return withStore(func(ctx context.Context, cfg *am.Config, s *store) error {
		for _, org := range orgs {
			if err := s.jobs.SaveOrganization(ctx, org); err != nil {
				return err
			}
		}
		for i := range defs {
			if existing, err := s.jobs.GetDefinition(ctx, defs[i].ID, defs[i].OrgID); err == nil {
				defs[i].CreatedAt = existing.CreatedAt
			}
			if err := s.jobs.SaveDefinition(ctx, &defs[i]); err != nil {
				return errors.Wrapf(err, "job %q", defs[i].Name)
			}
		}
		logger.PulseInfow("Import complete", logger.FieldFile, args[0], "organizations", len(orgs), "jobs", len(defs))
		pterm.Success.Printf("Imported %d organizations and %d jobs from %s\n", len(orgs), len(defs), args[0])
		return nil
	})
}

func runJobHistory(cmd *cobra.Command, args []string) error {
	orgID, err := parseID("organization", jobOrg)
	if err != nil {
		return err
	}
	id, err := parseID("job", args[0])
	if err != nil {
		return err
	}
	return withStore(func(ctx context.Context, cfg *am.Config, s *store) error {
		execs, err := s.executions.History(ctx, id, orgID, jobLimit)
		if err != nil {
			return err
		}
		if jobJSON {
			return printJSON(execs)
		}
		if len(execs) == 0 {
			pterm.Info.Printf("No executions of job %s\n", id)
			return nil
		}
		data := pterm.TableData{{"SCHEDULED", "STATE", "DURATION", "RESULT"}}
		for _, e := range execs {
			duration, outcome := "", e.Error
			if e.State.Completed() {
				duration = e.CompletedAt.Sub(e.StartedAt).Round(time.Millisecond).String()
			}
			if e.State == job.StateSuccess && e.Result != nil {
				encoded, _ := json.Marshal(e.Result)
				outcome = string(encoded)
			}
			data = append(data, []string{timeText(&e.Scheduled), stateText(e.State), duration, outcome})
		}
		return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
	})
}

func runJobSweep(cmd *cobra.Command, args []string) error {
	return withStore(func(ctx context.Context, cfg *am.Config, s *store) error {
		peers := cfg.Cluster.Peers
		if len(peers) == 0 {
			peers = map[string]string{cfg.Cluster.NodeID: cfg.Cluster.ListenAddr}
		}
		transport := cluster.NewGRPCTransport(peers, logger.Logger)
		defer transport.Close()

		router := cluster.NewForwarder(cluster.RegionConfigFrom(cfg.Cluster), job.NewSerializer(s.registry), transport)
		coord := coordinator.New(coordinator.ConfigFrom(cfg.Scheduler), s.registry, s.jobs, router, nil, logger.Logger)

		res, err := coord.Sweep(ctx)
		if err != nil {
			return err
		}
		pterm.Success.Printf("%s Reloaded %d jobs in %d organizations (%v)\n",
			sym.Sweep, res.Jobs-res.Undelivered, res.Organizations, res.Duration.Round(time.Millisecond))
		if res.Undelivered > 0 {
			pterm.Warning.Printf("%d reloads were not delivered; is every node in [cluster.peers] running?\n", res.Undelivered)
		}
		return nil
	})
}

func runJobOrgAdd(cmd *cobra.Command, args []string) error {
	org := job.Organization{ID: uuid.New(), Name: args[0]}
	if jobID != "" {
		id, err := parseID("organization", jobID)
		if err != nil {
			return err
		}
		org.ID = id
	}
	return withStore(func(ctx context.Context, cfg *am.Config, s *store) error {
		if err := s.jobs.SaveOrganization(ctx, org); err != nil {
			return err
		}
		pterm.Success.Printf("Saved organization %s (%s)\n", org.Name, org.ID)
		return nil
	})
}

func runJobOrgLs(cmd *cobra.Command, args []string) error {
	return withStore(func(ctx context.Context, cfg *am.Config, s *store) error {
		orgs, err := s.jobs.ListOrganizations(ctx)
		if err != nil {
			return err
		}
		data := pterm.TableData{{"ID", "NAME"}}
		for _, org := range orgs {
			data = append(data, []string{org.ID.String(), org.Name})
		}
		return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
	})
}

func printJSON(v interface{}) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to format JSON")
	}
	fmt.Println(string(out))
	return nil
}

func shortID(id uuid.UUID) string {
	return id.String()[:8]
}

func timeText(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05 MST")
}

func stateText(s job.ExecutionState) string {
	switch s {
	case job.StateSuccess:
		return pterm.Green(string(s))
	case job.StateFailure:
		return pterm.Red(string(s))
	}
	return pterm.Yellow(string(s))
}

// scheduleText renders a schedule for humans:
//
//	every 2 hour +15m (Europe/Amsterdam)
//	cron 0 * * * *
//	once at 2024-06-01 09:00:00 UTC
func scheduleText(s schedule.Spec) string {
	var b strings.Builder
	switch s.Kind {
	case schedule.KindCron:
		fmt.Fprintf(&b, "cron %s", s.Cron)
	case schedule.KindOneOff:
		return "once at " + timeText(s.At)
	case schedule.KindNever:
		return "never"
	case schedule.KindPeriodic, schedule.KindUnboundedPeriodic:
		count := s.PeriodCount
		if count == 0 {
			count = 1
		}
		fmt.Fprintf(&b, "every %d %s", count, s.Unit)
		if s.Offset != "" {
			fmt.Fprintf(&b, " +%s", s.Offset)
		}
	default:
		return string(s.Kind)
	}
	if s.Zone != "" {
		fmt.Fprintf(&b, " (%s)", s.Zone)
	}
	return b.String()
}
