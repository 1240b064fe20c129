package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"time"

	"github.com/ashita-ai/workbench"
	"github.com/ashita-ai/workbench/internal/mcp"
)

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parseObject(flagName, raw string) (map[string]any, error) {
	if raw == "" {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, fmt.Errorf("-%s: %w", flagName, err)
	}
	return m, nil
}

func requireRun(fs *flag.FlagSet, runID int64) error {
	if runID <= 0 {
		return fmt.Errorf("%s: -run is required", fs.Name())
	}
	return nil
}

// requestFlags are shared by the commands that issue an invocation.
type requestFlags struct {
	action  string
	params  string
	key     string
	event   string
	confirm string
	yes     bool
	timeout time.Duration
}

// confirmer reports which actions need a human confirmation.
type confirmer interface {
	RequiresConfirmation(actionID string) bool
}

// chooseKey returns key when given, a key derived from event when given,
// and a fresh key otherwise. Only an explicit key or event lets a second
// invocation observe an earlier run.
func chooseKey(action, key, event string) string {
	switch {
	case key != "":
		return key
	case event != "":
		return workbench.IdempotencyKey(action, event)
	default:
		return workbench.FreshIdempotencyKey(action)
	}
}

func (r *requestFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&r.action, "action", "", "action id, e.g. admin.create.school")
	fs.StringVar(&r.params, "params", "", "action parameters as a JSON object")
	fs.StringVar(&r.key, "key", "", "idempotency key (a fresh one is minted when empty)")
	fs.StringVar(&r.event, "event", "", "event id the key is derived from; repeating it observes the earlier run")
	fs.StringVar(&r.confirm, "confirm", "", "confirmation id for actions that require one")
	fs.BoolVar(&r.yes, "yes", false, "confirm the action without a separate confirmation id")
	fs.DurationVar(&r.timeout, "timeout", 0, "observation timeout (defaults to the action's class timeout)")
}

func (r *requestFlags) request(c confirmer) (workbench.Request, error) {
	if r.action == "" {
		return workbench.Request{}, errors.New("-action is required")
	}
	params, err := parseObject("params", r.params)
	if err != nil {
		return workbench.Request{}, err
	}
	req := workbench.Request{
		ActionID:       r.action,
		Params:         params,
		IdempotencyKey: chooseKey(r.action, r.key, r.event),
		ConfirmationID: r.confirm,
	}
	if req.ConfirmationID == "" && r.yes && c.RequiresConfirmation(r.action) {
		req.ConfirmationID = workbench.NewConfirmationToken()
	}
	return req, nil
}

func printOutcome(out workbench.Outcome) error {
	fmt.Println(out.Message())
	if out.Kind == workbench.OutcomeFailed || out.Kind == workbench.OutcomeCancelled {
		return out.Err()
	}
	return nil
}

func cmdInvoke(ctx context.Context, c *workbench.Client, args []string) error {
	fs := flag.NewFlagSet("invoke", flag.ContinueOnError)
	var rf requestFlags
	rf.register(fs)
	detach := fs.Bool("detach", false, "print the run handle without waiting")
	if err := fs.Parse(args); err != nil {
		return err
	}
	req, err := rf.request(c)
	if err != nil {
		return err
	}

	if *detach {
		h, err := c.Invoke(ctx, req)
		if err != nil {
			return err
		}
		return printJSON(h)
	}

	out, err := c.Run(ctx, req, rf.timeout)
	if err != nil {
		return err
	}
	return printOutcome(out)
}

func cmdStart(ctx context.Context, c *workbench.Client, args []string) error {
	fs := flag.NewFlagSet("start", flag.ContinueOnError)
	var rf requestFlags
	rf.register(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	req, err := rf.request(c)
	if err != nil {
		return err
	}
	return startAndWait(ctx, c, req, rf.timeout)
}

// startAndWait starts req in the background and prints its one settlement.
func startAndWait(ctx context.Context, c *workbench.Client, req workbench.Request, timeout time.Duration) error {
	task, err := c.Start(ctx, req, timeout, nil)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "started run %d\n", task.Handle().RunID)

	s, err := task.Wait(ctx)
	if err != nil {
		return err
	}
	fmt.Println(s.Message())
	if s.Err != nil {
		return s.Err
	}
	if k := s.Kind(); k == workbench.OutcomeFailed || k == workbench.OutcomeCancelled {
		return s.Outcome.Err()
	}
	return nil
}

func cmdStatus(ctx context.Context, c *workbench.Client, args []string) error {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	runID := fs.Int64("run", 0, "run id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireRun(fs, *runID); err != nil {
		return err
	}
	st, err := c.Status(ctx, *runID)
	if err != nil {
		return err
	}
	return printJSON(st)
}

func cmdWait(ctx context.Context, c *workbench.Client, args []string) error {
	fs := flag.NewFlagSet("wait", flag.ContinueOnError)
	runID := fs.Int64("run", 0, "run id")
	action := fs.String("action", "", "action id; when set the outcome is interpreted")
	timeout := fs.Duration("timeout", 30*time.Second, "how long to wait")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireRun(fs, *runID); err != nil {
		return err
	}

	if *action != "" {
		out, err := c.Observe(ctx, *action, workbench.RunHandle{RunID: *runID}, *timeout)
		if err != nil {
			return err
		}
		return printOutcome(out)
	}

	res, err := c.WaitForCompletion(ctx, *runID, *timeout)
	if err != nil {
		return err
	}
	if res.TimedOut {
		fmt.Fprintf(os.Stderr, "run %d is still %s\n", *runID, res.Status.State)
	}
	return printJSON(res.Status)
}

func cmdArtifacts(ctx context.Context, c *workbench.Client, args []string) error {
	fs := flag.NewFlagSet("artifacts", flag.ContinueOnError)
	runID := fs.Int64("run", 0, "list the artifacts of this run")
	id := fs.String("id", "", "fetch one artifact by id")
	conversation := fs.String("conversation", "", "list artifacts for a conversation")
	limit := fs.Int("limit", 20, "maximum artifacts when listing by conversation")
	action := fs.String("interpret", "", "summarize the run's artifacts as this action")
	if err := fs.Parse(args); err != nil {
		return err
	}

	switch {
	case *id != "":
		a, err := c.Artifact(ctx, *id)
		if err != nil {
			return err
		}
		return printJSON(a)
	case *runID > 0:
		arts, err := c.Artifacts(ctx, *runID)
		if err != nil {
			return err
		}
		if *action != "" {
			fmt.Println(workbench.Interpret(*action, arts).Text)
			return nil
		}
		return printJSON(arts)
	default:
		conv := *conversation
		if conv == "" {
			conv = c.ConversationID()
		}
		arts, err := c.ListArtifacts(ctx, workbench.ArtifactQuery{ConversationID: conv, Limit: *limit})
		if err != nil {
			return err
		}
		return printJSON(arts)
	}
}

func cmdList(ctx context.Context, c *workbench.Client, args []string) error {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	entity := fs.String("entity", "", "entity type, e.g. schools")
	filters := fs.String("filters", "", "filters as a JSON object")
	pageSize := fs.Int("page-size", 0, "page size (defaults to WORKBENCH_PAGE_SIZE)")
	pages := fs.Int("pages", 1, "number of pages to load; 0 loads everything")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *entity == "" {
		return errors.New("list: -entity is required")
	}
	f, err := parseObject("filters", *filters)
	if err != nil {
		return err
	}

	list := c.NewList(workbench.ListQuery{EntityType: *entity, Filters: f, PageSize: *pageSize})
	res, err := list.FetchInitial(ctx)
	for loaded := 1; err == nil; loaded++ {
		if res == workbench.StillLoading {
			fmt.Fprintln(os.Stderr, stillLoadingMessage(list.Snapshot().RunID))
			break
		}
		snap := list.Snapshot()
		if !snap.HasMore || (*pages > 0 && loaded >= *pages) {
			break
		}
		res, err = list.LoadMore(ctx)
	}
	if err != nil {
		return err
	}
	return printJSON(list.Snapshot())
}

// stillLoadingMessage points at the run that is still producing a page. A
// later list starts a new session and would not pick that run up.
func stillLoadingMessage(runID int64) string {
	if runID <= 0 {
		return "page is still loading"
	}
	return fmt.Sprintf("page is still loading in run %d; follow it with `workbench wait -run %d` and read it with `workbench artifacts -run %d`", runID, runID, runID)
}

func uploadFlags(fs *flag.FlagSet) (file, purpose, mediaType, sensitivity *string) {
	file = fs.String("file", "", "path of the file to upload")
	purpose = fs.String("purpose", "csv_import", "upload purpose")
	mediaType = fs.String("type", "", "media type (guessed from the extension when empty)")
	sensitivity = fs.String("sensitivity", "", "sensitivity label")
	return
}

func readUpload(file, purpose, mediaType, sensitivity string) (workbench.UploadRequest, error) {
	if file == "" {
		return workbench.UploadRequest{}, errors.New("-file is required")
	}
	data, err := os.ReadFile(file)
	if err != nil {
		return workbench.UploadRequest{}, fmt.Errorf("read %s: %w", file, err)
	}
	if mediaType == "" {
		mediaType = mime.TypeByExtension(filepath.Ext(file))
	}
	if mediaType == "" {
		mediaType = "application/octet-stream"
	}
	return workbench.UploadRequest{
		Purpose:     purpose,
		MediaType:   mediaType,
		Filename:    filepath.Base(file),
		Sensitivity: sensitivity,
		Content:     data,
	}, nil
}

func cmdUpload(ctx context.Context, c *workbench.Client, args []string) error {
	fs := flag.NewFlagSet("upload", flag.ContinueOnError)
	file, purpose, mediaType, sensitivity := uploadFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	req, err := readUpload(*file, *purpose, *mediaType, *sensitivity)
	if err != nil {
		return err
	}
	ref, err := c.Upload(ctx, req)
	if err != nil {
		return err
	}
	return printJSON(ref)
}

func cmdImport(ctx context.Context, c *workbench.Client, args []string) error {
	fs := flag.NewFlagSet("import", flag.ContinueOnError)
	file, purpose, mediaType, sensitivity := uploadFlags(fs)
	entity := fs.String("entity", "", "entity type the rows create, e.g. students")
	action := fs.String("action", "admin.csv_import", "import action id")
	key := fs.String("key", "", "idempotency key (a fresh one is minted when empty)")
	event := fs.String("event", "", "event id the key is derived from; repeating it observes the earlier run")
	yes := fs.Bool("yes", false, "confirm the import")
	timeout := fs.Duration("timeout", 0, "observation timeout (defaults to the import timeout)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *entity == "" {
		return errors.New("import: -entity is required")
	}
	if *mediaType == "" {
		*mediaType = "text/csv"
	}
	up, err := readUpload(*file, *purpose, *mediaType, *sensitivity)
	if err != nil {
		return err
	}
	ref, err := c.Upload(ctx, up)
	if err != nil {
		return err
	}

	req := importRequest(*action, *entity, *key, *event, *yes, ref)
	return startAndWait(ctx, c, req, *timeout)
}

func importRequest(action, entity, key, event string, yes bool, ref workbench.ObjectReference) workbench.Request {
	req := workbench.Request{
		ActionID:       action,
		Params:         map[string]any{"entity_type": entity, "object": ref},
		IdempotencyKey: chooseKey(action, key, event),
	}
	if yes {
		req.ConfirmationID = workbench.NewConfirmationToken()
	}
	return req
}

func cmdEvents(ctx context.Context, c *workbench.Client, args []string) error {
	fs := flag.NewFlagSet("events", flag.ContinueOnError)
	runID := fs.Int64("run", 0, "run id")
	since := fs.String("since", "", "resume after this event id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireRun(fs, *runID); err != nil {
		return err
	}

	events, errs := c.Events(ctx, *runID, *since)
	enc := json.NewEncoder(os.Stdout)
	for ev := range events {
		if err := enc.Encode(ev); err != nil {
			return err
		}
	}
	return <-errs
}

func cmdInput(ctx context.Context, c *workbench.Client, args []string) error {
	fs := flag.NewFlagSet("input", flag.ContinueOnError)
	runID := fs.Int64("run", 0, "run id")
	body := fs.String("json", "", "input as a JSON object")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireRun(fs, *runID); err != nil {
		return err
	}
	input, err := parseObject("json", *body)
	if err != nil {
		return err
	}
	if input == nil {
		return errors.New("input: -json is required")
	}
	return c.SubmitInput(ctx, *runID, input)
}

func cmdCancel(ctx context.Context, c *workbench.Client, args []string) error {
	fs := flag.NewFlagSet("cancel", flag.ContinueOnError)
	runID := fs.Int64("run", 0, "run id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireRun(fs, *runID); err != nil {
		return err
	}
	return c.Cancel(ctx, *runID)
}

func cmdRetry(ctx context.Context, c *workbench.Client, args []string) error {
	fs := flag.NewFlagSet("retry", flag.ContinueOnError)
	runID := fs.Int64("run", 0, "run id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireRun(fs, *runID); err != nil {
		return err
	}
	return c.Retry(ctx, *runID)
}

func cmdPending(ctx context.Context, c *workbench.Client, args []string) error {
	fs := flag.NewFlagSet("pending", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	entries, err := c.PendingRuns(ctx)
	if err != nil {
		return err
	}
	return printJSON(entries)
}

func cmdReattach(ctx context.Context, c *workbench.Client, args []string) error {
	fs := flag.NewFlagSet("reattach", flag.ContinueOnError)
	timeout := fs.Duration("timeout", 0, "observation timeout per run (defaults per action)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	settlements, err := c.ReattachPending(ctx, *timeout, nil)
	if err != nil {
		return err
	}
	if len(settlements) == 0 {
		fmt.Println("No unsettled runs.")
	}
	for _, s := range settlements {
		fmt.Printf("run %d (%s): %s\n", s.Handle.RunID, s.ActionID, s.Message())
	}
	return nil
}

func cmdPolicy(ctx context.Context, c *workbench.Client, args []string) error {
	fs := flag.NewFlagSet("policy", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	p, err := c.PolicyPrompt(ctx)
	if err != nil {
		return err
	}
	fmt.Println(p)
	return nil
}

func cmdMCP(_ context.Context, c *workbench.Client, args []string) error {
	fs := flag.NewFlagSet("mcp", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	srv := mcp.New(mcp.Config{
		Orchestrator:   c,
		ConversationID: c.ConversationID(),
		PluginID:       c.PluginID(),
		Version:        c.Version(),
	})
	return srv.ServeStdio()
}
