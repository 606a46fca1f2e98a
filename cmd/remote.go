package cmd

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"grimm.is/toggled/internal/brand"
	"grimm.is/toggled/internal/client"
	"grimm.is/toggled/internal/config"
	"grimm.is/toggled/internal/i18n"
	"grimm.is/toggled/internal/toggle"
)

// remoteFlags are shared by every command that talks to a running daemon.
type remoteFlags struct {
	remote string
	apiKey string
}

func (r *remoteFlags) register(fs *flag.FlagSet) {
	def := os.Getenv(brand.ConfigEnvPrefix + "_REMOTE")
	if def == "" {
		def = config.DefaultListen
	}
	fs.StringVar(&r.remote, "remote", def, "Daemon API address")
	fs.StringVar(&r.remote, "r", def, "Daemon API address (short)")
	fs.StringVar(&r.apiKey, "api-key", os.Getenv(brand.ConfigEnvPrefix+"_API_KEY"), "API key")
	fs.StringVar(&r.apiKey, "k", os.Getenv(brand.ConfigEnvPrefix+"_API_KEY"), "API key (short)")
}

func (r *remoteFlags) client() *client.HTTPClient {
	var opts []client.ClientOption
	if r.apiKey != "" {
		opts = append(opts, client.WithAPIKey(r.apiKey))
	}
	return client.NewHTTPClient(r.remote, opts...)
}

func onOff(b bool) string {
	if b {
		return Printer.Sprintf(i18n.MsgStateOn)
	}
	return Printer.Sprintf(i18n.MsgStateOff)
}

// RunList prints the toggles of a running daemon.
func RunList(args []string) error {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	var rf remoteFlags
	rf.register(fs)
	typ := fs.String("type", "", "Only list this entity type")
	fs.StringVar(typ, "t", "", "Only list this entity type (short)")
	asJSON := fs.Bool("json", false, "Print JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}

	states, err := rf.client().ListToggles(context.Background(), *typ)
	if err != nil {
		return err
	}
	if *asJSON {
		return printJSON(os.Stdout, states)
	}
	printStates(os.Stdout, states)
	return nil
}

func printStates(out io.Writer, states []toggle.State) {
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	Printer.Fprintln(w, "ENTITY\tSTATE\tPENDING\tPHASE")
	for _, st := range states {
		pending := "-"
		if v, ok := st.Optimistic.Value(); ok {
			pending = onOff(v)
		}
		Printer.Fprintf(w, "%s\t%s\t%s\t%s\n", st.Entity, onOff(st.Display), pending, st.Phase)
	}
	w.Flush()
}

// RunToggle sets one toggle on a running daemon:
//
//	toggled toggle nat/*1 off
func RunToggle(args []string) error {
	fs := flag.NewFlagSet("toggle", flag.ContinueOnError)
	var rf remoteFlags
	rf.register(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 2 {
		return fmt.Errorf("usage: %s toggle [-remote addr] <entity> on|off", brand.BinaryName)
	}

	entity := fs.Arg(0)
	var on bool
	switch strings.ToLower(fs.Arg(1)) {
	case "on", "true", "1", "enable":
		on = true
	case "off", "false", "0", "disable":
		on = false
	default:
		return fmt.Errorf("%s", Printer.Sprintf(i18n.MsgInvalidState, fs.Arg(1)))
	}

	resp, err := rf.client().SetToggle(context.Background(), entity, on)
	if err != nil {
		return err
	}

	Printer.Printf(i18n.MsgToggleResult, entity+" "+onOff(on), outcomeText(resp.Result.Outcome))
	Printer.Println()
	if resp.Result.Message != "" {
		Printer.Printf("  %s\n", resp.Result.Message)
	}
	if resp.Error != "" {
		Printer.Printf("  %s\n", resp.Error)
	}
	if resp.Result.Outcome != toggle.OutcomeApplied {
		return fmt.Errorf("toggle %s: %s", entity, resp.Result.Outcome)
	}
	return nil
}

func outcomeText(o toggle.Outcome) string {
	switch o {
	case toggle.OutcomeApplied:
		return Printer.Sprintf(i18n.MsgOutcomeApplied)
	case toggle.OutcomeRejected:
		return Printer.Sprintf(i18n.MsgOutcomeRejected)
	case toggle.OutcomeBusy:
		return Printer.Sprintf(i18n.MsgOutcomeBusy)
	case toggle.OutcomeDenied:
		return Printer.Sprintf(i18n.MsgOutcomeDenied)
	case toggle.OutcomeManagedElsewhere:
		return Printer.Sprintf(i18n.MsgOutcomeElsewhere)
	}
	return string(o)
}

// RunStatus prints the daemon's snapshot summary.
func RunStatus(args []string) error {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	var rf remoteFlags
	rf.register(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	st, err := rf.client().Status(context.Background())
	if err != nil {
		return fmt.Errorf("%w (is the daemon running? start with: %s run <config>)", err, brand.BinaryName)
	}

	Printer.Printf("=== %s Status ===\n\n", brand.Name)
	Printer.Printf("Snapshot: #%d (%.0fs old)\n", st.Seq, st.AgeSeconds)
	Printer.Printf("Writable: %t\n", st.Writable)
	Printer.Printf("Toggles:  %d\n", st.Toggles)
	if st.LastError != "" {
		Printer.Printf("Last refresh error: %s\n", st.LastError)
	}
	return nil
}

// RunAudit prints recorded toggle attempts.
func RunAudit(args []string) error {
	fs := flag.NewFlagSet("audit", flag.ContinueOnError)
	var rf remoteFlags
	rf.register(fs)
	entity := fs.String("entity", "", "Only this entity")
	outcome := fs.String("outcome", "", "Only this outcome")
	since := fs.Duration("since", 0, "Only entries newer than this (e.g. 24h)")
	limit := fs.Int("n", 50, "Maximum entries")
	if err := fs.Parse(args); err != nil {
		return err
	}

	q := client.AuditQuery{Entity: *entity, Outcome: *outcome, Limit: *limit}
	if *since > 0 {
		q.Since = time.Now().Add(-*since)
	}
	entries, err := rf.client().Audit(context.Background(), q)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	Printer.Fprintln(w, "TIME\tENTITY\tREQUESTED\tOUTCOME\tACTOR\tDETAIL")
	for _, e := range entries {
		detail := e.Message
		if e.Error != "" {
			detail = e.Error
		}
		Printer.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			e.Timestamp.Local().Format(time.DateTime), e.Entity, onOff(e.Requested), e.Outcome, e.Actor, detail)
	}
	return w.Flush()
}

// RunWatch streams toggle and snapshot events until interrupted.
func RunWatch(args []string) error {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	var rf remoteFlags
	rf.register(fs)
	types := fs.String("types", "", "Comma-separated event types")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var filter []string
	if *types != "" {
		filter = strings.Split(*types, ",")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := rf.client().WatchEvents(ctx, filter, func(ev client.Event) {
		Printer.Printf("%s %-18s %s\n", ev.Timestamp.Local().Format(time.TimeOnly), ev.Topic, string(ev.Data))
	})
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
