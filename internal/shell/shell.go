// Package shell implements the interactive admin console.
//
// A Shell parses one command line at a time and renders results as tables.
// It is driven by go-prompt in cmd/viewtally and directly in tests.
package shell

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/c-bata/go-prompt"
	"github.com/olekukonko/tablewriter"

	"github.com/xtxerr/viewtally/internal/aggregation"
	"github.com/xtxerr/viewtally/internal/docstore"
	"github.com/xtxerr/viewtally/internal/errors"
	"github.com/xtxerr/viewtally/internal/export"
	"github.com/xtxerr/viewtally/internal/manager"
	"github.com/xtxerr/viewtally/internal/record"
	"github.com/xtxerr/viewtally/internal/stats"
)

// Backend is the subset of the manager used by the shell.
type Backend interface {
	AddEntity(ctx context.Context, url, deleteLoad string) (manager.Lists, error)
	DeleteEntity(ctx context.Context, id string) (string, error)
	ListEntities(ctx context.Context) ([]docstore.Document, error)
	ListHistory(ctx context.Context) ([]docstore.Document, error)
	RunAggregation(ctx context.Context) aggregation.Result
	Refresh(ctx context.Context) manager.RefreshResult
	Export(ctx context.Context) (export.Result, error)
	Summary(ctx context.Context, historyID string) (stats.Summary, error)
}

type command struct {
	name  string
	args  string
	help  string
	run   func(s *Shell, ctx context.Context, args []string) error
	ids   bool // argument completes to known ids
	quits bool
}

var commands []command

func init() {
	commands = []command{
		{name: "add", args: "<url> [deleteLoad]", help: "track a new url", run: (*Shell).add},
		{name: "delete", args: "<id>", help: "stop tracking an entity", run: (*Shell).delete, ids: true},
		{name: "list", help: "list active entities", run: (*Shell).list},
		{name: "history", help: "list history records", run: (*Shell).history},
		{name: "run", help: "run one aggregation pass", run: (*Shell).run},
		{name: "refresh", help: "aggregate, then list both collections", run: (*Shell).refresh},
		{name: "export", help: "write history to a parquet file", run: (*Shell).export},
		{name: "stats", args: "<historyId>", help: "summarize a history record", run: (*Shell).stats, ids: true},
		{name: "help", help: "show commands", run: (*Shell).help},
		{name: "exit", help: "leave the shell", quits: true},
	}
}

// Shell executes admin commands against a Backend.
type Shell struct {
	backend Backend
	out     io.Writer
	ids     []string // ids seen in the last listing, for completion
}

// New creates a shell writing to out.
func New(backend Backend, out io.Writer) *Shell {
	return &Shell{backend: backend, out: out}
}

// Execute runs one command line. It reports whether the shell should quit.
// Command errors are printed, not returned.
func (s *Shell) Execute(ctx context.Context, line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}
	name := strings.ToLower(fields[0])
	if name == "quit" {
		name = "exit"
	}

	for _, c := range commands {
		if c.name != name {
			continue
		}
		if c.quits {
			return true
		}
		if err := c.run(s, ctx, fields[1:]); err != nil {
			fmt.Fprintf(s.out, "error [%s]: %v\n", errors.CodeName(errors.ErrorToCode(err)), err)
		}
		return false
	}
	fmt.Fprintf(s.out, "unknown command %q, try help\n", fields[0])
	return false
}

// IsExit reports whether a line quits the shell.
func IsExit(line string) bool {
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "exit", "quit":
		return true
	}
	return false
}

// Complete suggests command names, and ids for commands taking one.
func (s *Shell) Complete(d prompt.Document) []prompt.Suggest {
	before := d.TextBeforeCursor()
	fields := strings.Fields(before)
	word := d.GetWordBeforeCursor()

	if len(fields) == 0 || (len(fields) == 1 && word != "") {
		sug := make([]prompt.Suggest, 0, len(commands))
		for _, c := range commands {
			sug = append(sug, prompt.Suggest{Text: c.name, Description: c.help})
		}
		return prompt.FilterHasPrefix(sug, word, true)
	}

	for _, c := range commands {
		if c.name != strings.ToLower(fields[0]) || !c.ids {
			continue
		}
		sug := make([]prompt.Suggest, 0, len(s.ids))
		for _, id := range s.ids {
			sug = append(sug, prompt.Suggest{Text: id})
		}
		return prompt.FilterHasPrefix(sug, word, false)
	}
	return nil
}

func (s *Shell) add(ctx context.Context, args []string) error {
	if len(args) == 0 || len(args) > 2 {
		return errors.NewMissingField("url")
	}
	var deleteLoad string
	if len(args) == 2 {
		deleteLoad = args[1]
	}
	lists, err := s.backend.AddEntity(ctx, args[0], deleteLoad)
	if err != nil {
		return err
	}
	s.renderEntities(lists.UpdatedURLs)
	return nil
}

func (s *Shell) delete(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.NewMissingField("id")
	}
	id, err := s.backend.DeleteEntity(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "deleted %s\n", id)
	return nil
}

func (s *Shell) list(ctx context.Context, _ []string) error {
	docs, err := s.backend.ListEntities(ctx)
	if err != nil {
		return err
	}
	s.renderEntities(docs)
	return nil
}

func (s *Shell) history(ctx context.Context, _ []string) error {
	docs, err := s.backend.ListHistory(ctx)
	if err != nil {
		return err
	}
	s.renderHistory(docs)
	return nil
}

func (s *Shell) run(ctx context.Context, _ []string) error {
	res := s.backend.RunAggregation(ctx)
	if !res.Success {
		return fmt.Errorf("stage %s: %w", res.Stage, res.Err)
	}
	s.renderPass(res)
	return nil
}

func (s *Shell) refresh(ctx context.Context, _ []string) error {
	res := s.backend.Refresh(ctx)
	if failed, ok := res.Failed(); ok {
		return fmt.Errorf("refresh %s: %w", failed.Stage, failed.Err)
	}
	s.renderPass(res.Aggregation)
	s.renderEntities(res.Entities)
	s.renderHistory(res.History)
	return nil
}

func (s *Shell) export(ctx context.Context, _ []string) error {
	res, err := s.backend.Export(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "exported %d records (%d rows) to %s\n", res.Records, res.Rows, res.Path)
	return nil
}

func (s *Shell) stats(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.NewMissingField("historyId")
	}
	sum, err := s.backend.Summary(ctx, args[0])
	if err != nil {
		return err
	}

	t := s.table("period", "loads")
	t.Append([]string{"total", fmt.Sprint(sum.Total)})
	years := make([]int, 0, len(sum.Years))
	for y := range sum.Years {
		years = append(years, y)
	}
	sort.Ints(years)
	for _, y := range years {
		t.Append([]string{fmt.Sprint(y), fmt.Sprint(sum.Years[y])})
	}
	for _, k := range sortedKeys(sum.Months) {
		t.Append([]string{k, fmt.Sprint(sum.Months[k])})
	}
	for _, k := range sortedKeys(sum.Days) {
		t.Append([]string{k, fmt.Sprint(sum.Days[k])})
	}
	t.Render()

	if sum.ActiveHour >= 0 {
		fmt.Fprintf(s.out, "busiest hour: %02dh\n", sum.ActiveHour)
	}
	if sum.P50 != nil {
		fmt.Fprintf(s.out, "per-hour loads p50=%.1f p90=%.1f p99=%.1f over %d hours\n",
			*sum.P50, *sum.P90, *sum.P99, sum.Hours)
	}
	return nil
}

func (s *Shell) help(context.Context, []string) error {
	t := s.table("command", "description")
	for _, c := range commands {
		t.Append([]string{strings.TrimSpace(c.name + " " + c.args), c.help})
	}
	t.Render()
	return nil
}

func (s *Shell) renderEntities(docs []docstore.Document) {
	t := s.table("id", "url", "deleteLoad", "createdAt")
	for _, d := range docs {
		t.Append([]string{d.ID, str(d.Fields[record.FieldURL]), str(d.Fields[record.FieldDeleteLoad]), str(d.Fields[record.FieldCreatedAt])})
	}
	t.Render()
	s.remember(docs)
}

func (s *Shell) renderHistory(docs []docstore.Document) {
	t := s.table("id", "videoId", "status", "loadCount", "lastUpdated")
	for _, d := range docs {
		t.Append([]string{
			d.ID,
			str(d.Fields[record.FieldVideoID]),
			str(d.Fields[record.FieldStatus]),
			str(d.Fields[record.FieldLoadCount]),
			str(d.Fields[record.FieldLastUpdated]),
		})
	}
	t.Render()
	s.remember(docs)
}

func (s *Shell) renderPass(res aggregation.Result) {
	fmt.Fprintf(s.out, "pass %s: bucket %s, %d records in %d batches, %d skipped, %d retired\n",
		res.RunID, res.Bucket, res.Records, res.Batches, res.Skipped, len(res.Retired))
}

func (s *Shell) table(header ...string) *tablewriter.Table {
	t := tablewriter.NewWriter(s.out)
	t.SetHeader(header)
	t.SetAutoWrapText(false)
	t.SetAutoFormatHeaders(false)
	return t
}

// remember adds ids to the completion set.
func (s *Shell) remember(docs []docstore.Document) {
	seen := make(map[string]bool, len(s.ids))
	for _, id := range s.ids {
		seen[id] = true
	}
	for _, d := range docs {
		if !seen[d.ID] {
			seen[d.ID] = true
			s.ids = append(s.ids, d.ID)
		}
	}
}

func str(v any) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprint(v)
}

func sortedKeys(m map[string]int64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
