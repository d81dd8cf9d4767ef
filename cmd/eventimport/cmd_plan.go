package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/alecthomas/chroma/v2/quick"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/willibrandon/eventimport/internal/config"
	"github.com/willibrandon/eventimport/internal/importer"
	"github.com/willibrandon/eventimport/internal/logger"
	"github.com/willibrandon/eventimport/internal/models"
	"github.com/willibrandon/eventimport/internal/oracle"
	"github.com/xlab/treeprint"
)

type planOptions struct {
	sql        bool
	scn        uint64
	checkOrder bool
	noColor    bool
	params     []string
}

// newPlanCmd creates the plan subcommand.
func newPlanCmd() *cobra.Command {
	opts := &planOptions{}
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Show the import plan built from the configuration",
		Long: `Show the schemas, hooks and tables a run would process, in order, and warn
about filter parameters nothing resolves.

With --sql the copy and hook statements are printed as they would run at the
SCN given by --scn. With --check-order the target's foreign keys are read to
find tables configured before their parents.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return showPlan(cmd.Context(), cmd.OutOrStdout(), opts)
		},
	}
	cmd.Flags().BoolVar(&opts.sql, "sql", false, "print resolved statements")
	cmd.Flags().Uint64Var(&opts.scn, "scn", 0, "SCN to resolve statements at (required with --sql)")
	cmd.Flags().BoolVar(&opts.checkOrder, "check-order", false, "check table order against target foreign keys")
	cmd.Flags().BoolVar(&opts.noColor, "no-color", false, "disable syntax highlighting")
	cmd.Flags().StringArrayVar(&opts.params, "param", nil, "filter parameter name=value (repeatable)")
	return cmd
}

func showPlan(ctx context.Context, w io.Writer, opts *planOptions) error {
	if opts.sql && opts.scn == 0 {
		return withCode(ExitFatal, errors.New("--sql needs --scn"))
	}

	params, err := parseParams(opts.params)
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	initLogging(cfg)
	defer logger.Close()

	plan, err := cfg.Plan(params)
	if err != nil {
		return withCode(ExitConfigError, err)
	}

	fmt.Fprintln(w, renderPlanTree(plan))
	printUnresolved(w, importer.UnresolvedParams(plan))

	if opts.sql {
		fmt.Fprintln(w)
		printStatements(w, plan, models.ConsistencyToken(opts.scn), !opts.noColor)
	}

	if opts.checkOrder {
		ctx, stop := signalContext(ctx)
		defer stop()
		if err := checkPlanOrder(ctx, w, cfg.Target, plan); err != nil {
			return withCode(ExitFatal, err)
		}
	}
	return nil
}

// renderPlanTree renders the plan as a tree in execution order.
func renderPlanTree(plan *importer.Plan) string {
	tree := treeprint.New()
	tree.SetValue(fmt.Sprintf("Import from %s", plan.Link))

	schemas := tree.AddBranch(fmt.Sprintf("Schemas (%d)", len(plan.Schemas)))
	for _, s := range plan.Schemas {
		label := s
		if plan.DropSchemas {
			label += " (drop and recreate)"
		}
		schemas.AddNode(label)
	}
	if len(plan.TablespaceRemaps) > 0 {
		remaps := tree.AddBranch("Tablespace remaps")
		for _, r := range plan.TablespaceRemaps {
			remaps.AddNode(fmt.Sprintf("%s -> %s", r.From, r.To))
		}
	}

	addHooks(tree, "Pre-run", plan.PreRun)

	tables := tree.AddBranch(fmt.Sprintf("Tables (%d)", len(plan.Tables)))
	for i, t := range plan.Tables {
		label := fmt.Sprintf("%d. %s", i+1, t.TableRef)
		if t.Filter == "" {
			tables.AddNode(label + " (all rows)")
			continue
		}
		tables.AddMetaBranch("filtered", label).AddNode(oneLine(t.Filter))
	}

	addHooks(tree, "Post-run", plan.PostRun)

	if len(plan.Params) > 0 {
		params := tree.AddBranch("Parameters")
		for _, name := range importer.SortedKeys(plan.Params) {
			params.AddNode(fmt.Sprintf(":%s = %s", name, plan.Params[name]))
		}
	}
	return tree.String()
}

func addHooks(tree treeprint.Tree, phase string, hooks []string) {
	if len(hooks) == 0 {
		return
	}
	branch := tree.AddBranch(fmt.Sprintf("%s statements (%d)", phase, len(hooks)))
	for _, h := range hooks {
		branch.AddNode(oneLine(h))
	}
}

func printUnresolved(w io.Writer, unresolved map[string][]string) {
	if len(unresolved) == 0 {
		return
	}
	fmt.Fprintf(w, "%s\n", warningFormat("Unresolved parameters:"))
	for _, where := range importer.SortedKeys(unresolved) {
		names := make([]string, len(unresolved[where]))
		for i, n := range unresolved[where] {
			names[i] = ":" + n
		}
		fmt.Fprintf(w, "  %s: %s\n", where, strings.Join(names, ", "))
	}
}

// printStatements prints every statement a run would execute at token.
func printStatements(w io.Writer, plan *importer.Plan, token models.ConsistencyToken, colored bool) {
	params := plan.RunParams(token)
	copier := importer.NewCopier(nil, plan.Link, nil, importer.CopyOptions{})

	section := func(title string, stmts []string) {
		if len(stmts) == 0 {
			return
		}
		fmt.Fprintln(w, boldFormat(title))
		for _, s := range stmts {
			fmt.Fprintf(w, "%s;\n\n", highlightSQL(s, colored))
		}
	}

	pre := make([]string, len(plan.PreRun))
	for i, h := range plan.PreRun {
		pre[i] = importer.Resolve(h, token, params)
	}
	copies := make([]string, len(plan.Tables))
	for i, t := range plan.Tables {
		copies[i] = copier.Statement(t, token, params)
	}
	post := make([]string, len(plan.PostRun))
	for i, h := range plan.PostRun {
		post[i] = importer.Resolve(h, token, params)
	}

	section("-- Pre-run", pre)
	section("-- Copy", copies)
	section("-- Post-run", post)
}

// highlightSQL colors SQL for the terminal and returns it unchanged when
// highlighting is off or fails.
func highlightSQL(sql string, colored bool) string {
	if !colored || sql == "" || color.NoColor {
		return sql
	}
	var buf bytes.Buffer
	if err := quick.Highlight(&buf, sql, "sql", "terminal256", "monokai"); err != nil {
		return sql
	}
	return buf.String()
}

// checkPlanOrder compares the configured table order with the target's
// foreign keys and prints a dependency order when they disagree.
func checkPlanOrder(ctx context.Context, w io.Writer, target config.TargetConfig, plan *importer.Plan) error {
	db, err := oracle.Open(ctx, target)
	if err != nil {
		return err
	}
	defer db.Close()

	session, err := oracle.NewSession(ctx, db)
	if err != nil {
		return err
	}
	defer session.Release()

	deps, err := importer.FKDependencies(ctx, session, plan.Schemas)
	if err != nil {
		return err
	}

	tables := plan.TableRefs()
	violations := importer.OrderViolations(tables, deps)
	fmt.Fprintln(w)
	if len(violations) == 0 {
		fmt.Fprintln(w, goodFormat("Table order matches target foreign keys"))
		return nil
	}

	fmt.Fprintln(w, warningFormat(fmt.Sprintf("%d tables are copied before their parents:", len(violations))))
	for _, v := range violations {
		fmt.Fprintf(w, "  %s\n", v)
	}

	sorted, err := importer.TopologicalSort(tables, deps)
	if err != nil {
		fmt.Fprintf(w, "%s %v\n", badFormat("No valid order:"), err)
		return nil
	}
	fmt.Fprintln(w, boldFormat("\nA parent-first order:"))
	for i, t := range sorted {
		fmt.Fprintf(w, "  %d. %s\n", i+1, t)
	}
	return nil
}

// oneLine collapses whitespace so templates fit on one tree line.
func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
