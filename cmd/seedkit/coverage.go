package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tordrt/seedkit/internal/config"
	"github.com/tordrt/seedkit/internal/coverage"
	"github.com/tordrt/seedkit/internal/db"
	"github.com/tordrt/seedkit/internal/enumerate"
	"github.com/tordrt/seedkit/internal/report"
)

func newCoverageCmd(root *rootOptions) *cobra.Command {
	var (
		expected        string
		present         string
		pageSize        int
		maxRows         int
		expectedMaxRows int
		showPresent     bool
		strict          bool
	)

	cmd := &cobra.Command{
		Use:   "coverage",
		Short: "Report which expected keys have no matching rows",
		Long: `Coverage scans two columns page by page, treats their distinct non-empty values
as sets and reports the expected keys that are present, the ones that are
missing, and the percentage covered.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) (err error) {
			expTable, expColumn, err := db.SplitColumnRef(expected)
			if err != nil {
				return err
			}
			presTable, presColumn, err := db.SplitColumnRef(present)
			if err != nil {
				return err
			}

			rt, err := newRuntime(cmd, root, config.NeedDatabase)
			if err != nil {
				return err
			}
			defer rt.finish(&err)

			ctx := cmd.Context()
			st, err := rt.Store(ctx)
			if err != nil {
				return err
			}

			if pageSize == 0 {
				pageSize = rt.cfg.Enumerate.PageSize
			}
			if !cmd.Flags().Changed("max-rows") {
				maxRows = rt.cfg.Enumerate.MaxRows
			}
			if !cmd.Flags().Changed("expected-max-rows") {
				expectedMaxRows = maxRows
			}

			expEnum, err := enumerate.New(st, enumerate.Options{PageSize: pageSize, MaxRows: expectedMaxRows}, rt.log, rt.metrics)
			if err != nil {
				return err
			}
			presEnum, err := enumerate.New(st, enumerate.Options{PageSize: pageSize, MaxRows: maxRows}, rt.log, rt.metrics)
			if err != nil {
				return err
			}

			expScan := expEnum.Column(ctx, expTable, expColumn)
			presScan := presEnum.Column(ctx, presTable, presColumn)
			res := coverage.Compare(expScan.Keys, presScan.Keys)

			rt.log.Info("coverage computed",
				zap.Int("expected", res.TotalExpected),
				zap.Int("covered", res.Covered.Len()),
				zap.Int("missing", res.Missing.Len()),
				zap.Int("percent", res.Percentage))

			rt.out.Coverage(report.Coverage{
				Expected:     expected,
				Present:      present,
				ExpectedScan: expScan,
				PresentScan:  presScan,
				Result:       res,
				ShowPresent:  showPresent,
			})

			if strict {
				if !expScan.Complete() || !presScan.Complete() {
					return fmt.Errorf("coverage scan incomplete")
				}
				if !res.Complete() {
					return fmt.Errorf("%d expected keys missing from %s", res.Missing.Len(), present)
				}
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&expected, "expected", "practice_problems.rule_id", "Column holding the expected keys (table.column)")
	f.StringVar(&present, "present", "guided_practice.rule_id", "Column holding the keys that are present (table.column)")
	f.IntVar(&pageSize, "page-size", 0, "Rows per page request (default: enumerate.page_size)")
	f.IntVar(&maxRows, "max-rows", 0, "Stop each scan after this many rows, 0 for no cap (default: enumerate.max_rows)")
	f.IntVar(&expectedMaxRows, "expected-max-rows", 0, "Row cap for the expected scan only (default: --max-rows)")
	f.BoolVar(&showPresent, "show-present", false, "Also list every covered key")
	f.BoolVar(&strict, "strict", false, "Exit non-zero when keys are missing or a scan was incomplete")
	return cmd
}
