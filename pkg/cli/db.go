package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"Fenrir/internal/cvedb"
)

func newDBCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "管理本地漏洞库",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "seed",
		Short: "写入内置漏洞数据",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(func(store *cvedb.Store) error {
				report, err := store.Seed()
				if err != nil {
					return err
				}
				pterm.Success.WithWriter(a.stdout).Printfln("已写入 %d 条记录", report.Loaded)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "import <文件>",
		Short: "导入 NVD 数据源或记录列表 (json, yaml, .gz, .zip)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(func(store *cvedb.Store) error {
				report, err := store.LoadFeedFile(args[0])
				if err != nil {
					return err
				}
				pterm.Success.WithWriter(a.stdout).Printfln("导入完成: 新增/更新 %d 条, 跳过 %d 条", report.Loaded, report.Skipped)
				return nil
			})
		},
	})

	var historyLimit int
	stats := &cobra.Command{
		Use:   "stats",
		Short: "显示漏洞库统计和导入历史",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(func(store *cvedb.Store) error {
				count, err := store.Count()
				if err != nil {
					return err
				}
				history, err := store.History(historyLimit)
				if err != nil {
					return err
				}

				fmt.Fprintf(a.stdout, "漏洞库: %s\n记录数: %d\n", store.Path(), count)
				if len(history) == 0 {
					return nil
				}
				fmt.Fprintln(a.stdout, "\n导入历史:")
				w := tabwriter.NewWriter(a.stdout, 0, 0, 3, ' ', 0)
				fmt.Fprintln(w, "时间\t来源\t新增/更新\t跳过")
				for _, h := range history {
					fmt.Fprintf(w, "%s\t%s\t%d\t%d\n", h.LastUpdate.Format("2006-01-02 15:04:05"), h.Source, h.Loaded, h.Skipped)
				}
				return w.Flush()
			})
		},
	}
	stats.Flags().IntVar(&historyLimit, "history", 10, "显示的导入历史条数")
	cmd.AddCommand(stats)

	return cmd
}

func (a *app) withStore(fn func(*cvedb.Store) error) error {
	store, err := cvedb.Open(a.cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("打开漏洞库失败: %w", err)
	}
	defer store.Close()
	return fn(store)
}
