package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"Fenrir/internal/exploitdb"
)

func newExploitsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "exploits <关键词>...",
		Short: "在 Exploit-DB 索引中查找公开利用",
		Long:  "按标题子串、EDB-ID 或 CVE 编号查找，大小写不敏感。",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			corpus, err := exploitdb.LoadCSV(a.cfg.ExploitDB.Path)
			if err != nil {
				return fmt.Errorf("加载 Exploit-DB 索引失败: %w", err)
			}

			found := corpus.FindExploits(args)
			w := tabwriter.NewWriter(a.stdout, 0, 0, 3, ' ', 0)
			fmt.Fprintln(w, "关键词\tEDB-ID\t类型\t平台\t标题")
			for _, term := range args {
				records := found[term]
				if len(records) == 0 {
					fmt.Fprintf(w, "%s\t-\t-\t-\t未找到\n", term)
					continue
				}
				for _, e := range records {
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", term, e.EDBID, e.Type, e.Platform, e.Title)
				}
			}
			return w.Flush()
		},
	}
	return cmd
}
