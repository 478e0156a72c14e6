package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"BNBChain-AgentKit/internal/validate"
)

// main 校验 agent 定义目录，存在问题时退出码为 1。
func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		root       string
		asJSON     bool
		minAgents  int
		minLocales int
		skip       []string
	)
	cmd := &cobra.Command{
		Use:           "validate-agents [root]",
		Short:         "校验 agents、locales、meta.json、bsc.address 与 JSON Schema",
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				root = args[0]
			}
			layout := validate.DefaultLayout(root)
			layout.MinAgents, layout.MinLocales = minAgents, minLocales
			for _, s := range skip {
				switch s {
				case "agents":
					layout.AgentsDir = ""
				case "locales":
					layout.LocalesDir = ""
				case "meta":
					layout.MetaFile = ""
				case "address":
					layout.AddressFile = ""
				case "schema":
					layout.SchemaFile = ""
				default:
					return fmt.Errorf("未知的校验项 %q", s)
				}
			}

			report, err := validate.Run(layout)
			if err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), "校验失败:", err)
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if err := enc.Encode(report); err != nil {
					return err
				}
			} else {
				for _, f := range report.Findings {
					fmt.Fprintln(out, f.String())
				}
				fmt.Fprintf(out, "%d 项问题（%v）\n", len(report.Findings), report.Suites)
			}
			if !report.OK() {
				return fmt.Errorf("发现 %d 项问题", len(report.Findings))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&root, "root", ".", "项目根目录")
	cmd.Flags().BoolVar(&asJSON, "json", false, "以 JSON 输出报告")
	cmd.Flags().IntVar(&minAgents, "min-agents", 0, "agent 文件数量下限")
	cmd.Flags().IntVar(&minLocales, "min-locales", 0, "locale 目录数量下限")
	cmd.Flags().StringSliceVar(&skip, "skip", nil, "跳过的校验项: agents,locales,meta,address,schema")
	return cmd
}
