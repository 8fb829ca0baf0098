package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"Fenrir/internal/config"
	"Fenrir/internal/utils"
)

// app 一次命令执行共享的状态
type app struct {
	cfgFile string
	v       *viper.Viper
	cfg     *config.Config
	stdout  io.Writer
	stderr  io.Writer
}

// NewRootCmd 构造根命令
func NewRootCmd() *cobra.Command {
	a := &app{
		v:      config.NewViper(),
		stdout: os.Stdout,
		stderr: os.Stderr,
	}

	root := &cobra.Command{
		Use:   "fenrir",
		Short: "Fenrir - 主机发现、端口扫描与漏洞关联工具",
		Long: `Fenrir 对目标执行主机发现、TCP端口与服务识别，
并将识别出的服务与本地漏洞库和 Exploit-DB 索引进行关联。

示例:
  fenrir scan -t 192.168.1.0/24 -p 1-1000
  fenrir scan -t example.com -p 80,443,8080 --format json -o result.json
  fenrir db seed
  fenrir db import nvdcve-1.1-2024.json.gz
  fenrir exploits vsftpd CVE-2011-2523`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			a.stdout = cmd.OutOrStdout()
			a.stderr = cmd.ErrOrStderr()
			return a.init()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&a.cfgFile, "config", "c", "", "配置文件路径 (默认: ./fenrir.yaml 或 ./configs/fenrir.yaml)")
	flags.String("log-level", "", "日志级别 (debug, info, warn, error)")
	flags.String("db", "", "漏洞库路径")
	flags.String("exploitdb", "", "Exploit-DB files_exploits.csv 路径")
	a.v.BindPFlag("log.level", flags.Lookup("log-level"))
	a.v.BindPFlag("database.path", flags.Lookup("db"))
	a.v.BindPFlag("exploitdb.path", flags.Lookup("exploitdb"))

	root.AddCommand(newScanCmd(a))
	root.AddCommand(newDBCmd(a))
	root.AddCommand(newExploitsCmd(a))

	return root
}

// Execute 命令行入口
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		pterm.Error.WithWriter(os.Stderr).Println(err)
		os.Exit(1)
	}
}

// init 读取配置文件、环境变量和已绑定的命令行参数，并初始化日志
func (a *app) init() error {
	if err := config.ReadFile(a.v, a.cfgFile); err != nil {
		return err
	}
	cfg, err := config.FromViper(a.v)
	if err != nil {
		return err
	}
	if err := utils.InitLogging(cfg.Log); err != nil {
		return fmt.Errorf("初始化日志失败: %w", err)
	}
	if cfg.Log.Level == "debug" {
		pterm.EnableDebugMessages()
	}
	a.cfg = cfg
	return nil
}
