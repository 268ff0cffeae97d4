package app

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/hitoshi/swim/internal/config"
	"github.com/hitoshi/swim/internal/security"
)

// サブコマンド名。
const (
	CommandServe        = "serve"
	CommandMigrate      = "migrate"
	CommandHealthcheck  = "healthcheck"
	CommandPruneSlots   = "prune-slots"
	CommandHashPassword = "hash-password"
)

// NewRootCommand はswimのルートコマンドを生成する。サブコマンドなしではserveを実行する。
// ログとコマンドの出力はwに書き込む。
func NewRootCommand(w io.Writer) *cobra.Command {
	var configFile string

	load := func() (*config.Config, error) {
		cfg, err := Init(w, configFile)
		if err != nil {
			return nil, fmt.Errorf("initialization failed: %w", err)
		}
		return cfg, nil
	}

	serveCmd := &cobra.Command{
		Use:   CommandServe,
		Short: "CMSのHTTPサーバーを起動する",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			return runServe(cfg)
		},
	}

	root := &cobra.Command{
		Use:           "swim",
		Short:         "DB駆動のCMSカーネル",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          serveCmd.RunE,
	}
	root.SetOut(w)
	root.SetErr(w)
	root.PersistentFlags().StringVar(&configFile, "config", "", "設定ファイルのパス（既定: ./swim.yaml）")

	root.AddCommand(
		serveCmd,
		newMigrateCommand(w, load),
		newHealthcheckCommand(),
		&cobra.Command{
			Use:   CommandPruneSlots,
			Short: "添付先を失ったスロットを削除する",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, err := load()
				if err != nil {
					return err
				}
				return runPrune(cfg)
			},
		},
		&cobra.Command{
			Use:   CommandHashPassword + " <password>",
			Short: "Basic認証用のbcryptハッシュを出力する",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				hash, err := security.HashPassword(args[0])
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), hash)
				return nil
			},
		},
	)

	return root
}

func newMigrateCommand(w io.Writer, load func() (*config.Config, error)) *cobra.Command {
	migrateCmd := &cobra.Command{
		Use:   CommandMigrate,
		Short: "データベースマイグレーションを適用する",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			return runMigrate(cfg)
		},
	}

	var steps int
	downCmd := &cobra.Command{
		Use:   "down",
		Short: "適用済みのマイグレーションを戻す",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if steps <= 0 {
				return errors.New("--steps must be positive")
			}
			cfg, err := load()
			if err != nil {
				return err
			}
			return runMigrateDown(cfg, steps)
		},
	}
	downCmd.Flags().IntVar(&steps, "steps", 1, "戻すマイグレーションの件数")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "現在のマイグレーションのバージョンを表示する",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			return runMigrateVersion(cmd.OutOrStdout(), cfg)
		},
	}

	migrateCmd.AddCommand(downCmd, versionCmd)
	return migrateCmd
}

// newHealthcheckCommand は軽量なヘルスチェックコマンドを返す。設定の読み込みは行わない。
func newHealthcheckCommand() *cobra.Command {
	var port string
	cmd := &cobra.Command{
		Use:   CommandHealthcheck,
		Short: "起動中のサーバーのヘルスチェックを行う",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHealthcheck(port)
		},
	}
	defaultPort := os.Getenv(config.EnvPrefix + "_SERVER_PORT")
	if defaultPort == "" {
		defaultPort = "8080"
	}
	cmd.Flags().StringVar(&port, "port", defaultPort, "サーバーのポート")
	return cmd
}
