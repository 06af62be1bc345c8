package app

import (
	"io"

	"github.com/spf13/cobra"
)

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe はWebサーバーモードで起動することを示す。
	CommandServe Command = "serve"
	// CommandMigrate はデータベースマイグレーションを実行することを示す。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck はヘルスチェックを実行することを示す。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
)

// NewRootCommand はサブコマンドを登録したルートコマンドを返す。
// 引数が無い場合はserveとして動作する。
func NewRootCommand(w io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:           "reviewlab",
		Short:         "리뷰공작소 place records web app",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCommand(cmd, w, CommandServe)
		},
	}
	root.SetOut(w)
	root.SetErr(w)

	root.AddCommand(
		&cobra.Command{
			Use:   string(CommandServe),
			Short: "Start the web server",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runCommand(cmd, w, CommandServe)
			},
		},
		&cobra.Command{
			Use:   string(CommandMigrate),
			Short: "Apply pending database migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runCommand(cmd, w, CommandMigrate)
			},
		},
		&cobra.Command{
			Use:   string(CommandHealthcheck),
			Short: "Check the /health endpoint of a running server",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runCommand(cmd, w, CommandHealthcheck)
			},
		},
	)

	return root
}
