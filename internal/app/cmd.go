package app

import (
	"flag"
	"fmt"
	"io"

	"github.com/hitoshi/stockast/internal/edition"
)

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe はAPIサーバーモードで起動することを示す。
	CommandServe Command = "serve"
	// CommandWorker はジョブコンシューマ・日次トリガー・クリーンアップを起動することを示す。
	CommandWorker Command = "worker"
	// CommandMigrate はデータベースマイグレーションを実行することを示す。
	CommandMigrate Command = "migrate"
	// CommandTrigger は指定版の生成ジョブを1回だけ投入することを示す。外部cron用。
	CommandTrigger Command = "trigger"
	// CommandHealthcheck はヘルスチェックを実行することを示す。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
)

// ParseCommand はコマンドライン引数からサブコマンドを解析する。
// 引数が空またはサポート外のコマンドの場合はCommandServeを返す。
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandServe
	}

	switch args[0] {
	case "worker":
		return CommandWorker
	case "serve":
		return CommandServe
	case "migrate":
		return CommandMigrate
	case "trigger":
		return CommandTrigger
	case "healthcheck":
		return CommandHealthcheck
	default:
		return CommandServe
	}
}

// TriggerOptions はtriggerサブコマンドのオプション。
type TriggerOptions struct {
	// Date は対象の版日付。nilの場合は現在の版。
	Date  *edition.Date
	Force bool
}

// ParseTriggerOptions はtriggerサブコマンドの引数（サブコマンド名を除く）を解析する。
func ParseTriggerOptions(args []string, output io.Writer) (TriggerOptions, error) {
	fs := flag.NewFlagSet(string(CommandTrigger), flag.ContinueOnError)
	if output != nil {
		fs.SetOutput(output)
	}
	date := fs.String("date", "", "版日付（YYYY-MM-DD、省略時は現在の版）")
	force := fs.Bool("force", false, "既存のブリーフィングも再生成する")
	if err := fs.Parse(args); err != nil {
		return TriggerOptions{}, err
	}
	if fs.NArg() > 0 {
		return TriggerOptions{}, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}

	opts := TriggerOptions{Force: *force}
	if *date != "" {
		d, err := edition.ParseDate(*date)
		if err != nil {
			return TriggerOptions{}, fmt.Errorf("invalid --date: %w", err)
		}
		opts.Date = &d
	}
	return opts, nil
}
