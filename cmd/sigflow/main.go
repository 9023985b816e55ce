// =============================================================================
// sigflow 命令行入口
// =============================================================================
// 离线检查签名、渲染提示词、抽取回复，并针对脚本化的对话记录运行完整生成
//
// 使用方法:
//
//	sigflow parse '<dsl>'                                         # 输出解析后的结构（YAML）
//	sigflow render --dsl '<dsl>' --inputs in.yaml                  # 输出渲染后的 system/user 提示词
//	sigflow extract --dsl '<dsl>' --response out.txt               # 抽取并转换回复中的字段
//	sigflow run --dsl '<dsl>' --inputs in.yaml --transcript t.yaml # 针对脚本化回复运行完整生成
//	sigflow migrate --config sigflow.yaml up                       # 迁移尝试日志表
//	sigflow version                                               # 显示版本信息
// =============================================================================

package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
)

// =============================================================================
// 📦 版本信息（构建时注入）
// =============================================================================

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// exitError 携带退出码的错误，消息已写出时 msg 为空
type exitError struct {
	code int
	msg  string
}

func (e *exitError) Error() string { return e.msg }

// =============================================================================
// 🎯 主函数
// =============================================================================

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run 分发子命令并返回退出码
func run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		printUsage(stderr)
		return 2
	}

	var err error
	switch args[0] {
	case "parse":
		err = runParse(args[1:], stdout, stderr)
	case "render":
		err = runRender(args[1:], stdout, stderr)
	case "extract":
		err = runExtract(args[1:], stdout, stderr)
	case "run":
		err = runGenerate(args[1:], stdout, stderr)
	case "migrate":
		err = runMigrate(args[1:], stdout, stderr)
	case "version":
		printVersion(stdout)
	case "help", "-h", "--help":
		printUsage(stdout)
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", args[0])
		printUsage(stderr)
		return 2
	}

	if err == nil {
		return 0
	}
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	var exit *exitError
	if errors.As(err, &exit) {
		if exit.msg != "" {
			fmt.Fprintln(stderr, exit.msg)
		}
		return exit.code
	}
	fmt.Fprintf(stderr, "Error: %v\n", err)
	return 1
}

// =============================================================================
// 📋 版本和帮助
// =============================================================================

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "sigflow %s\n", Version)
	fmt.Fprintf(w, "  Build Time: %s\n", BuildTime)
	fmt.Fprintf(w, "  Git Commit: %s\n", GitCommit)
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, `sigflow - typed prompt signatures

Usage:
  sigflow <command> [options]

Commands:
  parse     Parse a signature and print its schema as YAML
  render    Render the prompt for a signature and inputs
  extract   Extract typed outputs from a model response
  run       Run a full generation against a scripted transcript
  migrate   Manage the attempt log schema (up, down, down-all, steps, goto, force, version, status, info)
  version   Show version information
  help      Show this help message

Options for 'render':
  --dsl <dsl>            Signature DSL
  --inputs <path>        Input values (YAML map)
  --config <path>        Configuration file (YAML)
  --feedback <line>      Feedback line to include (repeatable)

Options for 'extract':
  --dsl <dsl>            Signature DSL
  --response <path>      Model response text ('-' reads stdin)
  --stream-chunk <n>     Feed the response in chunks of n bytes
  --class-match <mode>   strict or fold (default fold)

Options for 'run':
  --dsl <dsl>            Signature DSL
  --inputs <path>        Input values (YAML map)
  --transcript <path>    Scripted model responses (YAML)
  --config <path>        Configuration file (YAML)
  --metrics-file <path>  Write Prometheus metrics in text format after the run

Options for 'migrate':
  --config <path>        Configuration file (YAML), uses attempt_log.database
  --url <dsn>            Database URL, overrides the config
  --driver <name>        postgres, mysql or sqlite (with --url)

Examples:
  sigflow parse '"Answer questions." question -> answer, confidence:number'
  sigflow render --dsl 'question -> answer' --inputs inputs.yaml
  sigflow extract --dsl 'question -> answer' --response reply.txt --stream-chunk 4
  sigflow run --dsl 'question -> answer' --inputs inputs.yaml --transcript transcript.yaml
  sigflow migrate --config sigflow.yaml status
  sigflow version`)
}
