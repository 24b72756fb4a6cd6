package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"github.com/BaSui01/storyflow/api"
	"github.com/BaSui01/storyflow/config"
	"github.com/BaSui01/storyflow/types"
	"github.com/BaSui01/storyflow/workflow"
)

// =============================================================================
// ▶️ run / resume 命令
// =============================================================================
// 在当前进程内执行，结果以 JSON 打印到 stdout，日志写到 stderr。
// 跨进程恢复需要 workflow.suspend_store=redis。

// runtimeFlag 收集重复的 --runtime key=value
type runtimeFlag workflow.RuntimeContext

func (f *runtimeFlag) String() string {
	pairs := make([]string, 0, len(*f))
	for k, v := range *f {
		pairs = append(pairs, k+"="+v)
	}
	return strings.Join(pairs, ",")
}

func (f *runtimeFlag) Set(s string) error {
	k, v, ok := strings.Cut(s, "=")
	if !ok || k == "" {
		return fmt.Errorf("runtime entry must be key=value, got %q", s)
	}
	if *f == nil {
		*f = runtimeFlag{}
	}
	(*f)[k] = v
	return nil
}

func runWorkflow(args []string) {
	workflowID, rest := positional(args, "run <workflow-id>")

	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	input := fs.String("input", "{}", "Run input as JSON")
	var runtime runtimeFlag
	fs.Var(&runtime, "runtime", "Runtime context entry key=value (repeatable)")
	fs.Parse(rest)

	os.Exit(withCLIApp(*configPath, func(ctx context.Context, app *App) error {
		wf, err := app.Catalog.Workflow(workflowID)
		if err != nil {
			return err
		}
		raw, err := jsonArg(*input)
		if err != nil {
			return err
		}
		if app.cfg.Workflow.SuspendStore == "memory" {
			app.logger.Warn("suspend store is in-memory, a suspended run cannot be resumed by another process")
		}
		res, err := app.Executor.Run(ctx, wf, raw, workflow.RuntimeContext(runtime))
		if err != nil {
			return err
		}
		return printJSON(os.Stdout, api.NewRunResponse(res))
	}))
}

func runResume(args []string) {
	runID, rest := positional(args, "resume <run-id>")

	fs := flag.NewFlagSet("resume", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	input := fs.String("input", "{}", "Resume input as JSON")
	fs.Parse(rest)

	os.Exit(withCLIApp(*configPath, func(ctx context.Context, app *App) error {
		raw, err := jsonArg(*input)
		if err != nil {
			return err
		}
		state, err := app.Executor.Inspect(ctx, runID)
		if err != nil {
			return err
		}
		wf, err := app.Catalog.Workflow(state.WorkflowID)
		if err != nil {
			return err
		}
		res, err := app.Executor.Resume(ctx, wf, runID, raw)
		if err != nil {
			return err
		}
		return printJSON(os.Stdout, api.NewRunResponse(res))
	}))
}

// withCLIApp 装配应用、执行 fn 并返回进程退出码
func withCLIApp(configPath string, fn func(ctx context.Context, app *App) error) int {
	cfg := mustLoadConfig(configPath)
	logger := initLogger(cliLogConfig(cfg.Log))
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := NewApp(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize", zap.Error(err))
		return 1
	}
	defer app.Close(context.Background())

	if err := fn(ctx, app); err != nil {
		printCLIError(os.Stderr, err)
		return 1
	}
	return 0
}

// cliLogConfig 把日志改写到 stderr，stdout 只输出结果
func cliLogConfig(lc config.LogConfig) config.LogConfig {
	lc.OutputPaths = []string{"stderr"}
	return lc
}

func positional(args []string, usage string) (string, []string) {
	if len(args) == 0 || strings.HasPrefix(args[0], "-") {
		fmt.Fprintf(os.Stderr, "Usage: storyflow %s [--config path] [--input json]\n", usage)
		os.Exit(2)
	}
	return args[0], args[1:]
}

func jsonArg(s string) (json.RawMessage, error) {
	if s == "" {
		return nil, nil
	}
	if !json.Valid([]byte(s)) {
		return nil, types.NewError(types.ErrInvalidRequest, "--input is not valid JSON")
	}
	return json.RawMessage(s), nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printCLIError 打印错误码、步骤和原因
func printCLIError(w io.Writer, err error) {
	var te *types.Error
	if !errors.As(err, &te) {
		fmt.Fprintf(w, "Error: %v\n", err)
		return
	}
	fmt.Fprintf(w, "Error [%s]: %s\n", te.Code, te.Message)
	if te.StepID != "" {
		fmt.Fprintf(w, "  step: %s\n", te.StepID)
	}
	if te.Cause != nil {
		fmt.Fprintf(w, "  cause: %v\n", te.Cause)
	}
}
