// Command coact runs one or more natural-language tasks through the
// plan/act orchestration kernel and prints the finalized answer(s).
//
// Mirrors the `if __name__ == "__main__"` entry point of manus.py: read a
// task (here, from a flag or a YAML batch file), run it to completion, and
// print the result. Flag conventions and logger setup follow the teacher's
// `example/cmd/assistant` main.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"goa.design/clue/log"

	"github.com/coactrun/coact/internal/config"
	"github.com/coactrun/coact/internal/orchestrator"
	"github.com/coactrun/coact/internal/telemetry"
)

// batchTask is one entry of a YAML task-batch file: a list of tasks to run
// sequentially against a single orchestrator instance.
type batchTask struct {
	Task         string `yaml:"task"`
	OutputFormat string `yaml:"output_format"`
}

func main() {
	var (
		taskF         = flag.String("task", "", "Natural-language task to run (mutually exclusive with -batch)")
		outputFormatF = flag.String("output-format", "", "Desired shape of the final answer, e.g. \"markdown\" or \"JSON\"")
		batchF        = flag.String("batch", "", "Path to a YAML file listing tasks to run sequentially")
		envFileF      = flag.String("env-file", ".env", "Path to a .env file to load before reading configuration")
		dbgF          = flag.Bool("debug", false, "Enable debug logging")
	)
	flag.Parse()

	if err := godotenv.Load(*envFileF); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "warning: loading %s: %v\n", *envFileF, err)
	}

	format := log.FormatJSON
	if log.IsTerminal() {
		format = log.FormatTerminal
	}
	ctx := log.Context(context.Background(), log.WithFormat(format))
	if *dbgF {
		ctx = log.Context(ctx, log.WithDebug())
	}

	cfg, err := config.Load()
	if err != nil {
		log.Error(ctx, err, log.KV{K: "msg", V: "loading configuration"})
		os.Exit(1)
	}

	orch, err := orchestrator.New(ctx, cfg, telemetry.NewClueLogger(), telemetry.NewClueTracer(), telemetry.NewClueMetrics())
	if err != nil {
		log.Error(ctx, err, log.KV{K: "msg", V: "constructing orchestrator"})
		os.Exit(1)
	}

	tasks, err := resolveTasks(*taskF, *outputFormatF, *batchF)
	if err != nil {
		log.Error(ctx, err, log.KV{K: "msg", V: "resolving tasks"})
		os.Exit(1)
	}

	exitCode := 0
	for _, t := range tasks {
		log.Print(ctx, log.KV{K: "task", V: t.Task})
		answer, err := orch.Execute(ctx, t.Task, t.OutputFormat)
		if err != nil {
			log.Error(ctx, err, log.KV{K: "msg", V: "executing task"}, log.KV{K: "task", V: t.Task})
			exitCode = 1
			continue
		}
		fmt.Println(answer)
	}
	os.Exit(exitCode)
}

// resolveTasks reads the task list from either -task or -batch. Exactly one
// must be set.
func resolveTasks(task, outputFormat, batchPath string) ([]batchTask, error) {
	if task != "" && batchPath != "" {
		return nil, fmt.Errorf("-task and -batch are mutually exclusive")
	}
	if task != "" {
		return []batchTask{{Task: task, OutputFormat: outputFormat}}, nil
	}
	if batchPath == "" {
		return nil, fmt.Errorf("one of -task or -batch is required")
	}

	raw, err := os.ReadFile(batchPath)
	if err != nil {
		return nil, fmt.Errorf("reading batch file: %w", err)
	}
	var tasks []batchTask
	if err := yaml.Unmarshal(raw, &tasks); err != nil {
		return nil, fmt.Errorf("parsing batch file: %w", err)
	}
	if len(tasks) == 0 {
		return nil, fmt.Errorf("batch file %s lists no tasks", batchPath)
	}
	return tasks, nil
}
