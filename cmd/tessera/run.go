package main

import (
	"context"
	"fmt"
	"os"

	"github.com/goccy/go-json"
	"github.com/urfave/cli/v3"

	"github.com/tessera-ml/tessera/internal/ir"
	"github.com/tessera-ml/tessera/internal/tensor"
	"github.com/tessera-ml/tessera/pkg/engine"
)

type runInput struct {
	Shape []int     `json:"shape"`
	Data  []float32 `json:"data"`
}

type runOutput struct {
	Shape []int     `json:"shape"`
	Data  []float32 `json:"data"`
}

func runCmd() *cli.Command {
	var (
		modelPath  string
		inputsPath string
	)

	return &cli.Command{
		Name:  "run",
		Usage: "Load a model and run one compute",
		Flags: append(append(engineFlags(), loggingFlags()...),
			&cli.StringFlag{
				Name:        "model",
				Aliases:     []string{"m"},
				Usage:       "path to model file",
				Destination: &modelPath,
				Required:    true,
			},
			&cli.StringFlag{
				Name:        "inputs",
				Aliases:     []string{"i"},
				Usage:       "path to a JSON file of f32 input tensors keyed by binding name",
				Destination: &inputsPath,
				Required:    true,
			},
		),
		Action: func(ctx context.Context, c *cli.Command) error {
			applyEngineConfig(c, LoadConfig())
			log := newLog()

			ectx, err := engine.NewContext(engine.Options{
				Device:        device,
				Power:         power,
				ThreadHint:    int(threads),
				Format:        modelFormat,
				AllowFallback: allowFallback,
				Logger:        log,
			})
			if err != nil {
				return err
			}
			defer ectx.Dispose()
			if ectx.FellBack() {
				log.Warn("preferred device unavailable", "backend", ectx.Backend())
			}

			data, err := os.ReadFile(modelPath)
			if err != nil {
				return err
			}
			model, err := ectx.Load(ctx, data, nil)
			if err != nil {
				return err
			}
			defer model.Close()

			feeds, err := readInputs(inputsPath)
			if err != nil {
				return err
			}
			pending, err := model.Compute(engine.Named(feeds), engine.None())
			if err != nil {
				return err
			}
			outputs, err := pending.Wait(ctx)
			if err != nil {
				return err
			}

			return writeOutputs(outputs)
		},
	}
}

func readInputs(path string) (map[string]*tensor.Buffer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var raw map[string]runInput
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse inputs %s: %w", path, err)
	}
	feeds := make(map[string]*tensor.Buffer, len(raw))
	for name, in := range raw {
		buf, err := tensor.FromF32(ir.Shape(in.Shape), in.Data)
		if err != nil {
			return nil, fmt.Errorf("input %q: %w", name, err)
		}
		feeds[name] = buf
	}
	return feeds, nil
}

func writeOutputs(outputs map[string]*tensor.Buffer) error {
	out := make(map[string]runOutput, len(outputs))
	for name, buf := range outputs {
		vals, err := buf.F32s()
		if err != nil {
			return err
		}
		out[name] = runOutput{Shape: []int(buf.Dims), Data: vals}
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
