package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/tessera-ml/tessera/internal/format"
	"github.com/tessera-ml/tessera/internal/ir"
)

func packCmd() *cli.Command {
	var (
		inPath  string
		outPath string
	)

	return &cli.Command{
		Name:  "pack",
		Usage: "Pack a graph-json description into a .tgf container",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "in",
				Aliases:     []string{"i"},
				Usage:       "path to graph-json input",
				Destination: &inPath,
				Required:    true,
			},
			&cli.StringFlag{
				Name:        "out",
				Aliases:     []string{"o"},
				Usage:       "path to .tgf output",
				Destination: &outPath,
				Required:    true,
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			_ = ctx

			data, err := os.ReadFile(inPath)
			if err != nil {
				return err
			}
			dec, err := format.Resolve(format.GraphJSON)
			if err != nil {
				return err
			}
			g, _, err := dec.Decode(data)
			if err != nil {
				return err
			}
			if err := ir.Verify(g, nil); err != nil {
				return err
			}

			packed, err := format.EncodeTGF(g)
			if err != nil {
				return err
			}
			if err := os.WriteFile(outPath, packed, 0o644); err != nil {
				return err
			}
			fmt.Printf("packed %s -> %s (%d bytes, %d ops)\n", inPath, outPath, len(packed), len(g.Ops))
			return nil
		},
	}
}
