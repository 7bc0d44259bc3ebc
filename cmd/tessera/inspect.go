package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/tessera-ml/tessera/internal/format"
	"github.com/tessera-ml/tessera/internal/ir"
	"github.com/tessera-ml/tessera/pkg/tgf"
)

func inspectCmd() *cli.Command {
	var (
		path         string
		fmtName      string
		showSections bool
		showOps      bool
		showConsts   bool
		showAll      bool
	)

	return &cli.Command{
		Name:  "inspect",
		Usage: "Inspect the contents of a model file",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "model",
				Aliases:     []string{"m"},
				Usage:       "path to model file",
				Destination: &path,
				Required:    true,
			},
			&cli.StringFlag{
				Name:        "format",
				Aliases:     []string{"f"},
				Usage:       "model format (tgf, graph-json)",
				Destination: &fmtName,
			},
			&cli.BoolFlag{Name: "sections", Usage: "show container section directory", Destination: &showSections},
			&cli.BoolFlag{Name: "ops", Usage: "list the operation sequence", Destination: &showOps},
			&cli.BoolFlag{Name: "consts", Usage: "list constant slots", Destination: &showConsts},
			&cli.BoolFlag{Name: "all", Usage: "show everything", Destination: &showAll},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			_ = ctx
			if showAll {
				showSections = true
				showOps = true
				showConsts = true
			}

			f, err := format.Normalize(fmtName)
			if err != nil {
				return err
			}
			if fmtName == "" && strings.HasSuffix(strings.ToLower(path), ".json") {
				f = format.GraphJSON
			}

			data, err := os.ReadFile(path)
			if err != nil {
				return err
			}

			if f == format.TGF && showSections {
				if err := printSections(data); err != nil {
					return err
				}
			}

			dec, err := format.Resolve(f)
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
			printGraph(g, showOps, showConsts)
			return nil
		},
	}
}

func printSections(data []byte) error {
	file, err := tgf.Parse(data)
	if err != nil {
		return err
	}
	defer file.Close()

	fmt.Printf("container: tgf v%d.%d, %d bytes, %d sections\n",
		file.Header.Major, file.Header.Minor, file.Header.FileSize, len(file.Sections))
	for _, s := range file.Sections {
		fmt.Printf("  %-10s offset=%-8d size=%d\n", sectionName(tgf.SectionType(s.Type)), s.Offset, s.Size)
	}
	fmt.Println()
	return nil
}

func sectionName(t tgf.SectionType) string {
	switch t {
	case tgf.SectionGraph:
		return "graph"
	case tgf.SectionConsts:
		return "consts"
	case tgf.SectionBindings:
		return "bindings"
	default:
		return fmt.Sprintf("0x%04x", uint32(t))
	}
}

func printGraph(g *ir.Graph, showOps, showConsts bool) {
	fmt.Printf("graph: %d slots, %d ops, %d consts\n", len(g.Slots), len(g.Ops), len(g.Consts))

	fmt.Println("inputs:")
	for _, b := range g.Inputs {
		def := g.Slots[b.Slot]
		fmt.Printf("  %-16s slot=%-4d %s %s\n", b.Name, b.Slot, def.DType, def.Shape)
	}
	fmt.Println("outputs:")
	for _, b := range g.Outputs {
		def := g.Slots[b.Slot]
		fmt.Printf("  %-16s slot=%-4d %s %s\n", b.Name, b.Slot, def.DType, def.Shape)
	}

	if showOps {
		fmt.Println("ops:")
		for i, op := range g.Ops {
			fmt.Printf("  %4d %-10s in=%v out=%d\n", i, op.Code, op.In, op.Out)
		}
	}
	if showConsts {
		fmt.Println("consts:")
		slots := make([]int, 0, len(g.Consts))
		for s := range g.Consts {
			slots = append(slots, s)
		}
		sort.Ints(slots)
		for _, s := range slots {
			def := g.Slots[s]
			fmt.Printf("  slot=%-4d %s %s (%d bytes)\n", s, def.DType, def.Shape, len(g.Consts[s]))
		}
	}
}
