package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/mission/pkg/mission"
	"github.com/randalmurphal/mission/pkg/mission/codec"
)

func newValidateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "validate FILE...",
		Short: "Load missions and report structural errors",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var failed int
			for _, path := range args {
				g, err := loadGraph(path, a)
				if err != nil {
					failed++
					fmt.Fprintf(cmd.OutOrStdout(), "%s: invalid\n", path)
					for _, line := range strings.Split(err.Error(), "\n") {
						fmt.Fprintf(cmd.OutOrStdout(), "  %s\n", line)
					}
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (%s)\n", path, describe(g))
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d missions invalid", failed, len(args))
			}
			return nil
		},
	}
}

func loadGraph(path string, a *app) (*mission.Graph, error) {
	tree, err := codec.FromFile(path)
	if err != nil {
		return nil, err
	}
	return mission.Load(tree, mission.WithLoadLogger(a.logger))
}

func describe(g *mission.Graph) string {
	parts := []string{fmt.Sprintf("mission %q, %d nodes", g.Name(), g.Len())}
	if params := g.Parameters(); len(params) > 0 {
		decls := make([]string, len(params))
		for i, p := range params {
			decls[i] = p.Name + ":" + p.Type.String()
		}
		parts = append(parts, "parameters "+strings.Join(decls, ", "))
	}
	if refs := g.ReferenceIDs(); len(refs) > 0 {
		parts = append(parts, "references "+strings.Join(refs, ", "))
	}
	return strings.Join(parts, "; ")
}
