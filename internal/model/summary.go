package model

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/born-ml/neuralode/internal/nn"
)

// Summary renders one row per layer with its parameter count, and the total.
func (n *Net[B]) Summary() string {
	t := table.NewWriter()
	t.Style().Format.Footer = text.FormatDefault
	t.AppendHeader(table.Row{"#", "Layer", "Params"})
	for i, layer := range n.seq.Modules() {
		t.AppendRow(table.Row{i, fmt.Sprint(layer), nn.CountParameters(layer)})
	}
	t.AppendFooter(table.Row{"", "Total", nn.CountParameters[B](n)})
	return t.Render()
}
