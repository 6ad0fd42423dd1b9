package schedule

import (
	"math"
	"sort"
	"strings"

	"prodline/internal/domain"
)

// RawMaterialPrefix marks material codes drawn straight from stock
// regardless of where their node sits in the DAG.
const RawMaterialPrefix = "RM-"

type requirement struct {
	total     float64
	unit      string
	nodeNames map[string]bool
}

// ValidateMaterials aggregates the non-derived stock requirements of the
// relevant nodes (DAG start nodes, plus any raw-material-class code on any
// node) scaled by the plan quantity, and compares them to live stock. The
// result is advisory: shortages never block a launch.
func ValidateMaterials(nodes []domain.Node, startNodes map[string]bool, planQty float64, stock map[string]domain.Material) []domain.MaterialWarning {
	reqs := map[string]*requirement{}
	for _, n := range nodes {
		for _, m := range n.Materials {
			if m.IsDerived {
				continue
			}
			if !startNodes[n.ID] && !strings.HasPrefix(m.MaterialCode, RawMaterialPrefix) {
				continue
			}
			r := reqs[m.MaterialCode]
			if r == nil {
				r = &requirement{nodeNames: map[string]bool{}}
				reqs[m.MaterialCode] = r
			}
			r.total += m.Required * planQty
			r.nodeNames[n.Name] = true
			if r.unit == "" {
				if mat, ok := stock[m.MaterialCode]; ok {
					r.unit = mat.Unit
				}
			}
		}
	}

	codes := make([]string, 0, len(reqs))
	for code := range reqs {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	var warnings []domain.MaterialWarning
	for _, code := range codes {
		r := reqs[code]
		available := 0.0
		if mat, ok := stock[code]; ok {
			available = mat.Stock
		}
		if available >= r.total {
			continue
		}
		names := make([]string, 0, len(r.nodeNames))
		for name := range r.nodeNames {
			names = append(names, name)
		}
		sort.Strings(names)
		warnings = append(warnings, domain.MaterialWarning{
			NodeNames:    names,
			MaterialCode: code,
			Required:     r.total,
			Available:    available,
			Shortage:     r.total - available,
			Unit:         r.unit,
		})
	}
	return warnings
}

// Reserve computes the pre-production reservation and planned output for a
// node. With a positive output quantity the per-output material ratio is
// scaled by the plan quantity and inflated by the expected defect share;
// otherwise requirements are reserved proportionally to the plan quantity
// alone.
func Reserve(n domain.Node, defectRate, planQty float64) (reserved, planned map[string]float64) {
	reserved = map[string]float64{}
	rate := defectRate
	if rate < 0 {
		rate = 0
	}
	if rate > 100 {
		rate = 100
	}
	if n.OutputQty > 0 {
		scaledOutput := n.OutputQty * planQty
		expectedDefects := scaledOutput * rate / 100
		for _, m := range n.Materials {
			ratio := m.Required / n.OutputQty
			reserved[m.MaterialCode] += math.Ceil(scaledOutput*ratio + expectedDefects*ratio)
		}
	} else {
		for _, m := range n.Materials {
			reserved[m.MaterialCode] += m.Required * planQty
		}
	}
	if n.OutputCode != "" {
		planned = map[string]float64{n.OutputCode: n.OutputQty * planQty}
	}
	if len(reserved) == 0 {
		reserved = nil
	}
	return reserved, planned
}
