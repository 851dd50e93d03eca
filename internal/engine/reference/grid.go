package reference

import (
	"math"

	"gonum.org/v1/gonum/integrate/quad"

	"scfcore/pkg/chem"
)

// gridPoint is one quadrature point with precomputed basis values.
type gridPoint struct {
	weight float64
	phi    []float64
	dphi   [][3]float64
}

type molecularGrid struct {
	points []gridPoint
}

// Radial scale factors in bohr, roughly the Bragg-Slater radius.
var radialScale = map[chem.ElementType]float64{
	chem.H:  0.661,
	chem.He: 0.529,
}

func gridSize(accuracy int) (radial, polar int) {
	return 10 + 5*accuracy, 5 + accuracy
}

func buildGrid(gridType string, accuracy int, atoms chem.AtomCollection, shells []shell) molecularGrid {
	nr, nt := gridSize(accuracy)
	np := 2 * nt
	cosT := make([]float64, nt)
	wT := make([]float64, nt)
	quad.Legendre{}.FixedLocations(cosT, wT, -1, 1)

	partition := becke
	if gridType == "SSF" {
		partition = ssf
	}

	var g molecularGrid
	for a, el := range atoms.Elements {
		R := radialScale[el]
		if R == 0 {
			R = 1
		}
		center := atoms.Positions[a]
		for i := 1; i <= nr; i++ {
			theta := float64(i) * math.Pi / float64(nr+1)
			x := math.Cos(theta)
			r := R * (1 + x) / (1 - x)
			wr := math.Pi / float64(nr+1) * math.Sin(theta) * math.Sin(theta) /
				math.Sqrt(1-x*x) * 2 * R / ((1 - x) * (1 - x)) * r * r
			for it := 0; it < nt; it++ {
				st := math.Sqrt(1 - cosT[it]*cosT[it])
				for ip := 0; ip < np; ip++ {
					phi := 2 * math.Pi * float64(ip) / float64(np)
					pt := chem.Position{
						center[0] + r*st*math.Cos(phi),
						center[1] + r*st*math.Sin(phi),
						center[2] + r*cosT[it],
					}
					w := wr * wT[it] * 2 * math.Pi / float64(np) * partition(a, pt, atoms.Positions)
					if w < 1e-15 {
						continue
					}
					gp := gridPoint{weight: w, phi: make([]float64, len(shells)), dphi: make([][3]float64, len(shells))}
					for mu, sh := range shells {
						gp.phi[mu], gp.dphi[mu] = sh.value(pt)
					}
					g.points = append(g.points, gp)
				}
			}
		}
	}
	return g
}

func becke(owner int, r chem.Position, centers chem.PositionCollection) float64 {
	return fuzzyWeight(owner, r, centers, func(mu float64) float64 {
		for k := 0; k < 3; k++ {
			mu = 1.5*mu - 0.5*mu*mu*mu
		}
		return 0.5 * (1 - mu)
	})
}

const ssfA = 0.64

func ssf(owner int, r chem.Position, centers chem.PositionCollection) float64 {
	return fuzzyWeight(owner, r, centers, func(mu float64) float64 {
		switch {
		case mu <= -ssfA:
			return 1
		case mu >= ssfA:
			return 0
		}
		x := mu / ssfA
		g := (35*x - 35*x*x*x + 21*math.Pow(x, 5) - 5*math.Pow(x, 7)) / 16
		return 0.5 * (1 - g)
	})
}

func fuzzyWeight(owner int, r chem.Position, centers chem.PositionCollection, cell func(float64) float64) float64 {
	if len(centers) == 1 {
		return 1
	}
	var total, mine float64
	for a := range centers {
		pa := 1.0
		ra := r.Distance(centers[a])
		for b := range centers {
			if a == b {
				continue
			}
			mu := (ra - r.Distance(centers[b])) / centers[a].Distance(centers[b])
			pa *= cell(mu)
			if pa == 0 {
				break
			}
		}
		total += pa
		if a == owner {
			mine = pa
		}
	}
	if total == 0 {
		return 0
	}
	return mine / total
}
