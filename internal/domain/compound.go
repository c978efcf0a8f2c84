package domain

// Coordinates holds one conformer's per-atom positions as parallel arrays.
type Coordinates struct {
	X []float64 `json:"x"`
	Y []float64 `json:"y"`
	Z []float64 `json:"z"`
}

// BondTopology lists bonds as two parallel atom-index arrays plus bond order.
type BondTopology struct {
	First  []int `json:"aid1"`
	Second []int `json:"aid2"`
	Order  []int `json:"order"`
}

type Geometry struct {
	Coords     Coordinates  `json:"coords"`
	Bonds      BondTopology `json:"bonds"`
	Elements   []int        `json:"elements"`
	Has3DModel bool         `json:"has3DModel"`
}

// CompoundRecord is a resolved compound. A record only exists once its
// identifier is known; every other field may still be empty.
type CompoundRecord struct {
	Identifier      int64     `json:"cid"`
	DisplayName     string    `json:"displayName,omitempty"`
	Formula         string    `json:"formula,omitempty"`
	MolecularWeight *float64  `json:"molecularWeight,omitempty"`
	PreviewImageURL string    `json:"previewImageUrl,omitempty"`
	Geometry        *Geometry `json:"geometry,omitempty"`
}

type Properties struct {
	Formula         string  `json:"formula"`
	MolecularWeight float64 `json:"molecularWeight"`
}

// CompoundPatch carries the fields produced by one detail fetch. Each fetch
// owns a disjoint set of fields, so patches can be applied in any order.
type CompoundPatch struct {
	DisplayName     *string
	Properties      *Properties
	Geometry        *Geometry
	PreviewImageURL *string
}

// Apply writes the non-nil fields of p into record.
func (p CompoundPatch) Apply(record *CompoundRecord) {
	if record == nil {
		return
	}
	if p.DisplayName != nil {
		record.DisplayName = *p.DisplayName
	}
	if p.Properties != nil {
		weight := p.Properties.MolecularWeight
		record.Formula = p.Properties.Formula
		record.MolecularWeight = &weight
	}
	if p.Geometry != nil {
		record.Geometry = CloneGeometry(p.Geometry)
	}
	if p.PreviewImageURL != nil {
		record.PreviewImageURL = *p.PreviewImageURL
	}
}

func (p CompoundPatch) IsEmpty() bool {
	return p.DisplayName == nil && p.Properties == nil && p.Geometry == nil && p.PreviewImageURL == nil
}

func CloneCompound(record *CompoundRecord) *CompoundRecord {
	if record == nil {
		return nil
	}
	cloned := *record
	if record.MolecularWeight != nil {
		weight := *record.MolecularWeight
		cloned.MolecularWeight = &weight
	}
	cloned.Geometry = CloneGeometry(record.Geometry)
	return &cloned
}

func CloneGeometry(geometry *Geometry) *Geometry {
	if geometry == nil {
		return nil
	}
	return &Geometry{
		Coords: Coordinates{
			X: append([]float64(nil), geometry.Coords.X...),
			Y: append([]float64(nil), geometry.Coords.Y...),
			Z: append([]float64(nil), geometry.Coords.Z...),
		},
		Bonds: BondTopology{
			First:  append([]int(nil), geometry.Bonds.First...),
			Second: append([]int(nil), geometry.Bonds.Second...),
			Order:  append([]int(nil), geometry.Bonds.Order...),
		},
		Elements:   append([]int(nil), geometry.Elements...),
		Has3DModel: geometry.Has3DModel,
	}
}
