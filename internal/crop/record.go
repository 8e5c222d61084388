// Package crop keeps per-asset crop parameters for a picker session and
// derives the filter descriptors used to express them declaratively.
package crop

// MediaKind classifies an asset for export purposes.
type MediaKind string

const (
	MediaImage MediaKind = "image"
	MediaOther MediaKind = "other"
)

// AssetRef identifies a selected asset. ID is the identity key; the other
// fields are metadata supplied by the asset source and never mutated here.
type AssetRef struct {
	ID             string    `json:"id"`
	Kind           MediaKind `json:"kind"`
	OrientedWidth  int       `json:"oriented_width"`
	OrientedHeight int       `json:"oriented_height"`
}

// IsImage reports whether the asset goes through the image codec on export.
func (a AssetRef) IsImage() bool {
	return a.Kind == MediaImage
}

// Area is a crop rectangle normalized to the oriented asset dimensions.
type Area struct {
	Left   float64 `json:"left"`
	Top    float64 `json:"top"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Clamp returns a copy with every component limited to [0,1] and the
// rectangle kept inside the unit square.
func (a Area) Clamp() Area {
	a.Left = clamp01(a.Left)
	a.Top = clamp01(a.Top)
	a.Width = clamp01(a.Width)
	a.Height = clamp01(a.Height)
	if a.Left+a.Width > 1 {
		a.Width = 1 - a.Left
	}
	if a.Top+a.Height > 1 {
		a.Height = 1 - a.Top
	}
	return a
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Geometry is the crop-view state captured when an edit is finalized.
// State is codec specific and opaque to this package.
type Geometry struct {
	Scale float64 `json:"scale"`
	Area  *Area   `json:"area,omitempty"`
	State []byte  `json:"state,omitempty"`
}

// Record is the crop parameter snapshot kept for one asset.
type Record struct {
	Asset    AssetRef  `json:"asset"`
	Geometry *Geometry `json:"geometry,omitempty"`
	Scale    float64   `json:"scale"`
	Rotation int       `json:"rotation"`
	Area     *Area     `json:"area,omitempty"`
}

// DefaultScale is the zoom factor of an asset that was never edited.
const DefaultScale = 1.0

// NewRecord returns the default record for an asset: no geometry, no
// rotation, full frame.
func NewRecord(asset AssetRef) Record {
	return Record{Asset: asset, Scale: DefaultScale}
}

// recordFromGeometry captures a finished edit. A nil geometry yields the
// default scale and no area but still keeps the rotation.
func recordFromGeometry(asset AssetRef, geom *Geometry, rotation int) Record {
	rec := NewRecord(asset)
	rec.Rotation = NormalizeRotation(rotation)
	if geom == nil {
		return rec
	}

	g := *geom
	if g.Area != nil {
		area := g.Area.Clamp()
		g.Area = &area
		rec.Area = &area
	}
	if g.Scale < 0 {
		g.Scale = DefaultScale
	}
	rec.Scale = g.Scale
	rec.Geometry = &g
	return rec
}

// NormalizeRotation folds any number of quarter turns into 0..3.
func NormalizeRotation(turns int) int {
	turns %= 4
	if turns < 0 {
		turns += 4
	}
	return turns
}
