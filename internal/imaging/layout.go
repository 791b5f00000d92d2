package imaging

import (
	"image"
	"sort"
)

// Layout archetypes.
const (
	LayoutEmpty       = "empty"
	LayoutDenseText   = "dense_text"
	LayoutLargeBlocks = "large_blocks"
	LayoutStandard    = "standard_form"
)

const (
	minRegionWidth  = 20
	minRegionHeight = 10
)

// Region is a detected content block.
type Region struct {
	ID        int        `json:"id"`
	X         int        `json:"x"`
	Y         int        `json:"y"`
	W         int        `json:"w"`
	H         int        `json:"h"`
	Rel       [4]float64 `json:"rel_bbox"`
	AreaRatio float64    `json:"area_ratio"`
}

// Rect returns the region's bounding rectangle.
func (r Region) Rect() image.Rectangle {
	return image.Rect(r.X, r.Y, r.X+r.W, r.Y+r.H)
}

// DetectRegions decodes the bytes and finds content regions. Undecodable
// input yields an empty list.
func DetectRegions(data []byte) []Region {
	img, err := Decode(data)
	if err != nil {
		return nil
	}
	return DetectRegionsImage(img)
}

// DetectRegionsImage finds content regions top-to-bottom: binarize, invert
// when the background dominates, dilate to merge glyphs into blocks, then
// take component bounding boxes above the minimum size.
func DetectRegionsImage(img image.Image) []Region {
	g := ToGray(img)
	bin, _ := OtsuThreshold(g)
	w, h := bin.Bounds().Dx(), bin.Bounds().Dy()
	if w == 0 || h == 0 {
		return nil
	}
	if countWhite(bin) > w*h/2 {
		Invert(bin)
	}
	dilated := Dilate(bin, 5, 5, 3)

	regions := make([]Region, 0, 8)
	id := 0
	for _, box := range ComponentBoxes(dilated) {
		bw, bh := box.Dx(), box.Dy()
		if bw < minRegionWidth || bh < minRegionHeight {
			continue
		}
		regions = append(regions, Region{
			ID: id,
			X:  box.Min.X,
			Y:  box.Min.Y,
			W:  bw,
			H:  bh,
			Rel: [4]float64{
				float64(box.Min.X) / float64(w),
				float64(box.Min.Y) / float64(h),
				float64(bw) / float64(w),
				float64(bh) / float64(h),
			},
			AreaRatio: float64(bw*bh) / float64(w*h),
		})
		id++
	}

	sort.SliceStable(regions, func(i, j int) bool {
		if regions[i].Y != regions[j].Y {
			return regions[i].Y < regions[j].Y
		}
		return regions[i].X < regions[j].X
	})
	return regions
}

// ClassifyLayout maps a region list to a page archetype.
func ClassifyLayout(regions []Region) string {
	if len(regions) == 0 {
		return LayoutEmpty
	}
	if len(regions) > 20 {
		sum := 0.0
		for _, r := range regions {
			sum += r.AreaRatio
		}
		if sum/float64(len(regions)) < 0.05 {
			return LayoutDenseText
		}
	}
	if len(regions) < 10 {
		for _, r := range regions {
			if r.AreaRatio > 0.4 {
				return LayoutLargeBlocks
			}
		}
	}
	return LayoutStandard
}
