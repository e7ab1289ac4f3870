package gibs

import (
	"fmt"
	"sort"

	"terra-imagery/internal/common"
)

const (
	// BaseURL is the NASA GIBS WMTS endpoint for the EPSG:4326 "best" projection
	BaseURL = "https://gibs.earthdata.nasa.gov/wmts/epsg4326/best"

	// CapabilitiesURL serves the WMTS capabilities document for the endpoint above
	CapabilitiesURL = BaseURL + "/wmts.cgi?SERVICE=WMTS&REQUEST=GetCapabilities"

	// Provider is the cache and rate-limit identifier for NASA GIBS
	Provider = "gibs"

	// DefaultLayer is used when a request does not name a layer
	DefaultLayer = "MODIS_Terra_CorrectedReflectance_TrueColor"
)

// Layer describes a GIBS imagery product: its WMTS identifier, the tile
// matrix set it is published under, and the tile image format.
type Layer struct {
	Identifier string `json:"identifier"`
	Title      string `json:"title"`
	Resolution string `json:"resolution"` // tile matrix set: "250m", "500m", "1km", "4km"
	Format     string `json:"format"`     // tile extension: "jpg" or "png"
}

// Resolutions recognized by the EPSG:4326 best endpoint
var validResolutions = map[string]bool{
	"250m": true,
	"500m": true,
	"1km":  true,
	"4km":  true,
}

// ValidResolution reports whether a resolution string names a known tile matrix set
func ValidResolution(resolution string) bool {
	return validResolutions[resolution]
}

// Resolutions returns the recognized resolution identifiers in ascending pixel size
func Resolutions() []string {
	return []string{"250m", "500m", "1km", "4km"}
}

// catalog lists the Terra (plus companion Aqua/VIIRS true color) layers the
// service serves by default. Matrix set and format per product follow the
// GIBS layer registry.
var catalog = map[string]Layer{
	"MODIS_Terra_CorrectedReflectance_TrueColor": {
		Identifier: "MODIS_Terra_CorrectedReflectance_TrueColor",
		Title:      "Terra True Color",
		Resolution: "250m",
		Format:     "jpg",
	},
	"MODIS_Terra_CorrectedReflectance_Bands721": {
		Identifier: "MODIS_Terra_CorrectedReflectance_Bands721",
		Title:      "Terra False Color (Bands 7-2-1)",
		Resolution: "500m",
		Format:     "jpg",
	},
	"MODIS_Terra_CorrectedReflectance_Bands367": {
		Identifier: "MODIS_Terra_CorrectedReflectance_Bands367",
		Title:      "Terra False Color (Bands 3-6-7)",
		Resolution: "500m",
		Format:     "jpg",
	},
	"MODIS_Terra_SurfaceReflectance_Bands121": {
		Identifier: "MODIS_Terra_SurfaceReflectance_Bands121",
		Title:      "Terra Surface Reflectance (Bands 1-2-1)",
		Resolution: "500m",
		Format:     "jpg",
	},
	"MODIS_Terra_Aerosol": {
		Identifier: "MODIS_Terra_Aerosol",
		Title:      "Terra Aerosol Optical Depth",
		Resolution: "1km",
		Format:     "png",
	},
	"MODIS_Terra_Chlorophyll_A": {
		Identifier: "MODIS_Terra_Chlorophyll_A",
		Title:      "Terra Chlorophyll A",
		Resolution: "4km",
		Format:     "png",
	},
	"MODIS_Aqua_CorrectedReflectance_TrueColor": {
		Identifier: "MODIS_Aqua_CorrectedReflectance_TrueColor",
		Title:      "Aqua True Color",
		Resolution: "250m",
		Format:     "jpg",
	},
	"VIIRS_SNPP_CorrectedReflectance_TrueColor": {
		Identifier: "VIIRS_SNPP_CorrectedReflectance_TrueColor",
		Title:      "VIIRS True Color",
		Resolution: "250m",
		Format:     "jpg",
	},
}

// LayerByID returns a catalog layer by its WMTS identifier
func LayerByID(identifier string) (Layer, error) {
	layer, ok := catalog[identifier]
	if !ok {
		return Layer{}, fmt.Errorf("%w: unknown layer %q", common.ErrInvalidArgument, identifier)
	}
	return layer, nil
}

// Layers returns all catalog layers ordered by identifier
func Layers() []Layer {
	layers := make([]Layer, 0, len(catalog))
	for _, layer := range catalog {
		layers = append(layers, layer)
	}
	sort.Slice(layers, func(i, j int) bool {
		return layers[i].Identifier < layers[j].Identifier
	})
	return layers
}
