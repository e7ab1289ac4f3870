package gibs

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// WMTS capabilities XML structures (GIBS serves OWS 1.1 namespaces)
type capabilitiesDoc struct {
	XMLName  xml.Name `xml:"Capabilities"`
	Contents struct {
		Layers []capabilitiesLayer `xml:"Layer"`
	} `xml:"Contents"`
}

type capabilitiesLayer struct {
	Title              string `xml:"http://www.opengis.net/ows/1.1 Title"`
	Identifier         string `xml:"http://www.opengis.net/ows/1.1 Identifier"`
	Format             string `xml:"Format"`
	TileMatrixSetLinks []struct {
		TileMatrixSet string `xml:"TileMatrixSet"`
	} `xml:"TileMatrixSetLink"`
	ResourceURLs []struct {
		Format       string `xml:"format,attr"`
		ResourceType string `xml:"resourceType,attr"`
		Template     string `xml:"template,attr"`
	} `xml:"ResourceURL"`
}

// FetchCapabilities downloads and parses the GIBS WMTS capabilities document,
// returning every advertised layer
func FetchCapabilities(ctx context.Context, httpClient *http.Client) ([]Layer, error) {
	return fetchCapabilitiesFrom(ctx, httpClient, CapabilitiesURL)
}

func fetchCapabilitiesFrom(ctx context.Context, httpClient *http.Client, url string) ([]Layer, error) {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", UserAgent)

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch capabilities: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("capabilities request failed with status: %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read capabilities: %w", err)
	}

	return ParseCapabilities(data)
}

// VerifyCatalog fetches the live capabilities document and returns the
// identifiers of built-in catalog layers the endpoint no longer advertises.
// An empty result means every catalog layer is still served upstream.
func VerifyCatalog(ctx context.Context, httpClient *http.Client) ([]string, error) {
	advertised, err := FetchCapabilities(ctx, httpClient)
	if err != nil {
		return nil, err
	}
	return missingFromAdvertised(advertised), nil
}

func missingFromAdvertised(advertised []Layer) []string {
	known := make(map[string]bool, len(advertised))
	for _, layer := range advertised {
		known[layer.Identifier] = true
	}

	var missing []string
	for _, layer := range Layers() {
		if !known[layer.Identifier] {
			missing = append(missing, layer.Identifier)
		}
	}
	return missing
}

// ParseCapabilities parses a WMTS capabilities document into catalog layers
func ParseCapabilities(data []byte) ([]Layer, error) {
	var doc capabilitiesDoc
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse capabilities XML: %w", err)
	}

	var layers []Layer
	for _, l := range doc.Contents.Layers {
		layer := Layer{
			Identifier: l.Identifier,
			Title:      l.Title,
		}

		if len(l.TileMatrixSetLinks) > 0 {
			layer.Resolution = l.TileMatrixSetLinks[0].TileMatrixSet
		}

		// Prefer the tile resource template's format; fall back to the layer format
		format := l.Format
		for _, r := range l.ResourceURLs {
			if r.ResourceType == "tile" {
				format = r.Format
				break
			}
		}
		layer.Format = formatExtension(format)

		if layer.Identifier != "" {
			layers = append(layers, layer)
		}
	}

	return layers, nil
}

// formatExtension maps a WMTS MIME format to the tile file extension
func formatExtension(mime string) string {
	switch {
	case strings.Contains(mime, "png"):
		return "png"
	case strings.Contains(mime, "tiff"):
		return "tif"
	default:
		return "jpg"
	}
}
