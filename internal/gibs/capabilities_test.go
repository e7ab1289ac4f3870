package gibs

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchCapabilitiesParsesAdvertisedLayers(t *testing.T) {
	doc := `<?xml version="1.0" encoding="UTF-8"?>
<Capabilities xmlns="http://www.opengis.net/wmts/1.0" xmlns:ows="http://www.opengis.net/ows/1.1">
  <Contents>
    <Layer>
      <ows:Identifier>MODIS_Terra_CorrectedReflectance_TrueColor</ows:Identifier>
      <Format>image/jpeg</Format>
      <TileMatrixSetLink><TileMatrixSet>250m</TileMatrixSet></TileMatrixSetLink>
    </Layer>
  </Contents>
</Capabilities>`

	var gotUserAgent string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUserAgent = r.Header.Get("User-Agent")
		w.Write([]byte(doc))
	}))
	defer server.Close()

	layers, err := fetchCapabilitiesFrom(context.Background(), nil, server.URL)
	require.NoError(t, err)
	require.Len(t, layers, 1)
	assert.Equal(t, "MODIS_Terra_CorrectedReflectance_TrueColor", layers[0].Identifier)
	assert.Equal(t, UserAgent, gotUserAgent)
}

func TestFetchCapabilitiesNon200(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	_, err := fetchCapabilitiesFrom(context.Background(), nil, server.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestMissingFromAdvertised(t *testing.T) {
	// Everything advertised: nothing is missing
	assert.Empty(t, missingFromAdvertised(Layers()))

	// Drop one catalog layer from the advertised set
	var advertised []Layer
	for _, layer := range Layers() {
		if layer.Identifier == "MODIS_Terra_Aerosol" {
			continue
		}
		advertised = append(advertised, layer)
	}
	assert.Equal(t, []string{"MODIS_Terra_Aerosol"}, missingFromAdvertised(advertised))

	// Extra upstream layers the catalog does not carry are ignored
	advertised = append(Layers(), Layer{Identifier: "VIIRS_SNPP_Brightness_Temp"})
	assert.Empty(t, missingFromAdvertised(advertised))
}
