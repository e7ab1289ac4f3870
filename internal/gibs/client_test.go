package gibs

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"terra-imagery/internal/common"
	"terra-imagery/internal/ratelimit"
)

func TestClientFetchURL(t *testing.T) {
	var gotUserAgent string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUserAgent = r.Header.Get("User-Agent")
		w.Write([]byte("tile-bytes"))
	}))
	defer server.Close()

	client := NewClient(nil)
	data, err := client.FetchURL(context.Background(), server.URL+"/tile.jpg")
	require.NoError(t, err)

	assert.Equal(t, []byte("tile-bytes"), data)
	assert.Equal(t, UserAgent, gotUserAgent)
}

func TestClientFetchURLNon200(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := NewClient(nil)
	_, err := client.FetchURL(context.Background(), server.URL+"/missing.jpg")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestClientMarksProviderRateLimited(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	limits := ratelimit.NewHandler(&ratelimit.RetryStrategy{
		Intervals:  []time.Duration{time.Hour},
		MaxRetries: 1,
	})
	defer limits.Close()

	client := NewClient(limits)

	_, err := client.FetchURL(context.Background(), server.URL+"/tile.jpg")
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrRateLimited)
	assert.True(t, limits.IsRateLimited(Provider))

	// Subsequent fetches are suppressed without touching the network
	_, err = client.FetchURL(context.Background(), server.URL+"/tile.jpg")
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrRateLimited)
}

func TestParseCapabilities(t *testing.T) {
	doc := `<?xml version="1.0" encoding="UTF-8"?>
<Capabilities xmlns="http://www.opengis.net/wmts/1.0" xmlns:ows="http://www.opengis.net/ows/1.1">
  <Contents>
    <Layer>
      <ows:Title>Corrected Reflectance (True Color)</ows:Title>
      <ows:Identifier>MODIS_Terra_CorrectedReflectance_TrueColor</ows:Identifier>
      <Format>image/jpeg</Format>
      <TileMatrixSetLink><TileMatrixSet>250m</TileMatrixSet></TileMatrixSetLink>
      <ResourceURL format="image/jpeg" resourceType="tile" template="https://gibs.earthdata.nasa.gov/wmts/epsg4326/best/MODIS_Terra_CorrectedReflectance_TrueColor/default/{Time}/{TileMatrixSet}/{TileMatrix}/{TileRow}/{TileCol}.jpg"/>
    </Layer>
    <Layer>
      <ows:Title>Aerosol Optical Depth</ows:Title>
      <ows:Identifier>MODIS_Terra_Aerosol</ows:Identifier>
      <Format>image/png</Format>
      <TileMatrixSetLink><TileMatrixSet>2km</TileMatrixSet></TileMatrixSetLink>
    </Layer>
  </Contents>
</Capabilities>`

	layers, err := ParseCapabilities([]byte(doc))
	require.NoError(t, err)
	require.Len(t, layers, 2)

	assert.Equal(t, "MODIS_Terra_CorrectedReflectance_TrueColor", layers[0].Identifier)
	assert.Equal(t, "Corrected Reflectance (True Color)", layers[0].Title)
	assert.Equal(t, "250m", layers[0].Resolution)
	assert.Equal(t, "jpg", layers[0].Format)

	assert.Equal(t, "MODIS_Terra_Aerosol", layers[1].Identifier)
	assert.Equal(t, "2km", layers[1].Resolution)
	assert.Equal(t, "png", layers[1].Format)
}
