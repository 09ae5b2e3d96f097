package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHaversineKM(t *testing.T) {
	t.Run("zero distance", func(t *testing.T) {
		assert.Equal(t, 0.0, HaversineKM(30.2672, -97.7431, 30.2672, -97.7431))
	})

	t.Run("one degree of latitude", func(t *testing.T) {
		assert.InDelta(t, 111.19, HaversineKM(30.0, -97.0, 31.0, -97.0), 0.1)
	})

	t.Run("austin to houston", func(t *testing.T) {
		assert.InDelta(t, 235.4, HaversineKM(30.2672, -97.7431, 29.7604, -95.3698), 1.0)
	})

	t.Run("symmetric", func(t *testing.T) {
		a := HaversineKM(30.2672, -97.7431, 29.7604, -95.3698)
		b := HaversineKM(29.7604, -95.3698, 30.2672, -97.7431)
		assert.InDelta(t, a, b, 1e-9)
	})
}

func TestCentroidForArea(t *testing.T) {
	tests := []struct {
		name string
		area string
		want Geo
		ok   bool
	}{
		{"known texas county", "Fayette [TX]", Geo{29.8947, -96.9344}, true},
		{"county with space", "Val Verde [TX]", Geo{29.3605, -100.8965}, true},
		{"unknown texas county falls back to state center", "Nueces [TX]", Geo{31.0, -99.0}, true},
		{"county in another supported state", "Orange [CA]", Geo{37.2, -119.3}, true},
		{"unsupported state", "Ada [ID]", Geo{}, false},
		{"no bracketed state", "Fayette", Geo{}, false},
		{"empty", "", Geo{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := CentroidForArea(tt.area)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolveRegions(t *testing.T) {
	t.Run("no filter returns the default state set", func(t *testing.T) {
		regions, err := ResolveRegions("", "")
		require.NoError(t, err)
		require.Len(t, regions, 14)
		assert.Equal(t, "Texas", regions[0].State)
		assert.Equal(t, "48", regions[0].FIPS)
		assert.Contains(t, regions[0].WFOs, "EWX")
	})

	t.Run("state filter is case-insensitive", func(t *testing.T) {
		regions, err := ResolveRegions("texas", "")
		require.NoError(t, err)
		require.Len(t, regions, 1)
		assert.Equal(t, "TX", regions[0].Abbrev)
		assert.False(t, regions[0].HasAnchor)
	})

	t.Run("county sets the anchor from the centroid table", func(t *testing.T) {
		regions, err := ResolveRegions("Texas", "Travis")
		require.NoError(t, err)
		require.Len(t, regions, 1)
		assert.True(t, regions[0].HasAnchor)
		assert.Equal(t, Geo{30.2672, -97.7431}, regions[0].Anchor)
	})

	t.Run("unknown county anchors to the state center", func(t *testing.T) {
		regions, err := ResolveRegions("Texas", "Nueces")
		require.NoError(t, err)
		assert.Equal(t, Geo{31.0, -99.0}, regions[0].Anchor)
	})

	t.Run("county without state is rejected", func(t *testing.T) {
		_, err := ResolveRegions("", "Travis")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "Travis")
	})

	t.Run("unsupported state is rejected", func(t *testing.T) {
		_, err := ResolveRegions("Wyoming", "")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "Wyoming")
	})
}

func TestRegionKey(t *testing.T) {
	regions, err := ResolveRegions("Texas", "")
	require.NoError(t, err)
	assert.Equal(t, "TX", regions[0].Key())

	regions, err = ResolveRegions("Texas", "Val Verde")
	require.NoError(t, err)
	assert.Equal(t, "TX:val_verde", regions[0].Key())
}

func TestRegionMatchesArea(t *testing.T) {
	texas, err := ResolveRegions("Texas", "")
	require.NoError(t, err)
	travis, err := ResolveRegions("Texas", "Travis")
	require.NoError(t, err)

	tests := []struct {
		name   string
		region Region
		area   string
		want   bool
	}{
		{"state match", texas[0], "Fayette [TX]", true},
		{"state mismatch", texas[0], "Orange [CA]", false},
		{"county match", travis[0], "Travis [TX]", true},
		{"county match is case-insensitive", travis[0], "TRAVIS [TX]", true},
		{"county mismatch", travis[0], "Fayette [TX]", false},
		{"unparseable area", texas[0], "somewhere in texas", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.region.MatchesArea(tt.area))
		})
	}
}

func TestRegionContains(t *testing.T) {
	t.Run("state region contains everything", func(t *testing.T) {
		regions, err := ResolveRegions("Texas", "")
		require.NoError(t, err)
		assert.True(t, regions[0].Contains(Geo{45.0, -120.0}, 50))
	})

	t.Run("county region bounds by anchor distance", func(t *testing.T) {
		regions, err := ResolveRegions("Texas", "Travis")
		require.NoError(t, err)
		r := regions[0]
		assert.True(t, r.Contains(Geo{30.2672, -97.7431}, 50))
		// Houston is roughly 235 km from the Travis anchor.
		assert.False(t, r.Contains(Geo{29.7604, -95.3698}, 50))
		assert.True(t, r.Contains(Geo{29.7604, -95.3698}, 250))
	})
}
