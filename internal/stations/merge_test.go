package stations

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"trains.tokyogtfs.org/internal/geo"
)

func TestMerger_MergesCloseStopsWithSameName(t *testing.T) {
	m := NewMerger(0, DefaultSeparate)
	m.Add(Stop{ID: "JR-East.Yamanote.Shinjuku", Code: "JY17", Name: "新宿", Point: geo.Point{Lat: 35.6909, Lon: 139.7003}})
	m.Add(Stop{ID: "TokyoMetro.Marunouchi.Shinjuku", Code: "M08", Name: "新宿", Point: geo.Point{Lat: 35.6922, Lon: 139.7006}})
	m.Add(Stop{ID: "JR-East.Yamanote.Tokyo", Code: "JY01", Name: "東京", Point: geo.Point{Lat: 35.6812, Lon: 139.7671}})

	entries := m.Entries()
	require.Len(t, entries, 4)

	station := entries[0]
	assert.Equal(t, "Merged.Shinjuku", station.ID)
	assert.Equal(t, LocationStation, station.LocationType)
	assert.Equal(t, "JY17/M08", station.Code)
	assert.Equal(t, "新宿", station.Name)
	assert.InDelta(t, 35.69155, station.Point.Lat, 1e-9)
	assert.InDelta(t, 139.70045, station.Point.Lon, 1e-9)

	assert.Equal(t, "JR-East.Yamanote.Shinjuku", entries[1].ID)
	assert.Equal(t, "Merged.Shinjuku", entries[1].Parent)
	assert.Equal(t, "TokyoMetro.Marunouchi.Shinjuku", entries[2].ID)
	assert.Equal(t, "Merged.Shinjuku", entries[2].Parent)

	assert.Equal(t, "JR-East.Yamanote.Tokyo", entries[3].ID)
	assert.Empty(t, entries[3].Parent)
	assert.Equal(t, LocationStop, entries[3].LocationType)
}

func TestMerger_FarStopsStartNewGroup(t *testing.T) {
	m := NewMerger(0, nil)
	// two different stations named Hongo, kilometers apart
	m.Add(Stop{ID: "A.Hongo", Name: "本郷", Point: geo.Point{Lat: 35.70, Lon: 139.76}})
	m.Add(Stop{ID: "B.Hongo", Name: "本郷", Point: geo.Point{Lat: 35.80, Lon: 139.76}})
	m.Add(Stop{ID: "C.Hongo", Name: "本郷", Point: geo.Point{Lat: 35.8001, Lon: 139.7601}})

	entries := m.Entries()
	require.Len(t, entries, 4)
	assert.Equal(t, "A.Hongo", entries[0].ID)
	assert.Equal(t, "Merged.Hongo.1", entries[1].ID)
	assert.Equal(t, "Merged.Hongo.1", entries[2].Parent)
	assert.Equal(t, "Merged.Hongo.1", entries[3].Parent)
}

func TestMerger_DistanceIsMeasuredFromFirstStop(t *testing.T) {
	m := NewMerger(1000, nil)
	m.Add(Stop{ID: "A.X", Point: geo.Point{Lat: 35.000, Lon: 139}})
	m.Add(Stop{ID: "B.X", Point: geo.Point{Lat: 35.008, Lon: 139}})
	// ~1.3 km from the first stop, ~0.4 km from the second
	m.Add(Stop{ID: "C.X", Point: geo.Point{Lat: 35.012, Lon: 139}})

	entries := m.Entries()
	require.Len(t, entries, 4)
	assert.Equal(t, "Merged.X", entries[0].ID)
	assert.Equal(t, "C.X", entries[3].ID)
	assert.Empty(t, entries[3].Parent)
}

func TestMerger_SeparateStopsNeverMerge(t *testing.T) {
	m := NewMerger(0, DefaultSeparate)
	m.Add(Stop{ID: "Toden.Arakawa.Waseda", Name: "早稲田", Point: geo.Point{Lat: 35.7117, Lon: 139.7196}})
	m.Add(Stop{ID: "TokyoMetro.Tozai.Waseda", Name: "早稲田", Point: geo.Point{Lat: 35.7058, Lon: 139.7210}})

	entries := m.Entries()
	require.Len(t, entries, 2)
	for _, e := range entries {
		assert.Empty(t, e.Parent)
		assert.Equal(t, LocationStop, e.LocationType)
	}
}

func TestMerger_UsesLastSeenName(t *testing.T) {
	m := NewMerger(0, nil)
	m.Add(Stop{ID: "A.Oshiage", Name: "押上", Point: geo.Point{Lat: 35.7103, Lon: 139.8134}})
	m.Add(Stop{ID: "B.Oshiage", Name: "押上（スカイツリー前）", Point: geo.Point{Lat: 35.7107, Lon: 139.8130}})

	entries := m.Entries()
	require.Len(t, entries, 3)
	for _, e := range entries {
		assert.Equal(t, "押上（スカイツリー前）", e.Name)
	}
}
