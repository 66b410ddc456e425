package game

import (
	_ "embed"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/klauspost/compress/zstd"
	"gopkg.in/yaml.v3"
)

//go:embed terrain.yaml
var defaultTerrain []byte

// Terrain describes the static obstacles of an arena map
type Terrain struct {
	Name      string     `yaml:"name"`
	Mountains []Mountain `yaml:"mountains"`
}

// Mountain is a circular obstacle in world coordinates
type Mountain struct {
	X float64 `yaml:"x"`
	Y float64 `yaml:"y"`
	R float64 `yaml:"r"`
}

// ParseTerrain decodes a terrain description
func ParseTerrain(raw []byte) (Terrain, error) {
	var t Terrain
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("terrain: %w", err)
	}
	for i, m := range t.Mountains {
		if m.R <= 0 {
			return t, fmt.Errorf("terrain: mountain %d has non-positive radius %v", i, m.R)
		}
	}
	return t, nil
}

// Rasterize marks every cell whose centre lies inside a mountain
func (t Terrain) Rasterize(width, height int) (*Grid, error) {
	blocked := make([]bool, width*height)
	probe := &Grid{width: width, height: height}
	for _, m := range t.Mountains {
		// Only visit the cells covered by the mountain's bounding box
		lo := probe.ToGrid(Position{X: m.X - m.R, Y: m.Y - m.R})
		hi := probe.ToGrid(Position{X: m.X + m.R, Y: m.Y + m.R})
		for y := lo.Y; y <= hi.Y; y++ {
			for x := lo.X; x <= hi.X; x++ {
				c := probe.ToWorld(GridPosition{X: x, Y: y})
				if Distance(c, Position{X: m.X, Y: m.Y}) <= m.R {
					blocked[y*width+x] = true
				}
			}
		}
	}
	return NewGrid(width, height, blocked)
}

// LoadTerrainFile reads a terrain file and rasterizes it onto the arena grid.
// Files ending in ".zst" are zstd-compressed.
func LoadTerrainFile(path string) (*Grid, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ".zst") {
		dec, err := zstd.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("terrain %s: %w", path, err)
		}
		defer dec.Close()
		r = dec
	}

	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("terrain %s: %w", path, err)
	}
	t, err := ParseTerrain(raw)
	if err != nil {
		return nil, err
	}
	return t.Rasterize(GridWidth, GridHeight)
}

var (
	defaultGridOnce sync.Once
	defaultGrid     *Grid
)

// DefaultGrid returns the compiled-in arena grid. It is built on first use
// and shared by every caller afterwards.
func DefaultGrid() *Grid {
	defaultGridOnce.Do(func() {
		t, err := ParseTerrain(defaultTerrain)
		if err != nil {
			panic(err)
		}
		g, err := t.Rasterize(GridWidth, GridHeight)
		if err != nil {
			panic(err)
		}
		defaultGrid = g
	})
	return defaultGrid
}
