// Package visualize draws maps, distance grids, paths, particles and frontiers to images.
package visualize

import (
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"
	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"github.com/golang/geo/r2"
	"github.com/lucasb-eyer/go-colorful"
	"github.com/pkg/errors"
	"golang.org/x/image/font/gofont/goregular"

	"github.com/saptadeb/botLab-sub001/exploration"
	"github.com/saptadeb/botLab-sub001/motionplan"
	"github.com/saptadeb/botLab-sub001/occupancygrid"
	"github.com/saptadeb/botLab-sub001/slam/particlefilter"
	"github.com/saptadeb/botLab-sub001/spatialmath"
)

// Colors used for overlays.
var (
	PathColor     = color.RGBA{0, 0, 255, 255}
	ParticleColor = color.RGBA{255, 0, 0, 255}
	FrontierColor = color.RGBA{0, 200, 0, 255}
	PoseColor     = color.RGBA{255, 128, 0, 255}
	LabelColor    = color.RGBA{0, 128, 0, 255}

	nearColor, _ = colorful.Hex("#b2182b")
	farColor, _  = colorful.Hex("#f7f7f7")
)

var font *truetype.Font

func init() {
	var err error
	font, err = truetype.Parse(goregular.TTF)
	if err != nil {
		panic(err)
	}
}

// Canvas is an image of a grid frame with scale x scale pixels per cell. World y points up, so
// row 0 of the grid is the bottom row of the image.
type Canvas struct {
	frame occupancygrid.Frame
	scale int
	dc    *gg.Context
}

// NewCanvas returns a blank canvas for frame.
func NewCanvas(frame occupancygrid.Frame, scale int) (*Canvas, error) {
	if scale < 1 {
		return nil, errors.Errorf("scale must be at least 1, got %d", scale)
	}
	dc := gg.NewContext(frame.WidthInCells()*scale, frame.HeightInCells()*scale)
	dc.SetColor(color.White)
	dc.Clear()
	return &Canvas{frame: frame, scale: scale, dc: dc}, nil
}

// OddsColor returns the grey level drawn for a cell. Unknown cells are mid grey, free cells
// lighter and occupied cells darker.
func OddsColor(odds occupancygrid.CellOdds) color.Gray {
	return color.Gray{Y: uint8(127 - int(odds))}
}

// DistanceColor shades a distance to the nearest obstacle, blending from red at the obstacle to
// white at maxDistance and beyond.
func DistanceColor(distance, maxDistance float64) color.Color {
	t := 1.0
	if maxDistance > 0 {
		t = math.Min(math.Max(distance/maxDistance, 0), 1)
	}
	return nearColor.BlendLab(farColor, t).Clamped()
}

// DrawGrid paints every cell of grid.
func (c *Canvas) DrawGrid(grid *occupancygrid.Grid) {
	c.drawCells(func(x, y int) color.Color { return OddsColor(grid.At(x, y)) })
}

// DrawDistances paints every cell of a distance grid. Distances at or beyond maxDistance are
// white.
func (c *Canvas) DrawDistances(distances *motionplan.ObstacleDistanceGrid, maxDistance float64) {
	c.drawCells(func(x, y int) color.Color { return DistanceColor(distances.Distance(x, y), maxDistance) })
}

func (c *Canvas) drawCells(cellColor func(x, y int) color.Color) {
	w, h := c.frame.WidthInCells(), c.frame.HeightInCells()
	cells := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			cells.Set(x, h-1-y, cellColor(x, y))
		}
	}
	var scaled image.Image = cells
	if c.scale > 1 {
		scaled = imaging.Resize(cells, w*c.scale, h*c.scale, imaging.NearestNeighbor)
	}
	c.dc.DrawImage(scaled, 0, 0)
}

// ToImage converts a world point to image coordinates.
func (c *Canvas) ToImage(point r2.Point) (float64, float64) {
	pos := occupancygrid.GlobalToGridPosition(point, c.frame)
	s := float64(c.scale)
	return pos.X * s, (float64(c.frame.HeightInCells()) - pos.Y) * s
}

// DrawPath draws a path as connected segments with a dot at each waypoint.
func (c *Canvas) DrawPath(path []spatialmath.Pose, col color.Color) {
	if len(path) == 0 {
		return
	}
	c.dc.SetColor(col)
	c.dc.SetLineWidth(math.Max(1, float64(c.scale)/2))
	for i, pose := range path {
		x, y := c.ToImage(pose.Point())
		if i == 0 {
			c.dc.MoveTo(x, y)
		} else {
			c.dc.LineTo(x, y)
		}
	}
	c.dc.Stroke()
	for _, pose := range path {
		x, y := c.ToImage(pose.Point())
		c.dc.DrawCircle(x, y, math.Max(1, float64(c.scale)/2))
		c.dc.Fill()
	}
}

// DrawParticles draws one dot per particle.
func (c *Canvas) DrawParticles(particles []particlefilter.Particle) {
	c.dc.SetColor(ParticleColor)
	for _, p := range particles {
		x, y := c.ToImage(p.Pose.Point())
		c.dc.DrawPoint(x, y, math.Max(1, float64(c.scale)/3))
		c.dc.Fill()
	}
}

// DrawFrontiers marks every frontier cell.
func (c *Canvas) DrawFrontiers(frontiers []exploration.Frontier) {
	c.dc.SetColor(FrontierColor)
	s := float64(c.scale)
	for _, f := range frontiers {
		for _, cell := range f.Cells {
			x, y := c.ToImage(cell)
			c.dc.DrawRectangle(x-s/2, y-s/2, s, s)
		}
	}
	c.dc.Fill()
}

// DrawPose draws the robot as a circle of the given radius with a line showing its heading.
func (c *Canvas) DrawPose(pose spatialmath.Pose, radius float64) {
	x, y := c.ToImage(pose.Point())
	r := radius * c.frame.CellsPerMeter() * float64(c.scale)
	c.dc.SetColor(PoseColor)
	c.dc.SetLineWidth(math.Max(1, float64(c.scale)/2))
	c.dc.DrawCircle(x, y, r)
	c.dc.Stroke()
	sin, cos := math.Sincos(pose.Theta)
	// Image y points down.
	c.dc.DrawLine(x, y, x+r*cos, y-r*sin)
	c.dc.Stroke()
}

// DrawLabel writes text in the top left corner.
func (c *Canvas) DrawLabel(text string) {
	size := math.Max(10, float64(c.dc.Height())*0.03)
	c.dc.SetFontFace(truetype.NewFace(font, &truetype.Options{Size: size}))
	c.dc.SetColor(LabelColor)
	c.dc.DrawStringWrapped(text, size/2, size/2, 0, 0, float64(c.dc.Width())-size, 1, gg.AlignLeft)
}

// Image returns the rendered image.
func (c *Canvas) Image() image.Image {
	return c.dc.Image()
}

// SavePNG writes the rendered image to path.
func (c *Canvas) SavePNG(path string) error {
	return errors.Wrapf(c.dc.SavePNG(path), "failed to save %q", path)
}
