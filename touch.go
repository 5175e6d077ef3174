package main

import (
	"math"
	"slices"

	"github.com/hajimehoshi/ebiten/v2"
)

func (v *Viewer) handleTouchEvents() {
	touches := ebiten.AppendTouchIDs(make([]ebiten.TouchID, 0, 8))

	// Initialize touch tracking maps if needed
	if v.lastTouchX == nil {
		v.lastTouchX = make(map[ebiten.TouchID]float64)
		v.lastTouchY = make(map[ebiten.TouchID]float64)
	}

	// Handle touch start
	for _, id := range touches {
		if _, exists := v.lastTouchX[id]; !exists {
			x, y := ebiten.TouchPosition(id)
			v.lastTouchX[id] = float64(x)
			v.lastTouchY[id] = float64(y)
		}
	}

	// Clean up ended touches
	for id := range v.lastTouchX {
		if !slices.Contains(touches, id) {
			delete(v.lastTouchX, id)
			delete(v.lastTouchY, id)
		}
	}

	switch len(touches) {
	case 1: // Single touch - pan
		id := touches[0]
		x, y := ebiten.TouchPosition(id)
		dx := float64(x) - v.lastTouchX[id]
		dy := float64(y) - v.lastTouchY[id]
		if dx != 0 || dy != 0 {
			v.tileMap.PanBy(dx, dy)
		}
		v.lastTouchX[id] = float64(x)
		v.lastTouchY[id] = float64(y)

	case 2: // Two fingers - pinch to zoom, twist to rotate
		id1, id2 := touches[0], touches[1]
		ix1, iy1 := ebiten.TouchPosition(id1)
		ix2, iy2 := ebiten.TouchPosition(id2)
		x1, y1, x2, y2 := float64(ix1), float64(iy1), float64(ix2), float64(iy2)
		px1, py1 := v.lastTouchX[id1], v.lastTouchY[id1]
		px2, py2 := v.lastTouchX[id2], v.lastTouchY[id2]

		currentDist := math.Hypot(x2-x1, y2-y1)
		prevDist := math.Hypot(px2-px1, py2-py1)
		midX := (x1 + x2) / 2
		midY := (y1 + y2) / 2

		if currentDist > prevDist*1.1 { // Zoom in
			v.tileMap.ZoomAtPoint(true, midX, midY)
		} else if currentDist < prevDist*0.9 { // Zoom out
			v.tileMap.ZoomAtPoint(false, midX, midY)
		}

		twist := math.Atan2(y2-y1, x2-x1) - math.Atan2(py2-py1, px2-px1)
		if twist = math.Remainder(twist, 2*math.Pi); math.Abs(twist) > 0.01 {
			v.tileMap.Rotate(-twist * 180 / math.Pi)
		}

		v.lastTouchX[id1], v.lastTouchY[id1] = x1, y1
		v.lastTouchX[id2], v.lastTouchY[id2] = x2, y2
	}
}
