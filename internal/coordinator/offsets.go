package coordinator

import "sort"

// maxRadius bounds the precomputed load offset table.
const maxRadius = 8

// loadList holds chunk offsets relative to the observer, sorted centre-out:
// by window ring first, then by Manhattan distance so nearer chunks enqueue
// with more urgent priorities.
var loadList [][2]int

// radiusIdx[r] is the number of loadList entries within Chebyshev radius r.
var radiusIdx []int

func init() {
	for dx := -maxRadius; dx <= maxRadius; dx++ {
		for dz := -maxRadius; dz <= maxRadius; dz++ {
			loadList = append(loadList, [2]int{dx, dz})
		}
	}
	sort.Slice(loadList, func(i, j int) bool {
		ci, cj := chebyshev(loadList[i]), chebyshev(loadList[j])
		if ci != cj {
			return ci < cj
		}
		mi, mj := manhattan(loadList[i]), manhattan(loadList[j])
		if mi != mj {
			return mi < mj
		}
		return loadList[i][0] < loadList[j][0] ||
			(loadList[i][0] == loadList[j][0] && loadList[i][1] < loadList[j][1])
	})

	radiusIdx = make([]int, maxRadius+1)
	for i, v := range loadList {
		r := chebyshev(v)
		for ; r <= maxRadius; r++ {
			radiusIdx[r] = i + 1
		}
	}
}

// offsetsForRadius returns the centre-out offsets covering the square window
// of the given half-width. Half-widths above maxRadius are clamped to
// maxRadius, so the returned window never extends past it.
func offsetsForRadius(r int) [][2]int {
	if r < 0 {
		r = 0
	}
	if r > maxRadius {
		r = maxRadius
	}
	return loadList[:radiusIdx[r]]
}

func chebyshev(v [2]int) int {
	dx, dz := v[0], v[1]
	if dx < 0 {
		dx = -dx
	}
	if dz < 0 {
		dz = -dz
	}
	if dz > dx {
		return dz
	}
	return dx
}

func manhattan(v [2]int) int {
	dx, dz := v[0], v[1]
	if dx < 0 {
		dx = -dx
	}
	if dz < 0 {
		dz = -dz
	}
	return dx + dz
}
