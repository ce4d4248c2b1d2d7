// Package tiles splits full resolution images into independently computed
// rectangles.
//
// A Map is the tile grid of one edit command. The first map of a history
// is a fresh grid over the full image; the map of every later command is
// derived from its parent by letting the command's filter map each parent
// rectangle into the new geometry, so tile boundaries follow crops and
// rotations without touching pixels. Tile indices are stable along a
// history: tile i of a child is computed from tile i of its parent.
//
// Tile pixels live in one Cache shared by all maps. There is a single
// version of each tile and no history: evicted tiles are recomputed.
//
// A SaveMap streams a tiled image to disk in horizontal bands that fit a
// byte budget.
package tiles
