// Package filter provides the image operations applied by the background
// worker.
//
// Every edit in a file's history, every decode and every write is a
// Filter. Filters are pure with respect to the engine: Apply receives an
// image (pixels plus the geometry they cover) and returns a new one, and
// the geometric methods let the history compute sizes and tile rectangles
// without touching pixels.
//
// Filters come in two kinds. Concrete filters transform pixels directly.
// Generator filters first analyze an image and then Resolve into the
// concrete filter that is actually recorded in the history (for example
// AutoLevels resolves into a contrast stretch tailored to the image).
//
// Edit filters are created by name through New so that histories can be
// persisted as (name, options) pairs:
//
//	f, err := filter.New("brightness", filter.Options{"delta": "20"})
package filter
