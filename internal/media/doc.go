// Package media generates thumbnails for stored originals.
//
// Every original gets a normal and a tiny square JPEG whose paths mirror
// the original's partition directory and stem. Images are resized with
// libvips when it was initialized and with a pure Go fallback otherwise.
// Videos are thumbnailed from a single frame extracted with ffmpeg.
package media
