// Package textutil cleans file names received from upload clients before
// they touch the filesystem.
package textutil
