package model

import (
	"sort"
	"time"
)

// Image je uložený snímek. Samotná data leží v objektovém úložišti pod ObjectKey.
type Image struct {
	ID         int64     `json:"id"`
	Device     string    `json:"device"`
	DeviceName string    `json:"device_name"`
	ProcessID  int64     `json:"process_id"`
	Image      string    `json:"image,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
	ObjectKey  string    `json:"-"`
	Size       int64     `json:"-"`
}

// SortImagesNewestFirst řadí stabilně od nejnovějšího snímku.
// Snímky se stejným časem si zachovají původní pořadí.
func SortImagesNewestFirst(images []Image) {
	sort.SliceStable(images, func(i, j int) bool {
		return images[i].Timestamp.After(images[j].Timestamp)
	})
}
