package sync

import "fitsync/internal/platform"

// DefaultFormatPreferences builds the per-direction format overrides the
// driver passes in. OneDrive destinations get GPX first: the drive folder
// exists for Fog-of-World style GPX consumers.
func DefaultFormatPreferences(directions []platform.Direction) map[string][]platform.Format {
	prefs := make(map[string][]platform.Format)
	for _, dir := range directions {
		if dir.Target == "onedrive" {
			prefs[dir.String()] = []platform.Format{platform.FormatGPX, platform.FormatFIT, platform.FormatTCX}
		}
	}
	return prefs
}
