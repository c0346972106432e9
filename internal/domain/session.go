package domain

import (
	"strings"
	"time"
)

const (
	SessionDirName  = ".devsession"
	SessionFileName = "session.json"
)

type DeviceID string

func (id DeviceID) Known() bool {
	return strings.TrimSpace(string(id)) != ""
}

type Position struct {
	Line      int
	Character int
}

// OpenResource is one open text editor as reported by the host. A nil Cursor
// means the host could not determine a caret for it (tab not visible).
type OpenResource struct {
	Path   string
	Cursor *Position
}

type SessionFile struct {
	Path      string
	Line      int
	Character int
}

func (f SessionFile) Position() Position {
	return Position{Line: f.Line, Character: f.Character}
}

func (f SessionFile) SamePath(other SessionFile) bool {
	return f.Path == other.Path
}

type DevSession struct {
	CreatedAt time.Time
	DeviceID  DeviceID
	Note      string
	Files     []SessionFile
}

// OwnedBy reports whether the snapshot was written by the given device. An
// unknown origin never matches.
func (s DevSession) OwnedBy(device DeviceID) bool {
	if !s.DeviceID.Known() || !device.Known() {
		return false
	}
	return s.DeviceID == device
}

func FilesFromResources(resources []OpenResource) []SessionFile {
	files := make([]SessionFile, 0, len(resources))
	for _, resource := range resources {
		file := SessionFile{Path: resource.Path}
		if resource.Cursor != nil {
			file.Line = resource.Cursor.Line
			file.Character = resource.Cursor.Character
		}
		files = append(files, file)
	}

	return DedupeFiles(files)
}

// DedupeFiles drops repeated paths. The entry keeps the slot where its path
// was first seen and takes the cursor of the last occurrence.
func DedupeFiles(files []SessionFile) []SessionFile {
	result := make([]SessionFile, 0, len(files))
	index := make(map[string]int, len(files))

	for _, file := range files {
		if strings.TrimSpace(file.Path) == "" {
			continue
		}
		if i, ok := index[file.Path]; ok {
			result[i] = file
			continue
		}

		index[file.Path] = len(result)
		result = append(result, file)
	}

	return result
}
