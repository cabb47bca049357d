package linker

import (
	"github.com/google/uuid"

	"objcore/internal/object"
)

// Info is a container's summary and tables in printable form. It is what
// `objdb inspect` shows and what the index cache stores.
type Info struct {
	Package      string       `json:"package" msgpack:"package"`
	Path         string       `json:"path" msgpack:"path"`
	Version      string       `json:"version" msgpack:"version"`
	FileVersion  uint16       `json:"file_version" msgpack:"file_version"`
	Licensee     uint16       `json:"licensee_version" msgpack:"licensee_version"`
	PackageFlags uint32       `json:"package_flags" msgpack:"package_flags"`
	Mode         string       `json:"mode" msgpack:"mode"`
	GUID         uuid.UUID    `json:"guid" msgpack:"guid"`
	Generations  []Generation `json:"generations" msgpack:"generations"`
	PayloadStart int64        `json:"payload_start" msgpack:"payload_start"`
	Size         int64        `json:"size" msgpack:"size"`
	Names        []NameInfo   `json:"names" msgpack:"names"`
	Imports      []ImportInfo `json:"imports" msgpack:"imports"`
	Exports      []ExportInfo `json:"exports" msgpack:"exports"`
}

type NameInfo struct {
	Text  string `json:"text" msgpack:"text"`
	Flags uint32 `json:"flags" msgpack:"flags"`
}

type ImportInfo struct {
	Index      int    `json:"index" msgpack:"index"`
	Class      string `json:"class" msgpack:"class"`
	Path       string `json:"path" msgpack:"path"`
	OuterIndex int32  `json:"outer" msgpack:"outer"`
}

type ExportInfo struct {
	Index      int      `json:"index" msgpack:"index"`
	Class      string   `json:"class" msgpack:"class"`
	Path       string   `json:"path" msgpack:"path"`
	Flags      string   `json:"flags" msgpack:"flags"`
	Context    uint32   `json:"context" msgpack:"context"`
	Public     bool     `json:"public" msgpack:"public"`
	OuterIndex int32    `json:"outer" msgpack:"outer"`
	Offset     int32    `json:"offset" msgpack:"offset"`
	Size       int32    `json:"size" msgpack:"size"`
	Components []string `json:"components,omitempty" msgpack:"components,omitempty"`
}

// Inspect describes the summary and tables. It creates no objects.
func (l *Loader) Inspect() Info {
	v := l.Summary.Version
	info := Info{
		Package:      l.name,
		Path:         l.path,
		Version:      v.String(),
		FileVersion:  v.File,
		Licensee:     v.Licensee,
		PackageFlags: l.Summary.PackageFlags,
		Mode:         l.mode.String(),
		GUID:         l.Summary.GUID,
		Generations:  l.Summary.Generations,
		PayloadStart: l.payloadStart,
		Size:         l.ar.Len(),
	}
	for i, n := range l.NameMap {
		info.Names = append(info.Names, NameInfo{Text: l.text(n), Flags: l.nameFlags[i]})
	}
	for i := range l.Imports {
		imp := &l.Imports[i]
		info.Imports = append(info.Imports, ImportInfo{
			Index:      i,
			Class:      l.text(imp.ClassName),
			Path:       l.importPath(i),
			OuterIndex: imp.OuterIndex,
		})
	}
	for i := range l.Exports {
		e := &l.Exports[i]
		ex := ExportInfo{
			Index:      i,
			Class:      l.text(l.GetExportClassName(i)),
			Path:       l.exportPath(i),
			Flags:      (object.Flags(e.ObjectFlags) & object.Persisted).String(),
			Context:    e.ObjectFlags & LoadContext,
			Public:     e.ObjectFlags&uint32(object.FlagPublic) != 0,
			OuterIndex: e.OuterIndex,
			Offset:     e.SerialOffset,
			Size:       e.SerialSize,
		}
		for _, c := range e.Components {
			ex.Components = append(ex.Components, l.text(c.Name))
		}
		info.Exports = append(info.Exports, ex)
	}
	return info
}
