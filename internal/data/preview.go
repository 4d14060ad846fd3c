package data

// Preview is metadata about a magnet resolved by the preview service.
type Preview struct {
	Name        string        `json:"name"`
	Type        string        `json:"type,omitempty"`
	FileType    string        `json:"fileType,omitempty"`
	Size        int64         `json:"size"`
	Count       int           `json:"count"`
	Files       []PreviewFile `json:"files,omitempty"`
	Screenshots []string      `json:"screenshots,omitempty"`
}

type PreviewFile struct {
	Path string `json:"path"`
	Size int64  `json:"size"`
}

func (p *Preview) Clone() *Preview {
	if p == nil {
		return nil
	}
	cp := *p
	if p.Files != nil {
		cp.Files = append([]PreviewFile(nil), p.Files...)
	}
	if p.Screenshots != nil {
		cp.Screenshots = append([]string(nil), p.Screenshots...)
	}
	return &cp
}
