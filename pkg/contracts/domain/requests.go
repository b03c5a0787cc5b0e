package domain

// Engine request types. These are in-process contracts validated by the
// engine facade before dispatch; no network surface consumes them.

// OpenFolderRequest asks the engine to index a measurement folder.
type OpenFolderRequest struct {
	Dir string `json:"dir" validate:"required"`
}

// FrameRequest asks for one fully decoded frame by path.
type FrameRequest struct {
	Path string `json:"path" validate:"required"`
}

// SpectroscopyRequest asks for a single sweep or an assembled matrix
// scan. With Matrix set, Paths may name one multi-section file or a set
// of per-point files.
type SpectroscopyRequest struct {
	Paths  []string `json:"paths" validate:"required,min=1,dive,required"`
	Matrix bool     `json:"matrix"`
}

// FitRequest asks for a parabola fit of one sweep channel.
type FitRequest struct {
	Channel string  `json:"channel" validate:"required"`
	Epsilon float64 `json:"epsilon" validate:"omitempty,gt=0"` // vertex degeneracy threshold
}

// ExportXYZRequest asks for an XYZ export of one frame channel.
type ExportXYZRequest struct {
	Path    string `json:"path" validate:"required"`    // source frame path
	Channel string `json:"channel" validate:"required"` // channel to flatten
	Dest    string `json:"dest" validate:"required"`    // destination file
}

// MatrixFitRequest asks for per-cell fits over an assembled matrix scan.
type MatrixFitRequest struct {
	Channel string  `json:"channel" validate:"required"`
	Epsilon float64 `json:"epsilon" validate:"omitempty,gt=0"`
}
