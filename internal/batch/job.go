package batch

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
)

// imageExtensions lists the file extensions processed by a run
var imageExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".webp": true,
}

var validate = validator.New()

// Job describes one batch run
type Job struct {
	InputFolder string `json:"input_folder" validate:"required,dir"`
	OutputPath  string `json:"output_path" validate:"required"`
}

// Validate checks that the input folder exists and an output path is set
func (j Job) Validate() error {
	if err := validate.Struct(j); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidJob, err)
	}
	return nil
}

// IsImage reports whether name has one of the accepted image extensions (case-insensitive)
func IsImage(name string) bool {
	return imageExtensions[strings.ToLower(filepath.Ext(name))]
}
