package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Metadata is the per-document JSON sidecar. It accumulates whatever
// the stages discovered and is written once at the end of the run,
// success or failure.
type Metadata struct {
	Input          string    `json:"input"`
	Classification string    `json:"classification,omitempty"`
	Pages          int       `json:"pages"`
	DOIs           []string  `json:"dois"`
	FilterRan      bool      `json:"filter_ran"`
	Rotated        bool      `json:"rotated"`
	CroppedImages  int       `json:"cropped_images,omitempty"`
	Error          string    `json:"error,omitempty"`
	FinishedAt     time.Time `json:"finished_at"`
}

func writeMetadata(st *docState, result *Result) error {
	meta := Metadata{
		Input:          st.input,
		Classification: string(st.kind),
		Pages:          st.pages,
		DOIs:           st.dois,
		FilterRan:      st.filterRan,
		Rotated:        st.rotated,
		CroppedImages:  st.cropped,
		Error:          result.Error,
		FinishedAt:     result.FinishedAt,
	}
	if meta.DOIs == nil {
		meta.DOIs = []string{}
	}

	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	path := filepath.Join(st.outDir, st.stem+".meta.json")
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
