package gap

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
)

// FileDescriptor is one entry of the job's typed file list.
type FileDescriptor struct {
	FileName  string `json:"file_name"`
	SourceURL string `json:"source_url"`
}

// NarrativeConfig lets a job pick the narrative provider.
type NarrativeConfig struct {
	Provider string `json:"provider,omitempty"` // template | openai | vertex
	Model    string `json:"model,omitempty"`
}

// JobDescriptor is the validated input of one pipeline run.
type JobDescriptor struct {
	SessionID     string           `json:"session_id"`
	Email         string           `json:"email"`
	StorageTarget string           `json:"storage_target,omitempty"`
	Files         []FileDescriptor `json:"files"`
	Narrative     *NarrativeConfig `json:"narrative_provider_config,omitempty"`
}

func (j JobDescriptor) Session() Session {
	return Session{SessionID: j.SessionID, Email: j.Email, StorageTarget: j.StorageTarget}
}

func (j JobDescriptor) InputFiles() []InputFile {
	out := make([]InputFile, 0, len(j.Files))
	for _, f := range j.Files {
		out = append(out, InputFile{FileName: f.FileName, SourceURL: f.SourceURL})
	}
	return out
}

// Validate rejects malformed descriptors; no partial run is created for them.
func (j JobDescriptor) Validate() error {
	if err := j.Session().Validate(); err != nil {
		return err
	}
	if len(j.Files) == 0 {
		return fmt.Errorf("%w: no files provided", ErrInvalidJob)
	}
	seen := make(map[string]int, len(j.Files))
	for i, f := range j.Files {
		name := strings.TrimSpace(f.FileName)
		if name == "" {
			return fmt.Errorf("%w: files[%d].file_name is required", ErrInvalidJob, i)
		}
		if filepath.Base(name) != name || name == "." || name == ".." {
			return fmt.Errorf("%w: files[%d].file_name must be a plain file name", ErrInvalidJob, i)
		}
		// each file stages to <sandbox>/<file_name>
		if first, dup := seen[name]; dup {
			return fmt.Errorf("%w: files[%d].file_name %q repeats files[%d]", ErrInvalidJob, i, name, first)
		}
		seen[name] = i
		u, err := url.Parse(f.SourceURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("%w: files[%d].source_url must be an http(s) url", ErrInvalidJob, i)
		}
	}
	if j.Narrative != nil {
		switch j.Narrative.Provider {
		case "", "template", "openai", "vertex":
		default:
			return fmt.Errorf("%w: unknown narrative provider %q", ErrInvalidJob, j.Narrative.Provider)
		}
	}
	return nil
}
