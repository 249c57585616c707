package catalog

import (
	"log"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/jacques-dev/jacques/internal/transcript"
)

// SessionIndexFilename is the global index file under ~/.jacques.
const SessionIndexFilename = "session-index.json"

func (ix *Indexer) sessionIndexPath() string {
	return filepath.Join(ix.jacquesHome, SessionIndexFilename)
}

// LoadGlobalIndex reads the last persisted global session index. Missing
// returns an empty, usable value.
func (ix *Indexer) LoadGlobalIndex() (*GlobalSessionIndex, error) {
	var idx GlobalSessionIndex
	if err := readJSON(ix.sessionIndexPath(), &idx); err != nil {
		if os.IsNotExist(err) {
			return &GlobalSessionIndex{}, nil
		}
		return nil, err
	}
	return &idx, nil
}

// ExtractAllCatalogs rebuilds every project catalog under the transcript
// root. Per-project failures are counted, logged, and do not stop the run.
func (ix *Indexer) ExtractAllCatalogs(opts ExtractOptions) (*ExtractResult, error) {
	dirs, err := transcript.ProjectDirs(ix.projectsRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return &ExtractResult{}, nil
		}
		return nil, err
	}

	total := &ExtractResult{}
	for _, encoded := range dirs {
		if opts.cancelled() {
			break
		}
		projectPath := transcript.DecodeProjectPath(encoded)
		if _, err := os.Stat(projectPath); err != nil {
			// The project directory is gone; there is nowhere to write a
			// catalog. Its transcripts still reach the global index via the
			// fallback parse in BuildSessionIndex.
			continue
		}
		_, res, err := ix.ExtractProjectCatalog(projectPath, opts)
		if err != nil {
			// Count every transcript of the failed project as an error so
			// extracted+skipped+errors still adds up to totalSessions.
			log.Printf("[catalog] project %s: %v", projectPath, err)
			n := 1
			if paths, perr := transcript.ProjectTranscripts(ix.projectsRoot, encoded); perr == nil && len(paths) > 0 {
				n = len(paths)
			}
			total.TotalSessions += n
			total.Errors += n
			continue
		}
		total.TotalSessions += res.TotalSessions
		total.Extracted += res.Extracted
		total.Skipped += res.Skipped
		total.Errors += res.Errors
	}
	return total, nil
}

// BuildSessionIndex assembles the global session index across all projects.
// Projects with a fresh catalog are read from their manifests; everything
// else falls back to parsing the transcript directly. The result is written
// to ~/.jacques/session-index.json and is byte-identical across rebuilds of
// unchanged inputs, except for lastScanned.
func (ix *Indexer) BuildSessionIndex() (*GlobalSessionIndex, error) {
	dirs, err := transcript.ProjectDirs(ix.projectsRoot)
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	idx := &GlobalSessionIndex{LastScanned: time.Now().UnixMilli()}
	for _, encoded := range dirs {
		projectPath := transcript.DecodeProjectPath(encoded)
		paths, err := transcript.ProjectTranscripts(ix.projectsRoot, encoded)
		if err != nil {
			continue
		}

		projIdx, err := LoadProjectIndex(projectPath)
		if err != nil {
			log.Printf("[catalog] reading index for %s: %v", projectPath, err)
			projIdx = &ProjectIndex{}
		}

		for _, path := range paths {
			entry, err := ix.indexEntry(projectPath, encoded, projIdx, path)
			if err != nil {
				log.Printf("[catalog] indexing %s: %v", path, err)
				continue
			}
			idx.Sessions = append(idx.Sessions, *entry)
		}
	}

	sort.Slice(idx.Sessions, func(i, j int) bool {
		if idx.Sessions[i].ProjectPath != idx.Sessions[j].ProjectPath {
			return idx.Sessions[i].ProjectPath < idx.Sessions[j].ProjectPath
		}
		return idx.Sessions[i].SessionID < idx.Sessions[j].SessionID
	})

	if err := writeJSONAtomic(ix.sessionIndexPath(), idx); err != nil {
		return nil, err
	}
	return idx, nil
}

// indexEntry builds one global-index row, preferring a fresh manifest over a
// full transcript parse.
func (ix *Indexer) indexEntry(projectPath, encoded string, projIdx *ProjectIndex, path string) (*SessionEntry, error) {
	sessionID := transcript.SessionIDFromPath(path)
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	if m := findManifest(projIdx, sessionID); m != nil && m.JSONLModifiedAt >= info.ModTime().UnixMilli() {
		return entryFromManifest(projectPath, encoded, projIdx, m), nil
	}

	entries, _, err := transcript.ReadAll(path)
	if err != nil {
		return nil, err
	}
	stats := transcript.GetEntryStatistics(entries)
	detected := transcript.DetectModeAndPlans(entries)

	entry := &SessionEntry{
		SessionID:      sessionID,
		Title:          sessionTitle(entries),
		ProjectPath:    projectPath,
		EncodedProject: encoded,
		TranscriptPath: path,
		SizeBytes:      info.Size(),
		WebSearches:    stats.Counts[transcript.EntryWebSearch],
		TotalInput:     stats.TotalInputTokens,
		TotalOutput:    stats.TotalOutputTokens,
		ContextTokens:  stats.ContextTokens(),
		Mode:           string(detected.Mode),
	}
	for _, ref := range detected.Plans {
		ref.Body = "" // bodies live in the catalog, not the index
		entry.Plans = append(entry.Plans, ref)
	}
	for _, a := range extractSubAgents(entries, sessionID) {
		if a.Type == SubAgentExploration {
			entry.ExploreAgents = append(entry.ExploreAgents, a.ID)
		}
	}
	if !stats.FirstTimestamp.IsZero() {
		entry.FirstTimestamp = stats.FirstTimestamp.UnixMilli()
	}
	if !stats.LastTimestamp.IsZero() {
		entry.LastTimestamp = stats.LastTimestamp.UnixMilli()
	}
	return entry, nil
}

// entryFromManifest converts a catalog manifest into a global-index row
// without touching the transcript.
func entryFromManifest(projectPath, encoded string, projIdx *ProjectIndex, m *SessionManifest) *SessionEntry {
	entry := &SessionEntry{
		SessionID:      m.ID,
		Title:          m.Title,
		ProjectPath:    projectPath,
		EncodedProject: encoded,
		TranscriptPath: m.TranscriptPath,
		SizeBytes:      m.SizeBytes,
		TotalInput:     m.TotalInput,
		TotalOutput:    m.TotalOutput,
		ContextTokens:  m.ContextTokens,
		FirstTimestamp: m.FirstTimestamp,
		LastTimestamp:  m.LastTimestamp,
		Mode:           m.Mode,
	}
	for _, planID := range m.PlanIDs {
		for _, p := range projIdx.Plans {
			if p.ID == planID {
				entry.Plans = append(entry.Plans, transcript.PlanRef{
					Title:     p.Title,
					Source:    transcript.PlanEmbedded,
					FilePath:  p.Filename,
					CatalogID: p.ID,
				})
				break
			}
		}
	}
	for _, a := range projIdx.SubAgents {
		if a.SessionID != m.ID {
			continue
		}
		switch a.Type {
		case SubAgentExploration:
			entry.ExploreAgents = append(entry.ExploreAgents, a.ID)
		case SubAgentSearch:
			if a.ResultCount != nil {
				entry.WebSearches++
			}
		}
	}
	return entry
}
