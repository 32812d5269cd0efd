package sqlite

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/tailscale/tailsql/server/tailsql"
	"tailscale.com/tsweb"

	"github.com/banshee-data/cloudmotion/internal/httputil"
)

// AttachAdminRoutes mounts the run listing at /api/runs and, under /debug/,
// the debug index, a live SQL console and a backup download.
func (db *DB) AttachAdminRoutes(mux *http.ServeMux) error {
	mux.HandleFunc("/api/runs", db.handleRuns)

	debug := tsweb.Debugger(mux)
	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		return fmt.Errorf("failed to create tailsql server: %w", err)
	}
	tsql.SetDB("sqlite://"+filepath.Base(db.path), db.DB, &tailsql.DBOptions{
		Label: "Cloudmotion runs",
	})

	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())
	debug.Handle("backup", "Create and download a backup of the database now", http.HandlerFunc(db.handleBackup))
	return nil
}

// runSummary is one entry of the /api/runs listing.
type runSummary struct {
	RunID           string          `json:"run_id"`
	StartedAt       time.Time       `json:"started_at"`
	Notes           string          `json:"notes,omitempty"`
	Config          json.RawMessage `json:"config"`
	DynamicCycles   int             `json:"dynamic_cycles"`
	DetectionCycles int             `json:"detection_cycles"`
}

func (db *DB) handleRuns(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireGET(w, r) {
		return
	}
	runs, err := db.ListRuns(r.Context())
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	out := make([]runSummary, 0, len(runs))
	for _, run := range runs {
		s := runSummary{
			RunID:     run.RunID,
			StartedAt: run.StartedAt.UTC(),
			Notes:     run.Notes,
			Config:    json.RawMessage(run.ConfigJSON),
		}
		if !json.Valid(s.Config) {
			s.Config = json.RawMessage("null")
		}
		if err := db.QueryRowContext(r.Context(), `
			SELECT
				(SELECT COUNT(*) FROM dynamic_cycles WHERE run_id = ?),
				(SELECT COUNT(*) FROM detection_cycles WHERE run_id = ?)`,
			run.RunID, run.RunID).Scan(&s.DynamicCycles, &s.DetectionCycles); err != nil {
			httputil.InternalServerError(w, err.Error())
			return
		}
		out = append(out, s)
	}
	httputil.WriteJSONOK(w, out)
}

func (db *DB) handleBackup(w http.ResponseWriter, r *http.Request) {
	dir, err := os.MkdirTemp("", "cloudmotion-backup-")
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to create backup dir: %v", err), http.StatusInternalServerError)
		return
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			opsf("failed to remove backup dir %s: %v", dir, err)
		}
	}()

	name := fmt.Sprintf("backup-%d.db", time.Now().Unix())
	backupPath := filepath.Join(dir, name)
	if _, err := db.ExecContext(r.Context(), "VACUUM INTO ?", backupPath); err != nil {
		http.Error(w, fmt.Sprintf("Failed to create backup: %v", err), http.StatusInternalServerError)
		return
	}
	backupFile, err := os.Open(backupPath)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to open backup file: %v", err), http.StatusInternalServerError)
		return
	}
	defer backupFile.Close()

	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s.gz", name))
	w.Header().Set("Content-Type", "application/gzip")

	gz := gzip.NewWriter(w)
	defer gz.Close()
	if _, err := io.Copy(gz, backupFile); err != nil {
		// Headers are already sent.
		opsf("backup %s: copy failed: %v", name, err)
		return
	}
	diagf("backup %s served", name)
}
