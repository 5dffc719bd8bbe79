package json

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/khanhnv2901/vela/internal/domain/scan"
	"github.com/khanhnv2901/vela/internal/shared/constants"
	sharedErrors "github.com/khanhnv2901/vela/internal/shared/errors"
	"github.com/khanhnv2901/vela/internal/shared/security"
)

const fileSuffix = ".json"

// scanFileDTO is the on-disk shape of one scan
type scanFileDTO struct {
	ID                  string          `json:"id"`
	URL                 string          `json:"url"`
	Status              string          `json:"status"`
	CreatedAt           string          `json:"created_at"`
	CompletedAt         string          `json:"completed_at,omitempty"`
	Grade               *string         `json:"grade,omitempty"`
	TotalScripts        *int            `json:"total_scripts,omitempty"`
	TotalBytes          *int64          `json:"total_bytes,omitempty"`
	TotalMainThreadTime *float64        `json:"total_main_thread_time,omitempty"`
	ErrorMessage        *string         `json:"error_message,omitempty"`
	Result              json.RawMessage `json:"result,omitempty"`
}

// ScanRepository implements scan.Repository with one JSON file per scan
type ScanRepository struct {
	dir string
	mu  sync.RWMutex
}

// NewScanRepository creates a file-backed scan repository rooted at dir
func NewScanRepository(dir string) (*ScanRepository, error) {
	if dir == "" {
		return nil, fmt.Errorf("scans directory cannot be empty")
	}
	if err := os.MkdirAll(dir, constants.DefaultDirPerm); err != nil {
		return nil, fmt.Errorf("failed to create scans directory: %w", err)
	}
	return &ScanRepository{dir: dir}, nil
}

// CreateStub writes a queued scan
func (r *ScanRepository) CreateStub(ctx context.Context, record *scan.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	path, err := r.pathFor(record.ID())
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%w: scan %s already exists", sharedErrors.ErrRepositoryOperation, record.ID())
	}
	dto := scanFileDTO{
		ID:        record.ID(),
		URL:       record.URL(),
		Status:    string(record.Status()),
		CreatedAt: record.CreatedAt().Format(time.RFC3339Nano),
	}
	return r.write(path, dto)
}

// UpdateStatus rewrites the status and, when given, the error message and
// completion time
func (r *ScanRepository) UpdateStatus(ctx context.Context, id string, status scan.Status, errMsg *string, completedAt *time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	path, dto, err := r.load(id)
	if err != nil {
		return err
	}
	dto.Status = string(status)
	if errMsg != nil {
		msg := *errMsg
		dto.ErrorMessage = &msg
	}
	if completedAt != nil {
		dto.CompletedAt = completedAt.UTC().Format(time.RFC3339Nano)
	}
	return r.write(path, dto)
}

// SaveResult stores the summary fields and the full serialized record
func (r *ScanRepository) SaveResult(ctx context.Context, record *scan.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	path, dto, err := r.load(record.ID())
	if err != nil {
		return err
	}

	snap := record.Snapshot()
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("%w: scan %s: %v", sharedErrors.ErrSerializationFailed, snap.ID, err)
	}

	dto.Status = string(snap.Status)
	dto.ErrorMessage = snap.ErrorMessage
	dto.CompletedAt = ""
	if snap.CompletedAt != nil {
		dto.CompletedAt = snap.CompletedAt.UTC().Format(time.RFC3339Nano)
	}
	dto.Grade, dto.TotalScripts, dto.TotalBytes, dto.TotalMainThreadTime = nil, nil, nil, nil
	if s := snap.Summary; s != nil {
		grade := string(s.Grade)
		scripts, bytes, mainThread := s.TotalScripts, s.TotalBytes, s.TotalMainThreadTime
		dto.Grade = &grade
		dto.TotalScripts = &scripts
		dto.TotalBytes = &bytes
		dto.TotalMainThreadTime = &mainThread
	}
	dto.Result = data
	return r.write(path, dto)
}

// FindByID returns the stored row for id
func (r *ScanRepository) FindByID(ctx context.Context, id string) (*scan.Row, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, dto, err := r.load(id)
	if err != nil {
		return nil, err
	}
	return toRow(dto)
}

// ListRecent returns rows ordered by creation time, newest first
func (r *ScanRepository) ListRecent(ctx context.Context, limit, offset int) ([]scan.Row, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read scans directory: %w", err)
	}

	rows := make([]scan.Row, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), fileSuffix) {
			continue
		}
		id := strings.TrimSuffix(entry.Name(), fileSuffix)
		_, dto, err := r.load(id)
		if err != nil {
			continue
		}
		row, err := toRow(dto)
		if err != nil {
			continue
		}
		rows = append(rows, *row)
	}

	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].CreatedAt.After(rows[j].CreatedAt)
	})

	if offset < 0 {
		offset = 0
	}
	if offset >= len(rows) {
		return []scan.Row{}, nil
	}
	rows = rows[offset:]
	if limit >= 0 && limit < len(rows) {
		rows = rows[:limit]
	}
	return rows, nil
}

// Ping checks that the scans directory is still usable
func (r *ScanRepository) Ping(ctx context.Context) error {
	info, err := os.Stat(r.dir)
	if err != nil {
		return fmt.Errorf("scans directory unavailable: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", r.dir)
	}
	return nil
}

// Helper methods

func (r *ScanRepository) pathFor(id string) (string, error) {
	path, err := security.FileIn(r.dir, id, fileSuffix)
	if err != nil {
		return "", fmt.Errorf("%w: %v", sharedErrors.ErrInvalidScanID, err)
	}
	return path, nil
}

func (r *ScanRepository) load(id string) (string, scanFileDTO, error) {
	path, err := r.pathFor(id)
	if err != nil {
		return "", scanFileDTO{}, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return "", scanFileDTO{}, fmt.Errorf("%w: %s", sharedErrors.ErrScanNotFound, id)
	}
	if err != nil {
		return "", scanFileDTO{}, fmt.Errorf("failed to read scan %s: %w", id, err)
	}
	var dto scanFileDTO
	if err := json.Unmarshal(data, &dto); err != nil {
		return "", scanFileDTO{}, fmt.Errorf("%w: scan %s: %v", sharedErrors.ErrDeserializationFailed, id, err)
	}
	return path, dto, nil
}

// write replaces the file atomically via a temp file in the same directory
func (r *ScanRepository) write(path string, dto scanFileDTO) error {
	data, err := json.MarshalIndent(dto, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: scan %s: %v", sharedErrors.ErrSerializationFailed, dto.ID, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".scan-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write scan %s: %w", dto.ID, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to write scan %s: %w", dto.ID, err)
	}
	if err := os.Chmod(tmpName, constants.DefaultFilePerm); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to write scan %s: %w", dto.ID, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to save scan %s: %w", dto.ID, err)
	}
	return nil
}

func toRow(dto scanFileDTO) (*scan.Row, error) {
	createdAt, err := time.Parse(time.RFC3339Nano, dto.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("%w: scan %s created_at: %v", sharedErrors.ErrInvalidData, dto.ID, err)
	}
	row := &scan.Row{
		ID:                  dto.ID,
		URL:                 dto.URL,
		Status:              dto.Status,
		CreatedAt:           createdAt,
		Grade:               dto.Grade,
		TotalScripts:        dto.TotalScripts,
		TotalBytes:          dto.TotalBytes,
		TotalMainThreadTime: dto.TotalMainThreadTime,
		ErrorMessage:        dto.ErrorMessage,
	}
	if dto.CompletedAt != "" {
		completedAt, err := time.Parse(time.RFC3339Nano, dto.CompletedAt)
		if err != nil {
			return nil, fmt.Errorf("%w: scan %s completed_at: %v", sharedErrors.ErrInvalidData, dto.ID, err)
		}
		row.CompletedAt = &completedAt
	}
	if len(dto.Result) > 0 {
		result := string(dto.Result)
		row.ResultJSON = &result
	}
	return row, nil
}
