package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	deliverydomain "github.com/mixforge/mixforge/internal/delivery/domain"
	obsmetrics "github.com/mixforge/mixforge/internal/observability/metrics"
	processingdomain "github.com/mixforge/mixforge/internal/processing/domain"
	projectdomain "github.com/mixforge/mixforge/internal/project/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	// Chunk sizing: large jobs stream 50 files per archive, mid-size jobs
	// are advised 25 so a single ZIP stays reasonable.
	chunkSizeLarge    = 50
	chunkSizeMedium   = 25
	batchLimit        = 100
	midBatchThreshold = 50
)

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	Metrics *obsmetrics.EngineMetrics `optional:"true"`
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	metrics *obsmetrics.EngineMetrics
}

func NewService(p Params) deliverydomain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("delivery.service"),
		metrics: p.Metrics,
	}
}

func (s *Service) Info(ctx context.Context, userID, jobID snowflake.ID) (deliverydomain.DownloadInfo, error) {
	_, _, files, err := s.loadOutputs(ctx, userID, jobID)
	if err != nil {
		return deliverydomain.DownloadInfo{}, err
	}

	count := len(files)
	var totalSize int64
	for _, f := range files {
		totalSize += f.Size
	}

	chunkSize := RecommendedChunkSize(count)
	info := deliverydomain.DownloadInfo{
		TotalFiles:           count,
		TotalSize:            totalSize,
		RecommendedChunkSize: chunkSize,
		NumberOfChunks:       numberOfChunks(count, chunkSize),
		DownloadOptions:      downloadOptions(count),
	}

	if count > batchLimit {
		info.Chunks = make([]deliverydomain.ChunkDescriptor, 0, info.NumberOfChunks)
		for i := 0; i < info.NumberOfChunks; i++ {
			start := i * chunkSize
			end := start + chunkSize
			if end > count {
				end = count
			}
			var size int64
			for _, f := range files[start:end] {
				size += f.Size
			}
			info.Chunks = append(info.Chunks, deliverydomain.ChunkDescriptor{
				Index:     i,
				FileCount: end - start,
				Size:      size,
			})
		}
	}

	return info, nil
}

func (s *Service) Single(ctx context.Context, userID, jobID snowflake.ID) (processingdomain.OutputFile, error) {
	_, _, files, err := s.loadOutputs(ctx, userID, jobID)
	if err != nil {
		return processingdomain.OutputFile{}, err
	}
	return files[0], nil
}

func (s *Service) Batch(ctx context.Context, userID, jobID snowflake.ID, outputIDs []snowflake.ID) (deliverydomain.Archive, error) {
	job, project, files, err := s.loadOutputs(ctx, userID, jobID)
	if err != nil {
		return deliverydomain.Archive{}, err
	}

	if len(outputIDs) > 0 {
		wanted := make(map[snowflake.ID]struct{}, len(outputIDs))
		for _, id := range outputIDs {
			wanted[id] = struct{}{}
		}
		selected := make([]processingdomain.OutputFile, 0, len(outputIDs))
		for _, f := range files {
			if _, ok := wanted[f.ID]; ok {
				selected = append(selected, f)
			}
		}
		files = selected
	}
	if len(files) == 0 {
		return deliverydomain.Archive{}, deliverydomain.ErrNoOutputs
	}
	// Jobs past the batch limit download through Chunk.
	if len(files) > batchLimit {
		return deliverydomain.Archive{}, deliverydomain.ErrBatchTooLarge
	}

	return deliverydomain.Archive{
		Name:  archiveName(project, job, -1),
		Files: files,
	}, nil
}

func (s *Service) Chunk(ctx context.Context, userID, jobID snowflake.ID, chunkIndex, chunkSize int) (deliverydomain.Archive, error) {
	job, project, files, err := s.loadOutputs(ctx, userID, jobID)
	if err != nil {
		return deliverydomain.Archive{}, err
	}

	if chunkSize <= 0 {
		chunkSize = RecommendedChunkSize(len(files))
	}
	if chunkSize > batchLimit {
		chunkSize = batchLimit
	}
	if chunkIndex < 0 {
		return deliverydomain.Archive{}, deliverydomain.ErrInvalidChunk
	}

	start := chunkIndex * chunkSize
	if start >= len(files) {
		return deliverydomain.Archive{}, deliverydomain.ErrInvalidChunk
	}
	end := start + chunkSize
	if end > len(files) {
		end = len(files)
	}

	return deliverydomain.Archive{
		Name:  archiveName(project, job, chunkIndex),
		Files: files[start:end],
	}, nil
}

// RecommendedChunkSize returns the advised per-archive file count for a job
// with count outputs.
func RecommendedChunkSize(count int) int {
	switch {
	case count > batchLimit:
		return chunkSizeLarge
	case count > midBatchThreshold:
		return chunkSizeMedium
	case count > 0:
		return count
	default:
		return 0
	}
}

func numberOfChunks(count, chunkSize int) int {
	if count == 0 || chunkSize == 0 {
		return 0
	}
	return (count + chunkSize - 1) / chunkSize
}

func downloadOptions(count int) []string {
	switch {
	case count == 1:
		return []string{deliverydomain.ModeSingle}
	case count <= batchLimit:
		return []string{deliverydomain.ModeBatch, deliverydomain.ModeChunked}
	default:
		return []string{deliverydomain.ModeChunked}
	}
}

func archiveName(project projectdomain.Project, job processingdomain.ProcessingJob, chunkIndex int) string {
	base := slug.Make(project.Name)
	if base == "" {
		base = "outputs"
	}
	if chunkIndex >= 0 {
		return fmt.Sprintf("%s-%s-part-%d.zip", base, job.ID, chunkIndex+1)
	}
	return fmt.Sprintf("%s-%s.zip", base, job.ID)
}

// loadOutputs resolves the job, enforces ownership and returns the outputs in
// stable creation order. New outputs only extend the tail of the slice, so a
// chunk index always maps to the same files.
func (s *Service) loadOutputs(ctx context.Context, userID, jobID snowflake.ID) (processingdomain.ProcessingJob, projectdomain.Project, []processingdomain.OutputFile, error) {
	var job processingdomain.ProcessingJob
	if err := s.db.WithContext(ctx).First(&job, "id = ?", jobID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return job, projectdomain.Project{}, nil, processingdomain.ErrJobNotFound
		}
		return job, projectdomain.Project{}, nil, err
	}

	var project projectdomain.Project
	if err := s.db.WithContext(ctx).First(&project, "id = ?", job.ProjectID).Error; err != nil {
		return job, project, nil, err
	}
	if project.UserID != userID {
		return job, project, nil, processingdomain.ErrJobNotFound
	}

	var files []processingdomain.OutputFile
	err := s.db.WithContext(ctx).
		Where("job_id = ?", jobID).
		Order("created_at ASC, id ASC").
		Find(&files).Error
	if err != nil {
		return job, project, nil, err
	}
	if len(files) == 0 {
		return job, project, nil, deliverydomain.ErrNoOutputs
	}
	return job, project, files, nil
}
